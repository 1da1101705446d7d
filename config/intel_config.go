package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string

	// Store
	StoreDriver string // sqlite3 (default) or pgx
	StoreDSN    string
	RedisURL    string
	MongoDBURL  string
	MongoDBName string

	// Worker / executor
	WorkerID             string
	Workers              int
	BatchSize            int
	DrainTimeout         time.Duration
	RateFloor            time.Duration
	FailureBackoff       time.Duration
	FailureRateThreshold float64
	FailureWindow        int
	OrphanGrace          time.Duration
	EmailTimeout         time.Duration
	LargeEmailTimeout    time.Duration

	// LLM
	LLMProvider      string // http or openai
	LLMEndpointURL   string
	LLMMediumModel   string
	LLMLargeModel    string
	LLMTimeout       time.Duration
	LLMReadTimeout   time.Duration
	LLMLargeTimeout  time.Duration
	LLMMaxRetries    int
	LLMRetryBackoff  time.Duration
	LLMTemperature   float64
	LLMTopP          float64
	LLMNumPredict    int
	OpenAIAPIKey     string
	OpenAIBaseURL    string

	// Phase
	BodyTruncationChars int
	MinResultBytes      int

	// Chain
	ChainCompleteThreshold float64
	ChainPartialThreshold  float64

	// Quality monitor
	MonitorWindow   time.Duration
	MonitorInterval time.Duration
	Thresholds      MonitorThresholds
}

// MonitorThresholds are the quality gate lines the monitor alerts on.
type MonitorThresholds struct {
	MinAvgSummaryLen     float64
	MinAvgConfidence     float64
	MinAvgActions        float64
	MinAvgEntities       float64
	MaxErrorRate         float64
	MaxAvgProcessingMS   float64
	MinHighPriorityRate  float64
	MinBusinessValueRate float64
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Store
		StoreDriver: getEnv("STORE_DRIVER", "sqlite3"),
		StoreDSN:    getEnv("STORE_DSN", "mailintel.db"),
		RedisURL:    getEnv("REDIS_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "mailintel"),

		// Worker / executor
		WorkerID:             getEnv("WORKER_ID", generateWorkerID()),
		Workers:              getEnvInt("WORKERS", 4),
		BatchSize:            getEnvInt("BATCH_SIZE", 20),
		DrainTimeout:         secEnv("EXECUTOR_DRAIN_TIMEOUT_SEC", 30),
		RateFloor:            secEnv("EXECUTOR_RATE_FLOOR_SEC", 1),
		FailureBackoff:       secEnv("EXECUTOR_FAILURE_BACKOFF_SEC", 60),
		FailureRateThreshold: getEnvFloat("EXECUTOR_FAILURE_RATE_THRESHOLD", 0.2),
		FailureWindow:        getEnvInt("EXECUTOR_FAILURE_WINDOW", 50),
		OrphanGrace:          time.Duration(getEnvInt("ORPHAN_GRACE_MIN", 15)) * time.Minute,
		EmailTimeout:         secEnv("EXECUTOR_EMAIL_TIMEOUT_SEC", 120),
		LargeEmailTimeout:    secEnv("EXECUTOR_LARGE_EMAIL_TIMEOUT_SEC", 180),

		// LLM
		LLMProvider:     getEnv("LLM_PROVIDER", "http"),
		LLMEndpointURL:  getEnv("LLM_ENDPOINT_URL", "http://localhost:11434/api/generate"),
		LLMMediumModel:  getEnv("LLM_MEDIUM_MODEL", "llama3.1:8b"),
		LLMLargeModel:   getEnv("LLM_LARGE_MODEL", "llama3.1:70b"),
		LLMTimeout:      secEnv("LLM_TIMEOUT_SEC", 60),
		LLMReadTimeout:  secEnv("LLM_READ_TIMEOUT_SEC", 45),
		LLMLargeTimeout: secEnv("LLM_LARGE_TIMEOUT_SEC", 90),
		LLMMaxRetries:   getEnvInt("LLM_MAX_RETRIES", 3),
		LLMRetryBackoff: secEnv("LLM_RETRY_BACKOFF_SEC", 2),
		LLMTemperature:  getEnvFloat("LLM_TEMPERATURE", 0.2),
		LLMTopP:         getEnvFloat("LLM_TOP_P", 0.9),
		LLMNumPredict:   getEnvInt("LLM_NUM_PREDICT", 1024),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),

		// Phase
		BodyTruncationChars: getEnvInt("PHASE_BODY_TRUNCATION_CHARS", 1000),
		MinResultBytes:      getEnvInt("PHASE_MIN_RESULT_BYTES", 100),

		// Chain
		ChainCompleteThreshold: getEnvFloat("CHAIN_COMPLETE_THRESHOLD", 0.7),
		ChainPartialThreshold:  getEnvFloat("CHAIN_PARTIAL_THRESHOLD", 0.3),

		// Quality monitor
		MonitorWindow:   time.Duration(getEnvInt("MONITOR_WINDOW_HOURS", 1)) * time.Hour,
		MonitorInterval: secEnv("MONITOR_INTERVAL_SEC", 300),
		Thresholds: MonitorThresholds{
			MinAvgSummaryLen:     getEnvFloat("MONITOR_MIN_AVG_SUMMARY_LEN", 50),
			MinAvgConfidence:     getEnvFloat("MONITOR_MIN_AVG_CONFIDENCE", 0.6),
			MinAvgActions:        getEnvFloat("MONITOR_MIN_AVG_ACTIONS", 0.5),
			MinAvgEntities:       getEnvFloat("MONITOR_MIN_AVG_ENTITIES", 1.0),
			MaxErrorRate:         getEnvFloat("MONITOR_MAX_ERROR_RATE", 0.15),
			MaxAvgProcessingMS:   getEnvFloat("MONITOR_MAX_AVG_PROCESSING_MS", 30000),
			MinHighPriorityRate:  getEnvFloat("MONITOR_MIN_HIGH_PRIORITY_RATE", 0.02),
			MinBusinessValueRate: getEnvFloat("MONITOR_MIN_BUSINESS_VALUE_RATE", 0.05),
		},
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be >= 1, got %d", c.Workers)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be >= 1, got %d", c.BatchSize)
	}
	if c.StoreDriver != "sqlite3" && c.StoreDriver != "pgx" {
		return fmt.Errorf("STORE_DRIVER must be sqlite3 or pgx, got %q", c.StoreDriver)
	}
	if c.LLMProvider != "http" && c.LLMProvider != "openai" {
		return fmt.Errorf("LLM_PROVIDER must be http or openai, got %q", c.LLMProvider)
	}
	if c.LLMProvider == "openai" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
	}
	if c.ChainPartialThreshold >= c.ChainCompleteThreshold {
		return fmt.Errorf("CHAIN_PARTIAL_THRESHOLD (%v) must be below CHAIN_COMPLETE_THRESHOLD (%v)",
			c.ChainPartialThreshold, c.ChainCompleteThreshold)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func secEnv(key string, defaultSec int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSec)) * time.Second
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
