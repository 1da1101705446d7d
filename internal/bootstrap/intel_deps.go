// Package bootstrap wires configuration, adapters and services into
// runnable pipeline processes.
package bootstrap

import (
	"context"
	"time"

	"mailintel_server/adapter/in/worker"
	"mailintel_server/adapter/out/alerting"
	"mailintel_server/adapter/out/cache"
	"mailintel_server/adapter/out/llm"
	"mailintel_server/adapter/out/mongodb"
	"mailintel_server/adapter/out/persistence"
	"mailintel_server/config"
	"mailintel_server/core/domain"
	"mailintel_server/core/port/in"
	"mailintel_server/core/port/out"
	"mailintel_server/core/service/chain"
	"mailintel_server/core/service/monitor"
	"mailintel_server/core/service/phase"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/semaphore"
)

type Dependencies struct {
	Config  *config.Config
	Store   *persistence.Store
	Redis   *redis.Client
	MongoDB *mongo.Client

	// Repositories
	EmailRepo out.EmailRepository
	ChainRepo out.ChainRepository

	// Optional report storage
	ReportCache   out.ReportCache
	ReportArchive *mongodb.ReportArchive

	// Services
	ChainService    in.ChainService
	AnalysisService in.AnalysisService
	Monitor         *monitor.Monitor

	// Executor
	Executor *worker.Executor
}

// NewDependencies builds the full dependency graph. The returned cleanup
// closes every connection it opened; call it exactly once.
func NewDependencies(cfg *config.Config, log zerolog.Logger) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Store and repositories
	store, err := persistence.Open(cfg.StoreDriver, cfg.StoreDSN, cfg.Workers, log)
	if err != nil {
		return nil, nil, err
	}
	cleanups = append(cleanups, store.Close)
	deps.Store = store
	deps.EmailRepo = persistence.NewEmailRepository(store, log)
	deps.ChainRepo = persistence.NewChainRepository(store, log)

	// Redis is optional; without it alerts go to the log only and the
	// latest report is recomputed on demand.
	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		cleanups = append(cleanups, func() { _ = client.Close() })
		deps.Redis = client
		deps.ReportCache = cache.NewReportCache(client, log)
	}

	// MongoDB archive is optional as well.
	if cfg.MongoDBURL != "" {
		client, err := mongodb.NewClient(cfg.MongoDBURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		cleanups = append(cleanups, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(ctx)
		})
		deps.MongoDB = client

		archive := mongodb.NewReportArchive(client.Database(cfg.MongoDBName))
		idxCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = archive.EnsureIndexes(idxCtx)
		cancel()
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.ReportArchive = archive
	}

	// Chain grouping
	buckets := domain.ChainBuckets{
		Complete: cfg.ChainCompleteThreshold,
		Partial:  cfg.ChainPartialThreshold,
	}
	deps.ChainService = chain.NewService(
		chain.NewAnalyzer(buckets), deps.EmailRepo, deps.ChainRepo, cfg.BatchSize, log)

	// Analysis phases. One semaphore bounds inference concurrency across
	// both LLM phases.
	llmClient, err := llm.NewClient(cfg, log)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	rules := phase.NewRuleAnalyzer()
	prompts := phase.NewPromptBuilder(cfg.BodyTruncationChars)
	sem := semaphore.NewWeighted(int64(cfg.Workers))
	medium := phase.NewLLMAnalyzer(domain.PhaseMediumLLM, llmClient, phase.LLMConfig{
		Model:       cfg.LLMMediumModel,
		Timeout:     cfg.LLMTimeout,
		MaxRetries:  cfg.LLMMaxRetries,
		Backoff:     cfg.LLMRetryBackoff,
		Temperature: cfg.LLMTemperature,
		TopP:        cfg.LLMTopP,
		NumPredict:  cfg.LLMNumPredict,
	}, prompts, rules, sem, log)
	large := phase.NewLLMAnalyzer(domain.PhaseLargeLLM, llmClient, phase.LLMConfig{
		Model:       cfg.LLMLargeModel,
		Timeout:     cfg.LLMLargeTimeout,
		MaxRetries:  cfg.LLMMaxRetries,
		Backoff:     cfg.LLMRetryBackoff,
		Temperature: cfg.LLMTemperature,
		TopP:        cfg.LLMTopP,
		NumPredict:  cfg.LLMNumPredict,
	}, prompts, rules, sem, log)
	deps.AnalysisService = phase.NewRouter(
		rules, medium, large, deps.ChainRepo, buckets, cfg.MinResultBytes, log)

	// Quality monitor. The log sink is always present; Redis pub/sub and
	// the Mongo archive join when configured.
	sinks := []out.AlertSink{alerting.NewLogSink(log)}
	if deps.Redis != nil {
		sinks = append(sinks, alerting.NewRedisSink(deps.Redis, log))
	}
	var archive out.ReportArchive
	if deps.ReportArchive != nil {
		archive = deps.ReportArchive
	}
	deps.Monitor = monitor.New(
		deps.EmailRepo, sinks, archive, deps.ReportCache, cfg.MonitorWindow, cfg.Thresholds, log)

	// Executor
	deps.Executor = worker.NewExecutor(worker.ExecutorConfig{
		WorkerID:             cfg.WorkerID,
		Workers:              cfg.Workers,
		BatchSize:            cfg.BatchSize,
		DrainTimeout:         cfg.DrainTimeout,
		RateFloor:            cfg.RateFloor,
		FailureBackoff:       cfg.FailureBackoff,
		FailureRateThreshold: cfg.FailureRateThreshold,
		FailureWindow:        cfg.FailureWindow,
		EmailTimeout:         cfg.EmailTimeout,
		LargeEmailTimeout:    cfg.LargeEmailTimeout,
	}, deps.EmailRepo, deps.AnalysisService, log)

	return deps, cleanup, nil
}
