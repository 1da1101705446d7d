// Package cache keeps the latest quality report in Redis so the ops API
// can serve it without touching the store.
package cache

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mailintel_server/core/domain"
)

const (
	latestReportKey = "mailintel:quality:latest"
	reportExpiry    = 24 * time.Hour
)

// ReportCache implements out.ReportCache on Redis.
type ReportCache struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewReportCache builds the cache.
func NewReportCache(client *redis.Client, log zerolog.Logger) *ReportCache {
	return &ReportCache{
		client: client,
		log:    log.With().Str("component", "report_cache").Logger(),
	}
}

// SetLatest replaces the cached report.
func (c *ReportCache) SetLatest(ctx context.Context, report *domain.QualityReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, latestReportKey, payload, reportExpiry).Err()
}

// GetLatest returns the cached report, or nil when none is cached.
func (c *ReportCache) GetLatest(ctx context.Context) (*domain.QualityReport, error) {
	payload, err := c.client.Get(ctx, latestReportKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var report domain.QualityReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// NewRedisClient parses a redis URL and verifies connectivity.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
