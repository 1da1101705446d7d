package alerting

import (
	"context"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mailintel_server/core/domain"
)

// alertChannel is the pub/sub channel dashboards subscribe to.
const alertChannel = "mailintel:quality:alerts"

// RedisSink publishes alerts on a pub/sub channel for live consumers.
type RedisSink struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewRedisSink builds the sink.
func NewRedisSink(client *redis.Client, log zerolog.Logger) *RedisSink {
	return &RedisSink{
		client: client,
		log:    log.With().Str("component", "alert_redis").Logger(),
	}
}

// Raise publishes the alert as JSON. No subscribers is not an error.
func (s *RedisSink) Raise(ctx context.Context, alert *domain.QualityAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, alertChannel, payload).Err()
}
