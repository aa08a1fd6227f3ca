package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sshtui/config"
)

// ValkeySink publishes session lifecycle events to a Redis/Valkey pub-sub
// channel.
type ValkeySink struct {
	cfg    config.ValkeySinkConfig
	client *redis.Client
}

// NewValkeySink connects to the server described by cfg and pings it
// once to fail fast on an unreachable address.
func NewValkeySink(cfg config.ValkeySinkConfig) (*ValkeySink, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Address})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("telemetry: valkey ping failed: %w", err)
	}

	return &ValkeySink{cfg: cfg, client: client}, nil
}

func (s *ValkeySink) Name() string { return "valkey:" + s.cfg.Channel }

func (s *ValkeySink) Publish(ctx context.Context, event Event) error {
	payload, err := marshalEvent(event)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.cfg.Channel, payload).Err()
}

// Close releases the underlying connection pool.
func (s *ValkeySink) Close() error {
	return s.client.Close()
}
