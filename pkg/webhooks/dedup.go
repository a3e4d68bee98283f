package webhooks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/subgate/subgate/pkg/config"
)

// dedupKeyPrefix namespaces processed event ids in Redis
const dedupKeyPrefix = "subgate:webhook:event:"

// RedisDeduper remembers processed event ids in Redis for a bounded TTL.
// SET NX makes the check-and-record atomic, so two concurrent deliveries of
// the same event cannot both pass.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper connects to Redis and verifies the connection
func NewRedisDeduper(cfg config.RedisConfig) (*RedisDeduper, error) {
	var opts *redis.Options
	if strings.Contains(cfg.URL, "://") {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.URL,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisDeduper{client: client, ttl: cfg.DedupTTL}, nil
}

// Seen records the event id and reports whether it was already present
func (d *RedisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	set, err := d.client.SetNX(ctx, dedupKeyPrefix+eventID, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("recording event id: %w", err)
	}
	return !set, nil
}

// Client exposes the underlying connection for health checks
func (d *RedisDeduper) Client() *redis.Client {
	return d.client
}

// Close releases the Redis connection
func (d *RedisDeduper) Close() error {
	return d.client.Close()
}
