package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"metron-core/internal/events"
)

// redisClient is the part of *redis.Client the publisher uses.
type redisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// RedisConfig configures the Redis publisher.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// TTL of the latest-value keys. Zero keeps them forever.
	TTL    time.Duration
	Events []events.Event
}

// RedisPublisher stores the latest message of each event type under
// <prefix>:<symbol>:latest:<event> and publishes every message on
// <prefix>:<symbol>:events.
type RedisPublisher struct {
	client redisClient
	prefix string
	ttl    time.Duration
	filter filter
}

// NewRedisPublisher connects and pings Redis.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisPublisher(client, cfg), nil
}

func newRedisPublisher(client redisClient, cfg RedisConfig) *RedisPublisher {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "metron"
	}
	return &RedisPublisher{client: client, prefix: prefix, ttl: cfg.TTL, filter: newFilter(cfg.Events)}
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Relay(ctx context.Context, symbol string, msg events.Message) error {
	if !p.filter.allows(msg.Type) {
		return nil
	}
	payload, err := encode(msg)
	if err != nil {
		return err
	}
	if err := p.client.Set(ctx, p.LatestKey(symbol, msg.Type), payload, p.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	if err := p.client.Publish(ctx, p.Channel(symbol), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (p *RedisPublisher) LatestKey(symbol string, e events.Event) string {
	return fmt.Sprintf("%s:%s:latest:%s", p.prefix, symbol, e)
}

func (p *RedisPublisher) Channel(symbol string) string {
	return fmt.Sprintf("%s:%s:events", p.prefix, symbol)
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
