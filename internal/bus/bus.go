// Package bus wraps the Redis connection used as the coordinator's pub/sub
// and key-value transport: RPC dispatch between coordinator and builders,
// live build-log fan-out, and build-queue persistence.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Bus is the single connection shared by every component that talks to the
// message bus. It is safe for concurrent use.
type Bus struct {
	client *redis.Client
}

// Config describes how to reach the bus.
type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// New dials the bus. It does not block on connectivity; callers that need a
// liveness check should call Ping.
func New(cfg Config) *Bus {
	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	return &Bus{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// NewFromClient wraps an already-constructed client, used by tests to plug
// in a miniredis-backed client.
func NewFromClient(c *redis.Client) *Bus {
	return &Bus{client: c}
}

func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *Bus) Close() error {
	return b.client.Close()
}

// Get reads a key, returning ("", false, nil) when absent.
func (b *Bus) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := b.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set writes a key with an optional TTL (0 disables expiry).
func (b *Bus) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *Bus) Del(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

// Publish sends a message on a channel without touching any key.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

// PubSub is the live subscription handle returned by Subscribe/SubscribeLog.
type PubSub = *redis.PubSub

// Subscribe opens a subscription; the caller must Close it.
func (b *Bus) Subscribe(ctx context.Context, channel string) PubSub {
	return b.client.Subscribe(ctx, channel)
}

// Client exposes the underlying client for components (e.g. node presence)
// that need primitives not wrapped here, such as atomic SETEX/EXISTS combos.
func (b *Bus) Client() *redis.Client {
	return b.client
}
