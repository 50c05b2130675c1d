// Package redis mirrors provider availability heartbeats so sibling engine
// instances can hydrate their registries. The mirror is written on the
// heartbeat path only; scoring never reads it, so a Redis outage degrades to
// single-instance state, not to failed routing.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// availabilityKeyPrefix namespaces heartbeat keys.
const availabilityKeyPrefix = "provider:availability:"

// Client wraps go-redis for the availability mirror.
type Client struct {
	rdb    *redis.Client
	config *Config
}

// Config holds Redis connection settings.
type Config struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// NewClient connects to Redis and verifies the connection with a ping.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		rdb:    rdb,
		config: config,
	}, nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health pings the server.
func (c *Client) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// SetAvailability records a provider heartbeat. The TTL bounds staleness:
// a provider that stops heartbeating disappears from the mirror.
func (c *Client) SetAvailability(ctx context.Context, providerID string, available bool, ttl time.Duration) error {
	value := "0"
	if available {
		value = "1"
	}
	return c.rdb.Set(ctx, availabilityKeyPrefix+providerID, value, ttl).Err()
}

// Availability returns the mirrored availability of a provider. The second
// return value is false when no heartbeat is present.
func (c *Client) Availability(ctx context.Context, providerID string) (bool, bool, error) {
	value, err := c.rdb.Get(ctx, availabilityKeyPrefix+providerID).Result()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to read availability for %s: %w", providerID, err)
	}
	return value == "1", true, nil
}

// AvailableProviders lists provider IDs whose latest heartbeat marked them
// available. Intended for registry hydration on startup, not request paths.
func (c *Client) AvailableProviders(ctx context.Context) ([]string, error) {
	keys, err := c.rdb.Keys(ctx, availabilityKeyPrefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan availability keys: %w", err)
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		value, err := c.rdb.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		if value == "1" {
			ids = append(ids, strings.TrimPrefix(key, availabilityKeyPrefix))
		}
	}
	return ids, nil
}
