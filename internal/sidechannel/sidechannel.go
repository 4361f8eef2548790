// Package sidechannel is the out-of-band assertion channel for the probe
// suite. Probes record externally observable proof of execution here (list
// appends, counter increments) and the test harness reads it back. All
// atomicity is redis's own (RPUSH, INCR); nothing is coordinated on top.
package sidechannel

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/queueprobe/queueprobe/internal/config"
	"github.com/queueprobe/queueprobe/internal/metrics"
)

// Default keys, overridable per call and via config.
const (
	DefaultEchoKey  = "redis-echo"
	DefaultCountKey = "redis-count"
	DefaultGroupKey = "redis-group-ids"
)

type Client struct {
	rdb redis.UniversalClient
}

// New connects to the redis side channel described by the config.
func New(cfg config.Redis) *Client {
	return &Client{rdb: redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.SideDB,
	})}
}

// NewWithClient wraps an existing redis client, used by tests running
// against miniredis.
func NewWithClient(rdb redis.UniversalClient) *Client {
	return &Client{rdb: rdb}
}

// Echo appends the message to the list at key.
func (c *Client) Echo(ctx context.Context, key, message string) error {
	metrics.SideChannelOpsTotal.WithLabelValues("echo").Inc()
	return c.rdb.RPush(ctx, key, message).Err()
}

// Count atomically increments the counter at key and returns the new value.
func (c *Client) Count(ctx context.Context, key string) (int64, error) {
	metrics.SideChannelOpsTotal.WithLabelValues("count").Inc()
	return c.rdb.Incr(ctx, key).Result()
}

// Range returns the full list at key, oldest first.
func (c *Client) Range(ctx context.Context, key string) ([]string, error) {
	metrics.SideChannelOpsTotal.WithLabelValues("range").Inc()
	return c.rdb.LRange(ctx, key, 0, -1).Result()
}

// CountValue reads the counter at key; a missing key reads as 0.
func (c *Client) CountValue(ctx context.Context, key string) (int64, error) {
	metrics.SideChannelOpsTotal.WithLabelValues("count_value").Inc()
	n, err := c.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// Clear removes the given keys, used by the harness between assertions.
func (c *Client) Clear(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// Ping reports side-channel liveness for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
