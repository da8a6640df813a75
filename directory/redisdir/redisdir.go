// Package redisdir is a Redis-backed directory.Client for multi-process
// deployments, where several session brokers share one service directory.
// Grounded on the teacher's storage/redis and sessions/redishost packages.
package redisdir

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/objectbus/objectbus/directory"
)

// Config configures a Client.
type Config struct {
	// Client is the Redis client instance.
	Client *redis.Client
	// KeyPrefix namespaces every key this package touches.
	// Default: "objectbus:directory:"
	KeyPrefix string
	// ReadyChannel is the pub/sub channel ServiceReady publishes on.
	// Default: "objectbus:directory:ready"
	ReadyChannel string
}

// Client is a Redis-backed directory.Client.
type Client struct {
	rdb          *redis.Client
	keyPrefix    string
	readyChannel string
}

// New constructs a Client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redisdir: redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "objectbus:directory:"
	}
	if cfg.ReadyChannel == "" {
		cfg.ReadyChannel = "objectbus:directory:ready"
	}
	return &Client{rdb: cfg.Client, keyPrefix: cfg.KeyPrefix, readyChannel: cfg.ReadyChannel}, nil
}

func (c *Client) idsKey() string        { return c.keyPrefix + "ids" }
func (c *Client) infoKey(id uint32) string { return fmt.Sprintf("%sinfo:%d", c.keyPrefix, id) }

// Register implements directory.Client: it allocates an id with INCR and
// stores info JSON-encoded under its own per-id key with SET.
func (c *Client) Register(ctx context.Context, info directory.ServiceInfo) (uint32, error) {
	next, err := c.rdb.Incr(ctx, c.idsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redisdir: allocate id: %w", err)
	}
	id := uint32(next)

	encoded, err := json.Marshal(info)
	if err != nil {
		return 0, fmt.Errorf("redisdir: encode service info: %w", err)
	}
	if err := c.rdb.Set(ctx, c.infoKey(id), encoded, 0).Err(); err != nil {
		return 0, fmt.Errorf("redisdir: store service info: %w", err)
	}
	return id, nil
}

// Unregister implements directory.Client.
func (c *Client) Unregister(ctx context.Context, id uint32) error {
	n, err := c.rdb.Del(ctx, c.infoKey(id)).Result()
	if err != nil {
		return fmt.Errorf("redisdir: unregister %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("redisdir: unknown service id %d", id)
	}
	return nil
}

// ServiceReady implements directory.Client: it publishes id on the ready
// channel for any other process watching this directory.
func (c *Client) ServiceReady(ctx context.Context, id uint32) error {
	if err := c.rdb.Exists(ctx, c.infoKey(id)).Err(); err != nil {
		return fmt.Errorf("redisdir: check %d: %w", id, err)
	}
	if err := c.rdb.Publish(ctx, c.readyChannel, fmt.Sprintf("%d", id)).Err(); err != nil {
		return fmt.Errorf("redisdir: publish ready %d: %w", id, err)
	}
	return nil
}

// Lookup fetches the stored info for id, for tests and operator tooling.
func (c *Client) Lookup(ctx context.Context, id uint32) (directory.ServiceInfo, error) {
	raw, err := c.rdb.Get(ctx, c.infoKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return directory.ServiceInfo{}, fmt.Errorf("redisdir: unknown service id %d", id)
		}
		return directory.ServiceInfo{}, fmt.Errorf("redisdir: lookup %d: %w", id, err)
	}
	var info directory.ServiceInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return directory.ServiceInfo{}, fmt.Errorf("redisdir: decode %d: %w", id, err)
	}
	return info, nil
}
