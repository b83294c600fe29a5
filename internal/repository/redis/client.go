// Package redis holds the cross-instance coordination state: turn locks and
// request rate limits. Every key lives under the client's namespace so several
// deployments can share one Redis database.
package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/Rrens/agent-bridge/internal/config"
	"github.com/redis/go-redis/v9"
)

const defaultNamespace = "agent-bridge"

type Client struct {
	rdb       *redis.Client
	namespace string
}

// NewClient dials Redis from cfg and fails if the server does not answer a PING.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr(), err)
	}

	return NewFromClient(rdb, cfg.Namespace), nil
}

// NewFromClient wraps an already configured go-redis client. An empty
// namespace falls back to "agent-bridge".
func NewFromClient(rdb *redis.Client, namespace string) *Client {
	namespace = strings.Trim(namespace, ":")
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &Client{rdb: rdb, namespace: namespace}
}

// key joins parts under the client namespace: "<ns>:<part>:<part>".
func (c *Client) key(parts ...string) string {
	return c.namespace + ":" + strings.Join(parts, ":")
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping reports readiness for /ready.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
