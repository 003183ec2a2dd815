package redis

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/pkg/errors"
)

var (
	ErrClientClosed     = errors.New(errors.CodeCacheError, "redis client is closed")
	ErrConnectionFailed = errors.New(errors.CodeUnavailable, "redis connection failed")
)

// DefaultKeyPrefix namespaces every key written by this package.
const DefaultKeyPrefix = "molgfn:"

type Client struct {
	rdb    redis.UniversalClient
	prefix string
	logger logging.Logger
	mu     sync.RWMutex
	closed bool
}

func applyDefaults(cfg *config.RedisConfig) {
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 10 * runtime.GOMAXPROCS(0)
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
}

// NewClient connects to a standalone server and pings it.
func NewClient(ctx context.Context, cfg config.RedisConfig, log logging.Logger) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.InvalidConfig("redis addr required")
	}
	applyDefaults(&cfg)
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	c := newClientWithRDB(rdb, cfg.KeyPrefix, log)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		rdb.Close()
		return nil, ErrConnectionFailed.WithCause(err)
	}
	c.logger.Info("Redis client connected", logging.String("addr", cfg.Addr))
	return c, nil
}

func newClientWithRDB(rdb redis.UniversalClient, prefix string, log logging.Logger) *Client {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Client{rdb: rdb, prefix: prefix, logger: logging.OrNop(log).Named("redis")}
}

// Key prefixes parts with the client's namespace.
func (c *Client) Key(parts ...string) string {
	k := c.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (c *Client) Ping(ctx context.Context) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.rdb.Close()
	if err != nil {
		c.logger.Error("Failed to close Redis client", logging.Err(err))
	}
	return err
}

func (c *Client) GetUnderlyingClient() redis.UniversalClient {
	return c.rdb
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
