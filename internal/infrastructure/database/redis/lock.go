package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/pkg/errors"
)

var (
	ErrLockNotAcquired = errors.New(errors.CodeConflict, "failed to acquire lock")
	ErrLockNotHeld     = errors.New(errors.CodeConflict, "lock not held by this owner")
)

type LockOption func(*lockConfig)

func WithLockTTL(ttl time.Duration) LockOption {
	return func(c *lockConfig) { c.ttl = ttl }
}

func WithRetryDelay(delay time.Duration) LockOption {
	return func(c *lockConfig) { c.retryDelay = delay }
}

func WithRetryCount(count int) LockOption {
	return func(c *lockConfig) { c.retryCount = count }
}

// WithWatchdog keeps extending the lease while the lock is held.
func WithWatchdog(interval time.Duration) LockOption {
	return func(c *lockConfig) { c.watchdogInterval = interval }
}

type lockConfig struct {
	ttl              time.Duration
	retryDelay       time.Duration
	retryCount       int
	watchdogInterval time.Duration
}

// Mutex is a single-owner lease, used to serialise work shared by the
// shards of a partitioned run such as generating the partition files.
type Mutex struct {
	client *Client
	key    string
	value  string
	config lockConfig
	logger logging.Logger

	watchdogCancel context.CancelFunc
	watchdogDone   chan struct{}
}

func NewMutex(c *Client, name string, opts ...LockOption) *Mutex {
	cfg := lockConfig{
		ttl:        30 * time.Second,
		retryDelay: 100 * time.Millisecond,
		retryCount: 300,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Mutex{
		client: c,
		key:    c.Key("lock", name),
		value:  uuid.NewString(),
		config: cfg,
		logger: c.logger,
	}
}

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

func (m *Mutex) Key() string { return m.key }

func (m *Mutex) TryLock(ctx context.Context) (bool, error) {
	ok, err := m.client.rdb.SetNX(ctx, m.key, m.value, m.config.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.CodeCacheError, "failed to set lock")
	}
	if ok {
		m.startWatchdog()
	}
	return ok, nil
}

// Lock retries TryLock until it succeeds, ctx ends or the retry budget
// runs out.
func (m *Mutex) Lock(ctx context.Context) error {
	for i := 0; i < m.config.retryCount; i++ {
		ok, err := m.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.config.retryDelay):
		}
	}
	return ErrLockNotAcquired.WithDetail(m.key)
}

func (m *Mutex) Unlock(ctx context.Context) error {
	m.stopWatchdog()
	res, err := unlockScript.Run(ctx, m.client.rdb, []string{m.key}, m.value).Int64()
	if err != nil {
		return errors.Wrap(err, errors.CodeCacheError, "failed to release lock")
	}
	if res == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (m *Mutex) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	res, err := extendScript.Run(ctx, m.client.rdb, []string{m.key}, m.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (m *Mutex) startWatchdog() {
	if m.config.watchdogInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.watchdogCancel = cancel
	m.watchdogDone = make(chan struct{})
	go runWatchdog(ctx, m.Extend, m.config.watchdogInterval, m.config.ttl, m.logger, m.watchdogDone)
}

func (m *Mutex) stopWatchdog() {
	if m.watchdogCancel != nil {
		m.watchdogCancel()
		<-m.watchdogDone
		m.watchdogCancel = nil
	}
}

func runWatchdog(ctx context.Context, extend func(context.Context, time.Duration) (bool, error), interval, ttl time.Duration, log logging.Logger, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := extend(ctx, ttl)
			if err != nil {
				if ctx.Err() == nil {
					log.Error("Watchdog failed to extend lock", logging.Err(err))
				}
				return
			}
			if !ok {
				log.Warn("Watchdog lost lock")
				return
			}
		}
	}
}

// WithLock runs fn while holding the named mutex.
func WithLock(ctx context.Context, c *Client, name string, fn func(context.Context) error, opts ...LockOption) error {
	m := NewMutex(c, name, opts...)
	if err := m.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if err := m.Unlock(context.Background()); err != nil {
			c.logger.Warn("unlock failed", logging.String("key", m.key), logging.Err(err))
		}
	}()
	return fn(ctx)
}
