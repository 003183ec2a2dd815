package sehproxy

import (
	"context"

	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/internal/intelligence/common"
	"github.com/turtacn/molgfn/pkg/errors"
)

// Backend kinds accepted by NewBackend.
const (
	BackendLocal = "local"
	BackendHTTP  = "http"
	BackendGRPC  = "grpc"
)

// NewBackend builds the backend selected by cfg.
func NewBackend(ctx context.Context, cfg config.ProxyConfig) (common.ModelBackend, error) {
	switch cfg.Backend {
	case "", BackendLocal:
		return NewLocalBackend(""), nil
	case BackendHTTP:
		return NewHTTPBackend(cfg.Endpoint, cfg.Timeout)
	case BackendGRPC:
		return NewGRPCBackend(ctx, cfg.Endpoint)
	default:
		return nil, errors.InvalidConfig("unknown proxy backend").WithDetail(cfg.Backend)
	}
}

// Open builds and loads a Manager for cfg.  Remote backends get the default
// retry policy and a circuit breaker.
func Open(ctx context.Context, cfg config.ProxyConfig, logger logging.Logger, metrics common.IntelligenceMetrics) (*Manager, error) {
	backend, err := NewBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	mc := DefaultConfig()
	if cfg.BatchSize > 0 {
		mc.BatchSize = cfg.BatchSize
	}
	if cfg.Timeout > 0 {
		mc.Timeout = cfg.Timeout
	}
	tag := cfg.Backend
	if tag == "" {
		tag = BackendLocal
	}
	opts := []ManagerOption{WithBackendTag(tag)}
	if tag != BackendLocal {
		opts = append(opts, WithResilience(common.NewResilience(tag, common.DefaultRetryPolicy(), 5, mc.Timeout, logger, metrics)))
	}
	m, err := NewManager(mc, backend, logger, metrics, opts...)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	if err := m.Load(ctx); err != nil {
		_ = backend.Close()
		return nil, err
	}
	return m, nil
}
