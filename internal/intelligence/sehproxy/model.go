// Package sehproxy scores molecules with the binding-affinity proxy.  The
// proxy itself is an opaque inference service reached through a
// common.ModelBackend; Manager owns its lifecycle, batching and telemetry.
package sehproxy

import (
	"context"
	"sync"
	"time"

	"github.com/turtacn/molgfn/internal/domain/molecule"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/internal/intelligence/common"
	"github.com/turtacn/molgfn/pkg/errors"
)

// OutputSEH is the output name carrying the predicted scores.
const OutputSEH = "seh"

// Proxy predicts one raw binding-affinity score per molecule.  Scores are on
// the proxy's native scale; NaN marks a molecule the proxy could not score.
type Proxy interface {
	Predict(ctx context.Context, graphs []*molecule.MolecularGraph) ([]float64, error)
}

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config describes the proxy model served by the backend.
type Config struct {
	ModelID      string        `json:"model_id" yaml:"model_id"`
	ModelVersion string        `json:"model_version" yaml:"model_version"`
	BatchSize    int           `json:"batch_size" yaml:"batch_size"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
	WarmupOnLoad bool          `json:"warmup_on_load" yaml:"warmup_on_load"`
}

// DefaultConfig returns the configuration of the bundled surrogate.
func DefaultConfig() *Config {
	return &Config{
		ModelID:      "seh-proxy",
		ModelVersion: "1.0.0",
		BatchSize:    256,
		Timeout:      30 * time.Second,
		WarmupOnLoad: true,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ModelID == "" {
		return errors.InvalidParam("model_id is required")
	}
	if c.BatchSize <= 0 {
		return errors.InvalidParam("batch_size must be positive")
	}
	if c.Timeout < 0 {
		return errors.InvalidParam("timeout must not be negative")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

// ModelState represents the lifecycle state of the proxy.
type ModelState int

const (
	ModelStateUnloaded ModelState = iota
	ModelStateLoading
	ModelStateReady
	ModelStateError
	ModelStateUnloading
)

func (s ModelState) String() string {
	switch s {
	case ModelStateUnloaded:
		return "UNLOADED"
	case ModelStateLoading:
		return "LOADING"
	case ModelStateReady:
		return "READY"
	case ModelStateError:
		return "ERROR"
	case ModelStateUnloading:
		return "UNLOADING"
	default:
		return "UNKNOWN"
	}
}

// Manager implements Proxy over a ModelBackend.
type Manager struct {
	config     *Config
	backend    common.ModelBackend
	backendTag string
	resilience *common.Resilience
	logger     logging.Logger
	metrics    common.IntelligenceMetrics

	mu      sync.RWMutex
	state   ModelState
	loadErr error
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithResilience routes backend calls through r.
func WithResilience(r *common.Resilience) ManagerOption {
	return func(m *Manager) { m.resilience = r }
}

// WithBackendTag labels inference metrics with the backend kind.
func WithBackendTag(tag string) ManagerOption {
	return func(m *Manager) { m.backendTag = tag }
}

// NewManager creates a manager.  Logger and metrics fall back to no-ops.
func NewManager(cfg *Config, backend common.ModelBackend, logger logging.Logger,
	metrics common.IntelligenceMetrics, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		return nil, errors.InvalidParam("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, errors.InvalidParam("backend is required")
	}
	if metrics == nil {
		metrics = common.NewNoopIntelligenceMetrics()
	}
	m := &Manager{
		config:     cfg,
		backend:    backend,
		backendTag: "local",
		logger:     logging.OrNop(logger).Named("sehproxy"),
		metrics:    metrics,
		state:      ModelStateUnloaded,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Load health-checks the backend and optionally warms it up.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == ModelStateReady {
		return nil
	}
	m.state = ModelStateLoading
	start := time.Now()

	if err := m.backend.Healthy(ctx); err != nil {
		m.state = ModelStateError
		m.loadErr = err
		return errors.Wrap(err, errors.CodeProxyNotReady, "proxy backend health check failed")
	}
	if m.config.WarmupOnLoad {
		if _, err := m.predictChunk(ctx, []*molecule.MolecularGraph{warmupGraph()}); err != nil {
			m.logger.Warn("warmup failed, proceeding anyway", logging.Err(err))
		}
	}
	m.state = ModelStateReady
	m.loadErr = nil
	m.logger.Info("proxy loaded",
		logging.String("model_id", m.config.ModelID),
		logging.String("backend", m.backendTag),
		logging.Duration("duration", time.Since(start)))
	return nil
}

// Unload closes the backend.
func (m *Manager) Unload(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == ModelStateUnloaded {
		return nil
	}
	m.state = ModelStateUnloading
	if err := m.backend.Close(); err != nil {
		m.state = ModelStateError
		return errors.Wrap(err, errors.CodeExternal, "proxy backend close failed")
	}
	m.state = ModelStateUnloaded
	m.logger.Info("proxy unloaded", logging.String("model_id", m.config.ModelID))
	return nil
}

// State returns the lifecycle state.
func (m *Manager) State() ModelState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastError returns the last load failure.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadErr
}

// Config returns the proxy configuration.
func (m *Manager) Config() *Config { return m.config }

// Predict scores graphs in chunks of Config.BatchSize.
func (m *Manager) Predict(ctx context.Context, graphs []*molecule.MolecularGraph) ([]float64, error) {
	if m.State() != ModelStateReady {
		return nil, errors.New(errors.CodeProxyNotReady, "proxy is not loaded").WithDetail(m.State().String())
	}
	out := make([]float64, 0, len(graphs))
	for start := 0; start < len(graphs); start += m.config.BatchSize {
		end := start + m.config.BatchSize
		if end > len(graphs) {
			end = len(graphs)
		}
		scores, err := m.predictChunk(ctx, graphs[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, scores...)
	}
	return out, nil
}

func (m *Manager) predictChunk(ctx context.Context, graphs []*molecule.MolecularGraph) ([]float64, error) {
	if len(graphs) == 0 {
		return nil, nil
	}
	payload, err := EncodeGraphs(graphs)
	if err != nil {
		return nil, err
	}
	req := &common.PredictRequest{
		ModelName:    m.config.ModelID,
		ModelVersion: m.config.ModelVersion,
		InputData:    payload,
		InputFormat:  common.FormatJSON,
	}
	if m.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	var resp *common.PredictResponse
	call := func(ctx context.Context) error {
		r, err := m.backend.Predict(ctx, req)
		resp = r
		return err
	}
	if m.resilience != nil {
		err = m.resilience.Do(ctx, call)
	} else {
		err = call(ctx)
	}
	params := &common.InferenceMetricParams{
		ModelName:  m.config.ModelID,
		Backend:    m.backendTag,
		DurationMs: float64(time.Since(start).Microseconds()) / 1000,
		BatchSize:  len(graphs),
	}
	if err != nil {
		m.metrics.RecordInference(ctx, params)
		return nil, errors.Wrap(err, errors.CodeProxyPredictionFailed, "proxy inference failed")
	}
	scores, err := DecodeScores(resp)
	if err == nil && len(scores) != len(graphs) {
		err = errors.New(errors.CodeProxyPredictionFailed, "proxy returned wrong number of scores").
			WithDetailf("got %d, want %d", len(scores), len(graphs))
	}
	params.Success = err == nil
	m.metrics.RecordInference(ctx, params)
	if err != nil {
		return nil, err
	}
	return scores, nil
}

func warmupGraph() *molecule.MolecularGraph {
	return &molecule.MolecularGraph{
		Key:         "warmup",
		Fragments:   []int{0},
		Descriptors: &molecule.Descriptors{HeavyAtoms: 1, Hydrogens: 4},
	}
}
