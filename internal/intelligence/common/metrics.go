package common

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// IntelligenceMetrics records the operational telemetry of model-backed
// components so that the implementation (Prometheus, in-memory, noop) can be
// swapped without touching callers.
type IntelligenceMetrics interface {
	RecordInference(ctx context.Context, params *InferenceMetricParams)
	RecordCacheAccess(ctx context.Context, hit bool, modelName string)
	RecordCircuitBreakerStateChange(ctx context.Context, modelName string, fromState, toState string)
	GetCurrentStats() *IntelligenceStats
}

// InferenceMetricParams carries the data for a single inference call.
type InferenceMetricParams struct {
	ModelName  string  `json:"model_name"`
	Backend    string  `json:"backend"`
	DurationMs float64 `json:"duration_ms"`
	Success    bool    `json:"success"`
	BatchSize  int     `json:"batch_size"`
}

// IntelligenceStats is a point-in-time snapshot.
type IntelligenceStats struct {
	TotalInferences      int64             `json:"total_inferences"`
	FailedInferences     int64             `json:"failed_inferences"`
	MoleculesScored      int64             `json:"molecules_scored"`
	P50LatencyMs         float64           `json:"p50_latency_ms"`
	P95LatencyMs         float64           `json:"p95_latency_ms"`
	CacheHitRate         float64           `json:"cache_hit_rate"`
	CircuitBreakerStates map[string]string `json:"circuit_breaker_states"`
}

var defaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// counters is the in-process bookkeeping shared by the Prometheus and
// in-memory implementations.
type counters struct {
	latency     *latencyHistogram
	total       atomic.Int64
	failed      atomic.Int64
	molecules   atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	cbStates    sync.Map
}

func newCounters() *counters {
	return &counters{latency: newLatencyHistogram()}
}

func (c *counters) inference(p *InferenceMetricParams) {
	c.latency.Observe(p.DurationMs)
	c.total.Add(1)
	c.molecules.Add(int64(p.BatchSize))
	if !p.Success {
		c.failed.Add(1)
	}
}

func (c *counters) cache(hit bool) {
	if hit {
		c.cacheHits.Add(1)
	} else {
		c.cacheMisses.Add(1)
	}
}

func (c *counters) stats() *IntelligenceStats {
	hits, misses := c.cacheHits.Load(), c.cacheMisses.Load()
	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}
	states := make(map[string]string)
	c.cbStates.Range(func(k, v any) bool {
		states[k.(string)] = v.(string)
		return true
	})
	return &IntelligenceStats{
		TotalInferences:      c.total.Load(),
		FailedInferences:     c.failed.Load(),
		MoleculesScored:      c.molecules.Load(),
		P50LatencyMs:         c.latency.Percentile(50),
		P95LatencyMs:         c.latency.Percentile(95),
		CacheHitRate:         hitRate,
		CircuitBreakerStates: states,
	}
}

// ---------------------------------------------------------------------------
// Prometheus implementation
// ---------------------------------------------------------------------------

type prometheusIntelligenceMetrics struct {
	*counters
	inferenceLatency    *prometheus.HistogramVec
	inferenceTotal      *prometheus.CounterVec
	moleculesTotal      *prometheus.CounterVec
	cacheAccessTotal    *prometheus.CounterVec
	circuitBreakerState *prometheus.GaugeVec
}

// NewPrometheusIntelligenceMetrics registers the proxy metrics under
// namespace with registerer (the default registerer when nil).
func NewPrometheusIntelligenceMetrics(registerer prometheus.Registerer, namespace string) (IntelligenceMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &prometheusIntelligenceMetrics{counters: newCounters()}

	m.inferenceLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "proxy",
		Name:    "inference_duration_milliseconds",
		Help:    "Proxy inference latency in milliseconds.",
		Buckets: defaultLatencyBuckets,
	}, []string{"model_name", "backend"})
	m.inferenceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "proxy",
		Name: "inference_total",
		Help: "Proxy inference calls.",
	}, []string{"model_name", "backend", "status"})
	m.moleculesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "proxy",
		Name: "molecules_scored_total",
		Help: "Molecules scored by the proxy.",
	}, []string{"model_name"})
	m.cacheAccessTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "proxy",
		Name: "cache_access_total",
		Help: "Reward cache lookups.",
	}, []string{"model_name", "result"})
	m.circuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "proxy",
		Name: "circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half_open, 2=open).",
	}, []string{"model_name"})

	for _, c := range []prometheus.Collector{
		m.inferenceLatency, m.inferenceTotal, m.moleculesTotal, m.cacheAccessTotal, m.circuitBreakerState,
	} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *prometheusIntelligenceMetrics) RecordInference(_ context.Context, p *InferenceMetricParams) {
	if p == nil {
		return
	}
	status := "success"
	if !p.Success {
		status = "failure"
	}
	m.inferenceLatency.WithLabelValues(p.ModelName, p.Backend).Observe(p.DurationMs)
	m.inferenceTotal.WithLabelValues(p.ModelName, p.Backend, status).Inc()
	m.moleculesTotal.WithLabelValues(p.ModelName).Add(float64(p.BatchSize))
	m.counters.inference(p)
}

func (m *prometheusIntelligenceMetrics) RecordCacheAccess(_ context.Context, hit bool, modelName string) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheAccessTotal.WithLabelValues(modelName, result).Inc()
	m.counters.cache(hit)
}

func (m *prometheusIntelligenceMetrics) RecordCircuitBreakerStateChange(_ context.Context, modelName string, _, toState string) {
	m.cbStates.Store(modelName, toState)
	m.circuitBreakerState.WithLabelValues(modelName).Set(circuitBreakerStateToFloat(toState))
}

func (m *prometheusIntelligenceMetrics) GetCurrentStats() *IntelligenceStats {
	return m.counters.stats()
}

// ---------------------------------------------------------------------------
// In-memory and noop implementations
// ---------------------------------------------------------------------------

type inMemoryIntelligenceMetrics struct {
	*counters
}

// NewInMemoryIntelligenceMetrics returns a metrics recorder without any
// exporter, suitable for tests and the status endpoint.
func NewInMemoryIntelligenceMetrics() IntelligenceMetrics {
	return &inMemoryIntelligenceMetrics{counters: newCounters()}
}

func (m *inMemoryIntelligenceMetrics) RecordInference(_ context.Context, p *InferenceMetricParams) {
	if p != nil {
		m.counters.inference(p)
	}
}

func (m *inMemoryIntelligenceMetrics) RecordCacheAccess(_ context.Context, hit bool, _ string) {
	m.counters.cache(hit)
}

func (m *inMemoryIntelligenceMetrics) RecordCircuitBreakerStateChange(_ context.Context, modelName string, _, toState string) {
	m.cbStates.Store(modelName, toState)
}

func (m *inMemoryIntelligenceMetrics) GetCurrentStats() *IntelligenceStats {
	return m.counters.stats()
}

type noopIntelligenceMetrics struct{}

// NewNoopIntelligenceMetrics returns a no-op metrics implementation.
func NewNoopIntelligenceMetrics() IntelligenceMetrics {
	return noopIntelligenceMetrics{}
}

func (noopIntelligenceMetrics) RecordInference(context.Context, *InferenceMetricParams) {}
func (noopIntelligenceMetrics) RecordCacheAccess(context.Context, bool, string)         {}
func (noopIntelligenceMetrics) RecordCircuitBreakerStateChange(context.Context, string, string, string) {
}
func (noopIntelligenceMetrics) GetCurrentStats() *IntelligenceStats {
	return &IntelligenceStats{CircuitBreakerStates: map[string]string{}}
}

// ---------------------------------------------------------------------------
// latencyHistogram
// ---------------------------------------------------------------------------

type latencyHistogram struct {
	mu      sync.Mutex
	samples []float64
	sorted  bool
}

func newLatencyHistogram() *latencyHistogram {
	return &latencyHistogram{samples: make([]float64, 0, 256)}
}

func (h *latencyHistogram) Observe(durationMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = append(h.samples, durationMs)
	h.sorted = false
}

// Percentile returns the value at percentile p (0–100), interpolating
// linearly between the two nearest ranks.
func (h *latencyHistogram) Percentile(p float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.samples)
	if n == 0 {
		return 0
	}
	if !h.sorted {
		sort.Float64s(h.samples)
		h.sorted = true
	}
	if p <= 0 {
		return h.samples[0]
	}
	if p >= 100 {
		return h.samples[n-1]
	}
	rank := (p / 100) * float64(n-1)
	lower := int(math.Floor(rank))
	if lower+1 >= n {
		return h.samples[n-1]
	}
	frac := rank - float64(lower)
	return h.samples[lower] + frac*(h.samples[lower+1]-h.samples[lower])
}

func circuitBreakerStateToFloat(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}

var (
	_ IntelligenceMetrics = (*prometheusIntelligenceMetrics)(nil)
	_ IntelligenceMetrics = (*inMemoryIntelligenceMetrics)(nil)
	_ IntelligenceMetrics = noopIntelligenceMetrics{}
)
