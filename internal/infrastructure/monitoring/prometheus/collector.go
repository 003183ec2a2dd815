package prometheus

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/pkg/errors"
)

// MetricsCollector registers metric vectors on a private registry and
// serves them.
type MetricsCollector interface {
	RegisterCounter(name, help string, labels ...string) CounterVec
	RegisterGauge(name, help string, labels ...string) GaugeVec
	RegisterHistogram(name, help string, buckets []float64, labels ...string) HistogramVec
	Handler() http.Handler
	Registerer() prometheus.Registerer
}

// CounterVec wraps prometheus.CounterVec.
type CounterVec interface {
	WithLabelValues(lvs ...string) Counter
}

// Counter wraps prometheus.Counter.
type Counter interface {
	Inc()
	Add(delta float64)
}

// GaugeVec wraps prometheus.GaugeVec.
type GaugeVec interface {
	WithLabelValues(lvs ...string) Gauge
}

// Gauge wraps prometheus.Gauge.
type Gauge interface {
	Set(value float64)
	Add(delta float64)
}

// HistogramVec wraps prometheus.HistogramVec.
type HistogramVec interface {
	WithLabelValues(lvs ...string) Histogram
}

// Histogram wraps prometheus.Observer.
type Histogram interface {
	Observe(value float64)
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Namespace               string
	Subsystem               string
	EnableProcessMetrics    bool
	EnableGoMetrics         bool
	DefaultHistogramBuckets []float64
	ConstLabels             map[string]string
}

type prometheusCollector struct {
	registry          *prometheus.Registry
	config            CollectorConfig
	registeredMetrics map[string]prometheus.Collector
	mu                sync.Mutex
	logger            logging.Logger
}

// NewMetricsCollector creates a collector with its own registry.
func NewMetricsCollector(cfg CollectorConfig, logger logging.Logger) (MetricsCollector, error) {
	if cfg.Namespace == "" {
		return nil, errors.InvalidConfig("metrics namespace is required")
	}
	registry := prometheus.NewRegistry()
	if cfg.EnableProcessMetrics {
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: cfg.Namespace}))
	}
	if cfg.EnableGoMetrics {
		registry.MustRegister(collectors.NewGoCollector())
	}
	if cfg.DefaultHistogramBuckets == nil {
		cfg.DefaultHistogramBuckets = prometheus.DefBuckets
	}
	return &prometheusCollector{
		registry:          registry,
		config:            cfg,
		registeredMetrics: make(map[string]prometheus.Collector),
		logger:            logging.OrNop(logger).Named("metrics"),
	}, nil
}

func (c *prometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (c *prometheusCollector) Registerer() prometheus.Registerer { return c.registry }

// register returns the collector already registered under name, if any.
func (c *prometheusCollector) register(name string, newCollector prometheus.Collector) (prometheus.Collector, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fullName := prometheus.BuildFQName(c.config.Namespace, c.config.Subsystem, name)
	if existing, ok := c.registeredMetrics[fullName]; ok {
		return existing, nil
	}
	if err := c.registry.Register(newCollector); err != nil {
		return nil, err
	}
	c.registeredMetrics[fullName] = newCollector
	return newCollector, nil
}

func (c *prometheusCollector) opts(name, help string) prometheus.Opts {
	return prometheus.Opts{
		Namespace:   c.config.Namespace,
		Subsystem:   c.config.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: c.config.ConstLabels,
	}
}

// registerVec registers vec, or returns the vector already known under name.
// ok is false on a registry error or when name is taken by another kind.
func registerVec[V prometheus.Collector](c *prometheusCollector, kind, name string, vec V) (V, bool) {
	registered, err := c.register(name, vec)
	if err != nil {
		c.logger.Error("metric registration failed", logging.String("name", name), logging.String("kind", kind), logging.Err(err))
		return vec, false
	}
	v, ok := registered.(V)
	if !ok {
		c.logger.Warn("metric name taken by another kind", logging.String("name", name), logging.String("kind", kind))
	}
	return v, ok
}

func (c *prometheusCollector) RegisterCounter(name, help string, labels ...string) CounterVec {
	if v, ok := registerVec(c, "counter", name, prometheus.NewCounterVec(prometheus.CounterOpts(c.opts(name, help)), labels)); ok {
		return promCounterVec{vec: v}
	}
	return noopCounterVec{}
}

func (c *prometheusCollector) RegisterGauge(name, help string, labels ...string) GaugeVec {
	if v, ok := registerVec(c, "gauge", name, prometheus.NewGaugeVec(prometheus.GaugeOpts(c.opts(name, help)), labels)); ok {
		return promGaugeVec{vec: v}
	}
	return noopGaugeVec{}
}

func (c *prometheusCollector) RegisterHistogram(name, help string, buckets []float64, labels ...string) HistogramVec {
	if buckets == nil {
		buckets = c.config.DefaultHistogramBuckets
	}
	o := c.opts(name, help)
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   o.Namespace,
		Subsystem:   o.Subsystem,
		Name:        o.Name,
		Help:        o.Help,
		ConstLabels: o.ConstLabels,
		Buckets:     buckets,
	}, labels)
	if v, ok := registerVec(c, "histogram", name, vec); ok {
		return promHistogramVec{vec: v}
	}
	return noopHistogramVec{}
}


type promCounterVec struct{ vec *prometheus.CounterVec }

func (v promCounterVec) WithLabelValues(lvs ...string) Counter { return v.vec.WithLabelValues(lvs...) }

type promGaugeVec struct{ vec *prometheus.GaugeVec }

func (v promGaugeVec) WithLabelValues(lvs ...string) Gauge { return v.vec.WithLabelValues(lvs...) }

type promHistogramVec struct{ vec *prometheus.HistogramVec }

func (v promHistogramVec) WithLabelValues(lvs ...string) Histogram {
	return v.vec.WithLabelValues(lvs...)
}

type noopCounterVec struct{}

func (noopCounterVec) WithLabelValues(...string) Counter { return noopMetric{} }

type noopGaugeVec struct{}

func (noopGaugeVec) WithLabelValues(...string) Gauge { return noopMetric{} }

type noopHistogramVec struct{}

func (noopHistogramVec) WithLabelValues(...string) Histogram { return noopMetric{} }

type noopMetric struct{}

func (noopMetric) Inc()            {}
func (noopMetric) Add(float64)     {}
func (noopMetric) Set(float64)     {}
func (noopMetric) Observe(float64) {}
