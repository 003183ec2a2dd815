package prometheus

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// TrainingMetrics holds the process metrics of a trainer or proxy server.
type TrainingMetrics struct {
	// HTTP Layer
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec

	// gRPC Layer
	GRPCRequestsTotal   CounterVec
	GRPCRequestDuration HistogramVec

	// Training Layer
	TrainingStepsTotal CounterVec
	TrainingStep       GaugeVec
	TrainingScalar     GaugeVec
	ValidationScalar   GaugeVec
	ImagesTotal        CounterVec
	CheckpointsTotal   CounterVec

	// Infrastructure Layer
	DBQueryDuration  HistogramVec
	CacheHitsTotal   CounterVec
	CacheMissesTotal CounterVec
	MessagesTotal    CounterVec

	// System Health
	ServiceUptime GaugeVec
	ErrorsTotal   CounterVec
}

// Default Buckets
var (
	DefaultHTTPDurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultDBDurationBuckets   = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5}
)

// NewTrainingMetrics registers every metric on collector.
func NewTrainingMetrics(collector MetricsCollector) *TrainingMetrics {
	m := &TrainingMetrics{}

	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path")

	m.GRPCRequestsTotal = collector.RegisterCounter("grpc_requests_total", "Total gRPC requests", "method", "code")
	m.GRPCRequestDuration = collector.RegisterHistogram("grpc_request_duration_seconds", "gRPC request duration", DefaultHTTPDurationBuckets, "method")

	m.TrainingStepsTotal = collector.RegisterCounter("training_steps_total", "Completed training steps")
	m.TrainingStep = collector.RegisterGauge("training_step", "Last reported training step")
	m.TrainingScalar = collector.RegisterGauge("training_scalar", "Last value of a training scalar", "metric")
	m.ValidationScalar = collector.RegisterGauge("validation_scalar", "Last value of a validation scalar", "metric")
	m.ImagesTotal = collector.RegisterCounter("training_images_total", "Logged images", "name")
	m.CheckpointsTotal = collector.RegisterCounter("checkpoints_total", "Written checkpoints", "status")

	m.DBQueryDuration = collector.RegisterHistogram("db_query_duration_seconds", "Results store query duration", DefaultDBDurationBuckets, "db", "operation")
	m.CacheHitsTotal = collector.RegisterCounter("cache_hits_total", "Cache hits", "cache")
	m.CacheMissesTotal = collector.RegisterCounter("cache_misses_total", "Cache misses", "cache")
	m.MessagesTotal = collector.RegisterCounter("messages_total", "Published messages", "topic", "status")

	m.ServiceUptime = collector.RegisterGauge("service_uptime_seconds", "Service uptime", "service")
	m.ErrorsTotal = collector.RegisterCounter("errors_total", "Total errors", "component", "error_type")

	return m
}

// Helpers

func RecordHTTPRequest(metrics *TrainingMetrics, method, path string, statusCode int, duration time.Duration) {
	metrics.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func RecordGRPCRequest(metrics *TrainingMetrics, method, code string, duration time.Duration) {
	metrics.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
	metrics.GRPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func RecordDBQuery(metrics *TrainingMetrics, db, operation string, duration time.Duration, err error) {
	metrics.DBQueryDuration.WithLabelValues(db, operation).Observe(duration.Seconds())
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues(db, "query_error").Inc()
	}
}

func RecordCacheAccess(metrics *TrainingMetrics, cache string, hit bool) {
	if hit {
		metrics.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		metrics.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

func RecordMessage(metrics *TrainingMetrics, topic string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		metrics.ErrorsTotal.WithLabelValues("kafka", "publish_error").Inc()
	}
	metrics.MessagesTotal.WithLabelValues(topic, status).Inc()
}

// ValidationPrefix marks validation scalars in a LogScalars call.
const ValidationPrefix = "valid_"

// Sink exports training scalars as gauges.  It implements telemetry.Sink.
type Sink struct {
	m *TrainingMetrics
}

// NewSink wraps m.
func NewSink(m *TrainingMetrics) *Sink { return &Sink{m: m} }

// LogScalars sets one gauge per scalar.  A call without validation scalars
// counts as a completed step.
func (s *Sink) LogScalars(_ context.Context, step int, scalars map[string]float64) error {
	validation := false
	for k, v := range scalars {
		if name, ok := strings.CutPrefix(k, ValidationPrefix); ok {
			s.m.ValidationScalar.WithLabelValues(name).Set(v)
			validation = true
			continue
		}
		s.m.TrainingScalar.WithLabelValues(k).Set(v)
	}
	if !validation {
		s.m.TrainingStepsTotal.WithLabelValues().Inc()
		s.m.TrainingStep.WithLabelValues().Set(float64(step))
	}
	return nil
}

// LogImage counts images; their content is not exported.
func (s *Sink) LogImage(_ context.Context, _ int, name string, _ []byte) error {
	s.m.ImagesTotal.WithLabelValues(name).Inc()
	return nil
}

func (s *Sink) Close() error { return nil }
