package prometheus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/telemetry"
)

func newTestTrainingMetrics(t *testing.T) (*TrainingMetrics, MetricsCollector) {
	c := newTestCollector(t)
	return NewTrainingMetrics(c), c
}

func TestRecordHTTPRequest(t *testing.T) {
	m, c := newTestTrainingMetrics(t)
	RecordHTTPRequest(m, "GET", "/api/v1/status", 200, 100*time.Millisecond)

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, `test_unit_http_requests_total{method="GET",path="/api/v1/status",status_code="200"} 1`)
	assert.Contains(t, output, `test_unit_http_request_duration_seconds_count{method="GET",path="/api/v1/status"} 1`)
}

func TestRecordDBQuery(t *testing.T) {
	m, c := newTestTrainingMetrics(t)
	RecordDBQuery(m, "postgres", "save_metrics", 10*time.Millisecond, nil)
	RecordDBQuery(m, "postgres", "save_samples", 5*time.Millisecond, errors.New("db error"))

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, `test_unit_db_query_duration_seconds_count{db="postgres",operation="save_metrics"} 1`)
	assert.Contains(t, output, `test_unit_errors_total{component="postgres",error_type="query_error"} 1`)
}

func TestRecordCacheAccessAndMessages(t *testing.T) {
	m, c := newTestTrainingMetrics(t)
	RecordCacheAccess(m, "redis", true)
	RecordCacheAccess(m, "redis", false)
	RecordMessage(m, "molgfn.telemetry", nil)
	RecordMessage(m, "molgfn.telemetry", errors.New("broker down"))

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, `test_unit_cache_hits_total{cache="redis"} 1`)
	assert.Contains(t, output, `test_unit_cache_misses_total{cache="redis"} 1`)
	assert.Contains(t, output, `test_unit_messages_total{status="ok",topic="molgfn.telemetry"} 1`)
	assert.Contains(t, output, `test_unit_messages_total{status="error",topic="molgfn.telemetry"} 1`)
}

func TestSink(t *testing.T) {
	m, c := newTestTrainingMetrics(t)
	var sink telemetry.Sink = NewSink(m)
	ctx := context.Background()

	require.NoError(t, sink.LogScalars(ctx, 3, map[string]float64{"loss": 0.25, "lr": 1e-4}))
	require.NoError(t, sink.LogScalars(ctx, 4, map[string]float64{"loss": 0.5}))
	require.NoError(t, sink.LogScalars(ctx, 4, map[string]float64{"valid_topk_rewards_0": 0.75}))
	require.NoError(t, sink.LogImage(ctx, 4, "part_histogram", []byte{0x89}))
	require.NoError(t, sink.Close())

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, `test_unit_training_scalar{metric="loss"} 0.5`)
	assert.Contains(t, output, `test_unit_validation_scalar{metric="topk_rewards_0"} 0.75`)
	assert.Contains(t, output, "test_unit_training_steps_total 2")
	assert.Contains(t, output, "test_unit_training_step 4")
	assert.Contains(t, output, `test_unit_training_images_total{name="part_histogram"} 1`)
}
