package kafka

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/telemetry"
)

type mockConn struct {
	partitions map[string]int
	created    []kafka.TopicConfig
}

func (m *mockConn) CreateTopics(topics ...kafka.TopicConfig) error {
	for _, tc := range topics {
		m.created = append(m.created, tc)
		m.partitions[tc.Topic] = tc.NumPartitions
	}
	return nil
}

func (m *mockConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	var out []kafka.Partition
	for _, name := range topics {
		n, ok := m.partitions[name]
		if !ok {
			return nil, stderrors.New("unknown topic")
		}
		for i := 0; i < n; i++ {
			out = append(out, kafka.Partition{Topic: name, ID: i})
		}
	}
	return out, nil
}

func (m *mockConn) Close() error { return nil }

func TestEventEnvelope(t *testing.T) {
	env, err := NewEventEnvelope(EventScalars, "run-1", 12, ScalarsPayload{Scalars: map[string]float64{"loss": 1.5}})
	require.NoError(t, err)
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, "v1", env.SchemaVersion)

	msg, err := env.ToMessage("topic")
	require.NoError(t, err)
	assert.Equal(t, []byte("run-1"), msg.Key)
	assert.Equal(t, EventScalars, msg.Headers["event_type"])

	decoded, err := DecodeEnvelope(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, 12, decoded.Step)
	var p ScalarsPayload
	require.NoError(t, decoded.DecodePayload(&p))
	assert.Equal(t, 1.5, p.Scalars["loss"])

	_, err = DecodeEnvelope(nil)
	assert.Error(t, err)
	_, err = DecodeEnvelope([]byte("{"))
	assert.Error(t, err)
}

func TestTopicManager_EnsureTopic(t *testing.T) {
	conn := &mockConn{partitions: map[string]int{"existing": 1}}
	m := &TopicManager{conn: conn, logger: logging.NewNopLogger()}
	ctx := context.Background()

	require.NoError(t, m.EnsureTopic(ctx, "existing", 3, 1))
	assert.Empty(t, conn.created)

	require.NoError(t, m.EnsureTopic(ctx, DefaultTopic, 3, 1))
	require.Len(t, conn.created, 1)
	assert.Equal(t, 3, conn.created[0].NumPartitions)
	assert.True(t, m.TopicExists(ctx, DefaultTopic))

	assert.Error(t, m.EnsureTopic(ctx, "", 1, 1))
	assert.Error(t, m.EnsureTopic(ctx, "x", 0, 1))
}

func TestTelemetrySink(t *testing.T) {
	w := &mockKafkaWriter{}
	sink := NewTelemetrySink(newTestProducer(w), "", "run-7", nil)
	var outcomes []error
	sink.OnPublish = func(topic string, err error) {
		assert.Equal(t, DefaultTopic, topic)
		outcomes = append(outcomes, err)
	}
	var s telemetry.Sink = sink
	ctx := context.Background()

	require.NoError(t, s.LogScalars(ctx, 3, map[string]float64{"loss": 0.5}))
	require.NoError(t, s.LogImage(ctx, 3, "hist", []byte{1, 2}))
	require.Len(t, w.written, 2)
	assert.Len(t, outcomes, 2)

	env, err := DecodeEnvelope(w.written[1].Value)
	require.NoError(t, err)
	assert.Equal(t, EventImage, env.EventType)
	assert.Equal(t, "run-7", env.RunID)
	var img ImagePayload
	require.NoError(t, env.DecodePayload(&img))
	assert.Equal(t, "hist", img.Name)
	assert.Equal(t, []byte{1, 2}, img.PNG)

	require.NoError(t, s.Close())
	assert.Equal(t, 1, w.closed)
	assert.Error(t, s.LogScalars(ctx, 4, map[string]float64{"loss": 0.1}))
}
