package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReader struct {
	msgs      []kafka.Message
	committed int
}

func (m *mockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(m.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := m.msgs[0]
	m.msgs = m.msgs[1:]
	return msg, nil
}

func (m *mockReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	m.committed += len(msgs)
	return nil
}

func (m *mockReader) Close() error { return nil }

func envelopeValue(t *testing.T, runID string, step int) []byte {
	t.Helper()
	env, err := NewEventEnvelope(EventScalars, runID, step, ScalarsPayload{Scalars: map[string]float64{"loss": 1}})
	require.NoError(t, err)
	msg, err := env.ToMessage(DefaultTopic)
	require.NoError(t, err)
	return msg.Value
}

func TestConsumer_RunFiltersByRun(t *testing.T) {
	r := &mockReader{msgs: []kafka.Message{
		{Value: []byte("garbage"), Offset: 0},
		{Value: envelopeValue(t, "other", 1), Offset: 1},
		{Value: envelopeValue(t, "mine", 2), Offset: 2},
	}}
	c := newConsumerWithReader(r, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var steps []int
	err := c.Run(ctx, "mine", func(_ context.Context, env *EventEnvelope) error {
		steps = append(steps, env.Step)
		cancel()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, steps)
	assert.Equal(t, 3, r.committed)

	consumed, skipped := c.Stats()
	assert.Equal(t, int64(1), consumed)
	assert.Equal(t, int64(2), skipped)
}

func TestConsumer_HandlerErrorStops(t *testing.T) {
	r := &mockReader{msgs: []kafka.Message{{Value: envelopeValue(t, "a", 1)}}}
	c := newConsumerWithReader(r, nil)
	boom := assert.AnError
	err := c.Run(context.Background(), "", func(context.Context, *EventEnvelope) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, r.committed)
}

func TestNewConsumer_RequiresBrokers(t *testing.T) {
	_, err := NewConsumer(ConsumerConfig{}, nil)
	assert.Error(t, err)
}
