package kafka

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/pkg/errors"
)

type mockKafkaWriter struct {
	writeFunc func(ctx context.Context, msgs ...kafka.Message) error
	closed    int
	written   []kafka.Message
}

func (m *mockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.writeFunc != nil {
		if err := m.writeFunc(ctx, msgs...); err != nil {
			return err
		}
	}
	m.written = append(m.written, msgs...)
	return nil
}

func (m *mockKafkaWriter) Close() error {
	m.closed++
	return nil
}

func newTestProducer(w WriterInterface) *Producer {
	return newProducerWithWriter(w, ProducerConfig{Brokers: []string{"localhost:9092"}, MaxMessageBytes: 64}, logging.NewNopLogger())
}

func TestProducerConfigFrom(t *testing.T) {
	cfg := ProducerConfigFrom(config.KafkaConfig{Brokers: []string{"b:9092"}, BatchSize: 7})
	assert.Equal(t, []string{"b:9092"}, cfg.Brokers)
	assert.Equal(t, 7, cfg.BatchSize)

	assert.Error(t, ValidateProducerConfig(ProducerConfig{}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"x"}, MaxRetries: -1}))
	_, err := NewProducer(ProducerConfig{}, nil)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))
}

func TestProducer_Publish(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)

	err := p.Publish(context.Background(), &Message{
		Topic:   "t",
		Key:     []byte("k"),
		Value:   []byte("v"),
		Headers: map[string]string{"event_type": "scalars"},
	})
	require.NoError(t, err)
	require.Len(t, w.written, 1)
	assert.Equal(t, "t", w.written[0].Topic)
	assert.Equal(t, []byte("k"), w.written[0].Key)
	assert.Equal(t, "event_type", w.written[0].Headers[0].Key)
	assert.False(t, w.written[0].Time.IsZero())

	sent, failed := p.Stats()
	assert.Equal(t, int64(1), sent)
	assert.Equal(t, int64(0), failed)
}

func TestProducer_PublishValidation(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{})
	ctx := context.Background()

	assert.True(t, errors.IsCode(p.Publish(ctx, &Message{Value: []byte("v")}), errors.CodeInvalidParam))
	assert.True(t, errors.IsCode(p.Publish(ctx, &Message{Topic: "t"}), errors.CodeInvalidParam))
	big := make([]byte, 65)
	assert.True(t, errors.IsCode(p.Publish(ctx, &Message{Topic: "t", Value: big}), errors.CodeInvalidParam))
}

func TestProducer_PublishFailure(t *testing.T) {
	w := &mockKafkaWriter{writeFunc: func(context.Context, ...kafka.Message) error {
		return stderrors.New("broker down")
	}}
	p := newTestProducer(w)

	err := p.Publish(context.Background(), &Message{Topic: "t", Value: []byte("v")})
	assert.True(t, errors.IsCode(err, errors.CodeMessagingError))
	_, failed := p.Stats()
	assert.Equal(t, int64(1), failed)
}

func TestProducer_PublishBatch(t *testing.T) {
	msgs := []*Message{
		{Topic: "t", Value: []byte("a")},
		{Topic: "t", Value: []byte("b")},
		{Topic: "t", Value: []byte("c")},
	}

	t.Run("all delivered", func(t *testing.T) {
		w := &mockKafkaWriter{}
		failed, err := newTestProducer(w).PublishBatch(context.Background(), msgs)
		require.NoError(t, err)
		assert.Zero(t, failed)
		assert.Len(t, w.written, 3)
	})

	t.Run("partial failure", func(t *testing.T) {
		w := &mockKafkaWriter{writeFunc: func(context.Context, ...kafka.Message) error {
			return kafka.WriteErrors{nil, stderrors.New("x"), nil}
		}}
		p := newTestProducer(w)
		failed, err := p.PublishBatch(context.Background(), msgs)
		assert.Error(t, err)
		assert.Equal(t, 1, failed)
		sent, _ := p.Stats()
		assert.Equal(t, int64(2), sent)
	})

	t.Run("empty", func(t *testing.T) {
		failed, err := newTestProducer(&mockKafkaWriter{}).PublishBatch(context.Background(), nil)
		assert.NoError(t, err)
		assert.Zero(t, failed)
	})
}

func TestProducer_Close(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, w.closed)

	err := p.Publish(context.Background(), &Message{Topic: "t", Value: []byte("v")})
	assert.ErrorIs(t, err, ErrProducerClosed)
	_, err = p.PublishBatch(context.Background(), []*Message{{Topic: "t", Value: []byte("v")}})
	assert.ErrorIs(t, err, ErrProducerClosed)
}
