package kafka

import (
	"context"

	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
)

// Publisher is the subset of Producer used by the sink.
type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
	Close() error
}

// TelemetrySink streams telemetry events to a topic.  It implements
// telemetry.Sink.
type TelemetrySink struct {
	pub    Publisher
	topic  string
	runID  string
	logger logging.Logger
	// OnPublish observes every publish result; nil is allowed.
	OnPublish func(topic string, err error)
}

// NewTelemetrySink publishes the events of runID to topic.
func NewTelemetrySink(pub Publisher, topic, runID string, logger logging.Logger) *TelemetrySink {
	if topic == "" {
		topic = DefaultTopic
	}
	return &TelemetrySink{pub: pub, topic: topic, runID: runID, logger: logging.OrNop(logger).Named("kafka_sink")}
}

func (s *TelemetrySink) publish(ctx context.Context, eventType string, step int, payload interface{}) error {
	env, err := NewEventEnvelope(eventType, s.runID, step, payload)
	if err != nil {
		return err
	}
	msg, err := env.ToMessage(s.topic)
	if err != nil {
		return err
	}
	err = s.pub.Publish(ctx, msg)
	if s.OnPublish != nil {
		s.OnPublish(s.topic, err)
	}
	return err
}

func (s *TelemetrySink) LogScalars(ctx context.Context, step int, scalars map[string]float64) error {
	return s.publish(ctx, EventScalars, step, ScalarsPayload{Scalars: scalars})
}

func (s *TelemetrySink) LogImage(ctx context.Context, step int, name string, png []byte) error {
	return s.publish(ctx, EventImage, step, ImagePayload{Name: name, PNG: png})
}

// Close closes the publisher.
func (s *TelemetrySink) Close() error {
	return s.pub.Close()
}
