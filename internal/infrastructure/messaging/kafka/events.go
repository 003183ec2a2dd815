package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/pkg/errors"
)

// DefaultTopic carries training telemetry when kafka.topic is unset.
const DefaultTopic = "molgfn.telemetry"

// Event types.
const (
	EventScalars = "scalars"
	EventImage   = "image"
)

// EventEnvelope is the JSON record published per telemetry call.
type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	RunID         string          `json:"run_id"`
	Step          int             `json:"step"`
	Timestamp     time.Time       `json:"timestamp"`
	SchemaVersion string          `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// ScalarsPayload is the payload of EventScalars.
type ScalarsPayload struct {
	Scalars map[string]float64 `json:"scalars"`
}

// ImagePayload is the payload of EventImage.  PNG is base64 encoded by
// encoding/json.
type ImagePayload struct {
	Name string `json:"name"`
	PNG  []byte `json:"png"`
}

func NewEventEnvelope(eventType, runID string, step int, payload interface{}) (*EventEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "failed to marshal payload")
	}
	return &EventEnvelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		RunID:         runID,
		Step:          step,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: "v1",
		Payload:       data,
	}, nil
}

func (e *EventEnvelope) DecodePayload(target interface{}) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return errors.Wrap(err, errors.CodeSerialization, "failed to unmarshal payload")
	}
	return nil
}

// ToMessage keys the record by run id so one run stays on one partition.
func (e *EventEnvelope) ToMessage(topic string) (*Message, error) {
	val, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "failed to marshal envelope")
	}
	return &Message{
		Topic: topic,
		Key:   []byte(e.RunID),
		Value: val,
		Headers: map[string]string{
			"event_type":     e.EventType,
			"schema_version": e.SchemaVersion,
		},
		Timestamp: e.Timestamp,
	}, nil
}

func DecodeEnvelope(value []byte) (*EventEnvelope, error) {
	if len(value) == 0 {
		return nil, errors.InvalidParam("empty message value")
	}
	var env EventEnvelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "failed to unmarshal envelope")
	}
	return &env, nil
}

// ---------------------------------------------------------------------------
// Topics
// ---------------------------------------------------------------------------

// ConnInterface abstracts kafka.Conn for testing.
type ConnInterface interface {
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// TopicManager creates the telemetry topic ahead of a run.
type TopicManager struct {
	conn   ConnInterface
	logger logging.Logger
}

func NewTopicManager(brokers []string, logger logging.Logger) (*TopicManager, error) {
	if len(brokers) == 0 {
		return nil, errors.InvalidConfig("kafka brokers required")
	}
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnavailable, "failed to dial kafka")
	}
	return &TopicManager{conn: conn, logger: logging.OrNop(logger).Named("kafka")}, nil
}

func (m *TopicManager) TopicExists(_ context.Context, name string) bool {
	partitions, err := m.conn.ReadPartitions(name)
	return err == nil && len(partitions) > 0
}

// EnsureTopic creates topic unless it already exists.
func (m *TopicManager) EnsureTopic(ctx context.Context, topic string, partitions, replication int) error {
	if topic == "" {
		return errors.InvalidParam("topic name required")
	}
	if partitions <= 0 || replication <= 0 {
		return errors.InvalidParam("partitions and replication factor must be > 0")
	}
	if m.TopicExists(ctx, topic) {
		return nil
	}
	err := m.conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: replication,
		ConfigEntries:     []kafka.ConfigEntry{{ConfigName: "retention.ms", ConfigValue: "604800000"}},
	})
	if err != nil && !m.TopicExists(ctx, topic) {
		return errors.Wrap(err, errors.CodeMessagingError, "create topic").WithDetail(topic)
	}
	m.logger.Info("topic ready", logging.String("topic", topic))
	return nil
}

func (m *TopicManager) Close() error {
	return m.conn.Close()
}
