package kafka

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/pkg/errors"
)

var ErrProducerClosed = errors.New(errors.CodeMessagingError, "producer closed")

// ProducerConfig holds configuration for the Producer.
type ProducerConfig struct {
	Brokers         []string
	Acks            string
	MaxRetries      int
	BatchSize       int
	BatchTimeout    time.Duration
	MaxMessageBytes int
	WriteTimeout    time.Duration
}

// ProducerConfigFrom maps the kafka section of the configuration.
func ProducerConfigFrom(c config.KafkaConfig) ProducerConfig {
	return ProducerConfig{Brokers: c.Brokers, BatchSize: c.BatchSize, BatchTimeout: c.BatchTimeout}
}

// Message is one record to publish.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// ProducerMetrics holds producer counters.
type ProducerMetrics struct {
	MessagesSent   atomic.Int64
	MessagesFailed atomic.Int64
	BytesSent      atomic.Int64
}

// WriterInterface abstracts kafka.Writer for testing.
type WriterInterface interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes messages through a kafka.Writer.
type Producer struct {
	writer  WriterInterface
	config  ProducerConfig
	logger  logging.Logger
	closed  atomic.Bool
	metrics *ProducerMetrics
}

// NewProducer creates a Producer.
func NewProducer(cfg ProducerConfig, logger logging.Logger) (*Producer, error) {
	if err := ValidateProducerConfig(cfg); err != nil {
		return nil, err
	}
	cfg = withProducerDefaults(cfg)

	var requiredAcks kafka.RequiredAcks
	switch cfg.Acks {
	case "none":
		requiredAcks = kafka.RequireNone
	case "all":
		requiredAcks = kafka.RequireAll
	default:
		requiredAcks = kafka.RequireOne
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		MaxAttempts:            cfg.MaxRetries + 1,
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           requiredAcks,
		AllowAutoTopicCreation: true,
	}
	return newProducerWithWriter(writer, cfg, logger), nil
}

func newProducerWithWriter(w WriterInterface, cfg ProducerConfig, logger logging.Logger) *Producer {
	return &Producer{
		writer:  w,
		config:  withProducerDefaults(cfg),
		logger:  logging.OrNop(logger).Named("kafka"),
		metrics: &ProducerMetrics{},
	}
}

func withProducerDefaults(cfg ProducerConfig) ProducerConfig {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = time.Second
	}
	if cfg.MaxMessageBytes == 0 {
		cfg.MaxMessageBytes = 1 << 20
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return cfg
}

// Publish publishes a single message.
func (p *Producer) Publish(ctx context.Context, msg *Message) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	if msg.Topic == "" {
		return errors.InvalidParam("topic required")
	}
	if len(msg.Value) == 0 {
		return errors.InvalidParam("value required")
	}
	if len(msg.Value) > p.config.MaxMessageBytes {
		return errors.InvalidParam("message too large").WithDetailf("%d bytes", len(msg.Value))
	}
	start := time.Now()
	if err := p.writer.WriteMessages(ctx, toKafkaMessage(msg)); err != nil {
		p.metrics.MessagesFailed.Add(1)
		return errors.Wrap(err, errors.CodeMessagingError, "publish failed").WithDetail(msg.Topic)
	}
	p.metrics.MessagesSent.Add(1)
	p.metrics.BytesSent.Add(int64(len(msg.Value)))
	p.logger.Debug("message published",
		logging.String("topic", msg.Topic),
		logging.Int64("latency_ms", time.Since(start).Milliseconds()))
	return nil
}

// PublishBatch publishes msgs in one write and returns how many failed.
func (p *Producer) PublishBatch(ctx context.Context, msgs []*Message) (failed int, err error) {
	if p.closed.Load() {
		return 0, ErrProducerClosed
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	kMsgs := make([]kafka.Message, len(msgs))
	for i, msg := range msgs {
		kMsgs[i] = toKafkaMessage(msg)
	}
	werr := p.writer.WriteMessages(ctx, kMsgs...)
	switch e := werr.(type) {
	case nil:
	case kafka.WriteErrors:
		for _, we := range e {
			if we != nil {
				failed++
			}
		}
	default:
		failed = len(msgs)
	}
	p.metrics.MessagesSent.Add(int64(len(msgs) - failed))
	p.metrics.MessagesFailed.Add(int64(failed))
	if failed > 0 {
		return failed, errors.Wrap(werr, errors.CodeMessagingError, "batch publish failed").
			WithDetailf("%d of %d messages", failed, len(msgs))
	}
	return 0, nil
}

// Stats returns the sent and failed message counts.
func (p *Producer) Stats() (sent, failed int64) {
	return p.metrics.MessagesSent.Load(), p.metrics.MessagesFailed.Load()
}

// Close closes the producer.
func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := p.writer.Close()
	p.logger.Info("kafka producer closed", logging.Int64("sent", p.metrics.MessagesSent.Load()))
	return err
}

func toKafkaMessage(msg *Message) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return kafka.Message{Topic: msg.Topic, Key: msg.Key, Value: msg.Value, Headers: headers, Time: ts}
}

func ValidateProducerConfig(cfg ProducerConfig) error {
	if len(cfg.Brokers) == 0 {
		return errors.InvalidConfig("kafka brokers required")
	}
	if cfg.MaxRetries < 0 {
		return errors.InvalidConfig("kafka max retries must be >= 0")
	}
	return nil
}
