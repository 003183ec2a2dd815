package kafka

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/pkg/errors"
)

var ErrAlreadyRunning = errors.New(errors.CodeConflict, "consumer already running")

// ConsumerConfig holds configuration for the Consumer.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topic   string
	MaxWait time.Duration
}

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EnvelopeHandler processes one decoded telemetry event.
type EnvelopeHandler func(ctx context.Context, env *EventEnvelope) error

// Consumer reads telemetry envelopes back from the topic.
type Consumer struct {
	reader  ReaderInterface
	logger  logging.Logger
	running atomic.Bool

	consumed atomic.Int64
	skipped  atomic.Int64
}

func NewConsumer(cfg ConsumerConfig, logger logging.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.InvalidConfig("kafka brokers required")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = time.Second
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MaxWait:     cfg.MaxWait,
		StartOffset: kafka.FirstOffset,
	})
	return newConsumerWithReader(reader, logger), nil
}

func newConsumerWithReader(r ReaderInterface, logger logging.Logger) *Consumer {
	return &Consumer{reader: r, logger: logging.OrNop(logger).Named("kafka")}
}

// Run fetches messages until ctx is done, handing events of runID to h.
// An empty runID accepts every run.  Undecodable records are skipped
// and committed.
func (c *Consumer) Run(ctx context.Context, runID string, h EnvelopeHandler) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, errors.CodeMessagingError, "fetch message")
		}
		env, err := DecodeEnvelope(msg.Value)
		switch {
		case err != nil:
			c.skipped.Add(1)
			c.logger.Warn("skipping undecodable record", logging.Int64("offset", msg.Offset), logging.Err(err))
		case runID != "" && env.RunID != runID:
			c.skipped.Add(1)
		default:
			if err := h(ctx, env); err != nil {
				return err
			}
			c.consumed.Add(1)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Warn("commit failed", logging.Err(err))
		}
	}
}

// Stats returns the handled and skipped record counts.
func (c *Consumer) Stats() (consumed, skipped int64) {
	return c.consumed.Load(), c.skipped.Load()
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
