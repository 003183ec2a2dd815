package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/turtacn/molgfn/internal/application/training"
	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/internal/domain/experiment"
	"github.com/turtacn/molgfn/internal/domain/molecule"
	"github.com/turtacn/molgfn/internal/infrastructure/database/neo4j"
	"github.com/turtacn/molgfn/internal/infrastructure/database/redis"
	"github.com/turtacn/molgfn/internal/infrastructure/database/sqlstore"
	"github.com/turtacn/molgfn/internal/infrastructure/database/store"
	"github.com/turtacn/molgfn/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/telemetry"
	"github.com/turtacn/molgfn/internal/infrastructure/search/opensearch"
	"github.com/turtacn/molgfn/internal/infrastructure/storage/minio"
	"github.com/turtacn/molgfn/internal/intelligence/common"
	"github.com/turtacn/molgfn/internal/intelligence/sehproxy"
	"github.com/turtacn/molgfn/internal/interfaces/http/handlers"
	"github.com/turtacn/molgfn/pkg/errors"
)

// Tracking destinations handled outside the trainer.
const (
	trackPrometheus = "prometheus"
	trackKafka      = "kafka"
)

// stack owns the infrastructure clients of one command invocation.  Clients
// are opened lazily and closed in reverse order by Close.
type stack struct {
	cfg       *config.Config
	logger    logging.Logger
	collector prometheus.MetricsCollector
	metrics   *prometheus.TrainingMetrics

	redis      *redis.Client
	neo4j      *neo4j.Driver
	opensearch *opensearch.Client
	checks     []handlers.HealthChecker
	closers    []func() error
}

func newStack(cfg *config.Config, logger logging.Logger) (*stack, error) {
	ns := cfg.Metrics.Namespace
	if ns == "" {
		ns = "molgfn"
	}
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            ns,
		Subsystem:            cfg.Metrics.Subsystem,
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
	}, logger)
	if err != nil {
		return nil, err
	}
	return &stack{
		cfg:       cfg,
		logger:    logging.OrNop(logger),
		collector: collector,
		metrics:   prometheus.NewTrainingMetrics(collector),
	}, nil
}

func (s *stack) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Close releases every opened client, newest first, and returns the first
// failure.
func (s *stack) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("close failed", logging.Err(err))
			if first == nil {
				first = err
			}
		}
	}
	s.closers = nil
	return first
}

func (s *stack) namespace() string {
	if s.cfg.Metrics.Namespace != "" {
		return s.cfg.Metrics.Namespace
	}
	return "molgfn"
}

func (s *stack) redisClient(ctx context.Context) (*redis.Client, error) {
	if s.redis != nil {
		return s.redis, nil
	}
	c, err := redis.NewClient(ctx, s.cfg.Redis, s.logger)
	if err != nil {
		return nil, err
	}
	s.redis = c
	s.onClose(c.Close)
	s.checks = append(s.checks, handlers.CheckFunc("redis", c.Ping))
	return c, nil
}

func (s *stack) neo4jDriver(ctx context.Context) (*neo4j.Driver, error) {
	if s.neo4j != nil {
		return s.neo4j, nil
	}
	d, err := neo4j.NewDriver(ctx, s.cfg.Neo4j, s.logger)
	if err != nil {
		return nil, err
	}
	s.neo4j = d
	s.onClose(d.Close)
	s.checks = append(s.checks, handlers.CheckFunc("neo4j", d.HealthCheck))
	return d, nil
}

func (s *stack) opensearchClient(ctx context.Context) (*opensearch.Client, error) {
	if s.opensearch != nil {
		return s.opensearch, nil
	}
	c, err := opensearch.NewClient(ctx, s.cfg.OpenSearch, s.logger)
	if err != nil {
		return nil, err
	}
	s.opensearch = c
	s.checks = append(s.checks, handlers.CheckFunc("opensearch", c.Ping))
	return c, nil
}

// proxy opens the binding-affinity proxy and, with proxy.use_cache, puts a
// score cache in front of it: Redis when configured, process memory otherwise.
func (s *stack) proxy(ctx context.Context) (sehproxy.Proxy, error) {
	im, err := common.NewPrometheusIntelligenceMetrics(s.collector.Registerer(), s.namespace())
	if err != nil {
		return nil, err
	}
	m, err := sehproxy.Open(ctx, s.cfg.Proxy, s.logger, im)
	if err != nil {
		return nil, err
	}
	s.onClose(func() error { return m.Unload(context.Background()) })
	s.checks = append(s.checks, handlers.CheckFunc("proxy", func(context.Context) error {
		if st := m.State(); st != sehproxy.ModelStateReady {
			return errors.New(errors.CodeUnavailable, "proxy not ready").WithDetail(st.String())
		}
		return nil
	}))
	if !s.cfg.Proxy.UseCache {
		return m, nil
	}

	var cache sehproxy.ScoreCache = sehproxy.NewMemoryScoreCache()
	if s.cfg.Redis.Addr != "" {
		rc, err := s.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		sc := redis.NewScoreCache(rc, "seh", s.cfg.Proxy.CacheTTL)
		sc.OnAccess = func(hits, misses int) {
			for i := 0; i < hits; i++ {
				prometheus.RecordCacheAccess(s.metrics, "seh_scores", true)
			}
			for i := 0; i < misses; i++ {
				prometheus.RecordCacheAccess(s.metrics, "seh_scores", false)
			}
		}
		cache = sc
	}
	return sehproxy.NewCachedProxy(m, cache, "seh", s.logger, im), nil
}

// store opens the results store with query timings recorded as metrics.
func (s *stack) store(ctx context.Context) (experiment.Repository, error) {
	repo, err := store.NewStore(ctx, s.cfg, s.logger, sqlstore.WithObserver(func(db, op string, d time.Duration, err error) {
		prometheus.RecordDBQuery(s.metrics, db, op, d, err)
	}))
	if err != nil || repo == nil {
		return repo, err
	}
	s.onClose(repo.Close)
	return repo, nil
}

// sinks builds the tracking destinations the trainer does not create itself.
func (s *stack) sinks(ctx context.Context, runID string) (telemetry.Sink, error) {
	var out []telemetry.Sink
	for _, dest := range s.cfg.Run.Tracking {
		switch dest {
		case trackPrometheus:
			out = append(out, prometheus.NewSink(s.metrics))
		case trackKafka:
			sink, err := s.kafkaSink(ctx, runID)
			if err != nil {
				return nil, err
			}
			out = append(out, sink)
		}
	}
	sink := telemetry.Fanout(out...)
	s.onClose(sink.Close)
	return sink, nil
}

func (s *stack) kafkaSink(ctx context.Context, runID string) (*kafka.TelemetrySink, error) {
	pcfg := kafka.ProducerConfigFrom(s.cfg.Kafka)
	if tm, err := kafka.NewTopicManager(s.cfg.Kafka.Brokers, s.logger); err == nil {
		if err := tm.EnsureTopic(ctx, s.cfg.Kafka.Topic, 1, 1); err != nil {
			s.logger.Warn("telemetry topic not ensured", logging.String("topic", s.cfg.Kafka.Topic), logging.Err(err))
		}
		_ = tm.Close()
	} else {
		s.logger.Warn("kafka topic manager unavailable", logging.Err(err))
	}
	p, err := kafka.NewProducer(pcfg, s.logger)
	if err != nil {
		return nil, err
	}
	sink := kafka.NewTelemetrySink(p, s.cfg.Kafka.Topic, runID, s.logger)
	sink.OnPublish = func(topic string, err error) {
		prometheus.RecordMessage(s.metrics, topic, err)
	}
	return sink, nil
}

// mirror opens the artifact mirror when run.mirror_artifacts is set.
func (s *stack) mirror(ctx context.Context) (training.ArtifactMirror, error) {
	if !s.cfg.Run.MirrorArtifacts {
		return nil, nil
	}
	c, err := minio.NewClient(ctx, s.cfg.MinIO, s.logger)
	if err != nil {
		return nil, err
	}
	if err := c.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	s.checks = append(s.checks, handlers.CheckFunc("minio", func(ctx context.Context) error {
		if hs := c.HealthCheck(ctx); !hs.Healthy {
			return errors.New(errors.CodeUnavailable, "object storage unhealthy").WithDetail(hs.Error)
		}
		return nil
	}))
	return minio.NewArtifactMirror(c), nil
}

// exporters opens the validation sample exporters enabled in cfg.Run.
func (s *stack) exporters(ctx context.Context, vocab *molecule.Vocabulary) ([]training.SampleExporter, error) {
	var out []training.SampleExporter
	if s.cfg.Run.ExportGraphs {
		d, err := s.neo4jDriver(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, neo4j.NewGraphExporter(d, fragmentNames(vocab)))
	}
	if s.cfg.Run.IndexSamples {
		c, err := s.opensearchClient(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.EnsureIndex(ctx); err != nil {
			return nil, err
		}
		out = append(out, opensearch.NewSampleIndexer(c, 0))
	}
	return out, nil
}

func fragmentNames(vocab *molecule.Vocabulary) func(int) string {
	return func(id int) string {
		if vocab != nil {
			if f, ok := vocab.Get(id); ok {
				return f.Name
			}
		}
		return fmt.Sprintf("frag-%d", id)
	}
}
