// Package neo4j exports sampled molecules and their fragment composition to a
// property graph.
package neo4j

import (
	"context"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/pkg/errors"
)

const defaultDatabase = "neo4j"

// Result abstracts neo4j.ResultWithContext.
type Result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
	Consume(ctx context.Context) (neo4j.ResultSummary, error)
}

// Transaction abstracts neo4j.ManagedTransaction.
type Transaction interface {
	Run(ctx context.Context, cypher string, params map[string]any) (Result, error)
}

type internalSession interface {
	ExecuteRead(ctx context.Context, work func(Transaction) (any, error)) (any, error)
	ExecuteWrite(ctx context.Context, work func(Transaction) (any, error)) (any, error)
	Close(ctx context.Context) error
}

type internalDriver interface {
	VerifyConnectivity(ctx context.Context) error
	NewSession(ctx context.Context, config neo4j.SessionConfig) internalSession
	Close(ctx context.Context) error
}

type stdResult struct{ res neo4j.ResultWithContext }

func (r *stdResult) Next(ctx context.Context) bool { return r.res.Next(ctx) }
func (r *stdResult) Record() *neo4j.Record        { return r.res.Record() }
func (r *stdResult) Err() error                   { return r.res.Err() }
func (r *stdResult) Consume(ctx context.Context) (neo4j.ResultSummary, error) {
	return r.res.Consume(ctx)
}

type stdTransaction struct{ tx neo4j.ManagedTransaction }

func (t *stdTransaction) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	res, err := t.tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return &stdResult{res: res}, nil
}

type stdSession struct{ s neo4j.SessionWithContext }

func (s *stdSession) ExecuteRead(ctx context.Context, work func(Transaction) (any, error)) (any, error) {
	return s.s.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(&stdTransaction{tx: tx})
	})
}

func (s *stdSession) ExecuteWrite(ctx context.Context, work func(Transaction) (any, error)) (any, error) {
	return s.s.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(&stdTransaction{tx: tx})
	})
}

func (s *stdSession) Close(ctx context.Context) error { return s.s.Close(ctx) }

type stdDriver struct{ d neo4j.DriverWithContext }

func (d *stdDriver) VerifyConnectivity(ctx context.Context) error { return d.d.VerifyConnectivity(ctx) }
func (d *stdDriver) NewSession(ctx context.Context, cfg neo4j.SessionConfig) internalSession {
	return &stdSession{s: d.d.NewSession(ctx, cfg)}
}
func (d *stdDriver) Close(ctx context.Context) error { return d.d.Close(ctx) }

// Driver wraps a neo4j driver bound to one database.
type Driver struct {
	driver   internalDriver
	database string
	logger   logging.Logger
	once     sync.Once
}

// NewDriver connects and verifies connectivity.
func NewDriver(ctx context.Context, cfg config.Neo4jConfig, log logging.Logger) (*Driver, error) {
	if cfg.URI == "" {
		return nil, errors.InvalidConfig("neo4j uri is required")
	}
	drv, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""), func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = 10
		c.MaxConnectionLifetime = time.Hour
		c.ConnectionAcquisitionTimeout = 30 * time.Second
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to create neo4j driver")
	}

	vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := drv.VerifyConnectivity(vctx); err != nil {
		_ = drv.Close(ctx)
		return nil, errors.Wrap(err, errors.CodeUnavailable, "failed to connect to neo4j")
	}

	d := newDriverWith(&stdDriver{d: drv}, cfg.Database, log)
	d.logger.Info("Connected to Neo4j", logging.String("uri", cfg.URI), logging.String("database", d.database))
	return d, nil
}

func newDriverWith(drv internalDriver, database string, log logging.Logger) *Driver {
	if database == "" {
		database = defaultDatabase
	}
	return &Driver{driver: drv, database: database, logger: logging.OrNop(log).Named("neo4j")}
}

func (d *Driver) session(ctx context.Context, mode neo4j.AccessMode) internalSession {
	return d.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: d.database, AccessMode: mode})
}

// ExecuteRead runs work in a managed read transaction.
func (d *Driver) ExecuteRead(ctx context.Context, work func(Transaction) (any, error)) (any, error) {
	session := d.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, work)
	if err != nil {
		d.logger.Error("Neo4j read transaction failed", logging.Err(err))
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "neo4j read failed")
	}
	return result, nil
}

// ExecuteWrite runs work in a managed write transaction; the driver retries
// transient failures.
func (d *Driver) ExecuteWrite(ctx context.Context, work func(Transaction) (any, error)) (any, error) {
	session := d.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, work)
	if err != nil {
		d.logger.Error("Neo4j write transaction failed", logging.Err(err))
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "neo4j write failed")
	}
	return result, nil
}

func (d *Driver) HealthCheck(ctx context.Context) error {
	if err := d.driver.VerifyConnectivity(ctx); err != nil {
		return errors.Wrap(err, errors.CodeUnavailable, "neo4j connectivity check failed")
	}
	_, err := d.ExecuteRead(ctx, func(tx Transaction) (any, error) {
		res, err := tx.Run(ctx, "RETURN 1 AS health", nil)
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	return err
}

// Close releases the driver once.
func (d *Driver) Close() error {
	var err error
	d.once.Do(func() {
		err = d.driver.Close(context.Background())
		if err != nil {
			d.logger.Error("Failed to close Neo4j driver", logging.Err(err))
			return
		}
		d.logger.Info("Closed Neo4j driver")
	})
	return err
}

// CollectRecords maps every remaining record of result.
func CollectRecords[T any](ctx context.Context, result Result, mapper func(*neo4j.Record) (T, error)) ([]T, error) {
	var items []T
	for result.Next(ctx) {
		item, err := mapper(result.Record())
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
