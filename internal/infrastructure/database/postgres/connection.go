package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/internal/infrastructure/database/sqlstore"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/pkg/errors"
)

// sqlOpen is a variable to allow mocking in tests.
var sqlOpen = sql.Open

// Connection manages the PostgreSQL connection pool.
type Connection struct {
	db     *sql.DB
	logger logging.Logger
	once   sync.Once
}

// NewConnection opens a pool through the pgx stdlib driver and pings it.
func NewConnection(ctx context.Context, cfg config.PostgresConfig, log logging.Logger) (*Connection, error) {
	if cfg.Host == "" || cfg.DBName == "" {
		return nil, errors.InvalidConfig("postgres host and db_name required")
	}
	db, err := sqlOpen("pgx", BuildDSN(cfg))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to open database connection")
	}
	applyPool(db, cfg)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.CodeUnavailable, "database connection failed")
	}

	c := NewConnectionWithDB(db, log)
	c.logger.Info("Connected to PostgreSQL database",
		logging.String("host", cfg.Host),
		logging.Int("port", cfg.Port),
		logging.String("database", cfg.DBName),
	)
	return c, nil
}

func applyPool(db *sql.DB, cfg config.PostgresConfig) {
	maxConns := int(cfg.MaxConns)
	if maxConns <= 0 {
		maxConns = 10
	}
	idle := int(cfg.MinConns)
	if idle <= 0 {
		idle = 2
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(idle)
	db.SetConnMaxLifetime(lifetime)
}

// NewConnectionWithDB wraps an existing pool.
func NewConnectionWithDB(db *sql.DB, log logging.Logger) *Connection {
	return &Connection{db: db, logger: logging.OrNop(log).Named("postgres")}
}

func (c *Connection) DB() *sql.DB {
	return c.db
}

// Repository returns an experiment repository over this pool.  Closing
// the repository closes the pool.
func (c *Connection) Repository(opts ...sqlstore.Option) *sqlstore.Repository {
	return sqlstore.New(c.db, sqlstore.Postgres, append(opts, sqlstore.OwnsDB())...)
}

// HealthCheck pings the database and warns on pool saturation.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "database health check failed")
	}
	stats := c.db.Stats()
	if stats.MaxOpenConnections > 0 {
		usage := float64(stats.InUse) / float64(stats.MaxOpenConnections)
		if usage > 0.8 {
			c.logger.Warn("High database connection pool usage",
				logging.Int("in_use", stats.InUse),
				logging.Int("max_open", stats.MaxOpenConnections),
				logging.Float64("usage", usage),
			)
		}
	}
	return nil
}

func (c *Connection) Close() error {
	var err error
	c.once.Do(func() {
		err = c.db.Close()
		if err != nil {
			c.logger.Error("Failed to close PostgreSQL connection", logging.Err(err))
		}
	})
	return err
}

// BuildDSN constructs the connection URL.
func BuildDSN(cfg config.PostgresConfig) string {
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, port),
		Path:   cfg.DBName,
	}
	q := u.Query()
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	} else {
		q.Set("sslmode", "disable")
	}
	q.Set("application_name", "molgfn")
	u.RawQuery = q.Encode()
	return u.String()
}
