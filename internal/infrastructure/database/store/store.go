// Package store selects the experiment results backend.
package store

import (
	"context"

	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/internal/domain/experiment"
	"github.com/turtacn/molgfn/internal/infrastructure/database/postgres"
	"github.com/turtacn/molgfn/internal/infrastructure/database/sqlstore"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/pkg/errors"
)

// NewStore opens the backend named by cfg.Run.ResultsStore.  StoreNone
// returns a nil repository.
func NewStore(ctx context.Context, cfg *config.Config, log logging.Logger, opts ...sqlstore.Option) (experiment.Repository, error) {
	switch cfg.Run.ResultsStore {
	case config.StoreNone:
		return nil, nil
	case "", config.StoreMemory:
		return NewMemoryStore(), nil
	case config.StorePostgres:
		conn, err := postgres.NewConnection(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.AutoMigrate {
			if err := conn.Migrate(); err != nil {
				_ = conn.Close()
				return nil, err
			}
		}
		return conn.Repository(opts...), nil
	case config.StoreSQLite:
		return newSQLiteStore(ctx, cfg.SQLite.Path, opts...)
	default:
		return nil, errors.InvalidConfig("unsupported results store").WithDetail(cfg.Run.ResultsStore)
	}
}
