package postgres

import (
	"embed"
	stderrors "errors"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/pkg/errors"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

func (c *Connection) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to open embedded migrations")
	}
	driver, err := pgxmigrate.WithInstance(c.db, &pgxmigrate.Config{})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to create migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to create migrate instance")
	}
	return m, nil
}

// Migrate applies all pending migrations.  No pending migration is not
// an error.
func (c *Connection) Migrate() error {
	m, err := c.migrator()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		version, _, _ := m.Version()
		return errors.Wrap(err, errors.CodeDatabaseError, "failed to run migrations").
			WithDetailf("current version %d", version)
	}
	version, dirty, err := m.Version()
	if err != nil && !stderrors.Is(err, migrate.ErrNilVersion) {
		c.logger.Warn("Failed to get migration version", logging.Err(err))
	}
	c.logger.Info("Database migrations completed",
		logging.Int64("version", int64(version)),
		logging.Bool("dirty", dirty),
	)
	return nil
}

// Rollback reverts steps migrations.
func (c *Connection) Rollback(steps int) error {
	if steps <= 0 {
		return errors.InvalidParam("steps must be greater than 0")
	}
	m, err := c.migrator()
	if err != nil {
		return err
	}
	if err := m.Steps(-steps); err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "rollback failed").WithDetailf("%d step(s)", steps)
	}
	return nil
}

// MigrationStatus returns the applied version, zero when none is.
func (c *Connection) MigrationStatus() (version uint, dirty bool, err error) {
	m, err := c.migrator()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if stderrors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, errors.CodeDatabaseError, "failed to get migration version")
	}
	return version, dirty, nil
}
