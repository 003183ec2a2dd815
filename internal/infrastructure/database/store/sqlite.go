//go:build sqlite

package store

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/turtacn/molgfn/internal/domain/experiment"
	"github.com/turtacn/molgfn/internal/infrastructure/database/sqlstore"
	"github.com/turtacn/molgfn/pkg/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	task        TEXT NOT NULL,
	algo        TEXT NOT NULL,
	log_dir     TEXT NOT NULL,
	part        INTEGER,
	status      TEXT NOT NULL DEFAULT 'pending',
	step        INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	hps         TEXT,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);
CREATE TABLE IF NOT EXISTS metrics (
	run_id TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	step   INTEGER NOT NULL,
	name   TEXT NOT NULL,
	value  REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metrics_run_name_step ON metrics (run_id, name, step);
CREATE TABLE IF NOT EXISTS samples (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	step         INTEGER NOT NULL,
	mol_key      TEXT NOT NULL,
	notation     TEXT NOT NULL DEFAULT '',
	fragments    TEXT NOT NULL,
	flat_rewards TEXT NOT NULL,
	log_reward   REAL NOT NULL,
	preference   TEXT,
	validation   BOOLEAN NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_samples_run_reward ON samples (run_id, log_reward DESC);
`

func newSQLiteStore(ctx context.Context, path string, opts ...sqlstore.Option) (experiment.Repository, error) {
	if path == "" {
		return nil, errors.InvalidConfig("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to open sqlite")
	}
	// One writer; the trainer never writes concurrently.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to open sqlite")
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to create sqlite schema")
	}
	return sqlstore.New(db, sqlstore.SQLite, append(opts, sqlstore.OwnsDB())...), nil
}
