// Package sqlstore implements experiment.Repository over database/sql.  The
// same queries serve PostgreSQL (through the pgx stdlib driver) and SQLite;
// a Dialect covers the differences.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/molgfn/internal/domain/experiment"
	"github.com/turtacn/molgfn/pkg/errors"
)

// Dialect describes a SQL backend.
type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2, ...) instead of "?".
	Numbered bool
}

var (
	Postgres = Dialect{Name: "postgres", Numbered: true}
	SQLite   = Dialect{Name: "sqlite"}
)

// Rebind rewrites "?" placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// QueryObserver is called after every repository operation.
type QueryObserver func(db, operation string, d time.Duration, err error)

// Repository implements experiment.Repository.
type Repository struct {
	db      *sql.DB
	dialect Dialect
	observe QueryObserver
	closeDB bool
}

// Option configures a Repository.
type Option func(*Repository)

// WithObserver reports the latency and outcome of each operation.
func WithObserver(o QueryObserver) Option {
	return func(r *Repository) { r.observe = o }
}

// OwnsDB makes Close close the underlying pool.
func OwnsDB() Option {
	return func(r *Repository) { r.closeDB = true }
}

func New(db *sql.DB, dialect Dialect, opts ...Option) *Repository {
	r := &Repository{db: db, dialect: dialect}
	for _, o := range opts {
		o(r)
	}
	return r
}

var _ experiment.Repository = (*Repository)(nil)

// track returns a func reporting op with the final value of *err.
func (r *Repository) track(op string, err *error) func() {
	start := time.Now()
	return func() {
		if r.observe != nil {
			r.observe(r.dialect.Name, op, time.Since(start), *err)
		}
	}
}

const runColumns = "id, task, algo, log_dir, part, status, step, error, hps, started_at, finished_at"

func (r *Repository) CreateRun(ctx context.Context, run *experiment.Run) (err error) {
	defer r.track("create_run", &err)()
	_, err = r.db.ExecContext(ctx, r.dialect.Rebind(`
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.Task, run.Algo, run.LogDir, nullablePart(run.Part), string(run.Status),
		run.Step, run.Error, nullableJSON(run.HPS), run.StartedAt, nullableTime(run.FinishedAt),
	)
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "failed to insert run")
	}
	return nil
}

func (r *Repository) UpdateRun(ctx context.Context, run *experiment.Run) (err error) {
	defer r.track("update_run", &err)()
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(`
		UPDATE runs SET status = ?, step = ?, error = ?, finished_at = ?
		WHERE id = ?`),
		string(run.Status), run.Step, run.Error, nullableTime(run.FinishedAt), run.ID,
	)
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "failed to update run")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("run not found").WithDetail(run.ID.String())
	}
	return nil
}

func (r *Repository) GetRun(ctx context.Context, id uuid.UUID) (run *experiment.Run, err error) {
	defer r.track("get_run", &err)()
	var (
		out      experiment.Run
		status   string
		part     sql.NullInt64
		hps      []byte
		finished sql.NullTime
	)
	err = r.db.QueryRowContext(ctx, r.dialect.Rebind(`SELECT `+runColumns+` FROM runs WHERE id = ?`), id).
		Scan(&out.ID, &out.Task, &out.Algo, &out.LogDir, &part, &status, &out.Step, &out.Error, &hps, &out.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("run not found").WithDetail(id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to get run")
	}
	out.Status = experiment.RunStatus(status)
	out.HPS = hps
	if part.Valid {
		p := int(part.Int64)
		out.Part = &p
	}
	if finished.Valid {
		t := finished.Time
		out.FinishedAt = &t
	}
	return &out, nil
}

// SaveMetrics inserts points in one transaction.
func (r *Repository) SaveMetrics(ctx context.Context, points []experiment.MetricPoint) (err error) {
	if len(points) == 0 {
		return nil
	}
	defer r.track("save_metrics", &err)()
	return r.inTx(ctx, `INSERT INTO metrics (run_id, step, name, value) VALUES (?, ?, ?, ?)`,
		len(points), func(stmt *sql.Stmt, i int) error {
			p := points[i]
			_, err := stmt.ExecContext(ctx, p.RunID, p.Step, p.Name, p.Value)
			return err
		})
}

// SaveSamples inserts samples in one transaction.  Vector fields are
// stored as JSON.
func (r *Repository) SaveSamples(ctx context.Context, samples []experiment.Sample) (err error) {
	if len(samples) == 0 {
		return nil
	}
	defer r.track("save_samples", &err)()
	return r.inTx(ctx, `
		INSERT INTO samples (run_id, step, mol_key, notation, fragments, flat_rewards, log_reward, preference, validation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		len(samples), func(stmt *sql.Stmt, i int) error {
			s := samples[i]
			frags, _ := json.Marshal(s.Fragments)
			flat, _ := json.Marshal(s.FlatRewards)
			var pref []byte
			if s.Preference != nil {
				pref, _ = json.Marshal(s.Preference)
			}
			created := s.CreatedAt
			if created.IsZero() {
				created = time.Now().UTC()
			}
			_, err := stmt.ExecContext(ctx, s.RunID, s.Step, s.Key, s.Notation,
				string(frags), string(flat), s.LogReward, nullableJSON(pref), s.Validation, created)
			return err
		})
}

func (r *Repository) TopSamples(ctx context.Context, runID uuid.UUID, limit int) (out []experiment.Sample, err error) {
	defer r.track("top_samples", &err)()
	if limit <= 0 {
		return nil, errors.InvalidParam("limit must be positive")
	}
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(`
		SELECT run_id, step, mol_key, notation, fragments, flat_rewards, log_reward, preference, validation, created_at
		FROM samples WHERE run_id = ?
		ORDER BY log_reward DESC LIMIT ?`), runID, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to query samples")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			s                  experiment.Sample
			frags, flat, prefs []byte
		)
		if err = rows.Scan(&s.RunID, &s.Step, &s.Key, &s.Notation, &frags, &flat, &s.LogReward, &prefs, &s.Validation, &s.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to scan sample")
		}
		if err = decodeJSON(frags, &s.Fragments); err == nil {
			err = decodeJSON(flat, &s.FlatRewards)
		}
		if err == nil {
			err = decodeJSON(prefs, &s.Preference)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to iterate samples")
	}
	return out, nil
}

func (r *Repository) Close() error {
	if r.closeDB {
		return r.db.Close()
	}
	return nil
}

func (r *Repository) inTx(ctx context.Context, query string, n int, exec func(*sql.Stmt, int) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "failed to begin transaction")
	}
	stmt, err := tx.PrepareContext(ctx, r.dialect.Rebind(query))
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, errors.CodeDatabaseError, "failed to prepare statement")
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if err := exec(stmt, i); err != nil {
			_ = tx.Rollback()
			return errors.Wrap(err, errors.CodeDatabaseError, "failed to insert row").WithDetailf("row %d", i)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "failed to commit")
	}
	return nil
}

func decodeJSON(b []byte, v interface{}) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return errors.Wrap(err, errors.CodeSerialization, "corrupt json column")
	}
	return nil
}

func nullablePart(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
