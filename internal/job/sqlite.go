package job

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

// SQLiteHistory is a SQLite-backed implementation of History.
type SQLiteHistory struct {
	db *sql.DB
}

// NewSQLiteHistory opens (or creates) the SQLite database at dbPath and runs migrations.
func NewSQLiteHistory(dbPath string) (*SQLiteHistory, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite db")
	}

	// Several CLI invocations may append to the same ledger.
	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable WAL mode")
	}
	if _, err = db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "set busy timeout")
	}

	h := &SQLiteHistory{db: db}
	if err = h.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	return h, nil
}

func (h *SQLiteHistory) migrate() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS job_events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT NOT NULL,
			stage       TEXT NOT NULL,
			job_name    TEXT NOT NULL,
			job_id      TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			detail      TEXT NOT NULL DEFAULT '',
			recorded_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_job_events_job_name    ON job_events(job_name);
		CREATE INDEX IF NOT EXISTS idx_job_events_recorded_at ON job_events(recorded_at);
	`)
	return err
}

func (h *SQLiteHistory) Record(ctx context.Context, e Event) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO job_events (run_id, stage, job_name, job_id, status, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.RunID,
		string(e.Stage),
		e.JobName,
		e.JobID,
		e.Status,
		e.Detail,
		e.RecordedAt.UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, "record %s event for %s", e.Stage, e.JobName)
	}
	return nil
}

// List returns events ordered by recorded_at DESC with pagination, and the total count.
func (h *SQLiteHistory) List(ctx context.Context, jobName string, limit, offset int) ([]*Event, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	where, args := "", []any{}
	if jobName != "" {
		where, args = "WHERE job_name = ?", append(args, jobName)
	}

	var total int
	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_events `+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count events")
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT id, run_id, stage, job_name, job_id, status, detail, recorded_at
		FROM job_events `+where+`
		ORDER BY recorded_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list events")
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var stage string
		if err := rows.Scan(&e.ID, &e.RunID, &stage, &e.JobName, &e.JobID, &e.Status, &e.Detail, &e.RecordedAt); err != nil {
			return nil, 0, errors.Wrap(err, "scan event")
		}
		e.Stage = Stage(stage)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "iterate events")
	}
	return events, total, nil
}

// Close closes the underlying database connection.
func (h *SQLiteHistory) Close() error {
	return h.db.Close()
}
