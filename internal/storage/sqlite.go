package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tazhate/weathercal/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

// Storage is the SQLite run journal.
type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			status TEXT NOT NULL,
			slots INTEGER NOT NULL DEFAULT 0,
			dropped INTEGER NOT NULL DEFAULT 0,
			created INTEGER NOT NULL DEFAULT 0,
			updated INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			pruned INTEGER NOT NULL DEFAULT 0,
			retryable INTEGER NOT NULL DEFAULT 0,
			error TEXT DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS run_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			uid TEXT DEFAULT '',
			slot_index INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			error TEXT DEFAULT '',
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events(run_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// === Runs ===

// SaveRun stores a finished run and its per-event outcomes
func (s *Storage) SaveRun(ctx context.Context, r *domain.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, finished_at, status, slots, dropped, created, updated, failed, pruned, retryable, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt.UTC(), r.FinishedAt.UTC(), string(r.Status),
		r.Slots, r.Dropped, r.Created, r.Updated, r.Failed, r.Pruned, r.Retryable, r.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, e := range r.Events {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_events (run_id, uid, slot_index, outcome, error) VALUES (?, ?, ?, ?, ?)`,
			r.ID, e.UID, e.SlotIndex, string(e.Outcome), e.Error,
		)
		if err != nil {
			return fmt.Errorf("insert run event: %w", err)
		}
	}

	return tx.Commit()
}

// ListRuns returns the most recent runs, newest first, without events
func (s *Storage) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, status, slots, dropped, created, updated, failed, pruned, retryable, error
		 FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns a run with its events, or nil if it does not exist
func (s *Storage) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, status, slots, dropped, created, updated, failed, pruned, retryable, error
		 FROM runs WHERE id = ?`,
		id,
	)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT uid, slot_index, outcome, error FROM run_events WHERE run_id = ? ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var e domain.RunEvent
		var outcome string
		if err := rows.Scan(&e.UID, &e.SlotIndex, &outcome, &e.Error); err != nil {
			return nil, err
		}
		e.Outcome = domain.Outcome(outcome)
		r.Events = append(r.Events, e)
	}
	return r, rows.Err()
}

// DeleteRunsBefore removes runs started before t and returns how many were removed
func (s *Storage) DeleteRunsBefore(ctx context.Context, t time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	cutoff := t.UTC()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM run_events WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`,
		cutoff,
	); err != nil {
		return 0, fmt.Errorf("delete run events: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted runs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*domain.Run, error) {
	r := &domain.Run{}
	var status string
	var finishedAt sql.NullTime
	var errText sql.NullString
	err := sc.Scan(&r.ID, &r.StartedAt, &finishedAt, &status,
		&r.Slots, &r.Dropped, &r.Created, &r.Updated, &r.Failed, &r.Pruned, &r.Retryable, &errText)
	if err != nil {
		return nil, err
	}
	r.Status = domain.RunStatus(status)
	if finishedAt.Valid {
		r.FinishedAt = finishedAt.Time
	}
	r.Error = errText.String
	return r, nil
}
