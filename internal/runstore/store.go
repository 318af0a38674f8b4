// Package runstore journals runs and their window events in SQLite. The
// journal is what post-mortems read: every retry, window failure, and the
// raw payload of the first markup fallback per run survive the process.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lectorlabs/lector-core/internal/config"
	_ "modernc.org/sqlite"
)

// RunEvent is one journal entry.
type RunEvent struct {
	ID        int64
	RunID     string
	Kind      string
	Payload   []byte
	CreatedAt time.Time
}

// Store wraps the SQLite-backed run journal.
type Store struct {
	db    *sql.DB
	cfg   config.RunStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the journal according to config. Ephemeral retention
// keeps no database; every write becomes a no-op.
func Open(ctx context.Context, cfg config.RunStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("run store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("run store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    title TEXT,
    output_path TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS run_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    payload BLOB,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_run_events_run_created ON run_events(run_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginRun ensures a run row exists.
func (s *Store) BeginRun(ctx context.Context, runID, title, outputPath string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, title, output_path, created_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET title=excluded.title, output_path=excluded.output_path`,
		runID, title, outputPath, s.clock().UTC())
	return err
}

// Append writes one event.
func (s *Store) Append(ctx context.Context, evt RunEvent) error {
	if s.db == nil {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock().UTC()
	}
	// Events may arrive before BeginRun; the run row has to exist for the
	// foreign key.
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, created_at) VALUES(?, ?) ON CONFLICT(run_id) DO NOTHING`,
		evt.RunID, evt.CreatedAt); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events(run_id, kind, payload, created_at) VALUES(?, ?, ?, ?)`,
		evt.RunID, evt.Kind, evt.Payload, evt.CreatedAt)
	return err
}

// RunEvent implements the pipeline's event sink. Payloads are stored as
// JSON; marshaling problems are logged and dropped rather than disturbing
// the run.
func (s *Store) RunEvent(ctx context.Context, runID, kind string, payload any) {
	if s.db == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("run event payload not serializable",
			slog.String("run_id", runID),
			slog.String("kind", kind),
			slog.String("error", err.Error()))
		return
	}
	if err := s.Append(ctx, RunEvent{RunID: runID, Kind: kind, Payload: data}); err != nil {
		s.log.Warn("run event append failed",
			slog.String("run_id", runID),
			slog.String("kind", kind),
			slog.String("error", err.Error()))
	}
}

// ListRunEvents retrieves up to limit events for a run, oldest first.
func (s *Store) ListRunEvents(ctx context.Context, runID string, limit int) ([]RunEvent, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, kind, payload, created_at
		 FROM run_events WHERE run_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var e RunEvent
		var created string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Kind, &e.Payload, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// FirstEventOfKind returns the earliest matching event for a run, nil when
// none exists. Diagnostics use it to pull the first failing payload.
func (s *Store) FirstEventOfKind(ctx context.Context, runID, kind string) (*RunEvent, error) {
	if s.db == nil {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, kind, payload, created_at
		 FROM run_events WHERE run_id = ? AND kind = ? ORDER BY created_at ASC, id ASC LIMIT 1`,
		runID, kind)
	var e RunEvent
	var created string
	err := row.Scan(&e.ID, &e.RunID, &e.Kind, &e.Payload, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if ts, perr := time.Parse(time.RFC3339Nano, created); perr == nil {
		e.CreatedAt = ts
	}
	return &e, nil
}

// Prune applies configured retention.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM run_events WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxRuns > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id IN (
			SELECT run_id FROM runs ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRuns)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
