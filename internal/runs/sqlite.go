package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by Get for unknown run IDs.
var ErrNotFound = errors.New("run not found")

// Store is a SQLite-backed ledger of pipeline runs.
type Store struct {
	db *sql.DB
}

func NewSQLite(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	sqlDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	s := &Store{db: sqlDB}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate runs db: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		status TEXT NOT NULL,
		stage TEXT NOT NULL,
		error_kind TEXT,
		error TEXT,
		upload_bytes INTEGER NOT NULL DEFAULT 0,
		audio_bytes INTEGER NOT NULL DEFAULT 0,
		cues INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		normalize_ms INTEGER NOT NULL DEFAULT 0,
		transcribe_ms INTEGER NOT NULL DEFAULT 0,
		total_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts the run, replacing any earlier row with the same ID.
func (s *Store) Record(ctx context.Context, run *Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, filename, status, stage, error_kind, error,
			upload_bytes, audio_bytes, cues, skipped, normalize_ms, transcribe_ms, total_ms,
			created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Filename, run.Status, run.Stage, nullString(run.ErrorKind), nullString(run.Error),
		run.UploadBytes, run.AudioBytes, run.Cues, run.Skipped, run.NormalizeMs, run.TranscribeMs, run.TotalMs,
		run.CreatedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const selectRun = `
	SELECT id, filename, status, stage, error_kind, error, upload_bytes, audio_bytes, cues, skipped,
		normalize_ms, transcribe_ms, total_ms, created_at, completed_at
	FROM runs`

// Get retrieves a run by ID.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRun+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// List returns the most recent runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, selectRun+" ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	var errKind, errMsg sql.NullString
	var completedAt sql.NullTime
	if err := row.Scan(&run.ID, &run.Filename, &run.Status, &run.Stage, &errKind, &errMsg,
		&run.UploadBytes, &run.AudioBytes, &run.Cues, &run.Skipped,
		&run.NormalizeMs, &run.TranscribeMs, &run.TotalMs, &run.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	run.ErrorKind = errKind.String
	run.Error = errMsg.String
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
