package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists runs in a SQLite database file using the pure Go
// modernc.org/sqlite driver.
//
// The database runs in WAL mode with a single connection, which gives
// serialised writes without SQLITE_BUSY errors. Use ":memory:" for a
// throwaway database.
//
//	s, err := store.NewSQLiteStore[graph.RunRecord]("./nodeflow.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
type SQLiteStore[R any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore[R any](path string) (*SQLiteStore[R], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore[R]{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore[R]) createTables(ctx context.Context) error {
	runsTable := `
		CREATE TABLE IF NOT EXISTS workflow_runs (
			id TEXT NOT NULL PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("failed to create workflow_runs table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_runs_workflow ON workflow_runs(workflow_id, created_at)"); err != nil {
		return fmt.Errorf("failed to create idx_runs_workflow: %w", err)
	}
	return nil
}

func (s *SQLiteStore[R]) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// SaveRun implements Store.
func (s *SQLiteStore[R]) SaveRun(ctx context.Context, meta RunMeta, run R) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	query := `
		INSERT INTO workflow_runs (id, workflow_id, status, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			status = excluded.status,
			data = excluded.data,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		meta.ID, meta.WorkflowID, meta.Status, string(data),
		meta.CreatedAt.UnixNano(), meta.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// LoadRun implements Store.
func (s *SQLiteStore[R]) LoadRun(ctx context.Context, id string) (R, error) {
	var zero R
	if err := s.checkOpen(); err != nil {
		return zero, err
	}

	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM workflow_runs WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("failed to load run: %w", err)
	}

	var run R
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return zero, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return run, nil
}

// ListRuns implements Store.
func (s *SQLiteStore[R]) ListRuns(ctx context.Context, workflowID string) ([]RunMeta, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, workflow_id, status, created_at, updated_at
		FROM workflow_runs
		WHERE ? = '' OR workflow_id = ?
		ORDER BY created_at DESC, id DESC
	`
	rows, err := s.db.QueryContext(ctx, query, workflowID, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []RunMeta{}
	for rows.Next() {
		var meta RunMeta
		var created, updated int64
		if err := rows.Scan(&meta.ID, &meta.WorkflowID, &meta.Status, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		meta.CreatedAt = time.Unix(0, created).UTC()
		meta.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return out, nil
}

// Close implements Store. Closing twice is a no-op.
func (s *SQLiteStore[R]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
