package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore persists runs in MySQL (or Aurora). Run records are kept in a
// JSON column.
//
// The DSN must enable parseTime:
//
//	s, err := store.NewMySQLStore[graph.RunRecord]("user:pass@tcp(localhost:3306)/nodeflow?parseTime=true")
type MySQLStore[R any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore connects to dsn and creates the runs table if needed.
func NewMySQLStore[R any](dsn string) (*MySQLStore[R], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	m := &MySQLStore[R]{db: db}
	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return m, nil
}

func (m *MySQLStore[R]) createTables(ctx context.Context) error {
	runsTable := `
		CREATE TABLE IF NOT EXISTS workflow_runs (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			workflow_id VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			data JSON NOT NULL,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			INDEX idx_runs_workflow (workflow_id, created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("failed to create workflow_runs table: %w", err)
	}
	return nil
}

func (m *MySQLStore[R]) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// SaveRun implements Store.
func (m *MySQLStore[R]) SaveRun(ctx context.Context, meta RunMeta, run R) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	query := `
		INSERT INTO workflow_runs (id, workflow_id, status, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			workflow_id = VALUES(workflow_id),
			status = VALUES(status),
			data = VALUES(data),
			updated_at = VALUES(updated_at)
	`
	_, err = m.db.ExecContext(ctx, query,
		meta.ID, meta.WorkflowID, meta.Status, data,
		meta.CreatedAt.UTC(), meta.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// LoadRun implements Store.
func (m *MySQLStore[R]) LoadRun(ctx context.Context, id string) (R, error) {
	var zero R
	if err := m.checkOpen(); err != nil {
		return zero, err
	}

	var data []byte
	err := m.db.QueryRowContext(ctx, "SELECT data FROM workflow_runs WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("failed to load run: %w", err)
	}

	var run R
	if err := json.Unmarshal(data, &run); err != nil {
		return zero, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return run, nil
}

// ListRuns implements Store.
func (m *MySQLStore[R]) ListRuns(ctx context.Context, workflowID string) ([]RunMeta, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, workflow_id, status, created_at, updated_at
		FROM workflow_runs
		WHERE ? = '' OR workflow_id = ?
		ORDER BY created_at DESC, id DESC
	`
	rows, err := m.db.QueryContext(ctx, query, workflowID, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []RunMeta{}
	for rows.Next() {
		var meta RunMeta
		if err := rows.Scan(&meta.ID, &meta.WorkflowID, &meta.Status, &meta.CreatedAt, &meta.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return out, nil
}

// Close implements Store. Closing twice is a no-op.
func (m *MySQLStore[R]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}
