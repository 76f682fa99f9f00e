// Package store persists workflow runs.
//
// The engine hands every run to a Store when it is created, on each status
// transition and when it terminates. Stores are generic over the run record
// so they stay independent of the engine's types; the record must round-trip
// through encoding/json.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a run does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// RunMeta is the indexed summary of a stored run.
type RunMeta struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflowId"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Store persists run records of type R.
//
// Implementations:
//   - MemStore: in-process, for tests and single-shot use
//   - SQLiteStore: a local database file
//   - MySQLStore: a shared MySQL server
//
// All implementations are safe for concurrent use.
type Store[R any] interface {
	// SaveRun inserts or replaces the run identified by meta.ID.
	SaveRun(ctx context.Context, meta RunMeta, run R) error

	// LoadRun returns the last saved record of id, or ErrNotFound.
	LoadRun(ctx context.Context, id string) (R, error)

	// ListRuns returns the runs of workflowID, most recently created first.
	// An empty workflowID lists every run.
	ListRuns(ctx context.Context, workflowID string) ([]RunMeta, error)

	// Close releases the store's resources.
	Close() error
}
