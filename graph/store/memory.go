package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemStore keeps runs in memory. Records are stored in their JSON form, so
// callers never share mutable state with the store.
//
//	s := store.NewMemStore[graph.RunRecord]()
//	engine := graph.New(executor, graph.WithStore(s))
type MemStore[R any] struct {
	mu     sync.RWMutex
	runs   map[string]memRecord
	closed bool
}

type memRecord struct {
	meta RunMeta
	data []byte
}

// NewMemStore creates an empty MemStore.
func NewMemStore[R any]() *MemStore[R] {
	return &MemStore[R]{runs: make(map[string]memRecord)}
}

// SaveRun implements Store.
func (m *MemStore[R]) SaveRun(_ context.Context, meta RunMeta, run R) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.runs[meta.ID] = memRecord{meta: meta, data: data}
	return nil
}

// LoadRun implements Store.
func (m *MemStore[R]) LoadRun(_ context.Context, id string) (R, error) {
	var zero R

	m.mu.RLock()
	rec, ok := m.runs[id]
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		return zero, ErrClosed
	}
	if !ok {
		return zero, ErrNotFound
	}
	var run R
	if err := json.Unmarshal(rec.data, &run); err != nil {
		return zero, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return run, nil
}

// ListRuns implements Store.
func (m *MemStore[R]) ListRuns(_ context.Context, workflowID string) ([]RunMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	out := []RunMeta{}
	for _, rec := range m.runs {
		if workflowID == "" || rec.meta.WorkflowID == workflowID {
			out = append(out, rec.meta)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// Close implements Store.
func (m *MemStore[R]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func sortNewestFirst(metas []RunMeta) {
	sort.Slice(metas, func(i, j int) bool {
		if !metas[i].CreatedAt.Equal(metas[j].CreatedAt) {
			return metas[i].CreatedAt.After(metas[j].CreatedAt)
		}
		return metas[i].ID > metas[j].ID
	})
}
