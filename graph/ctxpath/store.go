package ctxpath

import "sync"

// Store is the document of a single run.
//
// Nodes of one scheduling batch run concurrently and each writes its own
// _outputs subtree, so every access goes through a read/write lock. Values
// handed out by Get and Snapshot are deep copies; callers may keep and mutate
// them freely.
type Store struct {
	mu  sync.RWMutex
	doc map[string]any
}

// NewStore wraps initial as a run document. A nil map starts an empty one.
// The map is adopted, not copied.
func NewStore(initial map[string]any) *Store {
	if initial == nil {
		initial = map[string]any{}
	}
	return &Store{doc: initial}
}

// Get resolves path and returns a copy of the value found there.
func (s *Store) Get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := Get(s.doc, path)
	if !ok {
		return nil, false
	}
	return Clone(v), true
}

// Set writes value at path. Empty paths are ignored.
func (s *Store) Set(path string, value any) {
	if path == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	Set(s.doc, path, value)
}

// Has reports whether the top-level key is present.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.doc[key]
	return ok
}

// Render applies a template against the current document.
func (s *Store) Render(tpl string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ApplyTemplate(tpl, s.doc)
}

// Snapshot returns a deep copy of the whole document.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, _ := Clone(s.doc).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	return out
}
