package model

import (
	"context"
	"sync"
)

// MockProvider is a test implementation of Provider.
//
// Use MockProvider in tests to exercise LLM nodes without network calls. It
// provides:
//   - Configurable responses, returned in order
//   - Streamed deltas per response
//   - Call history tracking
//   - Error injection
//
// Example usage:
//
//	mock := &MockProvider{
//	    Responses: []Response{{Text: "first"}, {Text: "second"}},
//	}
//	out, err := mock.Complete(ctx, req, nil)
//	// Returns "first", then "second", then "second" again
type MockProvider struct {
	// Responses contains the sequence of responses to return. Once
	// exhausted, the last response repeats.
	Responses []Response

	// Deltas, when set, are fed to onDelta before the response of the same
	// index is returned.
	Deltas [][]string

	// Err, if set, is returned alongside the next response.
	Err error

	// Calls records every request received.
	Calls []Request

	mu        sync.Mutex
	callIndex int
}

// Complete implements Provider.
func (m *MockProvider) Complete(ctx context.Context, req Request, onDelta func(string)) (Response, error) {
	if ctx.Err() != nil {
		return Response{}, ctx.Err()
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	idx := m.callIndex
	if idx < len(m.Responses)-1 {
		m.callIndex++
	}
	var resp Response
	if len(m.Responses) > 0 {
		resp = m.Responses[idx]
	}
	var deltas []string
	if idx < len(m.Deltas) {
		deltas = m.Deltas[idx]
	}
	err := m.Err
	m.mu.Unlock()

	if onDelta != nil {
		acc := ""
		for _, d := range deltas {
			acc += d
			onDelta(acc)
		}
	}
	return resp, err
}

// CallCount returns the number of times Complete has been called.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears the call history and rewinds the response sequence.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.callIndex = 0
}
