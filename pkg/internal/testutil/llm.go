package testutil

import (
	"context"
	"sync"

	"github.com/codeGROOVE-dev/repo-butler/pkg/llm"
)

// MockCompleter implements the completion interface for testing.
// Responses are served in FIFO order; the last one repeats once the
// queue is exhausted so flows issuing several completions stay easy
// to script.
type MockCompleter struct {
	err       error
	responses []string
	requests  []llm.Request
	mu        sync.Mutex
}

// NewMockCompleter creates a mock that serves the given responses.
func NewMockCompleter(responses ...string) *MockCompleter {
	return &MockCompleter{responses: responses}
}

// Complete records the request and returns the next queued response.
func (m *MockCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "", nil
	}
	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return resp, nil
}

// SetError makes every subsequent Complete call fail.
func (m *MockCompleter) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Requests returns every recorded request in call order.
func (m *MockCompleter) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}

// LastRequest returns the most recent request, or nil when none were
// made.
func (m *MockCompleter) LastRequest() *llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	req := m.requests[len(m.requests)-1]
	return &req
}
