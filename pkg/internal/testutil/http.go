package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// MockHTTPDoer stubs the GitHub REST API for client tests. Responses
// and errors are keyed by (method, URL); every request is recorded with
// its headers so tests can assert on auth and media types. It satisfies
// both the Do-style client interface and http.RoundTripper, so it can
// be dropped into an http.Client as its Transport.
type MockHTTPDoer struct {
	responses map[string]*http.Response
	errors    map[string]error
	calls     []HTTPCall
	mu        sync.RWMutex
}

// HTTPCall records a single request seen by the mock.
type HTTPCall struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// NewMockHTTPDoer creates an empty mock. Unconfigured URLs return a
// GitHub-style 404.
func NewMockHTTPDoer() *MockHTTPDoer {
	return &MockHTTPDoer{
		responses: make(map[string]*http.Response),
		errors:    make(map[string]error),
	}
}

// RoundTrip implements http.RoundTripper.
func (m *MockHTTPDoer) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.Do(req)
}

// Do executes the request against the configured responses.
func (m *MockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
	}
	m.calls = append(m.calls, HTTPCall{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
		Body:   body,
	})

	key := req.Method + ":" + req.URL.String()

	if err, ok := m.errors[key]; ok {
		return nil, err
	}
	if resp, ok := m.responses[key]; ok {
		return resp, nil
	}

	return &http.Response{
		StatusCode: http.StatusNotFound,
		Status:     "404 Not Found",
		Body:       io.NopCloser(strings.NewReader(`{"message":"Not Found"}`)),
		Header:     make(http.Header),
	}, nil
}

// SetResponse configures a JSON response for a method and URL. The body
// is marshaled; a nil body yields an empty response.
func (m *MockHTTPDoer) SetResponse(method, url string, statusCode int, body any) {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			panic(fmt.Sprintf("testutil: marshal response body: %v", err))
		}
	}
	m.setResponse(method, url, statusCode, data)
}

// SetRawResponse configures a verbatim response body, for non-JSON
// media types such as diffs.
func (m *MockHTTPDoer) SetRawResponse(method, url string, statusCode int, body string) {
	m.setResponse(method, url, statusCode, []byte(body))
}

func (m *MockHTTPDoer) setResponse(method, url string, statusCode int, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses[method+":"+url] = &http.Response{
		StatusCode: statusCode,
		Status:     fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode)),
		Body:       io.NopCloser(bytes.NewReader(body)),
		Header:     make(http.Header),
	}
}

// SetError configures a transport-level error for a method and URL.
func (m *MockHTTPDoer) SetError(method, url string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method+":"+url] = err
}

// Calls returns a copy of all recorded requests.
func (m *MockHTTPDoer) Calls() []HTTPCall {
	m.mu.RLock()
	defer m.mu.RUnlock()

	calls := make([]HTTPCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// Reset clears configured responses and recorded calls.
func (m *MockHTTPDoer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses = make(map[string]*http.Response)
	m.errors = make(map[string]error)
	m.calls = nil
}
