package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
	if !strings.Contains(err.Error(), "API key") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	client, err := New(Config{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if client.Model() != defaultModel {
		t.Errorf("expected default model %q, got %q", defaultModel, client.Model())
	}
	if client.baseURL != defaultBaseURL {
		t.Errorf("expected default base URL %q, got %q", defaultBaseURL, client.baseURL)
	}
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	client, err := New(Config{APIKey: "sk-test", BaseURL: "https://example.com/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.baseURL != "https://example.com" {
		t.Errorf("expected trimmed base URL, got %q", client.baseURL)
	}
}

// newServerClient builds a client pointed at an httptest server.
func newServerClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "test-model"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return client
}

func TestComplete_WireFormat(t *testing.T) {
	ctx := context.Background()

	var gotPath, gotKey, gotVersion, gotContentType string
	var gotPayload struct {
		Model    string `json:"model"`
		System   string `json:"system"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		MaxTokens int `json:"max_tokens"`
	}

	client := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		fmt.Fprint(w, `{"content": [{"type": "text", "text": "hello"}]}`)
	}))

	text, err := client.Complete(ctx, Request{System: "be brief", Prompt: "say hello", MaxTokens: 64})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if text != "hello" {
		t.Errorf("unexpected completion %q", text)
	}
	if gotPath != "/v1/messages" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotKey != "sk-test" {
		t.Errorf("unexpected api key header %q", gotKey)
	}
	if gotVersion != apiVersion {
		t.Errorf("unexpected version header %q", gotVersion)
	}
	if gotContentType != "application/json" {
		t.Errorf("unexpected content type %q", gotContentType)
	}
	if gotPayload.Model != "test-model" || gotPayload.System != "be brief" || gotPayload.MaxTokens != 64 {
		t.Errorf("unexpected payload: %+v", gotPayload)
	}
	if len(gotPayload.Messages) != 1 || gotPayload.Messages[0].Role != "user" || gotPayload.Messages[0].Content != "say hello" {
		t.Errorf("unexpected messages: %+v", gotPayload.Messages)
	}
}

func TestComplete_DefaultMaxTokens(t *testing.T) {
	ctx := context.Background()

	var gotMaxTokens int
	client := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			MaxTokens int `json:"max_tokens"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		gotMaxTokens = payload.MaxTokens
		fmt.Fprint(w, `{"content": [{"type": "text", "text": "ok"}]}`)
	}))

	if _, err := client.Complete(ctx, Request{Prompt: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMaxTokens != defaultMaxTokens {
		t.Errorf("expected default max tokens %d, got %d", defaultMaxTokens, gotMaxTokens)
	}
}

func TestComplete_ConcatenatesTextBlocks(t *testing.T) {
	ctx := context.Background()

	client := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"content": [
			{"type": "text", "text": "first "},
			{"type": "tool_use", "text": "ignored"},
			{"type": "text", "text": "second"}
		]}`)
	}))

	text, err := client.Complete(ctx, Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "first second" {
		t.Errorf("expected concatenated text blocks, got %q", text)
	}
}

func TestComplete_ErrorSurfacesResponseBody(t *testing.T) {
	ctx := context.Background()

	var calls atomic.Int32
	client := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"message": "max_tokens too large"}}`)
	}))

	_, err := client.Complete(ctx, Request{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "max_tokens too large") {
		t.Errorf("expected response body in error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single attempt for a 4xx, got %d", calls.Load())
	}
}

func TestComplete_RetriesRateLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff sleeps")
	}
	ctx := context.Background()

	var calls atomic.Int32
	client := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"content": [{"type": "text", "text": "recovered"}]}`)
	}))

	text, err := client.Complete(ctx, Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if text != "recovered" {
		t.Errorf("unexpected completion %q", text)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestComplete_EmptyContentIsAnError(t *testing.T) {
	ctx := context.Background()

	client := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"content": []}`)
	}))

	_, err := client.Complete(ctx, Request{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error for empty completion")
	}
	if !strings.Contains(err.Error(), "no text") {
		t.Errorf("unexpected error: %v", err)
	}
}

// failingDoer returns a fixed transport error for every request.
type failingDoer struct {
	err   error
	calls atomic.Int32
}

func (f *failingDoer) Do(_ *http.Request) (*http.Response, error) {
	f.calls.Add(1)
	return nil, f.err
}

func TestComplete_TransportErrorNotMatchingRetryListFailsFast(t *testing.T) {
	ctx := context.Background()

	doer := &failingDoer{err: errors.New("no such host")}
	client := &Client{
		httpClient: doer,
		baseURL:    "http://unit.test",
		model:      "test-model",
		apiKey:     "sk-test",
	}

	_, err := client.Complete(ctx, Request{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if doer.calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", doer.calls.Load())
	}
}
