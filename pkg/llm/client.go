// Package llm provides a minimal client for the Anthropic messages API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// Defaults for the completion client.
const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-sonnet-4-20250514"
	defaultTimeout   = 120 * time.Second
	defaultMaxTokens = 4096

	apiVersion = "2023-06-01" // anthropic-version header
)

// Retry constants. Completions are expensive, so attempts are far
// fewer than for GitHub API calls.
const (
	maxRetryAttempts  = 4
	initialRetryDelay = 2 * time.Second
	maxRetryDelay     = 30 * time.Second
)

// HTTPDoer abstracts the HTTP client for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds settings for the completion client.
type Config struct {
	APIKey      string
	BaseURL     string // API endpoint override (empty = api.anthropic.com)
	Model       string
	HTTPTimeout time.Duration
}

// Request is one completion request.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Client calls the Anthropic messages endpoint.
type Client struct {
	httpClient HTTPDoer
	baseURL    string
	model      string
	apiKey     string
}

// New creates a completion client. The API key is required; everything
// else falls back to defaults.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic API key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
		apiKey:     cfg.APIKey,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Wire types for the messages endpoint.
type messagesRequest struct {
	Model     string    `json:"model"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Complete sends one prompt and returns the concatenated text blocks
// of the response. Rate limits, server errors and transport failures
// are retried with backoff; other API errors surface the response
// body.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	payload, err := json.Marshal(messagesRequest{
		Model:     c.model,
		System:    req.System,
		MaxTokens: maxTokens,
		Messages:  []message{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	apiURL := c.baseURL + "/v1/messages"
	slog.Debug("Completion request", "component", "llm", "model", c.model, "max_tokens", maxTokens, "prompt_chars", len(req.Prompt))

	var text string
	err = retry.Do(
		func() error {
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			httpReq.Header.Set("Content-Type", "application/json")
			httpReq.Header.Set("x-api-key", c.apiKey)
			httpReq.Header.Set("anthropic-version", apiVersion)

			resp, err := c.httpClient.Do(httpReq)
			if err != nil {
				return fmt.Errorf("completion request failed: %w", err)
			}
			defer func() {
				if cerr := resp.Body.Close(); cerr != nil {
					slog.Warn("Failed to close response body", "error", cerr)
				}
			}()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("failed to read completion response: %w", err)
			}

			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				slog.Warn("Completion rate limited - will retry with backoff", "status", resp.StatusCode)
				return fmt.Errorf("http %d: rate limited", resp.StatusCode)
			case resp.StatusCode >= http.StatusInternalServerError:
				slog.Warn("Completion server error - will retry with backoff", "status", resp.StatusCode)
				return fmt.Errorf("http %d: server error", resp.StatusCode)
			case resp.StatusCode != http.StatusOK:
				return fmt.Errorf("completion failed (status %d): %s", resp.StatusCode, string(body))
			}

			var decoded messagesResponse
			if err := json.Unmarshal(body, &decoded); err != nil {
				return fmt.Errorf("failed to decode completion response: %w", err)
			}
			var sb strings.Builder
			for _, block := range decoded.Content {
				if block.Type == "" || block.Type == "text" {
					sb.WriteString(block.Text)
				}
			}
			text = sb.String()
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(maxRetryAttempts)),
		retry.Delay(initialRetryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(initialRetryDelay/4),
		retry.OnRetry(func(n uint, err error) {
			slog.Info("Retry attempt", "component", "retry", "operation", "completion", "attempt", n+1, "max_attempts", maxRetryAttempts, "error", err)
		}),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if err == nil {
				return false
			}
			errStr := err.Error()
			return strings.Contains(errStr, "rate limited") ||
				strings.Contains(errStr, "server error") ||
				strings.Contains(errStr, "connection refused") ||
				strings.Contains(errStr, "timeout") ||
				strings.Contains(errStr, "EOF")
		}),
	)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", errors.New("completion response contained no text")
	}
	slog.Debug("Completion response", "component", "llm", "chars", len(text))
	return text, nil
}
