package github

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/repo-butler/pkg/internal/testutil"
)

func TestClient_SetCurrentOrg(t *testing.T) {
	c := &Client{}

	c.SetCurrentOrg("acme")

	if c.currentOrg != "acme" {
		t.Errorf("currentOrg = %q, want %q", c.currentOrg, "acme")
	}
}

func TestClient_IsUserAccount(t *testing.T) {
	c := &Client{
		installationTypes: map[string]string{
			"dana": "User",
			"acme": "Organization",
		},
	}

	tests := []struct {
		account string
		want    bool
	}{
		{"dana", true},
		{"acme", false},
		{"unknown", false},
	}

	for _, tt := range tests {
		t.Run(tt.account, func(t *testing.T) {
			if got := c.IsUserAccount(tt.account); got != tt.want {
				t.Errorf("IsUserAccount(%q) = %v, want %v", tt.account, got, tt.want)
			}
		})
	}
}

func TestClient_Token_PersonalToken(t *testing.T) {
	c := &Client{
		isAppAuth: false,
		token:     "ghp_" + strings.Repeat("a", 36),
	}

	token, err := c.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != c.token {
		t.Errorf("token = %q, want the personal token", token)
	}
}

func TestClient_Token_AppAuthNoOrg(t *testing.T) {
	// Without a current org there is no installation to scope the
	// token to, so the app JWT is returned as-is.
	c := &Client{
		isAppAuth:  true,
		token:      "app-jwt",
		currentOrg: "",
	}

	token, err := c.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "app-jwt" {
		t.Errorf("token = %q, want %q", token, "app-jwt")
	}
}

func TestDoRaw_ReturnsBodyVerbatim(t *testing.T) {
	ctx := context.Background()
	diff := "diff --git a/frob.go b/frob.go\n+func Frob() {}\n"
	url := "https://api.github.com/repos/acme/widgets/pulls/7"

	doer := testutil.NewMockHTTPDoer()
	doer.SetRawResponse(http.MethodGet, url, http.StatusOK, diff)

	c := &Client{
		httpClient: &http.Client{Transport: doer},
		token:      "ghp_" + strings.Repeat("a", 36),
	}

	data, err := c.doRaw(ctx, http.MethodGet, url, acceptDiff)
	if err != nil {
		t.Fatalf("doRaw: %v", err)
	}
	if string(data) != diff {
		t.Errorf("body = %q, want the diff verbatim", data)
	}

	calls := doer.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	if got := calls[0].Header.Get("Accept"); got != acceptDiff {
		t.Errorf("Accept = %q, want %q", got, acceptDiff)
	}
	if got := calls[0].Header.Get("Authorization"); !strings.HasPrefix(got, "token ") {
		t.Errorf("Authorization = %q, want token scheme", got)
	}
}

func TestDoRaw_ErrorStatus(t *testing.T) {
	url := "https://api.github.com/repos/acme/widgets/pulls/404"

	doer := testutil.NewMockHTTPDoer()
	doer.SetRawResponse(http.MethodGet, url, http.StatusNotFound, "")

	c := &Client{
		httpClient: &http.Client{Transport: doer},
		token:      "ghp_" + strings.Repeat("a", 36),
	}

	if _, err := c.doRaw(context.Background(), http.MethodGet, url, acceptDiff); err == nil {
		t.Error("expected error for 404 response")
	} else if !strings.Contains(err.Error(), "status 404") {
		t.Errorf("error = %v, want status in message", err)
	}
}

func TestDoRequest_SendsJSONBody(t *testing.T) {
	url := "https://api.github.com/repos/acme/widgets/issues/42/comments"

	doer := testutil.NewMockHTTPDoer()
	doer.SetResponse(http.MethodPost, url, http.StatusCreated, map[string]any{"id": 1})

	c := &Client{
		httpClient: &http.Client{Transport: doer},
		token:      "ghp_" + strings.Repeat("a", 36),
	}

	resp, err := c.doRequest(context.Background(), http.MethodPost, url, map[string]string{"body": "USAGE: 2025-03-01|alice|issue_eval|1"})
	if err != nil {
		t.Fatalf("doRequest: %v", err)
	}
	drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want 201", resp.StatusCode)
	}

	calls := doer.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	if !strings.Contains(string(calls[0].Body), "USAGE: 2025-03-01|alice|issue_eval|1") {
		t.Errorf("request body = %q, want the usage record", calls[0].Body)
	}
	if got := calls[0].Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	if got := calls[0].Header.Get("Accept"); got != acceptJSON {
		t.Errorf("Accept = %q, want %q", got, acceptJSON)
	}
}

func TestDo_BearerAuthForAppClients(t *testing.T) {
	url := "https://api.github.com/app/installations"

	doer := testutil.NewMockHTTPDoer()
	doer.SetResponse(http.MethodGet, url, http.StatusOK, []any{})

	c := &Client{
		httpClient:  &http.Client{Transport: doer},
		token:       "app-jwt",
		isAppAuth:   true,
		tokenExpiry: time.Now().Add(time.Hour),
	}

	resp, err := c.doRequest(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("doRequest: %v", err)
	}
	drainAndCloseBody(resp.Body)

	calls := doer.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	if got := calls[0].Header.Get("Authorization"); got != "Bearer app-jwt" {
		t.Errorf("Authorization = %q, want Bearer scheme for app auth", got)
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	calls := 0

	err := retryWithBackoff(context.Background(), "fetch tracker issue", func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Errorf("retryWithBackoff: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryWithBackoff_NonRetryableError(t *testing.T) {
	calls := 0

	err := retryWithBackoff(context.Background(), "create comment", func() error {
		calls++
		return errors.New("http 422: validation failed")
	})
	if err == nil {
		t.Error("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for a non-retryable error", calls)
	}
}

func TestRetryWithBackoff_RetriesUntilSuccess(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff sleeps for about a second")
	}

	calls := 0
	err := retryWithBackoff(context.Background(), "list comments", func() error {
		calls++
		if calls == 1 {
			return errors.New("http 503: server error")
		}
		return nil
	})
	if err != nil {
		t.Errorf("retryWithBackoff: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
