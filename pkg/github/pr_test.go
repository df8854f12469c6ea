package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/repo-butler/pkg/cache"
	"github.com/codeGROOVE-dev/repo-butler/pkg/types"
)

func TestPullRequest_Fetch(t *testing.T) {
	ctx := context.Background()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/widgets/pulls/11":
			fmt.Fprint(w, `{
				"number": 11,
				"title": "Refactor widget pipeline",
				"body": "Reworks the pipeline.",
				"state": "open",
				"draft": true,
				"user": {"login": "carol"},
				"author_association": "MEMBER",
				"head": {"sha": "abc123", "ref": "feature/pipeline"},
				"base": {"ref": "main"},
				"labels": [{"name": "skip-butler-review"}],
				"created_at": "2026-03-14T09:00:00Z",
				"updated_at": "2026-03-14T10:00:00Z"
			}`)
		case "/repos/acme/widgets/pulls/11/files":
			fmt.Fprint(w, `[
				{"filename": "pipeline.go", "status": "modified", "additions": 10, "deletions": 2, "patch": "@@ -1 +1 @@"},
				{"filename": "pipeline_test.go", "status": "added", "additions": 50, "deletions": 0, "patch": "@@ -0 +1 @@"}
			]`)
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	pr, err := client.PullRequest(ctx, "acme", "widgets", 11)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pr.Number != 11 || pr.Title != "Refactor widget pipeline" {
		t.Errorf("unexpected PR: %+v", pr)
	}
	if !pr.Draft {
		t.Error("expected draft flag to survive decoding")
	}
	if pr.HeadSHA != "abc123" || pr.HeadRef != "feature/pipeline" || pr.BaseRef != "main" {
		t.Errorf("unexpected refs: %+v", pr)
	}
	if pr.AuthorAssociation != "MEMBER" {
		t.Errorf("expected MEMBER association, got %q", pr.AuthorAssociation)
	}
	if len(pr.Labels) != 1 || pr.Labels[0] != "skip-butler-review" {
		t.Errorf("unexpected labels: %v", pr.Labels)
	}
	if len(pr.ChangedFiles) != 2 {
		t.Fatalf("expected 2 changed files, got %d", len(pr.ChangedFiles))
	}
	if pr.ChangedFiles[0].Filename != "pipeline.go" || pr.ChangedFiles[0].Status != "modified" {
		t.Errorf("unexpected changed file: %+v", pr.ChangedFiles[0])
	}
}

func TestPullRequest_PrxPreWarm(t *testing.T) {
	ctx := context.Background()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/widgets/pulls/3":
			fmt.Fprint(w, `{"number": 3, "title": "x", "state": "open", "user": {"login": "dave"},
				"head": {"sha": "s", "ref": "r"}, "base": {"ref": "main"},
				"created_at": "2026-03-14T09:00:00Z", "updated_at": "2026-03-14T09:00:00Z"}`)
		case "/repos/acme/widgets/pulls/3/files":
			fmt.Fprint(w, `[]`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	prx := &recordingPrxClient{}
	client.SetPrxClient(prx)

	if _, err := client.PullRequest(ctx, "acme", "widgets", 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if prx.calls.Load() != 1 {
		t.Errorf("expected prx pre-warm call, got %d", prx.calls.Load())
	}
}

func TestPullRequest_PrxFailureDoesNotBlockFetch(t *testing.T) {
	ctx := context.Background()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/widgets/pulls/3":
			fmt.Fprint(w, `{"number": 3, "title": "x", "state": "open", "user": {"login": "dave"},
				"head": {"sha": "s", "ref": "r"}, "base": {"ref": "main"},
				"created_at": "2026-03-14T09:00:00Z", "updated_at": "2026-03-14T09:00:00Z"}`)
		case "/repos/acme/widgets/pulls/3/files":
			fmt.Fprint(w, `[]`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	client.SetPrxClient(&recordingPrxClient{err: fmt.Errorf("prx unavailable")})

	pr, err := client.PullRequest(ctx, "acme", "widgets", 3)
	if err != nil {
		t.Fatalf("expected REST fetch to survive prx failure, got %v", err)
	}
	if pr.Number != 3 {
		t.Errorf("unexpected PR: %+v", pr)
	}
}

type recordingPrxClient struct {
	err   error
	calls atomic.Int32
}

func (r *recordingPrxClient) PullRequestWithReferenceTime(_ context.Context, _, _ string, prNumber int, _ time.Time) (any, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return map[string]any{"number": prNumber}, nil
}

func TestPullRequestDiff_UsesDiffMediaType(t *testing.T) {
	ctx := context.Background()

	diff := "diff --git a/pipeline.go b/pipeline.go\n+added line\n"
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != acceptDiff {
			t.Errorf("expected accept %q, got %q", acceptDiff, r.Header.Get("Accept"))
		}
		fmt.Fprint(w, diff)
	}))

	got, err := client.PullRequestDiff(ctx, "acme", "widgets", 11)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != diff {
		t.Errorf("diff body altered in transit: %q", got)
	}
}

func TestChangedFiles_Paginated(t *testing.T) {
	ctx := context.Background()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			var items []string
			for i := range perPageLimit {
				items = append(items, fmt.Sprintf(`{"filename": "file%d.go", "status": "modified"}`, i))
			}
			fmt.Fprint(w, "["+strings.Join(items, ",")+"]")
		case "2":
			fmt.Fprint(w, `[{"filename": "final.go", "status": "added"}]`)
		default:
			fmt.Fprint(w, `[]`)
		}
	}))

	files, err := client.ChangedFiles(ctx, "acme", "widgets", 11)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(files) != perPageLimit+1 {
		t.Fatalf("expected %d files, got %d", perPageLimit+1, len(files))
	}
	if files[len(files)-1].Filename != "final.go" {
		t.Errorf("expected last page appended, got %q", files[len(files)-1].Filename)
	}
}

func TestChangedFiles_Cached(t *testing.T) {
	ctx := context.Background()

	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `[{"filename": "a.go", "status": "modified"}]`)
	}))

	for range 2 {
		if _, err := client.ChangedFiles(ctx, "acme", "widgets", 11); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if calls.Load() != 1 {
		t.Errorf("expected 1 HTTP call (second served from cache), got %d", calls.Load())
	}
}

func TestCreatePull(t *testing.T) {
	ctx := context.Background()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}

		var payload struct {
			Title string `json:"title"`
			Head  string `json:"head"`
			Base  string `json:"base"`
			Draft bool   `json:"draft"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		if payload.Head != "butler/issue-7-abc123" || payload.Base != "main" || !payload.Draft {
			t.Errorf("unexpected payload: %+v", payload)
		}

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"number": 99, "title": "Fix #7: Add frobnicator", "state": "open", "draft": true,
			"user": {"login": "repo-butler[bot]"}, "head": {"sha": "s", "ref": "butler/issue-7-abc123"}, "base": {"ref": "main"}}`)
	}))

	pr, err := client.CreatePull(ctx, "acme", "widgets", types.NewPull{
		Title: "Fix #7: Add frobnicator",
		Body:  "Closes #7",
		Head:  "butler/issue-7-abc123",
		Base:  "main",
		Draft: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pr.Number != 99 || !pr.Draft {
		t.Errorf("unexpected created PR: %+v", pr)
	}
}

func TestDoRequest_RetriesServerErrors(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff sleeps for about a second")
	}
	ctx := context.Background()

	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"name": "widgets", "owner": {"login": "acme"}, "default_branch": "main"}`)
	}))

	repo, err := client.Repository(ctx, "acme", "widgets")
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if repo.DefaultBranch != "main" {
		t.Errorf("unexpected repository: %+v", repo)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestDoRequest_DoesNotRetryClientErrors(t *testing.T) {
	ctx := context.Background()

	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	_, err := client.Repository(ctx, "acme", "widgets")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single attempt for a 4xx, got %d", calls.Load())
	}
}

func TestIsUserBot(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("bot classification must not hit the network")
		w.WriteHeader(http.StatusInternalServerError)
	}))

	tests := []struct {
		username string
		want     bool
	}{
		{"repo-butler[bot]", true},
		{"dependabot[bot]", true},
		{"deploy-bot", true},
		{"release-robot", true},
		{"alice", false},
		{"bob-smith", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.username, func(t *testing.T) {
			got := client.IsUserBot(ctx, tt.username)
			if got != tt.want {
				t.Errorf("IsUserBot(%q) = %v, want %v", tt.username, got, tt.want)
			}
		})
	}

	// Classification is memoized.
	if info, ok := client.userCache.Get("alice"); !ok || info.UserType != cache.UserTypeUser {
		t.Error("expected alice's classification to be cached")
	}
}
