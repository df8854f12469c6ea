package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codeGROOVE-dev/repo-butler/pkg/types"
)

// Tracking issue identity. The label is the lookup key; title and body
// are only written when the tracker does not exist yet.
const (
	TrackerLabel = "repo-butler:rate-limit-tracker"
	trackerTitle = "[Internal] Repo Butler Rate Limit Tracker"
	trackerBody  = "This issue tracks daily automation usage for this repository. Do not close."
)

// Handle identifies a resolved tracking issue.
type Handle struct {
	Owner  string
	Repo   string
	Number int
}

// Ledger is the append-only usage log the limiter reads and writes.
// Entries are opaque text lines in arrival order; the limiter decides
// which of them are usage records.
type Ledger interface {
	// Ensure resolves the tracking issue, creating it when absent.
	Ensure(ctx context.Context) (Handle, error)
	// Entries returns every entry on the tracking issue in arrival order.
	Entries(ctx context.Context, h Handle) ([]string, error)
	// Append adds one entry to the tracking issue.
	Append(ctx context.Context, h Handle, entry string) error
}

// TrackerAPI is the slice of the GitHub client the issue ledger needs.
type TrackerAPI interface {
	OpenIssuesByLabel(ctx context.Context, owner, repo, label string) ([]types.Issue, error)
	CreateIssue(ctx context.Context, owner, repo string, issue types.NewIssue) (*types.Issue, error)
	IssueComments(ctx context.Context, owner, repo string, number int) ([]types.IssueComment, error)
	CreateComment(ctx context.Context, owner, repo string, number int, body string) error
}

// IssueLedger stores usage records as comments on a singleton
// tracking issue. Two invocations racing tracker creation can leave a
// duplicate issue behind; both keep working because lookups always
// take the first open issue carrying the label, so every writer
// converges on the same ledger.
type IssueLedger struct {
	api    TrackerAPI
	handle *Handle
	owner  string
	repo   string
	mu     sync.Mutex
}

// NewIssueLedger creates a ledger over the repository's tracking issue.
func NewIssueLedger(api TrackerAPI, owner, repo string) *IssueLedger {
	return &IssueLedger{api: api, owner: owner, repo: repo}
}

// Ensure resolves the tracking issue, creating it on first use. The
// handle is cached for the lifetime of the ledger so repeated checks
// within one invocation cost a single lookup.
func (l *IssueLedger) Ensure(ctx context.Context) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle != nil {
		return *l.handle, nil
	}

	issues, err := l.api.OpenIssuesByLabel(ctx, l.owner, l.repo, TrackerLabel)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to look up tracking issue: %w", err)
	}
	if len(issues) > 0 {
		h := Handle{Owner: l.owner, Repo: l.repo, Number: issues[0].Number}
		l.handle = &h
		return h, nil
	}

	issue, err := l.api.CreateIssue(ctx, l.owner, l.repo, types.NewIssue{
		Title:  trackerTitle,
		Body:   trackerBody,
		Labels: []string{TrackerLabel},
	})
	if err != nil {
		return Handle{}, fmt.Errorf("failed to create tracking issue: %w", err)
	}
	slog.Info("Created rate limit tracking issue", "owner", l.owner, "repo", l.repo, "issue", issue.Number)
	h := Handle{Owner: l.owner, Repo: l.repo, Number: issue.Number}
	l.handle = &h
	return h, nil
}

// Entries returns the tracking issue comment bodies in arrival order.
// Reads are never cached: admission decisions must see the latest
// committed records.
func (l *IssueLedger) Entries(ctx context.Context, h Handle) ([]string, error) {
	comments, err := l.api.IssueComments(ctx, h.Owner, h.Repo, h.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to read tracking issue comments: %w", err)
	}
	entries := make([]string, 0, len(comments))
	for _, comment := range comments {
		entries = append(entries, comment.Body)
	}
	return entries, nil
}

// Append adds one entry as a new comment on the tracking issue.
func (l *IssueLedger) Append(ctx context.Context, h Handle, entry string) error {
	if err := l.api.CreateComment(ctx, h.Owner, h.Repo, h.Number, entry); err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}
	return nil
}
