package automation

import (
	"context"
	"time"

	"github.com/codeGROOVE-dev/repo-butler/pkg/llm"
	"github.com/codeGROOVE-dev/repo-butler/pkg/types"
)

// GitHub is the slice of the GitHub client the automation flows use.
// It is a superset of ratelimit.TrackerAPI so the same client backs
// both the flows and the usage ledger.
//
//nolint:interfacebloat // the flows legitimately touch many endpoint groups
type GitHub interface {
	Token(ctx context.Context) (string, error)

	Issue(ctx context.Context, owner, repo string, number int) (*types.Issue, error)
	OpenIssuesByLabel(ctx context.Context, owner, repo, label string) ([]types.Issue, error)
	CreateIssue(ctx context.Context, owner, repo string, issue types.NewIssue) (*types.Issue, error)
	IssueComments(ctx context.Context, owner, repo string, number int) ([]types.IssueComment, error)
	CreateComment(ctx context.Context, owner, repo string, number int, body string) error

	PullRequest(ctx context.Context, owner, repo string, number int) (*types.PullRequest, error)
	PullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error)
	CreatePull(ctx context.Context, owner, repo string, pull types.NewPull) (*types.PullRequest, error)

	Repository(ctx context.Context, owner, repo string) (*types.Repository, error)
	FileContent(ctx context.Context, owner, repo, path string, ttl time.Duration) ([]byte, error)

	IsUserBot(ctx context.Context, username string) bool
}

// Completer produces one completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}
