// Package testutil provides mock implementations and testing utilities for the repo-butler project.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/repo-butler/pkg/types"
)

// MockBotLogin is the author recorded for comments and issues the mock
// creates, mirroring how GitHub attributes App activity.
const MockBotLogin = "repo-butler[bot]"

// MockGitHubClient implements the GitHub API surface the automation
// flows and the rate limit ledger consume. It's a smart, programmable
// mock: created issues become findable by label, created comments
// become readable, so multi-step flows behave like they do against
// the real API.
type MockGitHubClient struct {
	issues          map[string]*types.Issue
	comments        map[string][]types.IssueComment
	pullRequests    map[string]*types.PullRequest
	diffs           map[string]string
	changedFiles    map[string][]types.ChangedFile
	fileContents    map[string][]byte
	repositories    map[string]*types.Repository
	botUsers        map[string]bool
	isUserAccount   map[string]bool
	errors          map[string]error
	createdIssues   []types.NewIssue
	createdPulls    []CreatePullCall
	createdComments []CreateCommentCall
	installations   []string
	currentOrg      string
	token           string
	nextIssue       int
	nextComment     int64
	nextPull        int
	mu              sync.RWMutex
}

// CreateCommentCall records a call to CreateComment.
type CreateCommentCall struct {
	Owner  string
	Repo   string
	Body   string
	Number int
}

// CreatePullCall records a call to CreatePull.
type CreatePullCall struct {
	Owner string
	Repo  string
	Pull  types.NewPull
}

// NewMockGitHubClient creates a new MockGitHubClient.
func NewMockGitHubClient() *MockGitHubClient {
	return &MockGitHubClient{
		issues:        make(map[string]*types.Issue),
		comments:      make(map[string][]types.IssueComment),
		pullRequests:  make(map[string]*types.PullRequest),
		diffs:         make(map[string]string),
		changedFiles:  make(map[string][]types.ChangedFile),
		fileContents:  make(map[string][]byte),
		repositories:  make(map[string]*types.Repository),
		botUsers:      make(map[string]bool),
		isUserAccount: make(map[string]bool),
		errors:        make(map[string]error),
		token:         "mock-token",
		nextIssue:     1000,
		nextPull:      500,
	}
}

func issueKey(owner, repo string, number int) string {
	return fmt.Sprintf("%s/%s/%d", owner, repo, number)
}

func repoKey(owner, repo string) string {
	return fmt.Sprintf("%s/%s", owner, repo)
}

// methodError looks up an injected error for a method, first with a
// parameter-specific key ("Method:key"), then the bare method name.
func (m *MockGitHubClient) methodError(method, key string) error {
	if err := m.errors[method+":"+key]; err != nil {
		return err
	}
	return m.errors[method]
}

// SetCurrentOrg sets the current organization.
func (m *MockGitHubClient) SetCurrentOrg(org string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentOrg = org
}

// IsUserAccount checks if an account is a user account.
func (m *MockGitHubClient) IsUserAccount(account string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isUserAccount[account]
}

// Token returns the configured token.
func (m *MockGitHubClient) Token(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.errors["Token"]; err != nil {
		return "", err
	}
	return m.token, nil
}

// Issue returns a configured issue.
func (m *MockGitHubClient) Issue(_ context.Context, owner, repo string, number int) (*types.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := issueKey(owner, repo, number)
	if err := m.methodError("Issue", key); err != nil {
		return nil, err
	}
	issue, ok := m.issues[key]
	if !ok {
		return nil, fmt.Errorf("issue not found: %s", key)
	}
	copied := *issue
	return &copied, nil
}

// OpenIssuesByLabel returns open issues carrying the label, lowest
// number first, mirroring creation order.
func (m *MockGitHubClient) OpenIssuesByLabel(_ context.Context, owner, repo, label string) ([]types.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.methodError("OpenIssuesByLabel", repoKey(owner, repo)); err != nil {
		return nil, err
	}

	var result []types.Issue
	for key, issue := range m.issues {
		if key != issueKey(owner, repo, issue.Number) {
			continue
		}
		if issue.State != "open" || issue.IsPullRequest {
			continue
		}
		for _, l := range issue.Labels {
			if l == label {
				result = append(result, *issue)
				break
			}
		}
	}
	// Map iteration order is random; sort by number for determinism.
	for i := 1; i < len(result); i++ {
		for j := i; j > 0 && result[j-1].Number > result[j].Number; j-- {
			result[j-1], result[j] = result[j], result[j-1]
		}
	}
	return result, nil
}

// CreateIssue records the call and stores an open issue so subsequent
// lookups find it.
func (m *MockGitHubClient) CreateIssue(_ context.Context, owner, repo string, issue types.NewIssue) (*types.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.methodError("CreateIssue", repoKey(owner, repo)); err != nil {
		return nil, err
	}

	m.nextIssue++
	created := &types.Issue{
		Number:    m.nextIssue,
		Title:     issue.Title,
		Body:      issue.Body,
		Labels:    append([]string(nil), issue.Labels...),
		State:     "open",
		Author:    MockBotLogin,
		CreatedAt: time.Now(),
	}
	m.issues[issueKey(owner, repo, created.Number)] = created
	m.createdIssues = append(m.createdIssues, issue)
	copied := *created
	return &copied, nil
}

// IssueComments returns the comments on an issue in insertion order.
func (m *MockGitHubClient) IssueComments(_ context.Context, owner, repo string, number int) ([]types.IssueComment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := issueKey(owner, repo, number)
	if err := m.methodError("IssueComments", key); err != nil {
		return nil, err
	}
	return append([]types.IssueComment(nil), m.comments[key]...), nil
}

// CreateComment records the call and appends the comment so subsequent
// reads see it.
func (m *MockGitHubClient) CreateComment(_ context.Context, owner, repo string, number int, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := issueKey(owner, repo, number)
	if err := m.methodError("CreateComment", key); err != nil {
		return err
	}

	m.nextComment++
	m.comments[key] = append(m.comments[key], types.IssueComment{
		ID:        m.nextComment,
		Author:    MockBotLogin,
		Body:      body,
		CreatedAt: time.Now(),
	})
	m.createdComments = append(m.createdComments, CreateCommentCall{
		Owner:  owner,
		Repo:   repo,
		Number: number,
		Body:   body,
	})
	return nil
}

// PullRequest returns a configured pull request with its changed files
// attached.
func (m *MockGitHubClient) PullRequest(_ context.Context, owner, repo string, number int) (*types.PullRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := issueKey(owner, repo, number)
	if err := m.methodError("PullRequest", key); err != nil {
		return nil, err
	}
	pr, ok := m.pullRequests[key]
	if !ok {
		return nil, fmt.Errorf("PR not found: %s", key)
	}
	copied := *pr
	copied.ChangedFiles = append([]types.ChangedFile(nil), m.changedFiles[key]...)
	return &copied, nil
}

// PullRequestDiff returns a configured diff.
func (m *MockGitHubClient) PullRequestDiff(_ context.Context, owner, repo string, number int) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := issueKey(owner, repo, number)
	if err := m.methodError("PullRequestDiff", key); err != nil {
		return "", err
	}
	diff, ok := m.diffs[key]
	if !ok {
		return "", fmt.Errorf("diff not found: %s", key)
	}
	return diff, nil
}

// ChangedFiles returns configured changed files.
func (m *MockGitHubClient) ChangedFiles(_ context.Context, owner, repo string, number int) ([]types.ChangedFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := issueKey(owner, repo, number)
	if err := m.methodError("ChangedFiles", key); err != nil {
		return nil, err
	}
	return append([]types.ChangedFile(nil), m.changedFiles[key]...), nil
}

// CreatePull records the call and returns the created pull request.
func (m *MockGitHubClient) CreatePull(_ context.Context, owner, repo string, pull types.NewPull) (*types.PullRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.methodError("CreatePull", repoKey(owner, repo)); err != nil {
		return nil, err
	}

	m.nextPull++
	m.createdPulls = append(m.createdPulls, CreatePullCall{Owner: owner, Repo: repo, Pull: pull})
	return &types.PullRequest{
		Number:     m.nextPull,
		Title:      pull.Title,
		Body:       pull.Body,
		HeadRef:    pull.Head,
		BaseRef:    pull.Base,
		Draft:      pull.Draft,
		State:      "open",
		Owner:      owner,
		Repository: repo,
		Author:     MockBotLogin,
	}, nil
}

// Repository returns configured repository metadata, defaulting to a
// public repo on "main" so most tests need no setup.
func (m *MockGitHubClient) Repository(_ context.Context, owner, repo string) (*types.Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := repoKey(owner, repo)
	if err := m.methodError("Repository", key); err != nil {
		return nil, err
	}
	if r, ok := m.repositories[key]; ok {
		copied := *r
		return &copied, nil
	}
	return &types.Repository{Name: repo, Owner: owner, DefaultBranch: "main"}, nil
}

// FileContent returns configured file bytes. Absent paths return nil
// without an error, matching the real client's contract.
func (m *MockGitHubClient) FileContent(_ context.Context, owner, repo, path string, _ time.Duration) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := repoKey(owner, repo) + ":" + path
	if err := m.methodError("FileContent", key); err != nil {
		return nil, err
	}
	data, ok := m.fileContents[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

// IsUserBot checks if a user is configured as a bot.
func (m *MockGitHubClient) IsUserBot(_ context.Context, username string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.botUsers[username]
}

// ListAppInstallations returns configured installations.
func (m *MockGitHubClient) ListAppInstallations(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.errors["ListAppInstallations"]; err != nil {
		return nil, err
	}
	return append([]string(nil), m.installations...), nil
}

// AddIssue stores an issue for lookup.
func (m *MockGitHubClient) AddIssue(owner, repo string, issue *types.Issue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues[issueKey(owner, repo, issue.Number)] = issue
}

// AddComment appends a comment with the given author and body.
func (m *MockGitHubClient) AddComment(owner, repo string, number int, author, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := issueKey(owner, repo, number)
	m.nextComment++
	m.comments[key] = append(m.comments[key], types.IssueComment{
		ID:        m.nextComment,
		Author:    author,
		Body:      body,
		CreatedAt: time.Now(),
	})
}

// SetPullRequest stores a pull request for lookup.
func (m *MockGitHubClient) SetPullRequest(owner, repo string, number int, pr *types.PullRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pullRequests[issueKey(owner, repo, number)] = pr
}

// SetDiff stores a diff for a pull request.
func (m *MockGitHubClient) SetDiff(owner, repo string, number int, diff string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diffs[issueKey(owner, repo, number)] = diff
}

// SetChangedFiles stores changed files for a pull request.
func (m *MockGitHubClient) SetChangedFiles(owner, repo string, number int, files []types.ChangedFile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changedFiles[issueKey(owner, repo, number)] = files
}

// SetFileContent stores file bytes served by FileContent.
func (m *MockGitHubClient) SetFileContent(owner, repo, path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fileContents[repoKey(owner, repo)+":"+path] = data
}

// SetRepository stores repository metadata.
func (m *MockGitHubClient) SetRepository(owner, repo string, r *types.Repository) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repositories[repoKey(owner, repo)] = r
}

// SetBotUser marks a username as a bot or not.
func (m *MockGitHubClient) SetBotUser(username string, isBot bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUsers[username] = isBot
}

// SetUserAccount marks an account as a user account.
func (m *MockGitHubClient) SetUserAccount(account string, isUser bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isUserAccount[account] = isUser
}

// SetToken sets the token returned by Token.
func (m *MockGitHubClient) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// SetInstallations sets the app installations list.
func (m *MockGitHubClient) SetInstallations(installations []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.installations = installations
}

// SetError configures an error for a method. The key is either the
// bare method name ("CreateComment") or method plus parameters
// ("CreateComment:owner/repo/7").
func (m *MockGitHubClient) SetError(methodWithParams string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[methodWithParams] = err
}

// CreatedIssues returns every CreateIssue payload in call order.
func (m *MockGitHubClient) CreatedIssues() []types.NewIssue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.NewIssue(nil), m.createdIssues...)
}

// CreateCommentCalls returns every CreateComment call in order.
func (m *MockGitHubClient) CreateCommentCalls() []CreateCommentCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]CreateCommentCall(nil), m.createdComments...)
}

// CreatedPulls returns every CreatePull call in order.
func (m *MockGitHubClient) CreatedPulls() []CreatePullCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]CreatePullCall(nil), m.createdPulls...)
}

// MockPrxClient implements the prx client interface for testing.
type MockPrxClient struct {
	responses map[string]any
	errors    map[string]error
	mu        sync.RWMutex
}

// NewMockPrxClient creates a new MockPrxClient.
func NewMockPrxClient() *MockPrxClient {
	return &MockPrxClient{
		responses: make(map[string]any),
		errors:    make(map[string]error),
	}
}

// PullRequestWithReferenceTime returns a configured response.
func (m *MockPrxClient) PullRequestWithReferenceTime(_ context.Context, owner, repo string, prNumber int, _ time.Time) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := issueKey(owner, repo, prNumber)
	if err := m.errors[key]; err != nil {
		return nil, err
	}
	if resp, ok := m.responses[key]; ok {
		return resp, nil
	}
	return nil, fmt.Errorf("no prx response configured for %s", key)
}

// SetResponse configures a response for a pull request.
func (m *MockPrxClient) SetResponse(owner, repo string, prNumber int, response any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[issueKey(owner, repo, prNumber)] = response
}

// SetPrxError configures an error for a pull request.
func (m *MockPrxClient) SetPrxError(owner, repo string, prNumber int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[issueKey(owner, repo, prNumber)] = err
}
