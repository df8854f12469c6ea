package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/repo-butler/pkg/cache"
	"github.com/codeGROOVE-dev/repo-butler/pkg/types"
)

// issueData is the wire shape shared by the single-issue and list
// endpoints. The issues API returns pull requests too; the presence of
// the pull_request key is the only reliable discriminator.
type issueData struct {
	Title             string `json:"title"`
	Body              string `json:"body"`
	State             string `json:"state"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
	AuthorAssociation string `json:"author_association"`
	User              struct {
		Login string `json:"login"`
	} `json:"user"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request,omitempty"`
	Number int `json:"number"`
}

func (d *issueData) toIssue() types.Issue {
	labels := make([]string, 0, len(d.Labels))
	for _, l := range d.Labels {
		labels = append(labels, l.Name)
	}

	createdAt, err := time.Parse(time.RFC3339, d.CreatedAt)
	if err != nil {
		createdAt = time.Time{}
	}
	updatedAt, err := time.Parse(time.RFC3339, d.UpdatedAt)
	if err != nil {
		updatedAt = time.Time{}
	}

	return types.Issue{
		Number:            d.Number,
		Title:             d.Title,
		Body:              d.Body,
		State:             d.State,
		Author:            d.User.Login,
		AuthorAssociation: d.AuthorAssociation,
		Labels:            labels,
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
		IsPullRequest:     d.PullRequest != nil,
	}
}

// Issue fetches a single issue. The result may describe a pull request;
// callers that only want real issues check IsPullRequest.
func (c *Client) Issue(ctx context.Context, owner, repo string, number int) (*types.Issue, error) {
	slog.Info("Fetching issue", "component", "api", "owner", owner, "repo", repo, "issue", number)
	apiURL := fmt.Sprintf("%s/repos/%s/%s/issues/%d", c.baseURL, owner, repo, number)
	resp, err := c.doRequest(ctx, "GET", apiURL, nil) //nolint:bodyclose // body is closed via defer drainAndCloseBody
	if err != nil {
		return nil, err
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get issue (status %d)", resp.StatusCode)
	}

	var data issueData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode issue: %w", err)
	}

	issue := data.toIssue()
	return &issue, nil
}

// OpenIssuesByLabel returns the open issues carrying the given label,
// oldest first (GitHub's default sort is by creation date descending,
// so we request ascending to keep first-created-wins semantics for
// singleton lookups). Pull requests are filtered out.
func (c *Client) OpenIssuesByLabel(ctx context.Context, owner, repo, label string) ([]types.Issue, error) {
	slog.Info("Fetching open issues by label", "component", "api", "owner", owner, "repo", repo, "label", label)
	apiURL := fmt.Sprintf("%s/repos/%s/%s/issues?state=open&labels=%s&sort=created&direction=asc&per_page=%d",
		c.baseURL, owner, repo, url.QueryEscape(label), perPageLimit)
	resp, err := c.doRequest(ctx, "GET", apiURL, nil) //nolint:bodyclose // body is closed via defer drainAndCloseBody
	if err != nil {
		return nil, err
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list issues (status %d)", resp.StatusCode)
	}

	var items []issueData
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode issues: %w", err)
	}

	issues := make([]types.Issue, 0, len(items))
	for i := range items {
		if items[i].PullRequest != nil {
			continue
		}
		issues = append(issues, items[i].toIssue())
	}

	return issues, nil
}

// CreateIssue opens a new issue and returns it.
func (c *Client) CreateIssue(ctx context.Context, owner, repo string, issue types.NewIssue) (*types.Issue, error) {
	slog.Info("Creating issue", "component", "api", "owner", owner, "repo", repo, "title", issue.Title)
	apiURL := fmt.Sprintf("%s/repos/%s/%s/issues", c.baseURL, owner, repo)
	payload := map[string]any{
		"title": issue.Title,
		"body":  issue.Body,
	}
	if len(issue.Labels) > 0 {
		payload["labels"] = issue.Labels
	}

	resp, err := c.doRequest(ctx, "POST", apiURL, payload) //nolint:bodyclose // body is closed via defer drainAndCloseBody
	if err != nil {
		return nil, err
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("failed to create issue (status %d)", resp.StatusCode)
	}

	var data issueData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode created issue: %w", err)
	}

	created := data.toIssue()
	slog.Info("Created issue", "owner", owner, "repo", repo, "issue", created.Number)
	return &created, nil
}

// IssueComments returns every comment on an issue or pull request in
// creation order, walking all pages. Never served from cache: the rate
// limit ledger reads through this and must see the latest records.
func (c *Client) IssueComments(ctx context.Context, owner, repo string, number int) ([]types.IssueComment, error) {
	slog.Info("Fetching issue comments", "component", "api", "owner", owner, "repo", repo, "issue", number)

	var all []types.IssueComment
	page := 1

	for {
		apiURL := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments?per_page=%d&page=%d",
			c.baseURL, owner, repo, number, perPageLimit, page)

		comments, lastPage, err := func() ([]types.IssueComment, bool, error) {
			resp, err := c.doRequest(ctx, "GET", apiURL, nil) //nolint:bodyclose // body is closed via defer drainAndCloseBody
			if err != nil {
				return nil, false, err
			}
			defer drainAndCloseBody(resp.Body)

			if resp.StatusCode != http.StatusOK {
				return nil, false, fmt.Errorf("failed to list comments (status %d)", resp.StatusCode)
			}

			var items []struct {
				Body              string `json:"body"`
				CreatedAt         string `json:"created_at"`
				AuthorAssociation string `json:"author_association"`
				User              struct {
					Login string `json:"login"`
				} `json:"user"`
				ID int64 `json:"id"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
				return nil, false, fmt.Errorf("failed to decode comments: %w", err)
			}

			comments := make([]types.IssueComment, 0, len(items))
			for _, item := range items {
				createdAt, err := time.Parse(time.RFC3339, item.CreatedAt)
				if err != nil {
					createdAt = time.Time{}
				}
				comments = append(comments, types.IssueComment{
					ID:                item.ID,
					Author:            item.User.Login,
					AuthorAssociation: item.AuthorAssociation,
					Body:              item.Body,
					CreatedAt:         createdAt,
				})
			}
			return comments, len(items) < perPageLimit, nil
		}()
		if err != nil {
			return nil, err
		}

		all = append(all, comments...)
		if lastPage {
			break
		}
		page++
	}

	return all, nil
}

// CreateComment posts a comment on an issue or pull request.
func (c *Client) CreateComment(ctx context.Context, owner, repo string, number int, body string) error {
	slog.Info("Creating comment", "component", "api", "owner", owner, "repo", repo, "issue", number)
	apiURL := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments", c.baseURL, owner, repo, number)
	payload := map[string]string{"body": body}

	resp, err := c.doRequest(ctx, "POST", apiURL, payload) //nolint:bodyclose // body is closed via defer drainAndCloseBody
	if err != nil {
		return err
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("failed to create comment (status %d)", resp.StatusCode)
	}

	return nil
}

// Repository fetches repository metadata. Cached: the default branch
// changes rarely.
func (c *Client) Repository(ctx context.Context, owner, repo string) (*types.Repository, error) {
	cacheKey := makeCacheKey("repo", owner, repo)
	if cached, hit := c.cache.Lookup(cacheKey); hit != cache.HitMiss {
		if r, ok := cached.(*types.Repository); ok {
			slog.Info("Fetching repository metadata", "component", "api", "owner", owner, "repo", repo, "cache", hit)
			return r, nil
		}
	}

	slog.Info("Fetching repository metadata", "component", "api", "owner", owner, "repo", repo, "cache", "miss")
	apiURL := fmt.Sprintf("%s/repos/%s/%s", c.baseURL, owner, repo)
	resp, err := c.doRequest(ctx, "GET", apiURL, nil) //nolint:bodyclose // body is closed via defer drainAndCloseBody
	if err != nil {
		return nil, err
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get repository (status %d)", resp.StatusCode)
	}

	var data struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
		DefaultBranch string `json:"default_branch"`
		Private       bool   `json:"private"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode repository: %w", err)
	}

	r := &types.Repository{
		Name:          data.Name,
		Owner:         data.Owner.Login,
		DefaultBranch: data.DefaultBranch,
		Private:       data.Private,
	}
	c.cache.SetWithTTL(cacheKey, r, cache.TTLRepoMetadata)

	return r, nil
}

// FileContent fetches a file from the repository's default branch via
// the contents API. A missing file is not an error: it returns
// (nil, nil) so callers can fall back to defaults. Successful reads
// are cached for the given TTL; ttl <= 0 disables caching.
func (c *Client) FileContent(ctx context.Context, owner, repo, path string, ttl time.Duration) ([]byte, error) {
	cacheKey := makeCacheKey("file", owner, repo, path)
	if ttl > 0 {
		if cached, hit := c.cache.Lookup(cacheKey); hit != cache.HitMiss {
			if s, ok := cached.(string); ok {
				slog.Info("Fetching file content", "component", "api", "owner", owner, "repo", repo, "path", path, "cache", hit)
				return []byte(s), nil
			}
		}
	}

	slog.Info("Fetching file content", "component", "api", "owner", owner, "repo", repo, "path", path, "cache", "miss")
	apiURL := fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.baseURL, owner, repo, path)
	resp, err := c.doRequest(ctx, "GET", apiURL, nil) //nolint:bodyclose // body is closed via defer drainAndCloseBody
	if err != nil {
		return nil, err
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get file content (status %d)", resp.StatusCode)
	}

	var data struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode file content: %w", err)
	}

	if data.Encoding != "base64" {
		return nil, fmt.Errorf("unexpected content encoding %q for %s", data.Encoding, path)
	}

	// The contents API wraps base64 at 60 columns.
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(data.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("failed to decode file content: %w", err)
	}

	if ttl > 0 {
		c.cache.SetWithTTL(cacheKey, string(decoded), ttl)
	}

	return decoded, nil
}
