package github

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/repo-butler/pkg/cache"
	"github.com/codeGROOVE-dev/repo-butler/pkg/types"
)

// PR-related constants.
const (
	perPageLimit = 100 // GitHub API per_page limit
)

// PullRequest fetches a single pull request with its changed files.
// Never served from cache: review admission depends on the live head
// SHA and draft state.
func (c *Client) PullRequest(ctx context.Context, owner, repo string, prNumber int) (*types.PullRequest, error) {
	// prx holds richer PR state (checks, review threads) and keeps its
	// own cache; warming it here makes later lookups by other tooling
	// cheap. REST remains the source of truth.
	if c.prxClient != nil {
		if _, err := c.prxClient.PullRequestWithReferenceTime(ctx, owner, repo, prNumber, time.Now()); err != nil {
			slog.Debug("prx pre-warm failed (continuing with REST)", "owner", owner, "repo", repo, "pr", prNumber, "error", err)
		}
	}

	slog.Info("Fetching PR details", "component", "api", "owner", owner, "repo", repo, "pr", prNumber)
	apiURL := fmt.Sprintf("%s/repos/%s/%s/pulls/%d", c.baseURL, owner, repo, prNumber)
	resp, err := c.doRequest(ctx, "GET", apiURL, nil) //nolint:bodyclose // body is closed via defer drainAndCloseBody
	if err != nil {
		return nil, err
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get PR (status %d)", resp.StatusCode)
	}

	var prData struct {
		Title             string `json:"title"`
		Body              string `json:"body"`
		State             string `json:"state"`
		CreatedAt         string `json:"created_at"`
		UpdatedAt         string `json:"updated_at"`
		AuthorAssociation string `json:"author_association"`
		User              struct {
			Login string `json:"login"`
		} `json:"user"`
		Head struct {
			SHA string `json:"sha"`
			Ref string `json:"ref"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
		Number int  `json:"number"`
		Draft  bool `json:"draft"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&prData); err != nil {
		return nil, fmt.Errorf("failed to decode pull request: %w", err)
	}

	createdAt, err := time.Parse(time.RFC3339, prData.CreatedAt)
	if err != nil {
		slog.Warn("Failed to parse created_at time", "error", err)
		createdAt = time.Now()
	}
	updatedAt, err := time.Parse(time.RFC3339, prData.UpdatedAt)
	if err != nil {
		slog.Warn("Failed to parse updated_at time", "error", err)
		updatedAt = time.Now()
	}

	labels := make([]string, 0, len(prData.Labels))
	for _, l := range prData.Labels {
		labels = append(labels, l.Name)
	}

	pr := &types.PullRequest{
		Number:            prData.Number,
		Title:             prData.Title,
		Body:              prData.Body,
		State:             prData.State,
		Draft:             prData.Draft,
		Author:            prData.User.Login,
		AuthorAssociation: prData.AuthorAssociation,
		Labels:            labels,
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
		Repository:        repo,
		Owner:             owner,
		BaseRef:           prData.Base.Ref,
		HeadRef:           prData.Head.Ref,
		HeadSHA:           prData.Head.SHA,
	}

	changedFiles, err := c.ChangedFiles(ctx, owner, repo, prNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to get changed files: %w", err)
	}
	pr.ChangedFiles = changedFiles

	return pr, nil
}

// PullRequestDiff fetches the unified diff for a pull request.
func (c *Client) PullRequestDiff(ctx context.Context, owner, repo string, prNumber int) (string, error) {
	slog.Info("Fetching PR diff", "component", "api", "owner", owner, "repo", repo, "pr", prNumber)
	apiURL := fmt.Sprintf("%s/repos/%s/%s/pulls/%d", c.baseURL, owner, repo, prNumber)
	body, err := c.doRaw(ctx, "GET", apiURL, acceptDiff)
	if err != nil {
		return "", fmt.Errorf("failed to get PR diff: %w", err)
	}
	return string(body), nil
}

// ChangedFiles fetches the list of changed files in a PR, walking all
// pages. Patches are included.
func (c *Client) ChangedFiles(ctx context.Context, owner, repo string, prNumber int) ([]types.ChangedFile, error) {
	cacheKey := makeCacheKey("pr-files", owner, repo, fmt.Sprintf("%d", prNumber))
	if cached, hit := c.cache.Lookup(cacheKey); hit != cache.HitMiss {
		if files, ok := cached.([]types.ChangedFile); ok {
			slog.Info("Fetching changed files for PR", "component", "api", "owner", owner, "repo", repo, "pr", prNumber, "cache", hit)
			return files, nil
		}
	}

	slog.Info("Fetching changed files for PR", "component", "api", "owner", owner, "repo", repo, "pr", prNumber, "cache", "miss")

	var changedFiles []types.ChangedFile
	page := 1

	for {
		apiURL := fmt.Sprintf("%s/repos/%s/%s/pulls/%d/files?per_page=%d&page=%d",
			c.baseURL, owner, repo, prNumber, perPageLimit, page)

		files, lastPage, err := func() ([]types.ChangedFile, bool, error) {
			resp, err := c.doRequest(ctx, "GET", apiURL, nil) //nolint:bodyclose // body is closed via defer drainAndCloseBody
			if err != nil {
				return nil, false, err
			}
			defer drainAndCloseBody(resp.Body)

			if resp.StatusCode != http.StatusOK {
				return nil, false, fmt.Errorf("failed to list changed files (status %d)", resp.StatusCode)
			}

			var items []struct {
				Filename  string `json:"filename"`
				Status    string `json:"status"`
				Patch     string `json:"patch"`
				Additions int    `json:"additions"`
				Deletions int    `json:"deletions"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
				return nil, false, fmt.Errorf("failed to decode changed files: %w", err)
			}

			files := make([]types.ChangedFile, 0, len(items))
			for _, f := range items {
				files = append(files, types.ChangedFile{
					Filename:  f.Filename,
					Status:    f.Status,
					Additions: f.Additions,
					Deletions: f.Deletions,
					Patch:     f.Patch,
				})
			}
			return files, len(items) < perPageLimit, nil
		}()
		if err != nil {
			return nil, err
		}

		changedFiles = append(changedFiles, files...)
		if lastPage {
			break
		}
		page++
	}

	c.cache.SetWithTTL(cacheKey, changedFiles, cache.TTLPullRequestFiles)

	return changedFiles, nil
}

// CreatePull opens a pull request against the given base branch.
func (c *Client) CreatePull(ctx context.Context, owner, repo string, pull types.NewPull) (*types.PullRequest, error) {
	slog.Info("Creating pull request", "component", "api", "owner", owner, "repo", repo, "head", pull.Head, "base", pull.Base, "draft", pull.Draft)
	apiURL := fmt.Sprintf("%s/repos/%s/%s/pulls", c.baseURL, owner, repo)
	payload := map[string]any{
		"title": pull.Title,
		"body":  pull.Body,
		"head":  pull.Head,
		"base":  pull.Base,
		"draft": pull.Draft,
	}

	resp, err := c.doRequest(ctx, "POST", apiURL, payload) //nolint:bodyclose // body is closed via defer drainAndCloseBody
	if err != nil {
		return nil, err
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("failed to create pull request (status %d)", resp.StatusCode)
	}

	var data struct {
		Title string `json:"title"`
		State string `json:"state"`
		User  struct {
			Login string `json:"login"`
		} `json:"user"`
		Head struct {
			SHA string `json:"sha"`
			Ref string `json:"ref"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
		Number int  `json:"number"`
		Draft  bool `json:"draft"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode created pull request: %w", err)
	}

	created := &types.PullRequest{
		Number:     data.Number,
		Title:      data.Title,
		State:      data.State,
		Draft:      data.Draft,
		Author:     data.User.Login,
		Repository: repo,
		Owner:      owner,
		BaseRef:    data.Base.Ref,
		HeadRef:    data.Head.Ref,
		HeadSHA:    data.Head.SHA,
	}
	slog.Info("Created pull request", "owner", owner, "repo", repo, "pr", created.Number)
	return created, nil
}
