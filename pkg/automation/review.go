package automation

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeGROOVE-dev/repo-butler/pkg/llm"
)

// skipReviewLabel excludes a PR from automated review when the
// repository allows it.
const skipReviewLabel = "skip-butler-review"

// reviewMarkerFormat embeds the reviewed head SHA in the review
// comment so re-runs on the same commit are no-ops.
const reviewMarkerFormat = "<!-- repo-butler-review:%s -->"

// Review comment scaffolding.
const (
	reviewHeader = "## 🤖 Automated Code Review\n\n"
	reviewFooter = "\n\n---\n*This is an automated review. Feel free to ask questions by mentioning @repo-butler in a comment.*"
)

// reviewDenyComment is posted when the daily review budget is spent.
const reviewDenyComment = "⚠️ Daily automated review limit reached. A team member will review this PR."

// ReviewPullRequest posts an automated review on one pull request.
// Draft state, skip labels, an already-reviewed head commit, and file
// count bounds all skip quietly; a spent review budget posts a notice
// instead of a review.
func (r *Runner) ReviewPullRequest(ctx context.Context, owner, repo string, number int) (Outcome, error) {
	logger := r.logger.With("owner", owner, "repo", repo, "pr", number)

	pr, err := r.gh.PullRequest(ctx, owner, repo, number)
	if err != nil {
		return "", fmt.Errorf("failed to fetch PR #%d: %w", number, err)
	}
	if pr.State != "open" {
		logger.Info("Skipping review: PR is not open", "state", pr.State)
		return OutcomeSkipped, nil
	}

	cfg := r.resolveConfig(ctx, owner, repo)
	if cfg.CodeReview.SkipDraftPRs && pr.Draft {
		logger.Info("Skipping review: draft PR")
		return OutcomeSkipped, nil
	}
	if cfg.CodeReview.AllowSkipLabel && hasLabel(pr.Labels, skipReviewLabel) {
		logger.Info("Skipping review: skip label present", "label", skipReviewLabel)
		return OutcomeSkipped, nil
	}

	marker := fmt.Sprintf(reviewMarkerFormat, pr.HeadSHA)
	comments, err := r.gh.IssueComments(ctx, owner, repo, number)
	if err != nil {
		return "", fmt.Errorf("failed to list PR comments: %w", err)
	}
	for _, c := range comments {
		if strings.Contains(c.Body, marker) {
			logger.Info("Skipping review: head commit already reviewed", "sha", pr.HeadSHA)
			return OutcomeSkipped, nil
		}
	}

	if r.opts.DryRun {
		logger.Info("Dry run: would review pull request", "sha", pr.HeadSHA)
		return OutcomeSkipped, nil
	}

	limiter := r.newLimiter(cfg, owner, repo)
	decision, err := limiter.CheckCodeReview(ctx)
	if err != nil {
		return "", fmt.Errorf("review rate check failed: %w", err)
	}
	if !decision.Allowed {
		logger.Warn("Review denied by rate limit", "reason", decision.Reason)
		if err := r.gh.CreateComment(ctx, owner, repo, number, reviewDenyComment); err != nil {
			return "", fmt.Errorf("failed to post review limit notice: %w", err)
		}
		return OutcomeDenied, nil
	}
	logger.Info("Review rate check passed", "reason", decision.Reason)

	fileCount := len(pr.ChangedFiles)
	if fileCount < cfg.CodeReview.MinFilesChanged {
		logger.Info("Skipping review: too few changed files", "files", fileCount, "min", cfg.CodeReview.MinFilesChanged)
		return OutcomeSkipped, nil
	}
	if fileCount > cfg.CodeReview.MaxFilesChanged {
		logger.Info("Skipping review: too many changed files", "files", fileCount, "max", cfg.CodeReview.MaxFilesChanged)
		notice := fmt.Sprintf(
			"⚠️ This PR changes %d files, which exceeds the automatic review limit of %d files. A team member will review this manually.",
			fileCount, cfg.CodeReview.MaxFilesChanged)
		if err := r.gh.CreateComment(ctx, owner, repo, number, notice); err != nil {
			return "", fmt.Errorf("failed to post file count notice: %w", err)
		}
		return OutcomeSkipped, nil
	}

	diff, err := r.gh.PullRequestDiff(ctx, owner, repo, number)
	if err != nil {
		return "", fmt.Errorf("failed to fetch PR diff: %w", err)
	}

	rc := r.loadContext(ctx, owner, repo)
	review, err := r.llm.Complete(ctx, llm.Request{
		System:    reviewSystemPrompt(rc.Guidelines),
		Prompt:    reviewUserMessage(pr, diff),
		MaxTokens: reviewMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate review: %w", err)
	}

	body := reviewHeader + review + reviewFooter + "\n\n" + marker
	if err := r.gh.CreateComment(ctx, owner, repo, number, body); err != nil {
		return "", fmt.Errorf("failed to post review: %w", err)
	}
	logger.Info("Posted code review", "sha", pr.HeadSHA)
	return OutcomeCompleted, nil
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}
