package automation

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeGROOVE-dev/repo-butler/pkg/llm"
)

// BotHandle is the mention that triggers a response.
const BotHandle = "@repo-butler"

// botLogin is the login GitHub attributes the App's own comments to.
const botLogin = "repo-butler[bot]"

// mentionDenyFormat is the reply when the commenter's mention budget
// is spent; the deny reason fills the second slot.
const mentionDenyFormat = "@%s I've reached my daily mention-response limit. I'll be able to respond again after UTC midnight.\n\n_%s_"

// recentCommentWindow caps how much prior discussion goes into an
// issue mention prompt.
const recentCommentWindow = 10

// Mention is one comment that may address the butler.
type Mention struct {
	Owner         string
	Repo          string
	Actor         string
	Association   string
	Body          string
	Number        int
	IsPullRequest bool
}

// RespondToMention replies to one @repo-butler mention. Comments that
// do not carry the handle, or come from bots, are ignored.
func (r *Runner) RespondToMention(ctx context.Context, m Mention) (Outcome, error) {
	logger := r.logger.With("owner", m.Owner, "repo", m.Repo, "number", m.Number, "actor", m.Actor)

	if !strings.Contains(m.Body, BotHandle) {
		logger.Info("Skipping mention: handle not present")
		return OutcomeSkipped, nil
	}
	if r.gh.IsUserBot(ctx, m.Actor) {
		logger.Info("Skipping mention: commenter is a bot")
		return OutcomeSkipped, nil
	}

	if r.opts.DryRun {
		logger.Info("Dry run: would respond to mention")
		return OutcomeSkipped, nil
	}

	cfg := r.resolveConfig(ctx, m.Owner, m.Repo)
	limiter := r.newLimiter(cfg, m.Owner, m.Repo)
	decision, err := limiter.CheckMentionResponse(ctx, m.Actor, m.Association)
	if err != nil {
		return "", fmt.Errorf("mention rate check failed: %w", err)
	}
	if !decision.Allowed {
		logger.Warn("Mention denied by rate limit", "reason", decision.Reason)
		notice := fmt.Sprintf(mentionDenyFormat, m.Actor, decision.Reason)
		if err := r.gh.CreateComment(ctx, m.Owner, m.Repo, m.Number, notice); err != nil {
			return "", fmt.Errorf("failed to post mention limit notice: %w", err)
		}
		return OutcomeDenied, nil
	}
	logger.Info("Mention rate check passed", "reason", decision.Reason)

	rc := r.loadContext(ctx, m.Owner, m.Repo)
	var response string
	if m.IsPullRequest {
		response, err = r.pullRequestReply(ctx, m, rc)
	} else {
		response, err = r.issueReply(ctx, m, rc)
	}
	if err != nil {
		return "", err
	}

	reply := fmt.Sprintf("@%s\n\n%s", m.Actor, response)
	if err := r.gh.CreateComment(ctx, m.Owner, m.Repo, m.Number, reply); err != nil {
		return "", fmt.Errorf("failed to post mention response: %w", err)
	}
	logger.Info("Posted mention response")
	return OutcomeCompleted, nil
}

// RespondToLatestMention finds the newest unanswered @repo-butler
// mention on an issue or PR and responds to it. Bot mode entry point:
// webhook deliveries carry no workflow payload, so the comment of
// record is looked up here.
func (r *Runner) RespondToLatestMention(ctx context.Context, owner, repo string, number int) (Outcome, error) {
	logger := r.logger.With("owner", owner, "repo", repo, "number", number)

	issue, err := r.gh.Issue(ctx, owner, repo, number)
	if err != nil {
		return "", fmt.Errorf("failed to fetch issue #%d: %w", number, err)
	}
	comments, err := r.gh.IssueComments(ctx, owner, repo, number)
	if err != nil {
		return "", fmt.Errorf("failed to list comments: %w", err)
	}

	mention := -1
	for i, c := range comments {
		if c.Author == botLogin {
			continue
		}
		if strings.Contains(c.Body, BotHandle) {
			mention = i
		}
	}
	if mention < 0 {
		logger.Info("Skipping mention scan: no mention found")
		return OutcomeSkipped, nil
	}
	for _, c := range comments[mention+1:] {
		if c.Author == botLogin {
			logger.Info("Skipping mention: already answered")
			return OutcomeSkipped, nil
		}
	}

	c := comments[mention]
	return r.RespondToMention(ctx, Mention{
		Owner:         owner,
		Repo:          repo,
		Actor:         c.Author,
		Association:   c.AuthorAssociation,
		Body:          c.Body,
		Number:        number,
		IsPullRequest: issue.IsPullRequest,
	})
}

func (r *Runner) pullRequestReply(ctx context.Context, m Mention, rc repoContext) (string, error) {
	pr, err := r.gh.PullRequest(ctx, m.Owner, m.Repo, m.Number)
	if err != nil {
		return "", fmt.Errorf("failed to fetch PR #%d: %w", m.Number, err)
	}
	diff, err := r.gh.PullRequestDiff(ctx, m.Owner, m.Repo, m.Number)
	if err != nil {
		return "", fmt.Errorf("failed to fetch PR diff: %w", err)
	}
	response, err := r.llm.Complete(ctx, llm.Request{
		System:    prMentionSystemPrompt(rc.Guidelines),
		Prompt:    prMentionUserMessage(pr, diff, m.Actor, m.Body),
		MaxTokens: mentionMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate mention response: %w", err)
	}
	return response, nil
}

func (r *Runner) issueReply(ctx context.Context, m Mention, rc repoContext) (string, error) {
	issue, err := r.gh.Issue(ctx, m.Owner, m.Repo, m.Number)
	if err != nil {
		return "", fmt.Errorf("failed to fetch issue #%d: %w", m.Number, err)
	}
	comments, err := r.gh.IssueComments(ctx, m.Owner, m.Repo, m.Number)
	if err != nil {
		return "", fmt.Errorf("failed to list comments: %w", err)
	}
	recent := comments
	if len(recent) > recentCommentWindow {
		recent = recent[len(recent)-recentCommentWindow:]
	}
	response, err := r.llm.Complete(ctx, llm.Request{
		System:    issueMentionSystemPrompt(rc),
		Prompt:    issueMentionUserMessage(issue, recent, m.Actor, m.Body),
		MaxTokens: mentionMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate mention response: %w", err)
	}
	return response, nil
}
