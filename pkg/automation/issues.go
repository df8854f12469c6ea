package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/codeGROOVE-dev/repo-butler/pkg/llm"
	"github.com/codeGROOVE-dev/repo-butler/pkg/types"
)

// Implementation branch and plan file naming.
const (
	branchPrefix = "butler/issue-"
	planFile     = "IMPLEMENTATION_PLAN.md"
)

// issueDenyFormat is posted when the author's evaluation budget is
// spent; the deny reason fills the second slot.
const issueDenyFormat = "@%s thanks for the issue! I've hit my daily evaluation limit; I'll take a look tomorrow.\n\n_%s_"

// evaluationMarker identifies a prior evaluation comment so webhook
// re-deliveries and workflow re-runs stay idempotent.
const evaluationMarker = "*Automated evaluation by repo-butler*"

const evaluationFooter = "\n\n---\n" + evaluationMarker

// evaluation is the JSON contract the evaluation prompt requests.
type evaluation struct {
	Reasoning          string   `json:"reasoning"`
	ImplementationPlan string   `json:"implementation_plan"`
	Questions          []string `json:"questions"`
	Implementable      bool     `json:"implementable"`
}

// EvaluateIssue judges whether a newly opened issue is implementable
// and responds: an implementation attempt ending in a draft PR, a plan
// for someone else to follow, or clarifying questions. Unparseable
// model output degrades to a clarification request, never a failure.
func (r *Runner) EvaluateIssue(ctx context.Context, owner, repo string, number int) (Outcome, error) {
	logger := r.logger.With("owner", owner, "repo", repo, "issue", number)

	issue, err := r.gh.Issue(ctx, owner, repo, number)
	if err != nil {
		return "", fmt.Errorf("failed to fetch issue #%d: %w", number, err)
	}
	if issue.IsPullRequest {
		logger.Info("Skipping evaluation: issue is a pull request")
		return OutcomeSkipped, nil
	}
	if issue.State != "open" {
		logger.Info("Skipping evaluation: issue is not open", "state", issue.State)
		return OutcomeSkipped, nil
	}
	if r.gh.IsUserBot(ctx, issue.Author) {
		logger.Info("Skipping evaluation: issue opened by a bot", "author", issue.Author)
		return OutcomeSkipped, nil
	}

	comments, err := r.gh.IssueComments(ctx, owner, repo, number)
	if err != nil {
		return "", fmt.Errorf("failed to list issue comments: %w", err)
	}
	for _, c := range comments {
		if strings.Contains(c.Body, evaluationMarker) {
			logger.Info("Skipping evaluation: issue already evaluated")
			return OutcomeSkipped, nil
		}
	}

	if r.opts.DryRun {
		logger.Info("Dry run: would evaluate issue", "author", issue.Author)
		return OutcomeSkipped, nil
	}

	cfg := r.resolveConfig(ctx, owner, repo)
	limiter := r.newLimiter(cfg, owner, repo)
	decision, err := limiter.CheckIssueEvaluation(ctx, issue.Author, issue.AuthorAssociation)
	if err != nil {
		return "", fmt.Errorf("evaluation rate check failed: %w", err)
	}
	if !decision.Allowed {
		logger.Warn("Evaluation denied by rate limit", "author", issue.Author, "reason", decision.Reason)
		notice := fmt.Sprintf(issueDenyFormat, issue.Author, decision.Reason)
		if err := r.gh.CreateComment(ctx, owner, repo, number, notice); err != nil {
			return "", fmt.Errorf("failed to post evaluation limit notice: %w", err)
		}
		return OutcomeDenied, nil
	}
	logger.Info("Evaluation rate check passed", "reason", decision.Reason)

	rc := r.loadContext(ctx, owner, repo)
	response, err := r.llm.Complete(ctx, llm.Request{
		System:    evalSystemPrompt(rc),
		Prompt:    evalUserMessage(issue),
		MaxTokens: evalMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to evaluate issue: %w", err)
	}

	eval, err := parseEvaluation(response)
	if err != nil {
		logger.Warn("Unparseable evaluation, asking for clarification", "error", err)
		eval = &evaluation{
			Reasoning: "Unable to parse evaluation",
			Questions: []string{"Could you provide more details about this request?"},
		}
	}

	autoImplement := eval.Implementable && limiter.ShouldAutoImplement(issue.AuthorAssociation)
	if autoImplement && r.git == nil {
		logger.Info("No workspace checkout, posting plan only")
		autoImplement = false
	}

	switch {
	case autoImplement:
		comment := implementableComment(issue.Author, eval.ImplementationPlan, true)
		if err := r.gh.CreateComment(ctx, owner, repo, number, comment); err != nil {
			return "", fmt.Errorf("failed to post evaluation: %w", err)
		}
		logger.Info("Posted implementation plan, attempting implementation")
		if !r.attemptImplementation(ctx, logger, owner, repo, issue, rc) {
			followUp := fmt.Sprintf(
				"@%s I encountered some difficulties implementing this. Could you provide more details or clarify the requirements?",
				issue.Author)
			if err := r.gh.CreateComment(ctx, owner, repo, number, followUp); err != nil {
				logger.Error("Failed to post implementation follow-up", "error", err)
			}
		}
	case eval.Implementable:
		comment := implementableComment(issue.Author, eval.ImplementationPlan, false)
		if err := r.gh.CreateComment(ctx, owner, repo, number, comment); err != nil {
			return "", fmt.Errorf("failed to post evaluation: %w", err)
		}
		logger.Info("Posted evaluation without auto-implementation")
	default:
		comment := clarificationComment(issue.Author, eval.Reasoning, eval.Questions)
		if err := r.gh.CreateComment(ctx, owner, repo, number, comment); err != nil {
			return "", fmt.Errorf("failed to post clarification request: %w", err)
		}
		logger.Info("Posted clarification request")
	}
	return OutcomeCompleted, nil
}

// attemptImplementation pushes an implementation plan branch and opens
// a draft PR for it. Failures are logged and reported to the caller,
// never returned: the evaluation comment already posted stands on its
// own.
func (r *Runner) attemptImplementation(ctx context.Context, logger *slog.Logger, owner, repo string, issue *types.Issue, rc repoContext) bool {
	suffix := r.opts.RunID
	if suffix == "" {
		suffix = uuid.NewString()[:8]
	}
	branch := fmt.Sprintf("%s%d-%s", branchPrefix, issue.Number, suffix)
	logger = logger.With("branch", branch)

	if err := r.git.EnsureIdentity(ctx); err != nil {
		logger.Error("Failed to configure git identity", "error", err)
		return false
	}
	if err := r.git.CreateBranch(ctx, branch); err != nil {
		logger.Error("Failed to create branch", "error", err)
		return false
	}

	plan, err := r.llm.Complete(ctx, llm.Request{
		System:    implementSystemPrompt(rc.Guidelines),
		Prompt:    implementUserMessage(issue),
		MaxTokens: implementMaxTokens,
	})
	if err != nil {
		logger.Error("Failed to generate implementation plan", "error", err)
		return false
	}

	content := fmt.Sprintf("Implementation plan for issue #%d\n\n%s", issue.Number, plan)
	message := fmt.Sprintf("Add implementation plan for issue #%d", issue.Number)
	if err := r.git.CommitFile(ctx, planFile, content, message); err != nil {
		logger.Error("Failed to commit implementation plan", "error", err)
		return false
	}

	token, err := r.gh.Token(ctx)
	if err != nil {
		logger.Error("Failed to resolve push token", "error", err)
		return false
	}
	remote := fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git", token, owner, repo)
	if err := r.git.Push(ctx, remote, branch); err != nil {
		logger.Error("Failed to push branch", "error", err)
		return false
	}

	repository, err := r.gh.Repository(ctx, owner, repo)
	if err != nil {
		logger.Error("Failed to fetch repository metadata", "error", err)
		return false
	}
	pull, err := r.gh.CreatePull(ctx, owner, repo, types.NewPull{
		Title: fmt.Sprintf("Fix #%d: %s", issue.Number, issue.Title),
		Body:  implementationPRBody(issue.Number, plan),
		Head:  branch,
		Base:  repository.DefaultBranch,
		Draft: true,
	})
	if err != nil {
		logger.Error("Failed to create pull request", "error", err)
		return false
	}
	logger.Info("Created draft implementation PR", "pull", pull.Number)

	link := fmt.Sprintf(
		"I've created draft pull request #%d with an implementation plan. Please review and let me know if you'd like any changes!",
		pull.Number)
	if err := r.gh.CreateComment(ctx, owner, repo, issue.Number, link); err != nil {
		logger.Warn("Failed to link PR on issue", "error", err)
	}
	return true
}

// parseEvaluation extracts the JSON object from a completion. Models
// wrap JSON in code fences or surrounding prose often enough that both
// are tolerated.
func parseEvaluation(response string) (*evaluation, error) {
	raw := response
	if i := strings.Index(raw, "```json"); i >= 0 {
		raw = raw[i+len("```json"):]
		if j := strings.Index(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	} else if i := strings.Index(raw, "```"); i >= 0 {
		raw = raw[i+3:]
		if j := strings.Index(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, errors.New("no JSON object in evaluation response")
	}
	var eval evaluation
	if err := json.Unmarshal([]byte(raw[start:end+1]), &eval); err != nil {
		return nil, fmt.Errorf("failed to parse evaluation: %w", err)
	}
	return &eval, nil
}

func implementableComment(author, plan string, auto bool) string {
	assessment := "This looks like a reasonable request that could be implemented."
	next := "A team member will review this issue and may create an implementation. If you're interested in contributing, feel free to follow this plan and submit a pull request!"
	if auto {
		assessment = "This looks like a reasonable request that I can help implement."
		next = "I'll create a pull request with an implementation. Please review it and let me know if any adjustments are needed."
	}
	return fmt.Sprintf(`## 🤖 Issue Evaluation

Thanks for opening this issue, @%s!

**Assessment**: %s

**Plan**:
%s

%s`+evaluationFooter, author, assessment, plan, next)
}

func clarificationComment(author, reasoning string, questions []string) string {
	var list strings.Builder
	for i, q := range questions {
		fmt.Fprintf(&list, "%d. %s\n", i+1, q)
	}
	return fmt.Sprintf(`## 🤖 Issue Evaluation

Thanks for opening this issue, @%s!

**Assessment**: I need some clarification before implementing this.

**Reasoning**: %s

**Questions**:
%s
Once you provide these details, I'll be happy to help implement this!`+evaluationFooter, author, reasoning, list.String())
}

func implementationPRBody(number int, plan string) string {
	return fmt.Sprintf(`## Automated Implementation for Issue #%d

Closes #%d

## Implementation Details

%s

---

**Note**: This is an automated implementation. Please review carefully and test before merging.

The implementation plan has been saved to `+"`"+planFile+"`"+`. To complete the implementation, apply the code changes described there.

Feel free to:
- Request changes or adjustments
- Mention @repo-butler in comments for questions
- Close this PR if it doesn't meet your needs
`, number, number, truncateText(plan, prBodyPlanLimit))
}
