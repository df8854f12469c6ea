// Package main implements the repo-butler CI entry point: one automation
// task per invocation, driven by the GitHub Actions environment with
// flags for manual runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/codeGROOVE-dev/repo-butler/pkg/automation"
	"github.com/codeGROOVE-dev/repo-butler/pkg/github"
	"github.com/codeGROOVE-dev/repo-butler/pkg/llm"
)

// Tasks the CLI can run.
const (
	taskReview   = "review"
	taskEvaluate = "evaluate"
	taskMention  = "mention"
)

var (
	task        = flag.String("task", "", "Task to run: review, evaluate or mention (default: inferred from the Actions event)")
	repoRef     = flag.String("repo", "", "Repository as owner/name (default: GITHUB_REPOSITORY)")
	prNumber    = flag.Int("pr", 0, "Pull request number (default: PR_NUMBER or the event payload)")
	issueNumber = flag.Int("issue", 0, "Issue number (default: ISSUE_NUMBER or the event payload)")
	configPath  = flag.String("config", "", "Rate limit config file (default: .github/butler-config.yml in the checkout)")
	dryRun      = flag.Bool("dry-run", false, "Log what would happen without posting comments")
	verbose     = flag.Bool("v", false, "Verbose output with debug logging")
)

// environment is the GitHub Actions contract. Flags override it.
type environment struct {
	GitHubToken  string `env:"GITHUB_TOKEN,required"`
	AnthropicKey string `env:"ANTHROPIC_API_KEY,required"`
	Repository   string `env:"GITHUB_REPOSITORY"`
	EventName    string `env:"GITHUB_EVENT_NAME"`
	Workspace    string `env:"GITHUB_WORKSPACE"`
	RunID        string `env:"GITHUB_RUN_ID"`
	Model        string `env:"BUTLER_MODEL"`
	ConfigPath   string `env:"BUTLER_CONFIG"`
	PRNumber     int    `env:"PR_NUMBER"`
	IssueNumber  int    `env:"ISSUE_NUMBER"`
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Runs one repo-butler automation task: reviewing a pull request,\n")
		fmt.Fprintf(os.Stderr, "evaluating an issue, or answering an @repo-butler mention.\n")
		fmt.Fprintf(os.Stderr, "Reads the GitHub Actions environment; flags override it.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -task review -repo acme/widgets -pr 123\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -task evaluate -repo acme/widgets -issue 42 -dry-run\n", os.Args[0])
	}
	flag.Parse()

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(context.Background(), logger); err != nil {
		logger.Error("Task failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	var envCfg environment
	if err := env.Parse(&envCfg); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}

	var event *automation.Event
	if envCfg.EventName != "" {
		ev, err := automation.LoadEvent()
		if err != nil {
			return err
		}
		event = ev
		logger.Info("Loaded workflow event",
			"event", ev.Name, "action", ev.Action, "number", ev.Number, "actor", ev.Actor)
	}

	taskName := *task
	if taskName == "" && event != nil {
		taskName = inferTask(event.Name)
	}
	if taskName == "" {
		return errors.New("no task: pass -task or run under a GitHub Actions event")
	}

	owner, repo, err := resolveRepo(*repoRef, envCfg.Repository, event)
	if err != nil {
		return err
	}

	client, err := github.New(ctx, github.Config{
		Token:       envCfg.GitHubToken,
		HTTPTimeout: 30 * time.Second,
		CacheTTL:    time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to create GitHub client: %w", err)
	}
	completer, err := llm.New(llm.Config{
		APIKey: envCfg.AnthropicKey,
		Model:  envCfg.Model,
	})
	if err != nil {
		return fmt.Errorf("failed to create completion client: %w", err)
	}

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = envCfg.ConfigPath
	}
	runner := automation.NewRunner(client, completer, automation.Options{
		Logger:     logger,
		Workspace:  envCfg.Workspace,
		ConfigPath: cfgPath,
		RunID:      envCfg.RunID,
		DryRun:     *dryRun,
	})

	outcome, err := runTask(ctx, runner, taskName, owner, repo, envCfg, event)
	if err != nil {
		return err
	}
	// Rate limit denials exit zero: the workflow did its job, the
	// budget is simply spent for today.
	logger.Info("Task finished", "task", taskName, "outcome", string(outcome))
	return nil
}

func runTask(ctx context.Context, runner *automation.Runner, taskName, owner, repo string,
	envCfg environment, event *automation.Event,
) (automation.Outcome, error) {
	switch taskName {
	case taskReview:
		number := resolveNumber(*prNumber, envCfg.PRNumber, event)
		if number == 0 {
			return "", errors.New("review task needs a PR number (-pr, PR_NUMBER or the event payload)")
		}
		return runner.ReviewPullRequest(ctx, owner, repo, number)
	case taskEvaluate:
		number := resolveNumber(*issueNumber, envCfg.IssueNumber, event)
		if number == 0 {
			return "", errors.New("evaluate task needs an issue number (-issue, ISSUE_NUMBER or the event payload)")
		}
		return runner.EvaluateIssue(ctx, owner, repo, number)
	case taskMention:
		// Comment events name the triggering comment directly; anything
		// else falls back to scanning for the newest unanswered mention.
		if event != nil && isCommentEvent(event.Name) {
			return runner.RespondToMention(ctx, automation.Mention{
				Owner:         owner,
				Repo:          repo,
				Actor:         event.Actor,
				Association:   event.Association,
				Body:          event.Body,
				Number:        event.Number,
				IsPullRequest: event.IsPullRequest,
			})
		}
		number := resolveNumber(*issueNumber, envCfg.IssueNumber, event)
		if number == 0 {
			number = resolveNumber(*prNumber, envCfg.PRNumber, event)
		}
		if number == 0 {
			return "", errors.New("mention task needs an issue or PR number")
		}
		return runner.RespondToLatestMention(ctx, owner, repo, number)
	default:
		return "", fmt.Errorf("unknown task %q (want review, evaluate or mention)", taskName)
	}
}

// inferTask maps a workflow event to the task it triggers.
func inferTask(eventName string) string {
	switch eventName {
	case automation.EventPullRequest:
		return taskReview
	case automation.EventIssues:
		return taskEvaluate
	case automation.EventIssueComment, automation.EventPRReview, automation.EventPRReviewComment:
		return taskMention
	default:
		return ""
	}
}

func isCommentEvent(eventName string) bool {
	switch eventName {
	case automation.EventIssueComment, automation.EventPRReview, automation.EventPRReviewComment:
		return true
	default:
		return false
	}
}

func resolveRepo(flagRef, envRef string, event *automation.Event) (owner, repo string, err error) {
	ref := flagRef
	if ref == "" {
		ref = envRef
	}
	if ref != "" {
		o, r, ok := strings.Cut(ref, "/")
		if !ok || o == "" || r == "" {
			return "", "", fmt.Errorf("invalid repository %q (expected owner/name)", ref)
		}
		return o, r, nil
	}
	if event != nil {
		return event.Owner, event.Repo, nil
	}
	return "", "", errors.New("no repository: pass -repo or set GITHUB_REPOSITORY")
}

// resolveNumber picks the issue or PR number: flag, then environment,
// then the event payload.
func resolveNumber(flagVal, envVal int, event *automation.Event) int {
	switch {
	case flagVal > 0:
		return flagVal
	case envVal > 0:
		return envVal
	case event != nil:
		return event.Number
	default:
		return 0
	}
}
