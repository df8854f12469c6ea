// Package automation implements the repo-butler flows: automated code
// review on pull requests, evaluation of new issues, and replies to
// @repo-butler mentions. Every flow runs an admission check against
// the repository's usage ledger before doing anything visible.
package automation

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/codeGROOVE-dev/repo-butler/pkg/cache"
	"github.com/codeGROOVE-dev/repo-butler/pkg/ratelimit"
)

// Outcome classifies how a flow ended when it did not fail. Denies and
// skips are normal results; errors mean the flow itself broke.
type Outcome string

// Flow outcomes.
const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDenied    Outcome = "denied"
)

// Options configures a Runner.
type Options struct {
	// Logger for all flow logging. Nil means slog.Default.
	Logger *slog.Logger

	// Fallback supplies operator-level limits used when a repository
	// has no limits document of its own (bot mode). Nil means compiled
	// defaults.
	Fallback func() *ratelimit.Config

	// Git performs the local repository operations of the
	// implementation flow. Nil with a non-empty Workspace means shell
	// git against that checkout; nil without a workspace disables
	// implementation attempts.
	Git Git

	// Workspace is the path of the repository checkout in CI mode.
	// Empty in bot mode.
	Workspace string

	// ConfigPath overrides limits document resolution with an explicit
	// file.
	ConfigPath string

	// RunID makes implementation branch names unique across retries of
	// the same workflow. Empty means a random suffix.
	RunID string

	// DryRun stops every flow right before its first mutation.
	DryRun bool
}

// Runner orchestrates the automation flows against one GitHub client
// and one completion client.
type Runner struct {
	gh     GitHub
	llm    Completer
	git    Git
	logger *slog.Logger
	opts   Options
}

// NewRunner creates a runner.
func NewRunner(gh GitHub, completer Completer, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	git := opts.Git
	if git == nil && opts.Workspace != "" {
		git = &ShellGit{Dir: opts.Workspace}
	}
	return &Runner{gh: gh, llm: completer, git: git, logger: logger, opts: opts}
}

// resolveConfig finds the limits for one repository. In CI mode the
// workspace checkout is authoritative; in bot mode the limits document
// is fetched over the contents API, then the operator fallback, then
// compiled defaults. Resolution never fails: worst case is defaults.
func (r *Runner) resolveConfig(ctx context.Context, owner, repo string) *ratelimit.Config {
	if r.opts.ConfigPath != "" {
		return ratelimit.LoadConfig(r.opts.ConfigPath)
	}
	if r.opts.Workspace != "" {
		return ratelimit.LoadConfig(filepath.Join(r.opts.Workspace, ratelimit.DefaultConfigPath))
	}

	data, err := r.gh.FileContent(ctx, owner, repo, ratelimit.DefaultConfigPath, cache.TTLRepoConfig)
	switch {
	case err != nil:
		r.logger.Warn("Failed to fetch limits document", "owner", owner, "repo", repo, "error", err)
	case data != nil:
		cfg, perr := ratelimit.ParseConfig(data)
		if perr == nil {
			return cfg
		}
		r.logger.Warn("Malformed limits document, ignoring", "owner", owner, "repo", repo, "error", perr)
	}

	if r.opts.Fallback != nil {
		if cfg := r.opts.Fallback(); cfg != nil {
			return cfg
		}
	}
	return ratelimit.DefaultConfig()
}

// newLimiter builds the admission checker for one repository, backed
// by that repository's tracking issue.
func (r *Runner) newLimiter(cfg *ratelimit.Config, owner, repo string) *ratelimit.Limiter {
	return ratelimit.New(cfg, ratelimit.NewIssueLedger(r.gh, owner, repo), r.logger)
}
