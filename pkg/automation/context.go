package automation

import (
	"context"
	"os"
	"path/filepath"

	"github.com/codeGROOVE-dev/repo-butler/pkg/cache"
)

// Prompt context files and their caps.
const (
	guidelinesFile  = "BUTLER.md"
	readmeFile      = "README.md"
	guidelinesLimit = 10000
	readmeLimit     = 5000
)

// repoContext is what the prompts know about a repository beyond the
// item under discussion.
type repoContext struct {
	Guidelines string
	Readme     string
}

// loadContext collects the context files. Absence of either file is
// normal and yields an empty section.
func (r *Runner) loadContext(ctx context.Context, owner, repo string) repoContext {
	return repoContext{
		Guidelines: truncateText(r.contextFile(ctx, owner, repo, guidelinesFile), guidelinesLimit),
		Readme:     truncateText(r.contextFile(ctx, owner, repo, readmeFile), readmeLimit),
	}
}

// contextFile reads one context file from the workspace checkout when
// one exists, otherwise over the contents API. The checkout is
// authoritative in CI: a file missing there is missing, full stop.
func (r *Runner) contextFile(ctx context.Context, owner, repo, name string) string {
	if r.opts.Workspace != "" {
		data, err := os.ReadFile(filepath.Join(r.opts.Workspace, name))
		if err != nil {
			if !os.IsNotExist(err) {
				r.logger.Warn("Failed to read context file", "file", name, "error", err)
			}
			return ""
		}
		return string(data)
	}

	data, err := r.gh.FileContent(ctx, owner, repo, name, cache.TTLRepoContext)
	if err != nil {
		r.logger.Warn("Failed to fetch context file", "owner", owner, "repo", repo, "file", name, "error", err)
		return ""
	}
	return string(data)
}
