package automation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// gitTimeout bounds every git subprocess.
const gitTimeout = 5 * time.Minute

// Commit identity for automated commits.
const (
	gitUserName  = "repo-butler[bot]"
	gitUserEmail = "repo-butler[bot]@users.noreply.github.com"
)

// Git abstracts the local repository operations of the implementation
// flow.
type Git interface {
	// EnsureIdentity configures the commit author for this checkout.
	EnsureIdentity(ctx context.Context) error
	// CreateBranch creates and checks out a new branch.
	CreateBranch(ctx context.Context, name string) error
	// CommitFile writes one file relative to the checkout root and
	// commits it.
	CommitFile(ctx context.Context, path, content, message string) error
	// Push pushes a branch to a remote URL, setting upstream.
	Push(ctx context.Context, remote, branch string) error
}

// ShellGit runs git subprocesses against a local checkout.
type ShellGit struct {
	Dir string
}

// EnsureIdentity configures the commit author for this checkout.
func (g *ShellGit) EnsureIdentity(ctx context.Context) error {
	if err := g.run(ctx, "config", "user.name", gitUserName); err != nil {
		return err
	}
	return g.run(ctx, "config", "user.email", gitUserEmail)
}

// CreateBranch creates and checks out a new branch.
func (g *ShellGit) CreateBranch(ctx context.Context, name string) error {
	return g.run(ctx, "checkout", "-b", name)
}

// CommitFile writes one file relative to the checkout root and commits it.
func (g *ShellGit) CommitFile(ctx context.Context, path, content, message string) error {
	if err := os.WriteFile(filepath.Join(g.Dir, path), []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := g.run(ctx, "add", path); err != nil {
		return err
	}
	return g.run(ctx, "commit", "-m", message)
}

// Push pushes a branch, setting upstream. The remote URL carries the
// installation token, so it is scrubbed from any error.
func (g *ShellGit) Push(ctx context.Context, remote, branch string) error {
	if err := g.run(ctx, "push", "-u", remote, branch); err != nil {
		return errors.New(strings.ReplaceAll(err.Error(), remote, "<remote>"))
	}
	return nil
}

func (g *ShellGit) run(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("git %s: %w: %s", args[0], err, msg)
		}
		return fmt.Errorf("git %s: %w", args[0], err)
	}
	return nil
}
