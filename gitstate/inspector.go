// Package gitstate captures the state of the repository a workflow is
// editing. Capture is strictly read-only: the engine never writes to the
// working tree, and every git invocation is bounded by a deadline so the
// pause flow's timeout budget holds.
package gitstate

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// State is a point-in-time capture of repository state.
type State struct {
	Branch        string   `json:"branch"`
	StartCommit   string   `json:"start_commit"`
	HeadCommit    string   `json:"head_commit"`
	ModifiedFiles []string `json:"modified_files,omitempty"`
	StagedFiles   []string `json:"staged_files,omitempty"`
	Dirty         bool     `json:"dirty"`
	ChangeSummary string   `json:"change_summary,omitempty"`
}

// Inspector reads repository state via the git CLI.
type Inspector struct {
	repoPath string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewInspector creates an inspector rooted at repoPath. timeout bounds
// each git invocation; zero means 10 seconds.
func NewInspector(repoPath string, timeout time.Duration, logger *zap.Logger) *Inspector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inspector{
		repoPath: repoPath,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "git_inspector")),
	}
}

// Capture reads the current repository state. startCommit is the SHA the
// workflow started from; it is recorded verbatim for later divergence
// checks.
func (i *Inspector) Capture(ctx context.Context, startCommit string) (*State, error) {
	branch, err := i.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("read branch: %w", err)
	}

	head, err := i.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("read HEAD: %w", err)
	}

	status, err := i.git(ctx, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	staged, modified := parsePorcelain(status)

	state := &State{
		Branch:        branch,
		StartCommit:   startCommit,
		HeadCommit:    head,
		ModifiedFiles: modified,
		StagedFiles:   staged,
		Dirty:         len(modified) > 0 || len(staged) > 0,
	}

	// Shortstat failure is not worth failing a capture over.
	if summary, err := i.git(ctx, "diff", "--shortstat"); err == nil {
		state.ChangeSummary = summary
	} else {
		i.logger.Warn("diff summary unavailable", zap.Error(err))
	}

	return state, nil
}

// git runs a single git subcommand and returns trimmed stdout.
func (i *Inspector) git(ctx context.Context, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = i.repoPath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w (%s)", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// parsePorcelain splits `git status --porcelain` output into staged and
// unstaged file lists. The first status column is the index, the second
// the working tree.
func parsePorcelain(out string) (staged, modified []string) {
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		index, tree := line[0], line[1]
		path := strings.TrimSpace(line[3:])
		if index != ' ' && index != '?' {
			staged = append(staged, path)
		}
		if tree != ' ' {
			modified = append(modified, path)
		}
	}
	return staged, modified
}

// Diverged compares a captured state against the live one and returns
// human-readable reasons for every difference that matters on resume.
// An empty slice means captured and live agree.
func Diverged(captured, live *State) []string {
	if captured == nil || live == nil {
		return nil
	}

	var reasons []string
	if captured.Branch != live.Branch {
		reasons = append(reasons, fmt.Sprintf("branch changed from %s to %s", captured.Branch, live.Branch))
	}
	if captured.HeadCommit != live.HeadCommit {
		reasons = append(reasons, fmt.Sprintf("HEAD moved from %s to %s", shortSHA(captured.HeadCommit), shortSHA(live.HeadCommit)))
	}
	if !captured.Dirty && live.Dirty {
		reasons = append(reasons, "working tree has uncommitted changes that were not present at pause")
	}
	return reasons
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
