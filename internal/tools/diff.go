package tools

import (
	"context"
	"fmt"

	git "github.com/go-git/go-git/v5"
)

// DiffInput asks for a workspace change check after a coding strategy claims
// completion.
type DiffInput struct {
	RepoPath string `json:"repo_path"`
}

// DiffReport summarizes uncommitted workspace changes.
type DiffReport struct {
	Dirty      bool     `json:"dirty"`
	Files      []string `json:"files"`
	HeadBranch string   `json:"head_branch"`
}

// WorkspaceDiff inspects the git worktree and reports whether the coding
// tool actually changed anything. The code stage treats a clean tree after a
// claimed success as a failure in its own right.
func (r *Runner) WorkspaceDiff(ctx context.Context, in DiffInput) (*DiffReport, error) {
	repo, err := git.PlainOpen(in.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", in.RepoPath, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("resolving worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("reading worktree status: %w", err)
	}

	report := &DiffReport{}
	for path, st := range status {
		if st.Worktree == git.Unmodified && st.Staging == git.Unmodified {
			continue
		}
		report.Files = append(report.Files, path)
	}
	report.Dirty = len(report.Files) > 0

	if head, err := repo.Head(); err == nil && head.Name().IsBranch() {
		report.HeadBranch = head.Name().Short()
	}

	return report, nil
}
