package ghops

import (
	"context"
	"errors"
	"fmt"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// CommitAndPushInput asks for the workspace changes to be committed on a
// branch and pushed to origin.
type CommitAndPushInput struct {
	RepoPath string `json:"repo_path"`
	Branch   string `json:"branch"`
	Message  string `json:"message"`
}

// CommitAndPushResult reports the pushed commit.
type CommitAndPushResult struct {
	CommitSHA string `json:"commit_sha"`
	Branch    string `json:"branch"`
	// NothingToCommit is set when the tree was already clean; the push still
	// runs so a crash between commit and push converges on retry.
	NothingToCommit bool `json:"nothing_to_commit"`
}

// CommitAndPush stages everything, commits on the given branch (creating it
// at HEAD when missing), and pushes. Safe to re-invoke: a clean tree commits
// nothing and an up-to-date push is not an error.
func (a *Activities) CommitAndPush(ctx context.Context, in CommitAndPushInput) (*CommitAndPushResult, error) {
	repo, err := git.PlainOpen(in.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", in.RepoPath, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("resolving worktree: %w", err)
	}

	branchRef := plumbing.NewBranchReferenceName(in.Branch)
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}
	if head.Name() != branchRef {
		err = wt.Checkout(&git.CheckoutOptions{Branch: branchRef, Create: true, Keep: true})
		if errors.Is(err, git.ErrBranchExists) {
			err = wt.Checkout(&git.CheckoutOptions{Branch: branchRef, Keep: true})
		}
		if err != nil {
			return nil, fmt.Errorf("checking out branch %s: %w", in.Branch, err)
		}
	}

	result := &CommitAndPushResult{Branch: in.Branch}

	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("reading worktree status: %w", err)
	}
	if status.IsClean() {
		result.NothingToCommit = true
		if head, err := repo.Head(); err == nil {
			result.CommitSHA = head.Hash().String()
		}
	} else {
		if err := wt.AddGlob("."); err != nil {
			return nil, fmt.Errorf("staging changes: %w", err)
		}
		commit, err := wt.Commit(in.Message, &git.CommitOptions{
			Author: &object.Signature{
				Name:  "ticketd",
				Email: "ticketd@fyrsmithlabs.com",
				When:  time.Now(),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("committing changes: %w", err)
		}
		result.CommitSHA = commit.String()
	}

	refspec := config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", in.Branch, in.Branch))
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{refspec},
		Auth: &githttp.BasicAuth{
			Username: "x-access-token",
			Password: a.token.Value(),
		},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil, fmt.Errorf("pushing branch %s: %w", in.Branch, err)
	}
	return result, nil
}
