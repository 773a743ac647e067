package finalize

import (
	"context"
	"fmt"
	"strings"

	"github.com/mfinley/stepflow/internal/collab"
	"github.com/mfinley/stepflow/internal/git"
	"github.com/mfinley/stepflow/internal/models"
)

// GitFinalizer implements the finalizer capability with git commits and a
// gh-backed merge request.
type GitFinalizer struct {
	git       git.Client
	gh        git.GitHubClient
	workspace string
	base      string
}

var _ collab.Finalizer = (*GitFinalizer)(nil)

// NewGitFinalizer creates a git-backed finalizer rooted at the workspace.
func NewGitFinalizer(gc git.Client, ghc git.GitHubClient, workspace, baseBranch string) *GitFinalizer {
	if baseBranch == "" {
		baseBranch = "main"
	}
	return &GitFinalizer{git: gc, gh: ghc, workspace: workspace, base: baseBranch}
}

// Commit stages and commits the change set as one atomic unit.
func (f *GitFinalizer) Commit(_ context.Context, req collab.CommitRequest) (*collab.CommitResult, error) {
	if err := f.git.Add(f.workspace, req.FilesToPersist); err != nil {
		return nil, fmt.Errorf("stage files: %w", err)
	}
	hash, err := f.git.Commit(f.workspace, req.Message)
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &collab.CommitResult{CommitHash: hash}, nil
}

// Publish pushes the session branch, then opens a merge request aggregating
// the step summaries. Push before open-request: a failed open leaves the
// pushed state valid and retryable.
func (f *GitFinalizer) Publish(_ context.Context, req collab.PublishRequest) (*models.PublishResult, error) {
	result := &models.PublishResult{}

	branch, err := f.git.CurrentBranch(f.workspace)
	if err != nil {
		return result, fmt.Errorf("resolve branch: %w", err)
	}

	if err := f.git.Push(f.workspace, branch); err != nil {
		return result, fmt.Errorf("push %s: %w", branch, err)
	}
	result.Pushed = true

	title := fmt.Sprintf("%s: %d step(s) completed", req.PlanRef, len(req.Summaries))
	url, err := f.gh.CreatePR(f.workspace, f.base, title, publishBody(req))
	if err != nil {
		return result, fmt.Errorf("open merge request: %w", err)
	}
	result.RequestOpened = true
	result.RequestRef = url
	return result, nil
}

// publishBody renders the aggregated step summaries, newest first.
func publishBody(req collab.PublishRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session %s against plan %s.\n\n", req.SessionID, req.PlanRef)
	sb.WriteString("## Completed steps\n\n")
	for _, e := range req.Summaries {
		fmt.Fprintf(&sb, "- **%s** (%s, ticket %s): %s\n",
			e.StepAnchor, e.Timestamp.Format("2006-01-02 15:04"), e.TicketID, e.Summary)
	}
	return sb.String()
}
