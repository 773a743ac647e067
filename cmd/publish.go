package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mfinley/stepflow/internal/finalize"
	"github.com/mfinley/stepflow/internal/git"
	"github.com/mfinley/stepflow/internal/models"
	"github.com/mfinley/stepflow/internal/store"
	"github.com/mfinley/stepflow/internal/ticket"
)

var (
	publishWorkspace string
	publishSession   string
)

var publishCmd = &cobra.Command{
	Use:   "publish <plan-id>",
	Short: "Push the session branch and open a merge request",
	Long: `Publish a completed run: push the current branch and open a merge
request whose body aggregates the worklog's step summaries.

Push happens before the open-request call, so a failed open leaves the
pushed state valid; rerunning publish retries only what is missing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return publishRun(cmd, args[0])
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishWorkspace, "workspace", "", "Workspace directory (default: current directory)")
	publishCmd.Flags().StringVar(&publishSession, "session", "", "Session id (default: most recent completed session for the plan)")
	rootCmd.AddCommand(publishCmd)
}

func publishRun(cmd *cobra.Command, planID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	workspace := publishWorkspace
	if workspace == "" {
		if workspace, err = os.Getwd(); err != nil {
			return fmt.Errorf("resolve workspace: %w", err)
		}
	}

	sessionID := publishSession
	if sessionID == "" {
		sessions, err := s.ListSessions(ctx, store.SessionListFilter{
			PlanID: planID,
			Status: models.SessionStatusCompleted,
			Limit:  1,
		})
		if err != nil {
			return fmt.Errorf("find completed session for plan %s: %w", planID, err)
		}
		if len(sessions) == 0 {
			return fmt.Errorf("no completed session for plan %s; run the plan to completion first", planID)
		}
		sessionID = sessions[0].ID
	}

	if dryRun {
		ui.DryRunMsg("Would push and open a merge request for plan %s, session %s", planID, sessionID)
		return nil
	}

	gc := git.NewClient()
	worklog := finalize.NewWorklog(filepath.Join(workspace, ".stepflow", "worklog.jsonl"))
	gitFinalizer := finalize.NewGitFinalizer(gc, git.NewGitHubClient(), workspace, viper.GetString("publish.base_branch"))
	coordinator := finalize.NewCoordinator(workspace, worklog, gitFinalizer, ticket.NewTracker(s))

	result, err := coordinator.Publish(ctx, planID, sessionID)
	if result != nil && result.Pushed {
		ui.Success("Branch pushed")
	}
	if err != nil {
		return err
	}
	if slug := repoSlug(gc, workspace); slug != "" {
		ui.Success("Merge request opened for %s: %s", slug, result.RequestRef)
	} else {
		ui.Success("Merge request opened: %s", result.RequestRef)
	}
	return nil
}

// repoSlug names the owner/repo behind the workspace's origin remote.
// Best effort; publish output falls back to the bare request URL.
func repoSlug(gc git.Client, workspace string) string {
	remote, err := gc.RemoteURL(workspace)
	if err != nil || remote == "" {
		return ""
	}
	owner, repo, err := git.ExtractOwnerRepo(remote)
	if err != nil {
		return ""
	}
	return owner + "/" + repo
}
