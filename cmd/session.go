package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mfinley/stepflow/internal/models"
	"github.com/mfinley/stepflow/internal/output"
	"github.com/mfinley/stepflow/internal/store"
)

var (
	sessionListPlan   string
	sessionListStatus string
	sessionListLimit  int
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage orchestration sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionListRun(cmd)
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionShowRun(cmd, args[0])
	},
}

var sessionCloseCmd = &cobra.Command{
	Use:   "close <session-id>",
	Short: "Manually terminate an in-progress session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionCloseRun(cmd, args[0])
	},
}

func init() {
	sessionListCmd.Flags().StringVar(&sessionListPlan, "plan", "", "Filter by plan id")
	sessionListCmd.Flags().StringVar(&sessionListStatus, "status", "", "Filter by status: in_progress, completed, failed")
	sessionListCmd.Flags().IntVar(&sessionListLimit, "limit", 0, "Limit the number of sessions shown")
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionCloseCmd)
	rootCmd.AddCommand(sessionCmd)
}

func sessionListRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	sessions, err := s.ListSessions(cmd.Context(), store.SessionListFilter{
		PlanID: sessionListPlan,
		Status: models.SessionStatus(sessionListStatus),
		Limit:  sessionListLimit,
	})
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		ui.Info("No sessions found")
		return nil
	}

	table := ui.Table([]string{"ID", "Plan", "Status", "Step", "Done", "Left", "Updated"})
	for _, sess := range sessions {
		table.Append([]string{
			sess.ID,
			sess.PlanID,
			output.StatusColor(string(sess.Status)),
			sess.CurrentStep,
			fmt.Sprintf("%d", len(sess.StepsCompleted)),
			fmt.Sprintf("%d", len(sess.StepsRemaining)),
			sess.LastUpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return table.Render()
}

func sessionShowRun(cmd *cobra.Command, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return fmt.Errorf("get session %s: %w", id, err)
	}

	fmt.Fprintf(ui.Out, "Session:   %s\n", output.Cyan(sess.ID))
	fmt.Fprintf(ui.Out, "Plan:      %s\n", sess.PlanID)
	fmt.Fprintf(ui.Out, "Workspace: %s\n", sess.WorkspacePath)
	fmt.Fprintf(ui.Out, "Status:    %s\n", output.StatusColor(string(sess.Status)))
	if sess.CurrentStep != "" {
		fmt.Fprintf(ui.Out, "At step:   %s\n", sess.CurrentStep)
	}
	fmt.Fprintf(ui.Out, "Completed: %s\n", joinOrDash(sess.StepsCompleted))
	fmt.Fprintf(ui.Out, "Remaining: %s\n", joinOrDash(sess.StepsRemaining))
	fmt.Fprintf(ui.Out, "Created:   %s\n", sess.CreatedAt.Local().Format(time.RFC1123))
	fmt.Fprintf(ui.Out, "Updated:   %s\n", sess.LastUpdatedAt.Local().Format(time.RFC1123))
	if sess.Status == models.SessionStatusFailed {
		fmt.Fprintf(ui.Out, "Failed at: %s\n", sess.FailedAtStep)
		fmt.Fprintf(ui.Out, "Reason:    %s\n", output.Red(sess.FailureReason))
	}

	tickets, err := s.ListTickets(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("list tickets for session %s: %w", sess.ID, err)
	}
	if len(tickets) > 0 {
		fmt.Fprintln(ui.Out)
		table := ui.Table([]string{"Ticket", "Step", "Title", "Status"})
		for _, tk := range tickets {
			table.Append([]string{tk.ID, tk.StepAnchor, tk.Title, output.StatusColor(string(tk.Status))})
		}
		return table.Render()
	}
	return nil
}

func sessionCloseRun(cmd *cobra.Command, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return fmt.Errorf("get session %s: %w", id, err)
	}
	if sess.Status != models.SessionStatusInProgress {
		return fmt.Errorf("session %s is already %s", id, sess.Status)
	}

	if dryRun {
		ui.DryRunMsg("Would close session %s (at step %s)", sess.ID, sess.CurrentStep)
		return nil
	}

	if err := sess.Fail(sess.CurrentStep, "closed manually"); err != nil {
		return err
	}
	if err := s.UpdateSession(ctx, sess); err != nil {
		return fmt.Errorf("close session %s: %w", id, err)
	}
	ui.Success("Session %s closed", sess.ID)
	return nil
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
