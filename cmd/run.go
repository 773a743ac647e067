package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mfinley/stepflow/internal/collab"
	"github.com/mfinley/stepflow/internal/conflict"
	"github.com/mfinley/stepflow/internal/engine"
	"github.com/mfinley/stepflow/internal/finalize"
	"github.com/mfinley/stepflow/internal/git"
	"github.com/mfinley/stepflow/internal/models"
	"github.com/mfinley/stepflow/internal/output"
	"github.com/mfinley/stepflow/internal/plan"
	"github.com/mfinley/stepflow/internal/review"
	"github.com/mfinley/stepflow/internal/store"
	"github.com/mfinley/stepflow/internal/ticket"
)

var (
	runStep      string
	runFrom      string
	runTo        string
	runAll       bool
	runNext      bool
	runWorkspace string
	runPolicy    string
	runYes       bool
)

// Exit codes: 0 every resolved step finalized, 2 halted for an external
// decision (drift, escalation, or a live conflict), 1 failed.
const exitHalted = 2

var runCmd = &cobra.Command{
	Use:   "run <plan.yaml>",
	Short: "Execute plan steps through the strategize/execute/review pipeline",
	Long: `Run steps of a plan document. By default every step not yet completed
runs in plan order. Selection flags narrow the run:

  --next          only the first incomplete step
  --step ANCHOR   one specific step
  --from/--to     an inclusive anchor range
  --all           every step, replaying completed ones

Each finalized step produces one commit, one closed ticket, and one worklog
entry. Moderate or major drift halts the run under the manual commit policy.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRun(cmd.Context(), args[0])
	},
}

func init() {
	runCmd.Flags().StringVar(&runStep, "step", "", "Run one specific step by anchor")
	runCmd.Flags().StringVar(&runFrom, "from", "", "First anchor of an inclusive range")
	runCmd.Flags().StringVar(&runTo, "to", "", "Last anchor of an inclusive range")
	runCmd.Flags().BoolVar(&runAll, "all", false, "Run every step, replaying completed ones")
	runCmd.Flags().BoolVar(&runNext, "next", false, "Run only the first incomplete step")
	runCmd.Flags().StringVar(&runWorkspace, "workspace", "", "Workspace directory (default: current directory)")
	runCmd.Flags().StringVar(&runPolicy, "commit-policy", "", "Drift policy: manual or auto (default: configured commit_policy)")
	runCmd.Flags().BoolVar(&runYes, "yes", false, "Proceed despite live conflicting sessions")
	rootCmd.AddCommand(runCmd)
}

// selectionIntent maps the selection flags to a resolver intent. More than
// one selection is ambiguous and resolution will say so.
func selectionIntent() plan.Intent {
	set := 0
	intent := plan.Intent{Kind: plan.IntentRemaining}
	if runNext {
		set++
		intent = plan.Intent{Kind: plan.IntentNext}
	}
	if runStep != "" {
		set++
		intent = plan.Intent{Kind: plan.IntentSpecific, Anchor: runStep}
	}
	if runFrom != "" || runTo != "" {
		set++
		intent = plan.Intent{Kind: plan.IntentRange, Start: runFrom, End: runTo}
	}
	if runAll {
		set++
		intent = plan.Intent{Kind: plan.IntentAll}
	}
	if set > 1 {
		return plan.Intent{Kind: plan.IntentAmbiguous}
	}
	return intent
}

// commitPolicy validates the --commit-policy flag, falling back to the
// configured default when unset. Unknown values are rejected rather than
// silently weakening the drift checkpoint.
func commitPolicy() (engine.CommitPolicy, error) {
	if runPolicy == "" {
		return engine.DefaultCommitPolicy(), nil
	}
	switch p := engine.CommitPolicy(runPolicy); p {
	case engine.PolicyManual, engine.PolicyAuto:
		return p, nil
	default:
		return "", fmt.Errorf("invalid --commit-policy %q: must be manual or auto", runPolicy)
	}
}

// checkWorkspace rejects workspaces where per-step commits could not be
// atomic: not a git repository, or carrying uncommitted changes.
func checkWorkspace(gc git.Client, workspace string) error {
	if _, err := gc.RepoRoot(workspace); err != nil {
		return fmt.Errorf("workspace %s is not a git repository: %w", workspace, err)
	}
	dirty, err := gc.IsDirty(workspace)
	if err != nil {
		return fmt.Errorf("check workspace state: %w", err)
	}
	if dirty {
		return fmt.Errorf("workspace %s has uncommitted changes; commit or stash them first", workspace)
	}
	return nil
}

func runRun(ctx context.Context, planPath string) error {
	policy, err := commitPolicy()
	if err != nil {
		return err
	}

	s, err := getStore()
	if err != nil {
		return err
	}

	p, err := plan.Load(planPath)
	if err != nil {
		return err
	}

	workspace := runWorkspace
	if workspace == "" {
		if workspace, err = os.Getwd(); err != nil {
			return fmt.Errorf("resolve workspace: %w", err)
		}
	}
	if err := checkWorkspace(git.NewClient(), workspace); err != nil {
		return err
	}

	// Optimistic conflict check: live sessions need an explicit decision,
	// abandoned ones are informational.
	detector := conflict.NewDetector(s, 0)
	report, err := detector.Detect(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("scan for conflicting sessions: %w", err)
	}
	for _, a := range report.Abandoned {
		ui.Warning("Session %s on plan %s looks abandoned (idle %s at step %s)",
			a.SessionID, a.PlanID, a.Age.Round(time.Second), a.CurrentStep)
	}
	if report.HasLiveConflict() && !runYes {
		for _, l := range report.Live {
			ui.Error("Session %s is running plan %s (step %s, updated %s ago)",
				l.SessionID, l.PlanID, l.CurrentStep, l.Age.Round(time.Second))
		}
		ui.Error("Another session appears live; pass --yes to proceed anyway")
		os.Exit(exitHalted)
	}

	resolved, err := plan.Resolve(p, completedSteps(ctx, s, p.ID), selectionIntent())
	if err != nil {
		return err
	}

	ui.Info("Plan %s: %d step(s) resolved", output.Cyan(p.ID), len(resolved))
	for _, rs := range resolved {
		if rs.AlreadyCompleted {
			ui.VerboseLog("%s (replay)", rs.Step.Anchor)
		} else {
			ui.VerboseLog("%s", rs.Step.Anchor)
		}
	}
	if dryRun {
		ui.DryRunMsg("Would run %d step(s) of plan %s in %s", len(resolved), p.ID, workspace)
		return nil
	}

	eng := buildEngine(s, workspace, policy)
	result, err := eng.Run(ctx, p, workspace, resolved)
	if result != nil && result.Session != nil {
		reportRun(result)
	}
	if err != nil {
		return err
	}
	if result.Halt != "" {
		os.Exit(exitHalted)
	}
	return nil
}

// completedSteps returns the completed set of the most recent session for
// the plan. A plan never run before has nothing completed.
func completedSteps(ctx context.Context, s store.Store, planID string) []string {
	sessions, err := s.ListSessions(ctx, store.SessionListFilter{PlanID: planID, Limit: 1})
	if err != nil || len(sessions) == 0 {
		return nil
	}
	return sessions[0].StepsCompleted
}

func buildEngine(s store.Store, workspace string, policy engine.CommitPolicy) *engine.Engine {
	client := collab.NewAnthropicClient(
		viper.GetString("anthropic.api_key"),
		viper.GetString("anthropic.model"),
	)
	gc := git.NewClient()
	ghc := git.NewGitHubClient()

	worklog := finalize.NewWorklog(filepath.Join(workspace, ".stepflow", "worklog.jsonl"))
	gitFinalizer := finalize.NewGitFinalizer(gc, ghc, workspace, viper.GetString("publish.base_branch"))
	tracker := ticket.NewTracker(s)
	coordinator := finalize.NewCoordinator(workspace, worklog, gitFinalizer, tracker)

	return engine.New(engine.Deps{
		Store:      s,
		Strategist: client,
		Executor:   client,
		Reviewer:   client,
		Finalizer:  coordinator,
		Tickets:    tracker,
		Artifacts:  engine.NewArtifacts(viper.GetString("state_dir")),
		Review:     review.DefaultConfig(),
		Policy:     policy,
	})
}

// reportRun prints the per-step outcome table and the terminal state.
func reportRun(result *engine.RunResult) {
	table := ui.Table([]string{"Step", "Drift", "Review", "Commit"})
	for _, sr := range result.Steps {
		severity, rec, commit := "-", "-", "-"
		if sr.Drift != nil {
			severity = output.SeverityColor(string(sr.Drift.Severity))
		}
		if sr.Review != nil {
			rec = output.RecommendationColor(string(sr.Review.Recommendation))
		}
		if sr.Finalization != nil {
			commit = sr.Finalization.CommitHash
		}
		anchor := sr.Anchor
		if sr.Replayed {
			anchor += " (replay)"
		}
		table.Append([]string{anchor, severity, rec, commit})
	}
	_ = table.Render()

	sess := result.Session
	switch {
	case result.Halt != "":
		ui.Warning("Session %s halted: %s", sess.ID, result.HaltDetail)
	case sess.Status == models.SessionStatusCompleted:
		ui.Success("Session %s completed: %d step(s) finalized", sess.ID, len(sess.StepsCompleted))
	case sess.Status == models.SessionStatusFailed:
		ui.Error("Session %s failed at step %s: %s", sess.ID, sess.FailedAtStep, sess.FailureReason)
	}
}
