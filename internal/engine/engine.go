// Package engine drives the per-step pipeline: strategize, execute, classify
// drift, review, finalize. It owns session advancement and routes every
// unrecoverable failure through the error sink.
package engine

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/mfinley/stepflow/internal/collab"
	"github.com/mfinley/stepflow/internal/drift"
	"github.com/mfinley/stepflow/internal/models"
	"github.com/mfinley/stepflow/internal/plan"
	"github.com/mfinley/stepflow/internal/review"
	"github.com/mfinley/stepflow/internal/store"
)

// CommitPolicy decides what happens on a moderate or major drift verdict.
type CommitPolicy string

const (
	// PolicyManual halts the run for an external decision.
	PolicyManual CommitPolicy = "manual"
	// PolicyAuto records the verdict and proceeds.
	PolicyAuto CommitPolicy = "auto"
)

// DefaultCommitPolicy reads the configured policy, defaulting to manual.
func DefaultCommitPolicy() CommitPolicy {
	switch CommitPolicy(viper.GetString("commit_policy")) {
	case PolicyAuto:
		return PolicyAuto
	default:
		return PolicyManual
	}
}

// HaltCause identifies why a run stopped before completing every step.
type HaltCause string

const (
	HaltDrift      HaltCause = "drift"
	HaltEscalation HaltCause = "escalation"
)

// TicketOpener is the slice of the ticket tracker the engine needs; closure
// belongs to finalization.
type TicketOpener interface {
	Open(ctx context.Context, sessionID, stepAnchor, title string) (*models.Ticket, error)
}

// StepFinalizer sequences the per-step commit point and the one-time publish.
type StepFinalizer interface {
	Finalize(ctx context.Context, stepAnchor string, filesToPersist []string, ticketID, summary string) (*models.FinalizationRecord, error)
	Publish(ctx context.Context, planRef, sessionID string) (*models.PublishResult, error)
}

// Deps are the collaborators and services the engine orchestrates.
type Deps struct {
	Store      store.Store
	Strategist collab.Strategist
	Executor   collab.Executor
	Reviewer   collab.Reviewer
	Finalizer  StepFinalizer
	Tickets    TicketOpener
	Artifacts  *Artifacts
	Review     review.Config
	Policy     CommitPolicy
}

// Engine runs resolved steps through the pipeline against one session.
type Engine struct {
	store      store.Store
	strategist collab.Strategist
	executor   collab.Executor
	reviewer   collab.Reviewer
	finalizer  StepFinalizer
	tickets    TicketOpener
	artifacts  *Artifacts
	sink       *ErrorSink
	review     review.Config
	policy     CommitPolicy
}

// New creates an engine. A zero Policy means manual.
func New(d Deps) *Engine {
	policy := d.Policy
	if policy == "" {
		policy = PolicyManual
	}
	return &Engine{
		store:      d.Store,
		strategist: d.Strategist,
		executor:   d.Executor,
		reviewer:   d.Reviewer,
		finalizer:  d.Finalizer,
		tickets:    d.Tickets,
		artifacts:  d.Artifacts,
		sink:       NewErrorSink(d.Store, d.Artifacts),
		review:     d.Review,
		policy:     policy,
	}
}

// StepResult is everything the pipeline produced for one step.
type StepResult struct {
	Anchor       string
	Replayed     bool
	Strategy     *collab.Strategy
	Execution    *collab.ExecutionResult
	Drift        *models.DriftAssessment
	Review       *models.ReviewOutcome
	Finalization *models.FinalizationRecord
}

// RunResult is the outcome of one run. Halt is empty when every resolved
// step finalized; a halted session stays in_progress so it can be resumed
// after the external decision.
type RunResult struct {
	Session    *models.Session
	Steps      []StepResult
	Halt       HaltCause
	HaltDetail string
}

// Run creates a session for the resolved steps and executes them in order.
// A returned error means the session was marked failed through the error
// sink; a halt is not an error.
func (e *Engine) Run(ctx context.Context, p *models.Plan, workspace string, resolved []plan.ResolvedStep) (*RunResult, error) {
	sess := &models.Session{
		PlanID:        p.ID,
		WorkspacePath: workspace,
		Tickets:       make(map[string]string, len(resolved)),
	}
	for _, rs := range resolved {
		sess.StepsRemaining = append(sess.StepsRemaining, rs.Step.Anchor)
	}
	if err := e.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session for plan %s: %w", p.ID, err)
	}

	result := &RunResult{Session: sess}
	for _, rs := range resolved {
		if err := ctx.Err(); err != nil {
			return result, e.sink.Capture(ctx, sess, "run", rs.Step.Anchor, err)
		}

		step, err := e.runStep(ctx, sess, p, rs)
		if step != nil {
			result.Steps = append(result.Steps, *step)
		}
		if err != nil {
			return result, err
		}
		if step.Finalization == nil {
			// The step stopped at a policy decision point.
			result.Halt, result.HaltDetail = haltFor(step)
			return result, nil
		}
	}
	return result, nil
}

// runStep executes the full pipeline for one step. A nil Finalization on the
// returned result with a nil error means the step halted on policy.
func (e *Engine) runStep(ctx context.Context, sess *models.Session, p *models.Plan, rs plan.ResolvedStep) (*StepResult, error) {
	step := rs.Step
	out := &StepResult{Anchor: step.Anchor, Replayed: rs.AlreadyCompleted}

	sess.CurrentStep = step.Anchor
	if err := e.store.UpdateSession(ctx, sess); err != nil {
		return out, e.sink.Capture(ctx, sess, "session", step.Anchor, err)
	}

	ticket, err := e.tickets.Open(ctx, sess.ID, step.Anchor, step.Title)
	if err != nil {
		return out, e.sink.Capture(ctx, sess, "ticket", step.Anchor, err)
	}
	sess.Tickets[step.Anchor] = ticket.ID
	if err := e.store.UpdateSession(ctx, sess); err != nil {
		return out, e.sink.Capture(ctx, sess, "session", step.Anchor, err)
	}

	strategy, err := e.strategist.Strategize(ctx, collab.StrategyRequest{
		PlanRef: p.ID,
		Step:    step,
	})
	if err != nil {
		return out, e.sink.Capture(ctx, sess, "strategize", step.Anchor, err)
	}
	out.Strategy = strategy
	_ = e.artifacts.Write(sess.ID, step.Anchor, "strategy", strategy)

	// Every execution, initial or revised, gets the engine's own drift
	// classification; the executor's self-assessment is advisory.
	executor := &classifyingExecutor{
		inner:     e.executor,
		expected:  strategy.ExpectedTouchSet,
		artifacts: e.artifacts,
		sessionID: sess.ID,
		anchor:    step.Anchor,
	}

	execution, err := executor.Execute(ctx, collab.ExecutionRequest{
		PlanRef:  p.ID,
		Step:     step,
		Strategy: strategy,
	})
	if err != nil {
		return out, e.sink.Capture(ctx, sess, "execute", step.Anchor, err)
	}
	out.Execution = execution
	out.Drift = execution.DriftAssessment

	if halted, _ := e.driftHalts(execution); halted {
		return out, nil
	}

	reviewer := &recordingReviewer{
		inner:     e.reviewer,
		artifacts: e.artifacts,
		sessionID: sess.ID,
		anchor:    step.Anchor,
	}
	loop := review.NewLoop(reviewer, executor, e.review)
	reviewed, err := loop.Run(ctx, p.ID, step, strategy, execution)
	if err != nil {
		return out, e.sink.Capture(ctx, sess, "review", step.Anchor, err)
	}
	out.Review = reviewed.Outcome
	out.Execution = reviewed.Execution
	out.Drift = reviewed.Execution.DriftAssessment

	if reviewed.Outcome.Recommendation == models.ReviewEscalate {
		return out, nil
	}
	// Revisions may have widened the change set past the policy line.
	if halted, _ := e.driftHalts(reviewed.Execution); halted {
		return out, nil
	}

	record, err := e.finalizer.Finalize(ctx, step.Anchor, reviewed.Execution.ChangedFiles(), ticket.ID, step.Title)
	if err != nil {
		return out, e.sink.Capture(ctx, sess, "finalize", step.Anchor, err)
	}
	out.Finalization = record

	if err := sess.AdvanceStep(step.Anchor); err != nil {
		return out, e.sink.Capture(ctx, sess, "session", step.Anchor, err)
	}
	if err := e.store.UpdateSession(ctx, sess); err != nil {
		return out, e.sink.Capture(ctx, sess, "session", step.Anchor, err)
	}
	return out, nil
}

// Publish runs the one-time publish phase for a completed run.
func (e *Engine) Publish(ctx context.Context, planRef, sessionID string) (*models.PublishResult, error) {
	return e.finalizer.Publish(ctx, planRef, sessionID)
}

// driftHalts applies commit policy to a drift verdict. The classifier never
// blocks on its own; manual policy turns a confirmation requirement into a
// halt, auto policy records it and proceeds.
func (e *Engine) driftHalts(execution *collab.ExecutionResult) (bool, string) {
	if execution.HaltedForDrift {
		return true, "executor halted mid-step on observed drift"
	}
	a := execution.DriftAssessment
	if a == nil || !a.RequiresConfirmation() {
		return false, ""
	}
	// Only an explicit auto policy proceeds; anything else halts.
	if e.policy == PolicyAuto {
		return false, ""
	}
	return true, fmt.Sprintf("%s drift requires confirmation under the %s commit policy", a.Severity, e.policy)
}

// haltFor derives the run-level halt cause from a step that stopped short of
// finalization.
func haltFor(step *StepResult) (HaltCause, string) {
	if step.Review != nil && step.Review.Recommendation == models.ReviewEscalate {
		return HaltEscalation, fmt.Sprintf("step %s escalated after %d review attempt(s)", step.Anchor, step.Review.Attempt)
	}
	detail := fmt.Sprintf("step %s halted on drift", step.Anchor)
	if step.Drift != nil {
		detail = fmt.Sprintf("step %s halted on %s drift (%d unexpected change(s))",
			step.Anchor, step.Drift.Severity, len(step.Drift.UnexpectedChanges))
	}
	return HaltDrift, detail
}

// classifyingExecutor replaces the executor's self-reported drift assessment
// with the engine's classification and persists each execution artifact.
type classifyingExecutor struct {
	inner     collab.Executor
	expected  []string
	artifacts *Artifacts
	sessionID string
	anchor    string
}

func (c *classifyingExecutor) Execute(ctx context.Context, req collab.ExecutionRequest) (*collab.ExecutionResult, error) {
	result, err := c.inner.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	result.DriftAssessment = drift.Classify(c.expected, result.ChangedFiles())
	_ = c.artifacts.Write(c.sessionID, c.anchor, "execution", result)
	return result, nil
}

// recordingReviewer persists each review verdict as review-N.json.
type recordingReviewer struct {
	inner     collab.Reviewer
	artifacts *Artifacts
	sessionID string
	anchor    string
	attempt   int
}

func (r *recordingReviewer) Review(ctx context.Context, req collab.ReviewRequest) (*collab.ReviewVerdict, error) {
	verdict, err := r.inner.Review(ctx, req)
	if err != nil {
		return nil, err
	}
	r.attempt++
	_ = r.artifacts.Write(r.sessionID, r.anchor, fmt.Sprintf("review-%d", r.attempt), verdict)
	return verdict, nil
}
