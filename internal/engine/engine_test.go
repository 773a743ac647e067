package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfinley/stepflow/internal/collab"
	"github.com/mfinley/stepflow/internal/models"
	"github.com/mfinley/stepflow/internal/plan"
	"github.com/mfinley/stepflow/internal/review"
	"github.com/mfinley/stepflow/internal/store"
	"github.com/mfinley/stepflow/internal/ticket"
)

type stubStrategist struct {
	strategy *collab.Strategy
	err      error
}

func (s *stubStrategist) Strategize(_ context.Context, req collab.StrategyRequest) (*collab.Strategy, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.strategy != nil {
		return s.strategy, nil
	}
	return &collab.Strategy{
		Approach:         "implement " + req.Step.Anchor,
		ExpectedTouchSet: req.Step.Artifacts,
	}, nil
}

type scriptedExecutor struct {
	fn    func(req collab.ExecutionRequest) (*collab.ExecutionResult, error)
	calls int
}

func (e *scriptedExecutor) Execute(_ context.Context, req collab.ExecutionRequest) (*collab.ExecutionResult, error) {
	e.calls++
	return e.fn(req)
}

// executorTouching reports exactly the step's declared artifacts as changed.
func executorTouching() *scriptedExecutor {
	return &scriptedExecutor{fn: func(req collab.ExecutionRequest) (*collab.ExecutionResult, error) {
		return &collab.ExecutionResult{
			Success:      true,
			FilesCreated: req.Step.Artifacts,
		}, nil
	}}
}

type scriptedReviewer struct {
	verdicts []*collab.ReviewVerdict
	calls    int
}

func (r *scriptedReviewer) Review(_ context.Context, _ collab.ReviewRequest) (*collab.ReviewVerdict, error) {
	v := r.verdicts[len(r.verdicts)-1]
	if r.calls < len(r.verdicts) {
		v = r.verdicts[r.calls]
	}
	r.calls++
	return v, nil
}

func approveAlways() *scriptedReviewer {
	return &scriptedReviewer{verdicts: []*collab.ReviewVerdict{
		{Recommendation: models.ReviewApprove, Checks: []models.ConformanceCheck{
			{Description: "artifacts match strategy", Passed: true},
		}},
	}}
}

type stubFinalizer struct {
	finalized []string
	published int
	err       error
}

func (f *stubFinalizer) Finalize(_ context.Context, stepAnchor string, _ []string, ticketID, _ string) (*models.FinalizationRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.finalized = append(f.finalized, stepAnchor)
	return &models.FinalizationRecord{
		StepAnchor:   stepAnchor,
		CommitHash:   "hash-" + stepAnchor,
		TicketID:     ticketID,
		TicketClosed: true,
	}, nil
}

func (f *stubFinalizer) Publish(_ context.Context, _, _ string) (*models.PublishResult, error) {
	f.published++
	return &models.PublishResult{Pushed: true, RequestOpened: true}, nil
}

func twoStepPlan() *models.Plan {
	return &models.Plan{
		ID: "plan-1",
		Steps: []models.Step{
			{Anchor: "a", Title: "Step A", Artifacts: []string{"internal/a/a.go"}},
			{Anchor: "b", Title: "Step B", DependsOn: []string{"a"}, Artifacts: []string{"internal/b/b.go"}},
		},
	}
}

type testHarness struct {
	store      store.Store
	stateDir   string
	strategist *stubStrategist
	executor   *scriptedExecutor
	reviewer   *scriptedReviewer
	finalizer  *stubFinalizer
	engine     *Engine
}

func newHarness(t *testing.T, policy CommitPolicy) *testHarness {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewSQLiteStore(filepath.Join(dir, "stepflow.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	h := &testHarness{
		store:      st,
		stateDir:   dir,
		strategist: &stubStrategist{},
		executor:   executorTouching(),
		reviewer:   approveAlways(),
		finalizer:  &stubFinalizer{},
	}
	h.engine = New(Deps{
		Store:      st,
		Strategist: h.strategist,
		Executor:   h.executor,
		Reviewer:   h.reviewer,
		Finalizer:  h.finalizer,
		Tickets:    ticket.NewTracker(st),
		Artifacts:  NewArtifacts(dir),
		Review:     review.Config{MaxRetries: 3},
		Policy:     policy,
	})
	return h
}

func resolveAll(t *testing.T, p *models.Plan) []plan.ResolvedStep {
	t.Helper()
	resolved, err := plan.Resolve(p, nil, plan.Intent{Kind: plan.IntentRemaining})
	require.NoError(t, err)
	return resolved
}

func TestRunCompletesAllSteps(t *testing.T) {
	h := newHarness(t, PolicyManual)
	p := twoStepPlan()
	ctx := context.Background()

	result, err := h.engine.Run(ctx, p, "/tmp/ws", resolveAll(t, p))
	require.NoError(t, err)
	assert.Empty(t, result.Halt)
	require.Len(t, result.Steps, 2)

	assert.Equal(t, models.SessionStatusCompleted, result.Session.Status)
	assert.Equal(t, []string{"a", "b"}, result.Session.StepsCompleted)
	assert.Empty(t, result.Session.StepsRemaining)
	assert.Equal(t, []string{"a", "b"}, h.finalizer.finalized)

	// One tracking ticket per step, recorded on the session.
	require.Len(t, result.Session.Tickets, 2)
	stored, err := h.store.GetSession(ctx, result.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, stored.Status)

	tickets, err := h.store.ListTickets(ctx, result.Session.ID)
	require.NoError(t, err)
	assert.Len(t, tickets, 2)
}

func TestRunWritesPhaseArtifacts(t *testing.T) {
	h := newHarness(t, PolicyManual)
	p := twoStepPlan()

	result, err := h.engine.Run(context.Background(), p, "/tmp/ws", resolveAll(t, p))
	require.NoError(t, err)

	stepDir := filepath.Join(h.stateDir, "sessions", result.Session.ID, "a")
	for _, name := range []string{"strategy.json", "execution.json", "review-1.json"} {
		_, err := os.Stat(filepath.Join(stepDir, name))
		assert.NoError(t, err, "expected artifact %s", name)
	}
}

func TestRunHaltsOnModerateDriftUnderManualPolicy(t *testing.T) {
	h := newHarness(t, PolicyManual)
	p := twoStepPlan()

	// One change with no directory proximity to the expected set: one red
	// entry, a moderate verdict.
	h.executor.fn = func(req collab.ExecutionRequest) (*collab.ExecutionResult, error) {
		return &collab.ExecutionResult{
			Success:      true,
			FilesCreated: append(req.Step.Artifacts, "vendor/elsewhere/other.go"),
		}, nil
	}

	result, err := h.engine.Run(context.Background(), p, "/tmp/ws", resolveAll(t, p))
	require.NoError(t, err)

	assert.Equal(t, HaltDrift, result.Halt)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, models.DriftSeverityModerate, result.Steps[0].Drift.Severity)
	assert.Empty(t, h.finalizer.finalized, "no commit before the drift decision")
	assert.Equal(t, 0, h.reviewer.calls, "drift halt precedes review")

	// The session stays resumable.
	assert.Equal(t, models.SessionStatusInProgress, result.Session.Status)
	assert.Equal(t, "a", result.Session.CurrentStep)
}

func TestRunUnknownPolicyHaltsOnDrift(t *testing.T) {
	h := newHarness(t, CommitPolicy("tyop"))
	p := twoStepPlan()

	h.executor.fn = func(req collab.ExecutionRequest) (*collab.ExecutionResult, error) {
		return &collab.ExecutionResult{
			Success:      true,
			FilesCreated: append(req.Step.Artifacts, "vendor/elsewhere/other.go"),
		}, nil
	}

	// A policy value that is not an explicit auto must behave like manual.
	result, err := h.engine.Run(context.Background(), p, "/tmp/ws", resolveAll(t, p))
	require.NoError(t, err)
	assert.Equal(t, HaltDrift, result.Halt)
	assert.Empty(t, h.finalizer.finalized)
}

func TestRunProceedsOnModerateDriftUnderAutoPolicy(t *testing.T) {
	h := newHarness(t, PolicyAuto)
	p := twoStepPlan()

	h.executor.fn = func(req collab.ExecutionRequest) (*collab.ExecutionResult, error) {
		return &collab.ExecutionResult{
			Success:      true,
			FilesCreated: append(req.Step.Artifacts, "vendor/elsewhere/other.go"),
		}, nil
	}

	result, err := h.engine.Run(context.Background(), p, "/tmp/ws", resolveAll(t, p))
	require.NoError(t, err)
	assert.Empty(t, result.Halt)
	assert.Equal(t, models.SessionStatusCompleted, result.Session.Status)
	assert.Len(t, h.finalizer.finalized, 2)
}

func TestRunHaltsOnEscalation(t *testing.T) {
	h := newHarness(t, PolicyManual)
	p := twoStepPlan()

	h.reviewer = &scriptedReviewer{verdicts: []*collab.ReviewVerdict{
		{Recommendation: models.ReviewRevise, Checks: []models.ConformanceCheck{
			{Description: "verification missing", Passed: false},
		}},
	}}
	h.engine.reviewer = h.reviewer

	result, err := h.engine.Run(context.Background(), p, "/tmp/ws", resolveAll(t, p))
	require.NoError(t, err)

	assert.Equal(t, HaltEscalation, result.Halt)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, models.ReviewEscalate, result.Steps[0].Review.Recommendation)

	// max_retries+1 reviewer invocations, then a forced escalation.
	assert.Equal(t, 4, h.reviewer.calls)
	assert.Empty(t, h.finalizer.finalized)
	assert.Equal(t, models.SessionStatusInProgress, result.Session.Status)
}

func TestRunCapturesContractViolation(t *testing.T) {
	h := newHarness(t, PolicyManual)
	p := twoStepPlan()

	h.strategist.err = &collab.ContractViolationError{
		Phase:  "strategize",
		Field:  "expected_touch_set",
		Reason: "must name at least one artifact",
		Raw:    `{"approach": "x"}`,
	}

	result, err := h.engine.Run(context.Background(), p, "/tmp/ws", resolveAll(t, p))
	require.Error(t, err)

	var violation *collab.ContractViolationError
	require.True(t, errors.As(err, &violation))

	assert.Equal(t, models.SessionStatusFailed, result.Session.Status)
	assert.Equal(t, "a", result.Session.FailedAtStep)

	// The offending response is captured verbatim in the error artifact.
	data, rerr := os.ReadFile(filepath.Join(h.stateDir, "sessions", result.Session.ID, "a", "error.json"))
	require.NoError(t, rerr)
	var artifact map[string]any
	require.NoError(t, json.Unmarshal(data, &artifact))
	assert.Equal(t, "strategize", artifact["phase"])
	assert.Equal(t, `{"approach": "x"}`, artifact["raw_response"])

	stored, serr := h.store.GetSession(context.Background(), result.Session.ID)
	require.NoError(t, serr)
	assert.Equal(t, models.SessionStatusFailed, stored.Status)
}

func TestRunFinalizeFailureMarksSessionFailed(t *testing.T) {
	h := newHarness(t, PolicyManual)
	p := twoStepPlan()

	h.finalizer.err = fmt.Errorf("persist step a: index locked")

	result, err := h.engine.Run(context.Background(), p, "/tmp/ws", resolveAll(t, p))
	require.Error(t, err)
	assert.Equal(t, models.SessionStatusFailed, result.Session.Status)
	assert.Contains(t, result.Session.FailureReason, "finalize")
}

func TestRunCancellationFailsSession(t *testing.T) {
	h := newHarness(t, PolicyManual)
	p := twoStepPlan()

	// Cancel while step a executes. The next store operation observes the
	// cancellation and the run fails through the error sink.
	ctx, cancel := context.WithCancel(context.Background())
	h.executor.fn = func(req collab.ExecutionRequest) (*collab.ExecutionResult, error) {
		cancel()
		return &collab.ExecutionResult{
			Success:      true,
			FilesCreated: req.Step.Artifacts,
		}, nil
	}

	result, err := h.engine.Run(ctx, p, "/tmp/ws", resolveAll(t, p))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, result.Steps, 1, "step b never started")

	assert.Equal(t, models.SessionStatusFailed, result.Session.Status)
	assert.Equal(t, "a", result.Session.FailedAtStep)

	// Bookkeeping survives the cancelled context.
	stored, serr := h.store.GetSession(context.Background(), result.Session.ID)
	require.NoError(t, serr)
	assert.Equal(t, models.SessionStatusFailed, stored.Status)
	assert.Contains(t, stored.FailureReason, "context canceled")
}
