// Package collab defines the collaborator capabilities the engine
// orchestrates: strategist, executor, reviewer, and finalizer. Each is an
// abstract interface with typed request/response records; any concrete
// implementation (a scripted tool, static analysis, or a generative
// backend) can satisfy them.
package collab

import (
	"context"
	"fmt"

	"github.com/mfinley/stepflow/internal/models"
)

// StrategyRequest asks the strategist to turn a step into a concrete
// strategy.
type StrategyRequest struct {
	PlanRef       string      `json:"plan_ref"`
	Step          models.Step `json:"step"`
	PriorFeedback []string    `json:"prior_feedback,omitempty"`
}

// Strategy is the strategist's response.
type Strategy struct {
	Approach         string   `json:"approach"`
	ExpectedTouchSet []string `json:"expected_touch_set"`
	OrderedSubsteps  []string `json:"ordered_substeps"`
	VerificationPlan string   `json:"verification_plan"`
	Risks            []string `json:"risks"`
}

// ExecutionRequest asks the executor to perform the step. Feedback carries
// the specific failing checks from a prior review attempt; it is empty on
// the first attempt.
type ExecutionRequest struct {
	PlanRef  string      `json:"plan_ref"`
	Step     models.Step `json:"step"`
	Strategy *Strategy   `json:"strategy"`
	Feedback []string    `json:"feedback,omitempty"`
}

// ExecutionResult is the executor's self-report. DriftAssessment is
// mandatory on every response.
type ExecutionResult struct {
	Success         bool                    `json:"success"`
	HaltedForDrift  bool                    `json:"halted_for_drift"`
	FilesCreated    []string                `json:"files_created"`
	FilesModified   []string                `json:"files_modified"`
	TestsRun        int                     `json:"tests_run"`
	TestsPassed     int                     `json:"tests_passed"`
	DriftAssessment *models.DriftAssessment `json:"drift_assessment"`
}

// ChangedFiles returns the union of created and modified files.
func (r *ExecutionResult) ChangedFiles() []string {
	out := make([]string, 0, len(r.FilesCreated)+len(r.FilesModified))
	out = append(out, r.FilesCreated...)
	out = append(out, r.FilesModified...)
	return out
}

// ReviewRequest asks the reviewer to judge an execution against its step.
type ReviewRequest struct {
	PlanRef   string           `json:"plan_ref"`
	Step      models.Step      `json:"step"`
	Strategy  *Strategy        `json:"strategy"`
	Execution *ExecutionResult `json:"execution_result"`
}

// ReviewVerdict is the reviewer's response for one attempt.
type ReviewVerdict struct {
	Checks         []models.ConformanceCheck   `json:"conformance_checks"`
	Issues         []string                    `json:"issues"`
	Recommendation models.ReviewRecommendation `json:"recommendation"`
}

// CommitRequest asks the finalizer to persist one step's change set as a
// single atomic unit.
type CommitRequest struct {
	StepAnchor     string   `json:"step_anchor"`
	FilesToPersist []string `json:"files_to_persist"`
	TicketID       string   `json:"ticket_id"`
	Message        string   `json:"message"`
}

// CommitResult carries the identifier of the persisted change.
type CommitResult struct {
	CommitHash string `json:"commit_hash"`
}

// PublishRequest aggregates all step summaries for the one-time publish
// phase.
type PublishRequest struct {
	PlanRef   string                `json:"plan_ref"`
	SessionID string                `json:"session_id"`
	Summaries []models.WorklogEntry `json:"session_summaries"`
}

// Strategist turns a work-item description into a concrete strategy.
type Strategist interface {
	Strategize(ctx context.Context, req StrategyRequest) (*Strategy, error)
}

// Executor performs the actual content edits and self-reports a change set.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// Reviewer judges whether executed work matches the strategy.
type Reviewer interface {
	Review(ctx context.Context, req ReviewRequest) (*ReviewVerdict, error)
}

// Finalizer persists change sets and publishes the session outcome.
type Finalizer interface {
	Commit(ctx context.Context, req CommitRequest) (*CommitResult, error)
	Publish(ctx context.Context, req PublishRequest) (*models.PublishResult, error)
}

// ContractViolationError reports a collaborator response that failed schema
// or type validation. Violations are captured verbatim and never
// auto-repaired or retried.
type ContractViolationError struct {
	Phase  string // strategize, execute, review, finalize
	Field  string
	Reason string
	Raw    string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("%s response violates contract: field %q: %s", e.Phase, e.Field, e.Reason)
}

// ValidateStrategy checks the strategist contract.
func ValidateStrategy(s *Strategy, raw string) error {
	if s.Approach == "" {
		return &ContractViolationError{Phase: "strategize", Field: "approach", Reason: "must not be empty", Raw: raw}
	}
	if len(s.ExpectedTouchSet) == 0 {
		return &ContractViolationError{Phase: "strategize", Field: "expected_touch_set", Reason: "must name at least one artifact", Raw: raw}
	}
	return nil
}

// ValidateExecution checks the executor contract. The drift self-assessment
// is mandatory on every response.
func ValidateExecution(r *ExecutionResult, raw string) error {
	if r.DriftAssessment == nil {
		return &ContractViolationError{Phase: "execute", Field: "drift_assessment", Reason: "must be present on every response", Raw: raw}
	}
	if r.Success && len(r.FilesCreated) == 0 && len(r.FilesModified) == 0 {
		return &ContractViolationError{Phase: "execute", Field: "files_created", Reason: "successful execution reported no changed files", Raw: raw}
	}
	return nil
}

// ValidateReview checks the reviewer contract.
func ValidateReview(v *ReviewVerdict, raw string) error {
	switch v.Recommendation {
	case models.ReviewApprove, models.ReviewRevise, models.ReviewEscalate:
	default:
		return &ContractViolationError{Phase: "review", Field: "recommendation", Reason: fmt.Sprintf("unknown value %q", v.Recommendation), Raw: raw}
	}
	for i, c := range v.Checks {
		if c.Description == "" {
			return &ContractViolationError{Phase: "review", Field: fmt.Sprintf("conformance_checks[%d].description", i), Reason: "must not be empty", Raw: raw}
		}
	}
	return nil
}
