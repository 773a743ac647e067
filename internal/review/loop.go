// Package review drives the reviewer collaborator to a terminal verdict,
// feeding specific failing checks back to the executor, bounded by a
// maximum retry count.
package review

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/mfinley/stepflow/internal/collab"
	"github.com/mfinley/stepflow/internal/models"
)

// Config holds review loop configuration.
type Config struct {
	MaxRetries int
}

// DefaultConfig returns the default review config, reading from viper when
// available.
func DefaultConfig() Config {
	maxRetries := viper.GetInt("review.max_attempts")
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return Config{MaxRetries: maxRetries}
}

// Loop drives review attempts for one step.
type Loop struct {
	reviewer collab.Reviewer
	executor collab.Executor
	cfg      Config
}

// NewLoop creates a review loop over the given collaborators.
func NewLoop(reviewer collab.Reviewer, executor collab.Executor, cfg Config) *Loop {
	return &Loop{reviewer: reviewer, executor: executor, cfg: cfg}
}

// Result pairs the terminal outcome with the last execution result, which
// may have been revised during the loop.
type Result struct {
	Outcome   *models.ReviewOutcome
	Execution *collab.ExecutionResult
}

// Run iterates review and revision until APPROVE, ESCALATE, or the retry
// cap. It issues at most MaxRetries+1 reviewer invocations. On REVISE the
// executor receives every failing check individually, never a generic
// retry request.
func (l *Loop) Run(ctx context.Context, planRef string, step models.Step, strategy *collab.Strategy, execution *collab.ExecutionResult) (*Result, error) {
	var accumulated []models.ConformanceCheck
	var accumulatedIssues []string

	for attempt := 0; ; attempt++ {
		verdict, err := l.reviewer.Review(ctx, collab.ReviewRequest{
			PlanRef:   planRef,
			Step:      step,
			Strategy:  strategy,
			Execution: execution,
		})
		if err != nil {
			return nil, fmt.Errorf("review attempt %d: %w", attempt+1, err)
		}

		outcome := &models.ReviewOutcome{
			StepAnchor:     step.Anchor,
			Recommendation: verdict.Recommendation,
			Checks:         verdict.Checks,
			Issues:         verdict.Issues,
			Attempt:        attempt + 1,
		}

		switch verdict.Recommendation {
		case models.ReviewApprove:
			return &Result{Outcome: outcome, Execution: execution}, nil

		case models.ReviewEscalate:
			outcome.Checks = append(accumulated, verdict.Checks...)
			outcome.Issues = append(accumulatedIssues, verdict.Issues...)
			return &Result{Outcome: outcome, Execution: execution}, nil

		case models.ReviewRevise:
			accumulated = append(accumulated, outcome.FailingChecks()...)
			accumulatedIssues = append(accumulatedIssues, verdict.Issues...)

			// Retries exhausted: force ESCALATE regardless of the
			// reviewer's own verdict, with the full accumulated list.
			if attempt >= l.cfg.MaxRetries {
				outcome.Recommendation = models.ReviewEscalate
				outcome.Checks = accumulated
				outcome.Issues = accumulatedIssues
				return &Result{Outcome: outcome, Execution: execution}, nil
			}

			feedback := feedbackFor(verdict)
			revised, err := l.executor.Execute(ctx, collab.ExecutionRequest{
				PlanRef:  planRef,
				Step:     step,
				Strategy: strategy,
				Feedback: feedback,
			})
			if err != nil {
				return nil, fmt.Errorf("revision after attempt %d: %w", attempt+1, err)
			}
			execution = revised

		default:
			return nil, &collab.ContractViolationError{
				Phase:  "review",
				Field:  "recommendation",
				Reason: fmt.Sprintf("unknown value %q", verdict.Recommendation),
			}
		}
	}
}

// feedbackFor names every failing check and issue individually so the
// executor can make targeted fixes.
func feedbackFor(verdict *collab.ReviewVerdict) []string {
	var feedback []string
	for _, c := range verdict.Checks {
		if c.Passed {
			continue
		}
		item := fmt.Sprintf("failing check: %s", c.Description)
		if c.Detail != "" {
			item += ": " + c.Detail
		}
		feedback = append(feedback, item)
	}
	for _, issue := range verdict.Issues {
		feedback = append(feedback, fmt.Sprintf("issue: %s", issue))
	}
	return feedback
}
