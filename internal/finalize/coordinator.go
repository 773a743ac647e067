// Package finalize sequences the per-step commit point: worklog update,
// durable commit, and ticket closure as one logical unit with defined
// partial-failure handling.
package finalize

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mfinley/stepflow/internal/collab"
	"github.com/mfinley/stepflow/internal/models"
)

// TicketCloser is the slice of the ticket tracker finalization needs.
type TicketCloser interface {
	Close(ctx context.Context, ticketID string) error
}

// ReconcileError reports the one fatal, non-retried condition: the commit
// succeeded but ticket closure failed. An open ticket for already-persisted
// work is a correctness-visible state requiring manual reconciliation.
type ReconcileError struct {
	CommitHash string
	TicketID   string
	Err        error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("needs reconcile: commit %s persisted but ticket %s was not closed: %v", e.CommitHash, e.TicketID, e.Err)
}

func (e *ReconcileError) Unwrap() error { return e.Err }

// Coordinator drives finalization for steps and the one-time publish.
type Coordinator struct {
	worklog   *Worklog
	finalizer collab.Finalizer
	tickets   TicketCloser
	workspace string
}

// NewCoordinator creates a finalization coordinator for one workspace. The
// worklog lives inside the workspace so each entry is persisted atomically
// with the change set it describes.
func NewCoordinator(workspace string, worklog *Worklog, finalizer collab.Finalizer, tickets TicketCloser) *Coordinator {
	return &Coordinator{
		worklog:   worklog,
		finalizer: finalizer,
		tickets:   tickets,
		workspace: workspace,
	}
}

// Finalize appends the worklog entry, persists the change set as one atomic
// unit, then closes the ticket. Each stage is a distinct commit point:
//   - a worklog append that never gets committed is orphaned but harmless;
//     the next successful persistence picks it up
//   - a failed commit halts before any ticket closure is attempted
//   - a failed ticket closure after a successful commit sets
//     needs_reconcile and returns a ReconcileError
func (c *Coordinator) Finalize(ctx context.Context, stepAnchor string, filesToPersist []string, ticketID, summary string) (*models.FinalizationRecord, error) {
	record := &models.FinalizationRecord{
		StepAnchor: stepAnchor,
		TicketID:   ticketID,
	}

	entry := models.WorklogEntry{
		StepAnchor: stepAnchor,
		Timestamp:  time.Now().UTC(),
		TicketID:   ticketID,
		Summary:    summary,
	}
	if err := c.worklog.Append(entry); err != nil {
		return record, fmt.Errorf("append worklog entry for step %s: %w", stepAnchor, err)
	}

	// The worklog rides in the same persistence unit as the code changes.
	files := append([]string(nil), filesToPersist...)
	if rel, err := filepath.Rel(c.workspace, c.worklog.Path()); err == nil {
		files = append(files, rel)
	}

	commit, err := c.finalizer.Commit(ctx, collab.CommitRequest{
		StepAnchor:     stepAnchor,
		FilesToPersist: files,
		TicketID:       ticketID,
		Message:        fmt.Sprintf("%s: %s", stepAnchor, summary),
	})
	if err != nil {
		return record, fmt.Errorf("persist step %s: %w", stepAnchor, err)
	}
	record.CommitHash = commit.CommitHash

	if err := c.tickets.Close(ctx, ticketID); err != nil {
		record.NeedsReconcile = true
		return record, &ReconcileError{
			CommitHash: commit.CommitHash,
			TicketID:   ticketID,
			Err:        err,
		}
	}
	record.TicketClosed = true
	record.FinalizedAt = time.Now().UTC()
	return record, nil
}

// Publish runs the one-time publish phase after all steps complete: it
// aggregates step summaries and performs the outward-facing persistence
// action. A failed request-open after a successful push leaves the pushed
// state valid and retryable.
func (c *Coordinator) Publish(ctx context.Context, planRef, sessionID string) (*models.PublishResult, error) {
	summaries, err := c.worklog.Entries()
	if err != nil {
		return nil, fmt.Errorf("collect step summaries: %w", err)
	}

	result, err := c.finalizer.Publish(ctx, collab.PublishRequest{
		PlanRef:   planRef,
		SessionID: sessionID,
		Summaries: summaries,
	})
	if err != nil {
		if result == nil {
			result = &models.PublishResult{}
		}
		return result, fmt.Errorf("publish session %s: %w", sessionID, err)
	}
	return result, nil
}
