package engine

import (
	"context"
	"errors"
	"time"

	"github.com/mfinley/stepflow/internal/collab"
	"github.com/mfinley/stepflow/internal/models"
	"github.com/mfinley/stepflow/internal/store"
)

// errorArtifact is the persisted shape of a captured failure. Contract
// violations carry the offending response verbatim; they are never repaired
// or retried.
type errorArtifact struct {
	SessionID  string    `json:"session_id"`
	StepAnchor string    `json:"step_anchor"`
	Phase      string    `json:"phase"`
	Error      string    `json:"error"`
	Raw        string    `json:"raw_response,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// ErrorSink captures a phase failure to an error artifact and marks the
// session failed. It is the single exit path for unrecoverable errors, so
// every failed run leaves both an inspectable artifact and a terminal
// session record.
type ErrorSink struct {
	store     store.Store
	artifacts *Artifacts
}

// NewErrorSink creates an error sink over the store and artifact writer.
func NewErrorSink(s store.Store, a *Artifacts) *ErrorSink {
	return &ErrorSink{store: s, artifacts: a}
}

// Capture persists the error artifact, transitions the session to failed,
// and returns the original error for the caller to propagate. Bookkeeping
// failures never mask the captured error.
func (k *ErrorSink) Capture(ctx context.Context, sess *models.Session, phase, stepAnchor string, cause error) error {
	artifact := errorArtifact{
		SessionID:  sess.ID,
		StepAnchor: stepAnchor,
		Phase:      phase,
		Error:      cause.Error(),
		CapturedAt: time.Now().UTC(),
	}
	var violation *collab.ContractViolationError
	if errors.As(cause, &violation) {
		artifact.Raw = violation.Raw
	}

	// Best effort from here down: the artifact and session update must not
	// replace the cause the caller needs to see. Bookkeeping still runs when
	// the cause is the context itself being cancelled.
	bookkeeping := context.WithoutCancel(ctx)
	_ = k.artifacts.Write(sess.ID, stepAnchor, "error", artifact)

	if sess.Status == models.SessionStatusInProgress {
		if err := sess.Fail(stepAnchor, phase+": "+cause.Error()); err == nil {
			_ = k.store.UpdateSession(bookkeeping, sess)
		}
	}
	return cause
}
