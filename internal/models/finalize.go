package models

import "time"

// FinalizationRecord is the result of finalizing one step. CommitHash is
// empty until the commit succeeds. NeedsReconcile is set exactly when the
// commit succeeded but ticket closure failed.
type FinalizationRecord struct {
	StepAnchor     string    `json:"step_anchor"`
	CommitHash     string    `json:"commit_hash"`
	TicketID       string    `json:"ticket_id"`
	TicketClosed   bool      `json:"ticket_closed"`
	NeedsReconcile bool      `json:"needs_reconcile"`
	FinalizedAt    time.Time `json:"finalized_at"`
}

// WorklogEntry is one completed-step record in the durable worklog.
type WorklogEntry struct {
	StepAnchor string    `json:"step_anchor"`
	Timestamp  time.Time `json:"timestamp"`
	TicketID   string    `json:"ticket_id"`
	Summary    string    `json:"summary"`
}

// PublishResult is the outcome of the one-time publish phase. A failed
// request-open after a successful push leaves the pushed state valid and
// retryable.
type PublishResult struct {
	Pushed        bool   `json:"pushed"`
	RequestOpened bool   `json:"request_opened"`
	RequestRef    string `json:"request_ref"`
}
