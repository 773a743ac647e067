// Package ticket tracks one ticket per resolved step through its session.
package ticket

import (
	"context"
	"fmt"
	"time"

	"github.com/mfinley/stepflow/internal/models"
	"github.com/mfinley/stepflow/internal/store"
)

// Tracker opens and closes tracking tickets against the store.
type Tracker struct {
	store store.Store
}

// NewTracker creates a ticket tracker.
func NewTracker(s store.Store) *Tracker {
	return &Tracker{store: s}
}

// Open creates an open ticket for a step and returns it.
func (t *Tracker) Open(ctx context.Context, sessionID, stepAnchor, title string) (*models.Ticket, error) {
	ticket := &models.Ticket{
		SessionID:  sessionID,
		StepAnchor: stepAnchor,
		Title:      title,
		Status:     models.TicketStatusOpen,
	}
	if err := t.store.CreateTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("open ticket for step %s: %w", stepAnchor, err)
	}
	return ticket, nil
}

// Close transitions a ticket to closed. Closing an already-closed ticket is
// an error: it signals bookkeeping drift the caller must see.
func (t *Tracker) Close(ctx context.Context, ticketID string) error {
	ticket, err := t.store.GetTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if ticket.Status == models.TicketStatusClosed {
		return fmt.Errorf("ticket %s is already closed", ticketID)
	}

	now := time.Now().UTC()
	ticket.Status = models.TicketStatusClosed
	ticket.ClosedAt = &now
	if err := t.store.UpdateTicket(ctx, ticket); err != nil {
		return fmt.Errorf("close ticket %s: %w", ticketID, err)
	}
	return nil
}
