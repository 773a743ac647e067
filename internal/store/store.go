package store

import (
	"context"

	"github.com/mfinley/stepflow/internal/models"
)

// SessionListFilter specifies filters for listing sessions.
type SessionListFilter struct {
	PlanID string
	Status models.SessionStatus
	Limit  int
}

// Store defines the persistence interface for stepflow.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, filter SessionListFilter) ([]*models.Session, error)
	UpdateSession(ctx context.Context, s *models.Session) error

	// Tickets
	CreateTicket(ctx context.Context, t *models.Ticket) error
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	ListTickets(ctx context.Context, sessionID string) ([]*models.Ticket, error)
	UpdateTicket(ctx context.Context, t *models.Ticket) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
