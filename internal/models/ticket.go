package models

import "time"

// TicketStatus represents the state of a tracking ticket.
type TicketStatus string

const (
	TicketStatusOpen   TicketStatus = "open"
	TicketStatusClosed TicketStatus = "closed"
)

// Ticket tracks one resolved step through its session. Opened when the step
// begins and closed by finalization after the commit succeeds.
type Ticket struct {
	ID         string
	SessionID  string
	StepAnchor string
	Title      string
	Status     TicketStatus
	CreatedAt  time.Time
	ClosedAt   *time.Time
}
