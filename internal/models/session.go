package models

import (
	"fmt"
	"time"
)

// SessionStatus represents the lifecycle state of an orchestration session.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
)

// Session is one run of the orchestration engine against a plan.
// The engine never deletes sessions; retention is external.
type Session struct {
	ID             string
	PlanID         string
	WorkspacePath  string
	Status         SessionStatus
	CurrentStep    string // empty when no step is active
	StepsCompleted []string
	StepsRemaining []string
	Tickets        map[string]string // step anchor -> ticket id
	FailureReason  string
	FailedAtStep   string
	CreatedAt      time.Time
	LastUpdatedAt  time.Time
}

// Validate checks the completed/remaining invariant: the two sets must be
// disjoint.
func (s *Session) Validate() error {
	seen := make(map[string]bool, len(s.StepsCompleted))
	for _, a := range s.StepsCompleted {
		seen[a] = true
	}
	for _, a := range s.StepsRemaining {
		if seen[a] {
			return fmt.Errorf("step %s is both completed and remaining", a)
		}
	}
	return nil
}

// AdvanceStep moves the given anchor from remaining to completed and clears
// the current step. The session transitions to completed when nothing
// remains.
func (s *Session) AdvanceStep(anchor string) error {
	if s.Status != SessionStatusInProgress {
		return fmt.Errorf("session %s is %s, not in_progress", s.ID, s.Status)
	}
	idx := -1
	for i, a := range s.StepsRemaining {
		if a == anchor {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("step %s is not in the remaining set", anchor)
	}
	s.StepsRemaining = append(s.StepsRemaining[:idx], s.StepsRemaining[idx+1:]...)
	s.StepsCompleted = append(s.StepsCompleted, anchor)
	s.CurrentStep = ""
	if len(s.StepsRemaining) == 0 {
		s.Status = SessionStatusCompleted
	}
	return nil
}

// Fail transitions the session to failed, recording the reason and the step
// that was active. Failing a terminal session is an error.
func (s *Session) Fail(atStep, reason string) error {
	if s.Status != SessionStatusInProgress {
		return fmt.Errorf("session %s is already %s", s.ID, s.Status)
	}
	s.Status = SessionStatusFailed
	s.FailedAtStep = atStep
	s.FailureReason = reason
	return nil
}
