// Package conflict scans persisted session records for other in-flight runs
// against the same plan. Detection is optimistic: it only warns, it never
// locks; enforcement is a caller decision.
package conflict

import (
	"context"
	"time"

	"github.com/spf13/viper"

	"github.com/mfinley/stepflow/internal/models"
	"github.com/mfinley/stepflow/internal/store"
)

// DefaultStaleness is how old an in-progress session's last update may be
// before it is reported as abandoned rather than a live conflict.
const DefaultStaleness = time.Hour

// SessionSummary describes one conflicting or abandoned session.
type SessionSummary struct {
	SessionID     string
	PlanID        string
	CurrentStep   string
	LastUpdatedAt time.Time
	Age           time.Duration
}

// Report is the result of a conflict scan. Live conflicts must be surfaced
// to the caller for an explicit continue/abort decision; abandoned sessions
// are informational and do not block.
type Report struct {
	Live      []SessionSummary
	Abandoned []SessionSummary
}

// HasLiveConflict reports whether any session requires a caller decision.
func (r *Report) HasLiveConflict() bool {
	return len(r.Live) > 0
}

// Detector scans session records for a plan.
type Detector struct {
	store     store.Store
	staleness time.Duration
	now       func() time.Time
}

// NewDetector creates a detector with the given staleness threshold. A zero
// threshold uses the viper setting or the default of one hour.
func NewDetector(s store.Store, staleness time.Duration) *Detector {
	if staleness <= 0 {
		staleness = viper.GetDuration("conflict.staleness")
	}
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	return &Detector{store: s, staleness: staleness, now: time.Now}
}

// Detect classifies every in-progress session targeting the plan by age.
func (d *Detector) Detect(ctx context.Context, planID string) (*Report, error) {
	sessions, err := d.store.ListSessions(ctx, store.SessionListFilter{
		PlanID: planID,
		Status: models.SessionStatusInProgress,
	})
	if err != nil {
		return nil, err
	}

	now := d.now().UTC()
	report := &Report{}
	for _, sess := range sessions {
		summary := SessionSummary{
			SessionID:     sess.ID,
			PlanID:        sess.PlanID,
			CurrentStep:   sess.CurrentStep,
			LastUpdatedAt: sess.LastUpdatedAt,
			Age:           now.Sub(sess.LastUpdatedAt),
		}
		if summary.Age < d.staleness {
			report.Live = append(report.Live, summary)
		} else {
			report.Abandoned = append(report.Abandoned, summary)
		}
	}
	return report, nil
}
