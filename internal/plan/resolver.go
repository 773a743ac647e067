package plan

import (
	"fmt"

	"github.com/mfinley/stepflow/internal/models"
)

// IntentKind identifies how the caller selected steps for a run.
type IntentKind string

const (
	IntentNext      IntentKind = "next"
	IntentRemaining IntentKind = "remaining"
	IntentAll       IntentKind = "all"
	IntentSpecific  IntentKind = "specific"
	IntentRange     IntentKind = "range"
	IntentAmbiguous IntentKind = "ambiguous"
)

// Intent is a step selection request.
type Intent struct {
	Kind   IntentKind
	Anchor string // for specific
	Start  string // for range, inclusive
	End    string // for range, inclusive
}

// ResolvedStep is one step scheduled for execution.
type ResolvedStep struct {
	Step models.Step
	// AlreadyCompleted flags steps the session has finished before. Under
	// the `all` replay intent they run again anyway; other intents never
	// schedule them silently.
	AlreadyCompleted bool
}

// ErrNeedsClarification is returned when no selection intent could be
// inferred. Callers must ask rather than guess.
type ErrNeedsClarification struct {
	Reason string
}

func (e *ErrNeedsClarification) Error() string {
	return fmt.Sprintf("step selection needs clarification: %s", e.Reason)
}

// ErrAlreadyCompleted reports a selection that names a finished step under
// an intent that does not replay.
type ErrAlreadyCompleted struct {
	Step string
}

func (e *ErrAlreadyCompleted) Error() string {
	return fmt.Sprintf("step %q is already completed; use the all intent to replay", e.Step)
}

// ErrDependencyNotMet reports a candidate step whose declared dependency is
// neither completed nor scheduled earlier in the same resolution.
type ErrDependencyNotMet struct {
	Step       string
	Dependency string
}

func (e *ErrDependencyNotMet) Error() string {
	return fmt.Sprintf("step %q: dependency not met: %q must complete first", e.Step, e.Dependency)
}

// Resolve computes the executable subset of the plan for the given intent.
// Output ordering always follows the plan's declared order, never input
// order. Dependencies are satisfied by completed steps or by steps scheduled
// earlier in the same resolution.
func Resolve(p *models.Plan, completed []string, intent Intent) ([]ResolvedStep, error) {
	done := make(map[string]bool, len(completed))
	for _, a := range completed {
		done[a] = true
	}

	var candidates []models.Step
	switch intent.Kind {
	case IntentNext:
		for _, step := range p.Steps {
			if !done[step.Anchor] {
				candidates = append(candidates, step)
				break
			}
		}
		if len(candidates) == 0 {
			return nil, fmt.Errorf("plan %s: no unresolved steps remain", p.ID)
		}

	case IntentRemaining:
		for _, step := range p.Steps {
			if !done[step.Anchor] {
				candidates = append(candidates, step)
			}
		}
		if len(candidates) == 0 {
			return nil, fmt.Errorf("plan %s: no unresolved steps remain", p.ID)
		}

	case IntentAll:
		candidates = append(candidates, p.Steps...)

	case IntentSpecific:
		step := p.FindStep(intent.Anchor)
		if step == nil {
			return nil, fmt.Errorf("plan %s: no step with anchor %q", p.ID, intent.Anchor)
		}
		candidates = append(candidates, *step)

	case IntentRange:
		start := p.StepIndex(intent.Start)
		if start < 0 {
			return nil, fmt.Errorf("plan %s: no step with anchor %q", p.ID, intent.Start)
		}
		end := p.StepIndex(intent.End)
		if end < 0 {
			return nil, fmt.Errorf("plan %s: no step with anchor %q", p.ID, intent.End)
		}
		if end < start {
			return nil, fmt.Errorf("plan %s: range end %q precedes start %q", p.ID, intent.End, intent.Start)
		}
		candidates = append(candidates, p.Steps[start:end+1]...)

	case IntentAmbiguous:
		return nil, &ErrNeedsClarification{Reason: "no selection intent could be inferred"}

	default:
		return nil, fmt.Errorf("unknown selection intent %q", intent.Kind)
	}

	// Validate dependencies against completed steps plus steps scheduled
	// earlier in this resolution.
	scheduled := make(map[string]bool, len(candidates))
	resolved := make([]ResolvedStep, 0, len(candidates))
	for _, step := range candidates {
		for _, dep := range step.DependsOn {
			if !done[dep] && !scheduled[dep] {
				return nil, &ErrDependencyNotMet{Step: step.Anchor, Dependency: dep}
			}
		}
		resolved = append(resolved, ResolvedStep{
			Step:             step,
			AlreadyCompleted: done[step.Anchor],
		})
		scheduled[step.Anchor] = true
	}

	// Steps already completed are only re-run under explicit replay.
	if intent.Kind != IntentAll {
		for _, rs := range resolved {
			if rs.AlreadyCompleted {
				return nil, &ErrAlreadyCompleted{Step: rs.Step.Anchor}
			}
		}
	}

	return resolved, nil
}
