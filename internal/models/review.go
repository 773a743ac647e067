package models

// ReviewRecommendation is the reviewer's verdict for one attempt.
type ReviewRecommendation string

const (
	ReviewApprove  ReviewRecommendation = "APPROVE"
	ReviewRevise   ReviewRecommendation = "REVISE"
	ReviewEscalate ReviewRecommendation = "ESCALATE"
)

// ConformanceCheck is one pass/fail verification against the strategy.
type ConformanceCheck struct {
	Description string `json:"description"`
	Passed      bool   `json:"passed"`
	Detail      string `json:"detail"`
}

// ReviewOutcome is the terminal result of the review loop for a step.
// Attempt is monotonically non-decreasing within a step and capped;
// exceeding the cap forces ESCALATE regardless of the reviewer's verdict.
type ReviewOutcome struct {
	StepAnchor     string               `json:"step_anchor"`
	Recommendation ReviewRecommendation `json:"recommendation"`
	Checks         []ConformanceCheck   `json:"conformance_checks"`
	Issues         []string             `json:"issues"`
	Attempt        int                  `json:"attempt"`
}

// FailingChecks returns the checks that did not pass.
func (o *ReviewOutcome) FailingChecks() []ConformanceCheck {
	var failing []ConformanceCheck
	for _, c := range o.Checks {
		if !c.Passed {
			failing = append(failing, c)
		}
	}
	return failing
}
