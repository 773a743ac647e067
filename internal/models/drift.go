package models

// DriftSeverity is the aggregate verdict of a drift assessment.
type DriftSeverity string

const (
	DriftSeverityNone     DriftSeverity = "none"
	DriftSeverityMinor    DriftSeverity = "minor"
	DriftSeverityModerate DriftSeverity = "moderate"
	DriftSeverityMajor    DriftSeverity = "major"
)

// DriftCategory classifies a single unexpected change by directory
// proximity to the expected file set.
type DriftCategory string

const (
	DriftCategoryYellow DriftCategory = "yellow"
	DriftCategoryRed    DriftCategory = "red"
)

// UnexpectedChange is one changed file outside the expected set.
type UnexpectedChange struct {
	File     string        `json:"file"`
	Category DriftCategory `json:"category"`
	Reason   string        `json:"reason"`
}

// DriftBudget tracks the yellow/red scores against their fixed caps.
type DriftBudget struct {
	YellowUsed float64 `json:"yellow_used"`
	YellowMax  float64 `json:"yellow_max"`
	RedUsed    int     `json:"red_used"`
	RedMax     int     `json:"red_max"`
}

// DriftAssessment is produced once per step execution. Severity is a pure
// function of the unexpected changes and the budget; it is always present.
type DriftAssessment struct {
	Severity          DriftSeverity      `json:"severity"`
	ExpectedFiles     []string           `json:"expected_files"`
	ActualChanges     []string           `json:"actual_changes"`
	UnexpectedChanges []UnexpectedChange `json:"unexpected_changes"`
	Budget            DriftBudget        `json:"budget"`
	Note              string             `json:"note"`
}

// RequiresConfirmation reports whether policy requires an external decision
// before proceeding. The classifier never blocks on its own.
func (a *DriftAssessment) RequiresConfirmation() bool {
	return a.Severity == DriftSeverityModerate || a.Severity == DriftSeverityMajor
}
