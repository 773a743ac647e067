// Package drift scores divergence between a step's expected artifact set and
// the changes the executor actually reported, using directory proximity.
package drift

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/mfinley/stepflow/internal/models"
)

// Fixed budget caps. Exceeding either produces a major verdict. These are
// convention, not configuration.
const (
	yellowMax = 4.0
	redMax    = 1
)

// Per-entry contributions. Yellow leeway applies only to test, config, and
// documentation artifacts; red entries get no leeway regardless of type.
const (
	yellowWeight        = 1.0
	yellowLenientWeight = 0.5
	redWeight           = 2.0
)

// Classify partitions actual changes into expected (green) and unexpected
// entries, scores the unexpected ones by proximity to the expected set, and
// derives a severity verdict. Severity is a pure function of the inputs.
// The classifier never blocks; moderate and major verdicts only inform
// policy.
func Classify(expectedFiles, actualChanges []string) *models.DriftAssessment {
	expected := make(map[string]bool, len(expectedFiles))
	expectedDirs := make(map[string]bool, len(expectedFiles))
	for _, f := range expectedFiles {
		clean := path.Clean(f)
		expected[clean] = true
		expectedDirs[path.Dir(clean)] = true
	}

	var unexpected []models.UnexpectedChange
	var yellowUsed, score float64
	var redUsed int

	// Deterministic order regardless of input order.
	actual := append([]string(nil), actualChanges...)
	sort.Strings(actual)

	for _, f := range actual {
		clean := path.Clean(f)
		if expected[clean] {
			continue
		}

		if near, anchor := nearExpected(clean, expectedDirs); near {
			weight := yellowWeight
			reason := fmt.Sprintf("adjacent to expected directory %s", anchor)
			if isLenientArtifact(clean) {
				weight = yellowLenientWeight
				reason += " (test/config/doc leeway applied)"
			}
			yellowUsed += weight
			score += weight
			unexpected = append(unexpected, models.UnexpectedChange{
				File:     clean,
				Category: models.DriftCategoryYellow,
				Reason:   reason,
			})
		} else {
			// Red contributes double to the aggregate score and always
			// counts toward the red counter, lenient file types included.
			redUsed++
			score += redWeight
			unexpected = append(unexpected, models.UnexpectedChange{
				File:     clean,
				Category: models.DriftCategoryRed,
				Reason:   "no directory proximity to any expected file",
			})
		}
	}

	severity := severityFor(len(unexpected), yellowUsed, redUsed)

	return &models.DriftAssessment{
		Severity:          severity,
		ExpectedFiles:     expectedFiles,
		ActualChanges:     actualChanges,
		UnexpectedChanges: unexpected,
		Budget: models.DriftBudget{
			YellowUsed: yellowUsed,
			YellowMax:  yellowMax,
			RedUsed:    redUsed,
			RedMax:     redMax,
		},
		Note: noteFor(severity, unexpected),
	}
}

// severityFor is an ordered cascade; red takes precedence when it alone
// produces a higher severity than yellow volume suggests.
func severityFor(unexpectedCount int, yellowUsed float64, redUsed int) models.DriftSeverity {
	switch {
	case unexpectedCount == 0:
		return models.DriftSeverityNone
	case redUsed >= 2 || yellowUsed >= 5:
		return models.DriftSeverityMajor
	case redUsed == 1 || yellowUsed >= 3:
		return models.DriftSeverityModerate
	default:
		return models.DriftSeverityMinor
	}
}

// nearExpected reports whether the file shares an immediate parent, child,
// or sibling directory with any expected file.
func nearExpected(file string, expectedDirs map[string]bool) (bool, string) {
	dir := path.Dir(file)
	if expectedDirs[dir] {
		return true, dir
	}
	if parent := path.Dir(dir); expectedDirs[parent] {
		return true, parent
	}
	for expDir := range expectedDirs {
		if path.Dir(expDir) == dir {
			return true, expDir
		}
	}
	return false, ""
}

var lenientExtensions = map[string]bool{
	".md":   true,
	".rst":  true,
	".txt":  true,
	".yaml": true,
	".yml":  true,
	".json": true,
	".toml": true,
	".ini":  true,
	".env":  true,
}

// isLenientArtifact reports whether the file is a test, configuration, or
// documentation artifact by extension or path convention.
func isLenientArtifact(file string) bool {
	base := path.Base(file)
	if strings.HasSuffix(base, "_test.go") || strings.HasSuffix(base, ".test.ts") || strings.HasSuffix(base, ".test.js") || strings.HasSuffix(base, "_test.py") {
		return true
	}
	if lenientExtensions[path.Ext(base)] {
		return true
	}
	for _, seg := range strings.Split(path.Dir(file), "/") {
		switch seg {
		case "test", "tests", "testdata", "docs", "doc", "config", "configs":
			return true
		}
	}
	return false
}

// noteFor is a qualitative coherence judgment surfaced to the caller, never
// auto-resolved.
func noteFor(severity models.DriftSeverity, unexpected []models.UnexpectedChange) string {
	if severity == models.DriftSeverityNone {
		return "all changes fall within the expected artifact set"
	}

	reds := 0
	for _, u := range unexpected {
		if u.Category == models.DriftCategoryRed {
			reds++
		}
	}
	if reds == 0 {
		return fmt.Sprintf("%d unexpected change(s) cluster near the expected files and appear coherent with the step's stated approach; confirm before proceeding if severity requires it", len(unexpected))
	}
	return fmt.Sprintf("%d of %d unexpected change(s) have no proximity to the expected files; verify the executor did not wander outside the step's stated approach", reds, len(unexpected))
}
