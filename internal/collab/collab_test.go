package collab

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfinley/stepflow/internal/models"
)

func TestValidateStrategy(t *testing.T) {
	ok := &Strategy{Approach: "do it", ExpectedTouchSet: []string{"a.go"}}
	assert.NoError(t, ValidateStrategy(ok, "{}"))

	missing := &Strategy{ExpectedTouchSet: []string{"a.go"}}
	err := ValidateStrategy(missing, `{"expected_touch_set":["a.go"]}`)
	require.Error(t, err)

	var cv *ContractViolationError
	require.True(t, errors.As(err, &cv))
	assert.Equal(t, "strategize", cv.Phase)
	assert.Equal(t, "approach", cv.Field)
	assert.NotEmpty(t, cv.Raw, "violations must capture the raw response verbatim")

	empty := &Strategy{Approach: "do it"}
	err = ValidateStrategy(empty, "{}")
	require.True(t, errors.As(err, &cv))
	assert.Equal(t, "expected_touch_set", cv.Field)
}

func TestValidateExecutionRequiresDriftAssessment(t *testing.T) {
	r := &ExecutionResult{Success: true, FilesModified: []string{"a.go"}}
	err := ValidateExecution(r, "{}")
	require.Error(t, err)

	var cv *ContractViolationError
	require.True(t, errors.As(err, &cv))
	assert.Equal(t, "execute", cv.Phase)
	assert.Equal(t, "drift_assessment", cv.Field)

	r.DriftAssessment = &models.DriftAssessment{Severity: models.DriftSeverityNone}
	assert.NoError(t, ValidateExecution(r, "{}"))
}

func TestValidateExecutionRejectsEmptySuccess(t *testing.T) {
	r := &ExecutionResult{
		Success:         true,
		DriftAssessment: &models.DriftAssessment{Severity: models.DriftSeverityNone},
	}
	err := ValidateExecution(r, "{}")
	require.Error(t, err)
}

func TestValidateReview(t *testing.T) {
	ok := &ReviewVerdict{
		Recommendation: models.ReviewApprove,
		Checks:         []models.ConformanceCheck{{Description: "builds", Passed: true}},
	}
	assert.NoError(t, ValidateReview(ok, "{}"))

	bad := &ReviewVerdict{Recommendation: "MAYBE"}
	err := ValidateReview(bad, `{"recommendation":"MAYBE"}`)
	require.Error(t, err)

	var cv *ContractViolationError
	require.True(t, errors.As(err, &cv))
	assert.Equal(t, "recommendation", cv.Field)

	unnamed := &ReviewVerdict{
		Recommendation: models.ReviewRevise,
		Checks:         []models.ConformanceCheck{{Passed: false}},
	}
	err = ValidateReview(unnamed, "{}")
	require.Error(t, err)
}

func TestChangedFiles(t *testing.T) {
	r := &ExecutionResult{
		FilesCreated:  []string{"a.go"},
		FilesModified: []string{"b.go", "c.go"},
	}
	assert.Equal(t, []string{"a.go", "b.go", "c.go"}, r.ChangedFiles())
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(`{"a":1}`))
}
