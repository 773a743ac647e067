package plan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfinley/stepflow/internal/models"
)

func testPlan() *models.Plan {
	return &models.Plan{
		ID: "plan-1",
		Steps: []models.Step{
			{Anchor: "a", Title: "Step A"},
			{Anchor: "b", Title: "Step B", DependsOn: []string{"a"}},
			{Anchor: "c", Title: "Step C", DependsOn: []string{"b"}},
			{Anchor: "d", Title: "Step D", DependsOn: []string{"a"}},
		},
	}
}

func anchors(steps []ResolvedStep) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Step.Anchor
	}
	return out
}

func TestResolveNext(t *testing.T) {
	p := testPlan()

	steps, err := Resolve(p, nil, Intent{Kind: IntentNext})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, anchors(steps))

	steps, err = Resolve(p, []string{"a"}, Intent{Kind: IntentNext})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, anchors(steps))
}

func TestResolveRemaining(t *testing.T) {
	p := testPlan()

	steps, err := Resolve(p, []string{"a"}, Intent{Kind: IntentRemaining})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, anchors(steps))
}

func TestResolveRemainingExhausted(t *testing.T) {
	p := testPlan()

	_, err := Resolve(p, []string{"a", "b", "c", "d"}, Intent{Kind: IntentRemaining})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no unresolved steps remain")
}

func TestResolveAllIsIdempotent(t *testing.T) {
	p := testPlan()

	first, err := Resolve(p, []string{"a", "b"}, Intent{Kind: IntentAll})
	require.NoError(t, err)
	second, err := Resolve(p, []string{"a", "b"}, Intent{Kind: IntentAll})
	require.NoError(t, err)

	assert.Equal(t, anchors(first), anchors(second))
	assert.Equal(t, []string{"a", "b", "c", "d"}, anchors(first))
	assert.True(t, first[0].AlreadyCompleted)
	assert.True(t, first[1].AlreadyCompleted)
	assert.False(t, first[2].AlreadyCompleted)
}

func TestResolveSpecificDependencyNotMet(t *testing.T) {
	p := testPlan()

	// B depends on A; A is not complete.
	_, err := Resolve(p, nil, Intent{Kind: IntentSpecific, Anchor: "b"})
	require.Error(t, err)

	var depErr *ErrDependencyNotMet
	require.True(t, errors.As(err, &depErr))
	assert.Equal(t, "b", depErr.Step)
	assert.Equal(t, "a", depErr.Dependency)
	assert.Contains(t, err.Error(), "dependency not met")
	assert.Contains(t, err.Error(), `"a"`)
}

func TestResolveSpecificAlreadyCompleted(t *testing.T) {
	p := testPlan()

	_, err := Resolve(p, []string{"a"}, Intent{Kind: IntentSpecific, Anchor: "a"})
	require.Error(t, err)

	var doneErr *ErrAlreadyCompleted
	require.True(t, errors.As(err, &doneErr))
	assert.Equal(t, "a", doneErr.Step)
}

func TestResolveSpecificUnknownStep(t *testing.T) {
	p := testPlan()

	_, err := Resolve(p, nil, Intent{Kind: IntentSpecific, Anchor: "zz"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no step with anchor "zz"`)
}

func TestResolveRange(t *testing.T) {
	p := testPlan()

	steps, err := Resolve(p, []string{"a"}, Intent{Kind: IntentRange, Start: "b", End: "d"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, anchors(steps))
}

func TestResolveRangeInverted(t *testing.T) {
	p := testPlan()

	_, err := Resolve(p, []string{"a"}, Intent{Kind: IntentRange, Start: "d", End: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "precedes")
}

func TestResolveRangeDependencyOutsideRange(t *testing.T) {
	p := testPlan()

	// Range c..d requires b (for c) which is neither completed nor in range.
	_, err := Resolve(p, []string{"a"}, Intent{Kind: IntentRange, Start: "c", End: "d"})
	require.Error(t, err)

	var depErr *ErrDependencyNotMet
	require.True(t, errors.As(err, &depErr))
	assert.Equal(t, "c", depErr.Step)
	assert.Equal(t, "b", depErr.Dependency)
}

func TestResolveDependencySatisfiedWithinResolution(t *testing.T) {
	p := testPlan()

	// Nothing is completed, but remaining schedules a before b before c.
	steps, err := Resolve(p, nil, Intent{Kind: IntentRemaining})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, anchors(steps))
}

func TestResolveAmbiguous(t *testing.T) {
	p := testPlan()

	_, err := Resolve(p, nil, Intent{Kind: IntentAmbiguous})
	require.Error(t, err)

	var clarify *ErrNeedsClarification
	assert.True(t, errors.As(err, &clarify))
}

func TestResolveOrderFollowsPlanOrder(t *testing.T) {
	p := testPlan()

	// Range over the whole plan with everything completed except d and b:
	// output must be plan order (b before d), not selection order.
	steps, err := Resolve(p, []string{"a", "c"}, Intent{Kind: IntentRemaining})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d"}, anchors(steps))
}
