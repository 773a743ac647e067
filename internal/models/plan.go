package models

// Step is one unit of planned work with declared dependencies and
// verification criteria.
type Step struct {
	Anchor       string   `yaml:"anchor"`
	Title        string   `yaml:"title"`
	Description  string   `yaml:"description"`
	DependsOn    []string `yaml:"depends_on"`
	Artifacts    []string `yaml:"artifacts"`
	Verification []string `yaml:"verification"`
}

// Plan is an ordered set of steps. Immutable once loaded for a run.
type Plan struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`
}

// StepIndex returns the plan-order position of the given anchor, or -1.
func (p *Plan) StepIndex(anchor string) int {
	for i := range p.Steps {
		if p.Steps[i].Anchor == anchor {
			return i
		}
	}
	return -1
}

// FindStep returns the step with the given anchor, or nil.
func (p *Plan) FindStep(anchor string) *Step {
	if i := p.StepIndex(anchor); i >= 0 {
		return &p.Steps[i]
	}
	return nil
}
