package plan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mfinley/stepflow/internal/models"
)

// Load reads and validates a plan document from a YAML file.
func Load(path string) (*models.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a plan document.
func Parse(data []byte) (*models.Plan, error) {
	var p models.Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks structural plan invariants: non-empty id and steps, unique
// anchors, dependencies that exist and precede their dependents in plan
// order.
func Validate(p *models.Plan) error {
	if p.ID == "" {
		return fmt.Errorf("plan has no id")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan %s has no steps", p.ID)
	}

	position := make(map[string]int, len(p.Steps))
	for i, step := range p.Steps {
		if step.Anchor == "" {
			return fmt.Errorf("plan %s: step %d has no anchor", p.ID, i)
		}
		if _, dup := position[step.Anchor]; dup {
			return fmt.Errorf("plan %s: duplicate step anchor %q", p.ID, step.Anchor)
		}
		position[step.Anchor] = i
	}

	for i, step := range p.Steps {
		for _, dep := range step.DependsOn {
			j, ok := position[dep]
			if !ok {
				return fmt.Errorf("plan %s: step %q depends on unknown step %q", p.ID, step.Anchor, dep)
			}
			if j >= i {
				return fmt.Errorf("plan %s: step %q depends on %q which does not precede it", p.ID, step.Anchor, dep)
			}
		}
	}
	return nil
}
