package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Artifacts writes each phase's raw response under the state directory so a
// run can be audited after the fact. Layout:
//
//	<state>/sessions/<session-id>/<step-anchor>/<name>.json
type Artifacts struct {
	stateDir string
}

// NewArtifacts creates an artifact writer rooted at the state directory.
func NewArtifacts(stateDir string) *Artifacts {
	return &Artifacts{stateDir: stateDir}
}

// StepDir returns the artifact directory for one step of one session.
func (a *Artifacts) StepDir(sessionID, stepAnchor string) string {
	return filepath.Join(a.stateDir, "sessions", sessionID, stepAnchor)
}

// Write persists one phase artifact as indented JSON.
func (a *Artifacts) Write(sessionID, stepAnchor, name string, v any) error {
	dir := a.StepDir(sessionID, stepAnchor)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s artifact: %w", name, err)
	}
	path := filepath.Join(dir, name+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s artifact: %w", name, err)
	}
	return nil
}
