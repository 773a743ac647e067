package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// GitHubClient wraps the gh CLI for the outward-facing publish action.
type GitHubClient interface {
	CreatePR(path, base, title, body string) (string, error)
}

// RealGitHubClient implements GitHubClient using the gh CLI.
type RealGitHubClient struct{}

// NewGitHubClient returns a new RealGitHubClient.
func NewGitHubClient() *RealGitHubClient {
	return &RealGitHubClient{}
}

func ghCmd(path string, args ...string) (string, error) {
	cmd := exec.Command("gh", args...)
	cmd.Dir = path
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("gh %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("gh %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// CreatePR opens a pull request from the current branch and returns its URL.
func (c *RealGitHubClient) CreatePR(path, base, title, body string) (string, error) {
	return ghCmd(path, "pr", "create", "--base", base, "--title", title, "--body", body)
}
