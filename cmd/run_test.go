package cmd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfinley/stepflow/internal/engine"
)

// fakeGitClient scripts workspace state for command-level checks.
type fakeGitClient struct {
	repoRootErr error
	dirty       bool
	dirtyErr    error
	remoteURL   string
	remoteErr   error
}

func (f *fakeGitClient) RepoRoot(path string) (string, error) {
	if f.repoRootErr != nil {
		return "", f.repoRootErr
	}
	return path, nil
}
func (f *fakeGitClient) CurrentBranch(string) (string, error)  { return "main", nil }
func (f *fakeGitClient) IsDirty(string) (bool, error)          { return f.dirty, f.dirtyErr }
func (f *fakeGitClient) Add(string, []string) error            { return nil }
func (f *fakeGitClient) Commit(string, string) (string, error) { return "abc1234", nil }
func (f *fakeGitClient) LastCommitHash(string) (string, error) { return "abc1234", nil }
func (f *fakeGitClient) Push(string, string) error             { return nil }
func (f *fakeGitClient) RemoteURL(string) (string, error)      { return f.remoteURL, f.remoteErr }

func TestCommitPolicyFlag(t *testing.T) {
	t.Cleanup(func() { runPolicy = "" })

	runPolicy = "manual"
	p, err := commitPolicy()
	require.NoError(t, err)
	assert.Equal(t, engine.PolicyManual, p)

	runPolicy = "auto"
	p, err = commitPolicy()
	require.NoError(t, err)
	assert.Equal(t, engine.PolicyAuto, p)

	// Unset falls back to the configured default.
	runPolicy = ""
	p, err = commitPolicy()
	require.NoError(t, err)
	assert.Equal(t, engine.PolicyManual, p)

	// A typo must be rejected, not silently weaken the drift checkpoint.
	runPolicy = "tyop"
	_, err = commitPolicy()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be manual or auto")
}

func TestCheckWorkspaceRejectsNonRepo(t *testing.T) {
	gc := &fakeGitClient{repoRootErr: errors.New("not a git repository")}
	err := checkWorkspace(gc, "/tmp/ws")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a git repository")
}

func TestCheckWorkspaceRejectsDirty(t *testing.T) {
	gc := &fakeGitClient{dirty: true}
	err := checkWorkspace(gc, "/tmp/ws")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uncommitted changes")
}

func TestCheckWorkspaceAcceptsClean(t *testing.T) {
	gc := &fakeGitClient{}
	assert.NoError(t, checkWorkspace(gc, "/tmp/ws"))
}

func TestRepoSlug(t *testing.T) {
	gc := &fakeGitClient{remoteURL: "git@github.com:mfinley/stepflow.git"}
	assert.Equal(t, "mfinley/stepflow", repoSlug(gc, "/tmp/ws"))

	gc = &fakeGitClient{remoteURL: "https://github.com/mfinley/stepflow"}
	assert.Equal(t, "mfinley/stepflow", repoSlug(gc, "/tmp/ws"))

	// No remote, or an unparseable one, falls back to empty.
	gc = &fakeGitClient{remoteErr: errors.New("no such remote")}
	assert.Empty(t, repoSlug(gc, "/tmp/ws"))

	gc = &fakeGitClient{remoteURL: "not-a-url"}
	assert.Empty(t, repoSlug(gc, "/tmp/ws"))
}
