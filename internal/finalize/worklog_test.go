package finalize

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfinley/stepflow/internal/models"
)

func entry(anchor string) models.WorklogEntry {
	return models.WorklogEntry{
		StepAnchor: anchor,
		Timestamp:  time.Now().UTC(),
		TicketID:   "T-" + anchor,
		Summary:    "did " + anchor,
	}
}

func TestWorklogNewestFirst(t *testing.T) {
	w := NewWorklog(filepath.Join(t.TempDir(), "worklog.jsonl"))

	require.NoError(t, w.Append(entry("a")))
	require.NoError(t, w.Append(entry("b")))
	require.NoError(t, w.Append(entry("c")))

	entries, err := w.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "c", entries[0].StepAnchor)
	assert.Equal(t, "b", entries[1].StepAnchor)
	assert.Equal(t, "a", entries[2].StepAnchor)
}

func TestWorklogEmptyWhenMissing(t *testing.T) {
	w := NewWorklog(filepath.Join(t.TempDir(), "worklog.jsonl"))
	entries, err := w.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func countArchives(t *testing.T, dir string) int {
	t.Helper()
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	archived := 0
	for _, f := range files {
		if strings.HasPrefix(f.Name(), "worklog-") {
			archived++
		}
	}
	return archived
}

func TestWorklogRotatesByEntryCount(t *testing.T) {
	dir := t.TempDir()
	w := NewWorklog(filepath.Join(dir, "worklog.jsonl"))

	for i := 0; i < worklogMaxEntries; i++ {
		require.NoError(t, w.Append(entry(fmt.Sprintf("s%03d", i))))
	}

	// Filling the log to exactly the entry cap does not rotate.
	require.NoError(t, w.Append(entry("at-capacity")))
	assert.Equal(t, 0, countArchives(t, dir))

	// The log now exceeds the cap, so the next append rotates first.
	require.NoError(t, w.Append(entry("after-rotation")))

	entries, err := w.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "after-rotation", entries[0].StepAnchor)
	assert.Equal(t, 1, countArchives(t, dir), "expected one timestamped archive")
}

func TestWorklogRotatesByByteSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worklog.jsonl")
	w := NewWorklog(path)

	big := entry("big")
	big.Summary = strings.Repeat("x", 20*1024)
	for i := 0; i < 6; i++ {
		require.NoError(t, w.Append(big))
	}

	entries, err := w.Entries()
	require.NoError(t, err)
	assert.Less(t, len(entries), 6, "oversized log should have rotated")
	assert.GreaterOrEqual(t, countArchives(t, dir), 1)
}
