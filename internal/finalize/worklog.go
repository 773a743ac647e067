package finalize

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mfinley/stepflow/internal/models"
)

// Rotation thresholds for the worklog artifact.
const (
	worklogMaxEntries = 500
	worklogMaxBytes   = 100 * 1024
)

// Worklog is the durable, size-rotated log of completed-step entries, one
// JSON object per line, strictly newest-first.
type Worklog struct {
	path string
}

// NewWorklog creates a worklog backed by the given file path. The file is
// created on first append.
func NewWorklog(path string) *Worklog {
	return &Worklog{path: path}
}

// Path returns the worklog file path.
func (w *Worklog) Path() string {
	return w.path
}

// Append prepends an entry, rotating first when the artifact exceeds its
// thresholds.
func (w *Worklog) Append(entry models.WorklogEntry) error {
	if err := w.rotateIfNeeded(); err != nil {
		return err
	}

	existing, err := w.Entries()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("create worklog directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(w.path), ".worklog-*")
	if err != nil {
		return fmt.Errorf("create worklog temp file: %w", err)
	}
	defer func() { _ = os.Remove(f.Name()) }()

	enc := json.NewEncoder(f)
	if err := enc.Encode(entry); err != nil {
		_ = f.Close()
		return fmt.Errorf("write worklog entry: %w", err)
	}
	for _, e := range existing {
		if err := enc.Encode(e); err != nil {
			_ = f.Close()
			return fmt.Errorf("write worklog entry: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close worklog temp file: %w", err)
	}

	if err := os.Rename(f.Name(), w.path); err != nil {
		return fmt.Errorf("replace worklog: %w", err)
	}
	return nil
}

// Entries reads all entries, newest first. A missing file is an empty log.
func (w *Worklog) Entries() ([]models.WorklogEntry, error) {
	f, err := os.Open(w.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open worklog: %w", err)
	}
	defer func() { _ = f.Close() }()

	var entries []models.WorklogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e models.WorklogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("parse worklog entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read worklog: %w", err)
	}
	return entries, nil
}

// rotateIfNeeded archives the current file with a timestamped name when it
// exceeds the entry or byte threshold.
func (w *Worklog) rotateIfNeeded() error {
	info, err := os.Stat(w.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat worklog: %w", err)
	}

	// Rotation triggers only when a threshold is strictly exceeded; a log
	// sitting exactly at capacity stays in place.
	rotate := info.Size() > worklogMaxBytes
	if !rotate {
		entries, err := w.Entries()
		if err != nil {
			return err
		}
		rotate = len(entries) > worklogMaxEntries
	}
	if !rotate {
		return nil
	}

	ext := filepath.Ext(w.path)
	base := w.path[:len(w.path)-len(ext)]
	archived := fmt.Sprintf("%s-%s%s", base, time.Now().UTC().Format("20060102T150405"), ext)
	if err := os.Rename(w.path, archived); err != nil {
		return fmt.Errorf("rotate worklog: %w", err)
	}
	return nil
}
