package slogutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// RunLog is the append-only log file shared by modcompat invocations.
// It rotates only at run boundaries: StartRun archives the file as
// <path>.1 once it has outgrown its limit, so every line logged for one
// analysis run ends up in the same file.
type RunLog struct {
	mu    sync.Mutex
	path  string
	limit int64
	keep  int

	f       *os.File
	written int64
	run     string
}

// OpenRunLog opens path for appending. maxSize is a humanized size such as
// "10MB" or "512KiB"; empty disables rotation. keep is the number of
// archived files retained.
func OpenRunLog(path, maxSize string, keep int) (*RunLog, error) {
	limit, err := parseLogSize(maxSize)
	if err != nil {
		return nil, err
	}
	l := &RunLog{path: path, limit: limit, keep: keep}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func parseLogSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid log size %q: %w", s, err)
	}
	return int64(n), nil
}

func (l *RunLog) open() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	l.f, l.written = f, info.Size()
	return nil
}

// StartRun marks the start of analysis run runID. The current file is
// archived first when it has reached the size limit.
func (l *RunLog) StartRun(runID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limit > 0 && l.written >= l.limit {
		if err := l.archive(); err != nil {
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}
	l.run = runID
	n, err := fmt.Fprintf(l.f, "--- run %s started %s ---\n", runID, time.Now().UTC().Format(time.RFC3339))
	l.written += int64(n)
	return err
}

// Run returns the id passed to the last StartRun.
func (l *RunLog) Run() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.run
}

// archive closes the file and shifts <path>.N to <path>.N+1, dropping
// archives beyond keep.
func (l *RunLog) archive() error {
	if err := l.f.Close(); err != nil {
		return err
	}
	if l.keep <= 0 {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return l.open()
	}

	os.Remove(archiveName(l.path, l.keep))
	for n := l.keep - 1; n >= 1; n-- {
		if err := os.Rename(archiveName(l.path, n), archiveName(l.path, n+1)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if err := os.Rename(l.path, archiveName(l.path, 1)); err != nil {
		return err
	}
	return l.open()
}

func archiveName(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}

// Write appends p. It never rotates, so a run is not split across files.
func (l *RunLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, err := l.f.Write(p)
	l.written += int64(n)
	return n, err
}

// Close closes the file.
func (l *RunLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
