// Package report maintains the durable per-run log file and the final run
// summary. While a report is open, every log record is teed into the file,
// so the run log carries the complete operational record including per-item
// NOTICE lines that the console may filter.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/avasilev/snapback/pkg/plog"
	"github.com/avasilev/snapback/pkg/util"
)

// Report owns the append-only run log file.
type Report struct {
	path string
	f    *os.File

	mu     sync.Mutex
	closed bool
}

// Summary carries the fields of the final run summary line.
type Summary struct {
	Outcome       string
	Source        string
	Snapshot      string
	Mode          string
	Compression   string
	RetentionDays int
	SweepDeleted  int
	SweepFailed   int
	Duration      time.Duration
}

// Open creates (or appends to) the run log at logPath and attaches it as
// the durable log tee.
func Open(logPath string) (*Report, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), util.UserWritableDirPerms); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, util.UserWritableFilePerms)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log %s: %w", logPath, err)
	}
	plog.SetTee(f)
	return &Report{path: logPath, f: f}, nil
}

// Path returns the location of the run log file.
func (r *Report) Path() string {
	return r.path
}

// Phase records the start of a run phase.
func (r *Report) Phase(name string, args ...any) {
	plog.Notice(name, args...)
}

// Fatal records a fatal phase failure with the ERROR marker. The caller is
// expected to terminate the run afterwards.
func (r *Report) Fatal(phase string, err error) {
	plog.Error(fmt.Sprintf("ERROR: %s failed", phase), "error", err)
}

// Finish writes the final summary line.
func (r *Report) Finish(s Summary) {
	plog.Info("Backup run finished",
		"outcome", s.Outcome,
		"source", s.Source,
		"snapshot", s.Snapshot,
		"mode", s.Mode,
		"compression", s.Compression,
		"retentionDays", s.RetentionDays,
		"sweepDeleted", s.SweepDeleted,
		"sweepFailed", s.SweepFailed,
		"duration", s.Duration.Round(time.Millisecond).String(),
	)
}

// Close detaches the log tee and closes the run log. It is idempotent.
func (r *Report) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	plog.ClearTee()
	return r.f.Close()
}
