// Package lockfile guarantees at most one backup run per host. It combines
// a non-blocking exclusive advisory lock with a small JSON owner record used
// to name the competing process when acquisition fails. The kernel releases
// the advisory lock when the owning process dies, so no staleness handling
// is needed.
package lockfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/avasilev/snapback/pkg/plog"
	"github.com/avasilev/snapback/pkg/util"
)

// LockFileName is the well-known lock resource under the OS temp directory.
const LockFileName = "snapback.lock"

// ownerSuffix names the sibling file carrying the owner record.
const ownerSuffix = ".owner"

// OwnerRecord is the identity written next to the lock while it is held.
// It exists purely for diagnostics; the advisory lock is authoritative.
type OwnerRecord struct {
	PID        int64     `json:"pid"`
	Hostname   string    `json:"hostname"`
	AppID      string    `json:"appID"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// ErrLockActive is returned when another process holds the lock. The owner
// fields are best-effort: a zero PID means the record was absent or
// unreadable.
type ErrLockActive struct {
	PID      int64
	Hostname string
	AppID    string
}

// Error implements the error interface for ErrLockActive.
func (e *ErrLockActive) Error() string {
	if e.PID == 0 {
		return "another backup run is already in progress (owner unknown)"
	}
	return fmt.Sprintf("another backup run is already in progress, owned by PID %d on host '%s' (App: %s)", e.PID, e.Hostname, e.AppID)
}

// Lock manages the state of the acquired lock.
type Lock struct {
	fl         *flock.Flock
	recordPath string
	mu         sync.Mutex
	// We keep track if we actually hold the lock to prevent double release
	held bool
}

// Acquire attempts a single non-blocking exclusive acquisition of the lock
// in dir (the OS temp directory when dir is empty). Contention is reported
// immediately via *ErrLockActive; nothing ever waits for the lock.
func Acquire(ctx context.Context, dir, appID string) (*Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if dir == "" {
		dir = os.TempDir()
	}
	lockPath := filepath.Join(dir, LockFileName)
	recordPath := lockPath + ownerSuffix

	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to access lock file %s: %w", lockPath, err)
	}
	if !locked {
		// Best-effort owner lookup. The record may be missing or stale
		// if the owner crashed between locking and recording.
		lockErr := &ErrLockActive{}
		if record, readErr := readOwnerRecord(recordPath); readErr == nil {
			lockErr.PID = record.PID
			lockErr.Hostname = record.Hostname
			lockErr.AppID = record.AppID
		}
		return nil, lockErr
	}

	l := &Lock{fl: fl, recordPath: recordPath, held: true}

	// Recording the owner is diagnostics only; a failure here must not
	// abort a run that legitimately holds the lock.
	if err := writeOwnerRecord(recordPath, appID); err != nil {
		plog.Warn("Failed to record lock owner identity", "path", recordPath, "error", err)
	}

	plog.Debug("Lock acquired", "path", lockPath, "pid", os.Getpid())
	return l, nil
}

// Release removes the owner record and drops the exclusive hold. It is
// idempotent and safe to call on a lock that was never acquired.
func (l *Lock) Release() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return
	}

	if err := os.Remove(l.recordPath); err != nil && !os.IsNotExist(err) {
		plog.Warn("Failed to remove lock owner record", "path", l.recordPath, "error", err)
	}
	if err := l.fl.Unlock(); err != nil {
		plog.Warn("Failed to release lock", "path", l.fl.Path(), "error", err)
	} else {
		plog.Debug("Lock released", "path", l.fl.Path())
	}
	l.held = false
}

// writeOwnerRecord persists the current process identity next to the lock.
func writeOwnerRecord(path, appID string) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	record := OwnerRecord{
		PID:        int64(os.Getpid()),
		Hostname:   hostname,
		AppID:      appID,
		AcquiredAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal owner record: %w", err)
	}
	return os.WriteFile(path, data, util.UserWritableFilePerms)
}

// readOwnerRecord loads the owner record left by the current lock holder.
func readOwnerRecord(path string) (OwnerRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return OwnerRecord{}, err
	}
	var record OwnerRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return OwnerRecord{}, fmt.Errorf("owner record is corrupt: %w", err)
	}
	return record, nil
}
