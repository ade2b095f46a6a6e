package lockfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	lock, err := Acquire(ctx, dir, "test-app")
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer lock.Release()

	// The owner record must name this process.
	record, err := readOwnerRecord(filepath.Join(dir, LockFileName+ownerSuffix))
	if err != nil {
		t.Fatalf("owner record unreadable: %v", err)
	}
	if record.PID != int64(os.Getpid()) {
		t.Errorf("owner record PID = %d, want %d", record.PID, os.Getpid())
	}
	if record.AppID != "test-app" {
		t.Errorf("owner record AppID = %q, want %q", record.AppID, "test-app")
	}
}

func TestSecondAcquireReportsOwner(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := Acquire(ctx, dir, "test-app")
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer first.Release()

	_, err = Acquire(ctx, dir, "test-app")
	var lockErr *ErrLockActive
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *ErrLockActive, got %v", err)
	}
	if lockErr.PID != int64(os.Getpid()) {
		t.Errorf("contention error PID = %d, want %d", lockErr.PID, os.Getpid())
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	lock, err := Acquire(ctx, dir, "test-app")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	lock.Release()
	lock.Release() // second call must be a guarded no-op

	// A nil lock must also be safe, matching the "never acquired" path.
	var none *Lock
	none.Release()
}

func TestReacquireAfterRelease(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	lock, err := Acquire(ctx, dir, "test-app")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	lock.Release()

	again, err := Acquire(ctx, dir, "test-app")
	if err != nil {
		t.Fatalf("re-Acquire after release failed: %v", err)
	}
	again.Release()
}

func TestAcquireHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Acquire(ctx, t.TempDir(), "test-app"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestContentionWithoutOwnerRecord(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := Acquire(ctx, dir, "test-app")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer first.Release()

	// Simulate a crash between locking and recording.
	os.Remove(filepath.Join(dir, LockFileName+ownerSuffix))

	_, err = Acquire(ctx, dir, "test-app")
	var lockErr *ErrLockActive
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *ErrLockActive, got %v", err)
	}
	if lockErr.PID != 0 {
		t.Errorf("expected unknown owner (PID 0), got %d", lockErr.PID)
	}
}
