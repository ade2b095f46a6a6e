package pathretention

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// makeAged creates an entry under scope whose modification time lies the
// given number of days in the past.
func makeAged(t *testing.T, scope, name string, days int, isDir bool) {
	t.Helper()
	path := filepath.Join(scope, name)
	if isDir {
		if err := os.MkdirAll(path, 0755); err != nil {
			t.Fatal(err)
		}
	} else {
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	stamp := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func TestSweepDeletesOnlyExpiredSnapshots(t *testing.T) {
	scope := t.TempDir()
	makeAged(t, scope, "backup_2026-08-14_00-00-00", 10, true)
	makeAged(t, scope, "backup_2026-08-09_00-00-00", 15, true)
	makeAged(t, scope, "backup_2026-08-04_00-00-00", 20, true)

	result, err := Sweep(context.Background(), scope, 14, "", nil)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if result.Deleted != 2 {
		t.Errorf("Deleted = %d, want 2", result.Deleted)
	}
	if !exists(filepath.Join(scope, "backup_2026-08-14_00-00-00")) {
		t.Error("10-day snapshot deleted below threshold")
	}
	if exists(filepath.Join(scope, "backup_2026-08-09_00-00-00")) {
		t.Error("15-day snapshot survived")
	}
	if exists(filepath.Join(scope, "backup_2026-08-04_00-00-00")) {
		t.Error("20-day snapshot survived")
	}
}

func TestSweepIgnoresFilesAndForeignDirs(t *testing.T) {
	scope := t.TempDir()
	makeAged(t, scope, "backup_2026-01-01_00-00-00.tar.gz", 100, false)
	makeAged(t, scope, "notes.txt", 100, false)
	makeAged(t, scope, "unrelated-dir", 100, true)

	result, err := Sweep(context.Background(), scope, 14, "", nil)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.Deleted != 0 {
		t.Errorf("Deleted = %d, want 0", result.Deleted)
	}
	for _, name := range []string{"backup_2026-01-01_00-00-00.tar.gz", "notes.txt", "unrelated-dir"} {
		if !exists(filepath.Join(scope, name)) {
			t.Errorf("%s was deleted", name)
		}
	}
}

func TestSweepHonorsExcludeDir(t *testing.T) {
	scope := t.TempDir()
	makeAged(t, scope, "backup_2026-08-01_00-00-00", 30, true)

	exclude := filepath.Join(scope, "backup_2026-08-01_00-00-00")
	result, err := Sweep(context.Background(), scope, 14, exclude, nil)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.Deleted != 0 {
		t.Errorf("Deleted = %d, want 0", result.Deleted)
	}
	if !exists(exclude) {
		t.Error("excluded snapshot was deleted")
	}
}

func TestSweepDisabledThreshold(t *testing.T) {
	scope := t.TempDir()
	makeAged(t, scope, "backup_2026-08-01_00-00-00", 30, true)

	result, err := Sweep(context.Background(), scope, 0, "", nil)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.Deleted != 0 {
		t.Errorf("Deleted = %d, want 0 with retention disabled", result.Deleted)
	}
}

func TestSweepMissingScope(t *testing.T) {
	result, err := Sweep(context.Background(), filepath.Join(t.TempDir(), "nope"), 14, "", nil)
	if err != nil {
		t.Fatalf("Sweep on missing scope should be a no-op, got %v", err)
	}
	if result.Deleted != 0 || result.Failed != 0 {
		t.Errorf("unexpected result for missing scope: %+v", result)
	}
}
