// Package preflight validates the operator-supplied paths before any
// directory is created or lock is taken. A failed check terminates the run
// with no side effects.
package preflight

import (
	"errors"
	"fmt"
	"os"

	"github.com/avasilev/snapback/pkg/layout"
)

// ErrNotWritable indicates the backup base directory exists but cannot be
// written by the current user.
var ErrNotWritable = errors.New("not writable by the current user")

// ErrNotReadable indicates the source path exists but cannot be read by the
// current user.
var ErrNotReadable = errors.New("not readable by the current user")

// CheckBackupBase verifies the backup base directory: safe character set,
// existence, directory type and writability. It runs before any path under
// the base is constructed.
func CheckBackupBase(path string) error {
	if err := layout.CheckSafe(path); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("backup base directory %q does not exist: %w", path, os.ErrNotExist)
		}
		return fmt.Errorf("failed to inspect backup base directory %q: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("backup base path %q is not a directory", path)
	}

	if err := platformCheckWritable(path); err != nil {
		return fmt.Errorf("backup base directory %q: %w", path, err)
	}
	return nil
}

// CheckSource verifies the source path exists and is readable. Whether it is
// a file, directory or symlink is left to the sync engine.
func CheckSource(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("source path %q does not exist: %w", path, os.ErrNotExist)
		}
		return fmt.Errorf("failed to inspect source path %q: %w", path, err)
	}

	if err := platformCheckReadable(path); err != nil {
		return fmt.Errorf("source path %q: %w", path, err)
	}
	return nil
}
