//go:build !windows

package preflight

import (
	"golang.org/x/sys/unix"
)

// platformCheckWritable asks the kernel whether the current (real) user may
// write to the path. This catches read-only mounts as well as permission
// problems, which a bare os.Stat mode check would miss.
func platformCheckWritable(path string) error {
	if err := unix.Access(path, unix.W_OK); err != nil {
		return ErrNotWritable
	}
	return nil
}

// platformCheckReadable asks the kernel whether the current user may read
// the path.
func platformCheckReadable(path string) error {
	if err := unix.Access(path, unix.R_OK); err != nil {
		return ErrNotReadable
	}
	return nil
}
