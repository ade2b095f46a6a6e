//go:build windows

package preflight

import (
	"os"
)

// platformCheckWritable probes writability by creating and removing a
// temporary file. Windows has no faccessat equivalent that honors ACLs, so
// an actual write attempt is the reliable check.
func platformCheckWritable(path string) error {
	f, err := os.CreateTemp(path, ".snapback-probe-*")
	if err != nil {
		return ErrNotWritable
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return nil
}

// platformCheckReadable probes readability by opening the path.
func platformCheckReadable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return ErrNotReadable
	}
	f.Close()
	return nil
}
