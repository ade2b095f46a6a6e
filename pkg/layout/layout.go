// Package layout computes every on-disk path of a backup run from a single
// validated set of inputs. All path construction goes through this package
// so that raw string concatenation never leaves a component.
//
// The resulting tree is:
//
//	<base>/<source-basename>_backups/
//	  log/backup_<timestamp>.log
//	  <hostname>/
//	    backup_<timestamp>/
//	    latest -> backup_<timestamp>
package layout

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/avasilev/snapback/pkg/config"
)

const (
	// SnapshotPrefix is the leading part of every snapshot directory name.
	SnapshotPrefix = "backup_"
	// LatestLinkName is the name of the "latest" pointer inside the host scope.
	LatestLinkName = "latest"
	// TimestampFormat yields sortable, second-resolution snapshot names.
	TimestampFormat = "2006-01-02_15-04-05"

	rootSuffix = "_backups"
	logDirName = "log"
)

// ErrUnsafePath is returned when a user-supplied path contains characters
// outside the safe set. Rejecting these before any directory is created is
// the primary defense against path injection from operator input.
var ErrUnsafePath = errors.New("path contains characters outside the safe set (letters, digits, '. _ / -')")

// safePathPattern is the closed character set accepted for the backup base
// directory: letters, digits, dot, underscore, slash and dash.
var safePathPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

// unsafeSegmentChars matches everything that must not appear in a single
// generated path segment (hostnames, source base names).
var unsafeSegmentChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Layout holds the precomputed paths of one backup run.
type Layout struct {
	backupRoot   string
	hostScope    string
	snapshotName string
}

// CheckSafe validates that a user-supplied path matches the safe character
// set. It does not touch the filesystem.
func CheckSafe(path string) error {
	if path == "" || !safePathPattern.MatchString(path) {
		return fmt.Errorf("%q: %w", path, ErrUnsafePath)
	}
	return nil
}

// sanitizeSegment rewrites an externally-derived name (hostname, source base
// name) into a single safe path segment.
func sanitizeSegment(s string) string {
	s = unsafeSegmentChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, ".")
	if s == "" {
		s = "unnamed"
	}
	return s
}

// New validates the base directory and derives the full layout for one run.
// The source only contributes its base name; the hostname isolates snapshots
// of different hosts sharing one base directory.
func New(baseDir, sourcePath, hostname string, runTime time.Time) (*Layout, error) {
	if err := CheckSafe(baseDir); err != nil {
		return nil, err
	}

	sourceBase := sanitizeSegment(filepath.Base(filepath.Clean(sourcePath)))
	root := filepath.Join(baseDir, sourceBase+rootSuffix)

	return &Layout{
		backupRoot:   root,
		hostScope:    filepath.Join(root, sanitizeSegment(hostname)),
		snapshotName: SnapshotPrefix + runTime.Format(TimestampFormat),
	}, nil
}

// BackupRoot is the per-source directory under the operator-chosen base.
func (l *Layout) BackupRoot() string { return l.backupRoot }

// HostScope is the per-host subdirectory of the backup root; every snapshot
// of this (source, host) pair lives directly under it.
func (l *Layout) HostScope() string { return l.hostScope }

// SnapshotName is the base name of this run's snapshot directory.
func (l *Layout) SnapshotName() string { return l.snapshotName }

// SnapshotDir is the absolute path of this run's snapshot directory.
func (l *Layout) SnapshotDir() string { return filepath.Join(l.hostScope, l.snapshotName) }

// LatestLink is the absolute path of the "latest" symlink.
func (l *Layout) LatestLink() string { return filepath.Join(l.hostScope, LatestLinkName) }

// LatestTarget is what the "latest" symlink points to: the snapshot's base
// name, kept relative so the whole tree stays relocatable.
func (l *Layout) LatestTarget() string { return l.snapshotName }

// LogDir is the directory holding the per-run log files.
func (l *Layout) LogDir() string { return filepath.Join(l.backupRoot, logDirName) }

// LogFile is the durable log file of this run.
func (l *Layout) LogFile() string {
	return filepath.Join(l.LogDir(), l.snapshotName+".log")
}

// ArchivePath is the archive file derived from this run's snapshot, named by
// appending the codec suffix to the snapshot path.
func (l *Layout) ArchivePath(codec config.Codec) string {
	return l.SnapshotDir() + codec.Suffix()
}
