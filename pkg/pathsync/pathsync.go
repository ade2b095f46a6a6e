// Package pathsync copies a source tree into a snapshot directory.
//
// The engine uses a producer-consumer pipeline: a single goroutine walks
// the source tree and feeds items to a pool of workers that perform the
// actual I/O. Directory creation is deduplicated across the pool with a
// singleflight group. When a link-dest reference is set, files whose size
// and modification time match the reference are hard-linked instead of
// copied. Mirror mode runs a second pass over the destination and removes
// entries no longer present in the source.
//
// All directories and files created in the destination get the owner-write
// permission bit (0200) set so a later run can always modify or delete
// them, even when the source was read-only.
package pathsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/avasilev/snapback/pkg/metrics"
	"github.com/avasilev/snapback/pkg/plog"
	"github.com/avasilev/snapback/pkg/pool"
	"github.com/avasilev/snapback/pkg/util"
)

const (
	defaultBufferSize    = 1 << 20
	defaultModTimeWindow = 2 * time.Second
)

// Options configures a Syncer.
type Options struct {
	// Source and Target are the trees to copy from and into. Target must
	// already exist.
	Source string
	Target string

	// LinkDest is an optional reference tree (the previous snapshot).
	// Files unchanged relative to it are hard-linked instead of copied.
	LinkDest string

	// Mirror removes destination entries that are absent from the source
	// after the copy pass.
	Mirror bool

	// Workers sets the copy pool size; 0 picks a default from NumCPU.
	Workers int

	// BufferSize is the per-worker copy buffer size; 0 means 1 MiB.
	BufferSize int64

	// ModTimeWindow is the tolerance when comparing modification times
	// against the link-dest reference; 0 means 2s, which absorbs
	// filesystems with coarse timestamp resolution.
	ModTimeWindow time.Duration

	Metrics metrics.Metrics
}

// syncItem carries the metadata a worker needs so it never re-walks or
// re-stats the source entry.
type syncItem struct {
	relPath   string
	size      int64
	modTimeNS int64
	mode      fs.FileMode
	isDir     bool
	isSymlink bool
}

// Syncer copies one source tree into one target directory. A Syncer is
// good for a single Run.
type Syncer struct {
	opts    Options
	bufPool *pool.FixedBufferPool

	// seen holds every relative path the producer emitted. Written only
	// by the producer, read by the mirror pass after the workers finish.
	seen map[string]struct{}

	dirGroup singleflight.Group
	dirsDone sync.Map

	mu       sync.Mutex
	failures map[string]error
}

// New validates the options and prepares a Syncer.
func New(opts Options) (*Syncer, error) {
	if opts.Source == "" || opts.Target == "" {
		return nil, errors.New("pathsync: source and target are required")
	}
	if opts.Workers <= 0 {
		opts.Workers = min(max(2, runtime.NumCPU()), 8)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.ModTimeWindow <= 0 {
		opts.ModTimeWindow = defaultModTimeWindow
	}
	if opts.Metrics == nil {
		opts.Metrics = &metrics.NoopMetrics{}
	}
	return &Syncer{
		opts:     opts,
		bufPool:  pool.NewFixedBuffer(opts.BufferSize),
		seen:     make(map[string]struct{}),
		failures: make(map[string]error),
	}, nil
}

// Run executes the copy pass and, in mirror mode, the deletion pass.
// Per-entry I/O failures do not stop the run; they are logged, counted
// and returned in the map. The error return is reserved for failures of
// the pipeline itself (source walk error, cancellation).
func (s *Syncer) Run(ctx context.Context) (map[string]error, error) {
	if err := s.syncPhase(ctx); err != nil {
		return s.failures, err
	}
	if s.opts.Mirror {
		if err := s.mirrorPhase(ctx); err != nil {
			return s.failures, err
		}
	}
	return s.failures, nil
}

func (s *Syncer) syncPhase(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	items := make(chan *syncItem, s.opts.Workers*64)

	g.Go(func() error {
		defer close(items)
		return s.produce(ctx, items)
	})

	for i := 0; i < s.opts.Workers; i++ {
		g.Go(func() error {
			for item := range items {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := s.processItem(item); err != nil {
					s.recordFailure(item.relPath, err)
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// produce walks the source tree, records every relative path for the
// mirror pass and hands the items to the worker pool.
func (s *Syncer) produce(ctx context.Context, items chan<- *syncItem) error {
	return filepath.WalkDir(s.opts.Source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk source at %s: %w", path, err)
		}
		rel, err := filepath.Rel(s.opts.Source, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// Entry vanished mid-walk. Not fatal.
			s.recordFailure(rel, fmt.Errorf("failed to stat source entry: %w", err))
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		s.seen[rel] = struct{}{}

		item := &syncItem{
			relPath:   rel,
			size:      info.Size(),
			modTimeNS: info.ModTime().UnixNano(),
			mode:      info.Mode(),
			isDir:     info.IsDir(),
			isSymlink: info.Mode()&fs.ModeSymlink != 0,
		}

		select {
		case items <- item:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func (s *Syncer) processItem(item *syncItem) error {
	switch {
	case item.isDir:
		return s.ensureDir(item.relPath, item.mode.Perm())
	case item.isSymlink:
		if err := s.ensureParent(item.relPath); err != nil {
			return err
		}
		return s.copySymlink(item)
	case item.mode.IsRegular():
		if err := s.ensureParent(item.relPath); err != nil {
			return err
		}
		return s.syncFile(item)
	default:
		// Sockets, FIFOs and devices have no place in a file backup.
		plog.Debug("Skipping irregular source entry", "path", item.relPath, "mode", item.mode.String())
		return nil
	}
}

// ensureParent creates the chain of parent directories for a file item.
// Workers may reach a file before the directory item for its parent was
// processed, so this cannot rely on walk order.
func (s *Syncer) ensureParent(relPath string) error {
	parent := filepath.Dir(relPath)
	if parent == "." {
		return nil
	}
	return s.ensureDir(parent, util.UserWritableDirPerms)
}

// ensureDir creates a destination directory exactly once across the pool.
func (s *Syncer) ensureDir(relPath string, perm fs.FileMode) error {
	if _, done := s.dirsDone.Load(relPath); done {
		return nil
	}
	_, err, _ := s.dirGroup.Do(relPath, func() (any, error) {
		if _, done := s.dirsDone.Load(relPath); done {
			return nil, nil
		}
		absPath := filepath.Join(s.opts.Target, relPath)
		if _, statErr := os.Lstat(absPath); statErr == nil {
			s.dirsDone.Store(relPath, struct{}{})
			return nil, nil
		}
		if mkErr := os.MkdirAll(absPath, util.WithUserWritePermission(perm)); mkErr != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", absPath, mkErr)
		}
		s.opts.Metrics.AddDirsCreated(1)
		s.dirsDone.Store(relPath, struct{}{})
		return nil, nil
	})
	return err
}

// syncFile hard-links the file from the link-dest reference when it is
// unchanged, otherwise copies it.
func (s *Syncer) syncFile(item *syncItem) error {
	absTrgPath := filepath.Join(s.opts.Target, item.relPath)

	if s.opts.LinkDest != "" {
		absRefPath := filepath.Join(s.opts.LinkDest, item.relPath)
		if s.matchesReference(absRefPath, item) {
			if err := os.Link(absRefPath, absTrgPath); err == nil {
				s.opts.Metrics.AddFilesLinked(1)
				return nil
			} else {
				// Cross-device links or exotic filesystems; copying is
				// always a valid fallback.
				plog.Debug("Hard link failed, copying instead", "path", item.relPath, "error", err)
			}
		}
	}

	if err := s.copyFile(absTrgPath, item); err != nil {
		return err
	}
	s.opts.Metrics.AddFilesCopied(1)
	return nil
}

// matchesReference reports whether the link-dest entry is a regular file
// with the same size and a modification time within the window.
func (s *Syncer) matchesReference(absRefPath string, item *syncItem) bool {
	info, err := os.Lstat(absRefPath)
	if err != nil || !info.Mode().IsRegular() || info.Size() != item.size {
		return false
	}
	delta := info.ModTime().UnixNano() - item.modTimeNS
	if delta < 0 {
		delta = -delta
	}
	return delta <= s.opts.ModTimeWindow.Nanoseconds()
}

// copyFile writes the file to a temporary name in the destination
// directory and renames it into place, so a crash never leaves a
// half-written file under the final name.
func (s *Syncer) copyFile(absTrgPath string, item *syncItem) (err error) {
	absSrcPath := filepath.Join(s.opts.Source, item.relPath)

	in, err := os.Open(absSrcPath)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", absSrcPath, err)
	}
	defer in.Close()

	absTrgDir := filepath.Dir(absTrgPath)
	out, err := os.CreateTemp(absTrgDir, "snapback-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", absTrgDir, err)
	}
	defer out.Close()

	absTempPath := out.Name()
	defer func() {
		if absTempPath != "" {
			os.Remove(absTempPath)
		}
	}()

	// Pre-allocate to reduce fragmentation on large files.
	if item.size > 0 {
		_ = out.Truncate(item.size)
	}

	bufPtr := s.bufPool.Get()
	defer s.bufPool.Put(bufPtr)
	buf := *bufPtr
	buf = buf[:cap(buf)]

	bytesWritten, err := io.CopyBuffer(out, in, buf)
	if err != nil {
		return fmt.Errorf("failed to copy content from %s: %w", absSrcPath, err)
	}
	s.opts.Metrics.AddBytesWritten(bytesWritten)

	if err := out.Chmod(util.WithUserWritePermission(item.mode.Perm())); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", absTempPath, err)
	}

	// Close flushes to disk. It must happen before Chtimes, closing may
	// update the modification time.
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file %s: %w", absTempPath, err)
	}

	modTime := time.Unix(0, item.modTimeNS)
	if err := os.Chtimes(absTempPath, modTime, modTime); err != nil {
		return fmt.Errorf("failed to set timestamps on %s: %w", absTempPath, err)
	}

	if err := os.Rename(absTempPath, absTrgPath); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", absTempPath, err)
	}
	absTempPath = ""
	return nil
}

// copySymlink recreates a symlink with the original target, again via a
// temporary name and an atomic rename.
func (s *Syncer) copySymlink(item *syncItem) error {
	absSrcPath := filepath.Join(s.opts.Source, item.relPath)
	absTrgPath := filepath.Join(s.opts.Target, item.relPath)

	target, err := os.Readlink(absSrcPath)
	if err != nil {
		return fmt.Errorf("failed to read symlink %s: %w", absSrcPath, err)
	}

	absTrgDir := filepath.Dir(absTrgPath)
	f, err := os.CreateTemp(absTrgDir, "snapback-symlink-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to generate temp name for symlink: %w", err)
	}
	tempName := f.Name()
	f.Close()
	// CreateTemp made a regular file; we only needed the unique name.
	os.Remove(tempName)

	defer func() {
		if tempName != "" {
			os.Remove(tempName)
		}
	}()

	if err := os.Symlink(target, tempName); err != nil {
		return fmt.Errorf("failed to create symlink %s -> %s: %w", tempName, target, err)
	}
	if err := os.Rename(tempName, absTrgPath); err != nil {
		return fmt.Errorf("failed to rename temp symlink to %s: %w", absTrgPath, err)
	}
	tempName = ""

	s.opts.Metrics.AddSymlinksCreated(1)
	return nil
}

// mirrorPhase deletes destination entries that the producer never saw in
// the source: files first through the worker pool, then the now-empty
// directories, deepest path first.
func (s *Syncer) mirrorPhase(ctx context.Context) error {
	var staleFiles []string
	var staleDirs []string

	err := filepath.WalkDir(s.opts.Target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk destination at %s: %w", path, err)
		}
		rel, err := filepath.Rel(s.opts.Target, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if _, ok := s.seen[rel]; ok {
			return nil
		}
		if d.IsDir() {
			staleDirs = append(staleDirs, path)
		} else {
			staleFiles = append(staleFiles, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	paths := make(chan string, s.opts.Workers*64)

	g.Go(func() error {
		defer close(paths)
		for _, p := range staleFiles {
			select {
			case paths <- p:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < s.opts.Workers; i++ {
		g.Go(func() error {
			for p := range paths {
				if err := os.Remove(p); err != nil {
					s.recordFailure(p, fmt.Errorf("failed to delete stale file: %w", err))
					continue
				}
				s.opts.Metrics.AddFilesDeleted(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Children before parents.
	sort.Slice(staleDirs, func(i, j int) bool { return len(staleDirs[i]) > len(staleDirs[j]) })
	for _, p := range staleDirs {
		if err := os.Remove(p); err != nil {
			s.recordFailure(p, fmt.Errorf("failed to delete stale directory: %w", err))
			continue
		}
		s.opts.Metrics.AddDirsDeleted(1)
	}
	return nil
}

func (s *Syncer) recordFailure(key string, err error) {
	plog.Error("Sync entry failed", "path", key, "error", err)
	s.mu.Lock()
	s.failures[key] = err
	s.mu.Unlock()
}
