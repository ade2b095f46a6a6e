// Package engine orchestrates one backup run as a linear sequence of
// phases: preflight, directory creation, synchronization, publishing the
// latest pointer, optional archival and the retention sweep. The first
// fatal phase failure terminates the run; whatever the failed phase left
// behind is kept on disk for inspection.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/avasilev/snapback/pkg/buildinfo"
	"github.com/avasilev/snapback/pkg/config"
	"github.com/avasilev/snapback/pkg/layout"
	"github.com/avasilev/snapback/pkg/metafile"
	"github.com/avasilev/snapback/pkg/metrics"
	"github.com/avasilev/snapback/pkg/patharchive"
	"github.com/avasilev/snapback/pkg/pathretention"
	"github.com/avasilev/snapback/pkg/pathsync"
	"github.com/avasilev/snapback/pkg/plog"
	"github.com/avasilev/snapback/pkg/preflight"
	"github.com/avasilev/snapback/pkg/report"
	"github.com/avasilev/snapback/pkg/util"
)

// Engine executes a single backup run. Create a fresh Engine per run.
type Engine struct {
	cfg     config.Config
	runTime time.Time
	layout  *layout.Layout
	metrics *metrics.RunMetrics
}

// New prepares an engine for one run starting at runTime. The run time
// determines the snapshot name, so two engines must not share it.
func New(cfg config.Config, runTime time.Time) *Engine {
	return &Engine{
		cfg:     cfg,
		runTime: runTime,
		metrics: &metrics.RunMetrics{},
	}
}

// Execute runs all phases. The returned error is the first fatal failure;
// it has already been written to the run report when the report was open
// at the time of the failure.
func (e *Engine) Execute(ctx context.Context) (retErr error) {
	start := time.Now()

	// Preflight runs before any mutation of the filesystem.
	if err := preflight.CheckSource(e.cfg.Source); err != nil {
		return fmt.Errorf("source check failed: %w", err)
	}
	if err := preflight.CheckBackupBase(e.cfg.BaseDir); err != nil {
		return fmt.Errorf("backup base check failed: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		plog.Warn("Could not determine hostname", "error", err)
		hostname = "unknown-host"
	}

	l, err := layout.New(e.cfg.BaseDir, e.cfg.Source, hostname, e.runTime)
	if err != nil {
		return err
	}
	e.layout = l

	rep, err := report.Open(l.LogFile())
	if err != nil {
		return err
	}
	defer rep.Close()
	plog.Debug("Run log opened", "path", rep.Path())

	fatal := func(phase string, err error) error {
		rep.Fatal(phase, err)
		return fmt.Errorf("%s phase failed: %w", phase, err)
	}

	rep.Phase("START",
		"version", buildinfo.Version,
		"source", e.cfg.Source,
		"snapshot", l.SnapshotDir(),
		"mode", e.cfg.Mode.String(),
	)

	if err := e.ensureDirectories(); err != nil {
		return fatal("MKDIR", err)
	}

	if err := e.synchronize(ctx, rep); err != nil {
		return fatal("SYNC", err)
	}

	if err := e.publishLatest(); err != nil {
		return fatal("PUBLISH", err)
	}

	if e.cfg.Compress {
		rep.Phase("ARCHIVE", "codec", e.cfg.Codec.String())
		archivePath := l.ArchivePath(e.cfg.Codec)
		if err := patharchive.Archive(ctx, l.SnapshotDir(), archivePath, e.cfg.Codec, e.cfg.Level); err != nil {
			return fatal("ARCHIVE", fmt.Errorf("failed to archive snapshot %s: %w", l.SnapshotDir(), err))
		}
	}

	sweepResult := &pathretention.Result{}
	if e.cfg.RetentionDays > 0 {
		rep.Phase("SWEEP", "thresholdDays", e.cfg.RetentionDays)
		sweepResult, err = pathretention.Sweep(ctx, l.HostScope(), e.cfg.RetentionDays, l.SnapshotDir(), e.metrics)
		if err != nil {
			return fatal("SWEEP", err)
		}
		// Per-entry sweep failures never fail the run; they are already
		// logged and appear in the summary.
	}

	e.metrics.Log()
	rep.Finish(report.Summary{
		Outcome:       "success",
		Source:        e.cfg.Source,
		Snapshot:      l.SnapshotDir(),
		Mode:          e.cfg.Mode.String(),
		Compression:   e.cfg.CompressionLabel(),
		RetentionDays: e.cfg.RetentionDays,
		SweepDeleted:  sweepResult.Deleted,
		SweepFailed:   sweepResult.Failed,
		Duration:      time.Since(start),
	})
	return nil
}

// SnapshotDir exposes this run's snapshot path after Execute has computed
// the layout.
func (e *Engine) SnapshotDir() string {
	if e.layout == nil {
		return ""
	}
	return e.layout.SnapshotDir()
}

// ensureDirectories builds the run's directory skeleton. The snapshot
// directory itself is created exclusively: a pre-existing directory means
// a naming collision and aborts the run.
func (e *Engine) ensureDirectories() error {
	for _, dir := range []string{e.layout.BackupRoot(), e.layout.HostScope(), e.layout.LogDir()} {
		if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := os.Mkdir(e.layout.SnapshotDir(), util.UserWritableDirPerms); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("snapshot directory %s already exists", e.layout.SnapshotDir())
		}
		return fmt.Errorf("failed to create directory %s: %w", e.layout.SnapshotDir(), err)
	}
	return nil
}

// synchronize copies the source into the snapshot according to the mode.
// Any per-entry failure makes the whole phase fatal: an incomplete
// snapshot must never be published as latest.
func (e *Engine) synchronize(ctx context.Context, rep *report.Report) error {
	linkDest := ""
	if e.cfg.Mode == config.IncrementalMode {
		linkDest = e.resolveLinkDest()
	}

	rep.Phase("SYNC", "mode", e.cfg.Mode.String(), "linkDest", linkDest)

	syncer, err := pathsync.New(pathsync.Options{
		Source:   e.cfg.Source,
		Target:   e.layout.SnapshotDir(),
		LinkDest: linkDest,
		Mirror:   e.cfg.Mode == config.MirrorMode,
		Metrics:  e.metrics,
	})
	if err != nil {
		return err
	}

	failures, err := syncer.Run(ctx)
	if err != nil {
		return err
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d entries failed to sync into %s", len(failures), e.layout.SnapshotDir())
	}
	return nil
}

// resolveLinkDest follows the latest pointer to the previous snapshot.
// A missing or dangling pointer degrades the run to a full copy.
func (e *Engine) resolveLinkDest() string {
	target, err := os.Readlink(e.layout.LatestLink())
	if err != nil {
		plog.Info("No previous snapshot found, performing full copy")
		return ""
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(e.layout.HostScope(), target)
	}
	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		plog.Warn("Latest pointer does not resolve to a snapshot, performing full copy", "target", target)
		return ""
	}
	return target
}

// publishLatest writes the snapshot metafile and atomically repoints the
// latest symlink. On failure the old pointer is left untouched and the
// snapshot stays valid on disk.
func (e *Engine) publishLatest() error {
	content := &metafile.MetafileContent{
		Version:      buildinfo.Version,
		TimestampUTC: e.runTime.UTC(),
		Source:       e.cfg.Source,
		Mode:         e.cfg.Mode.String(),
		IsArchived:   e.cfg.Compress,
	}
	if e.cfg.Compress {
		content.ArchiveCodec = e.cfg.Codec.String()
	}
	if err := metafile.Write(e.layout.SnapshotDir(), content); err != nil {
		return err
	}

	// Build the new symlink under a temporary name, then rename it over
	// the old pointer so readers never observe a missing link.
	f, err := os.CreateTemp(e.layout.HostScope(), "snapback-latest-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to generate temp name for latest pointer: %w", err)
	}
	tempName := f.Name()
	f.Close()
	os.Remove(tempName)

	defer func() {
		if tempName != "" {
			os.Remove(tempName)
		}
	}()

	if err := os.Symlink(e.layout.LatestTarget(), tempName); err != nil {
		return fmt.Errorf("failed to create latest pointer: %w", err)
	}
	if err := os.Rename(tempName, e.layout.LatestLink()); err != nil {
		return fmt.Errorf("failed to publish latest pointer: %w", err)
	}
	tempName = ""

	plog.Notice("PUBLISH", "latest", e.layout.LatestLink(), "target", e.layout.LatestTarget())
	return nil
}
