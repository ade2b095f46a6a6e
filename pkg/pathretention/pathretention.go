// Package pathretention removes expired snapshots from a host scope. Only
// immediate subdirectories carrying the snapshot prefix are candidates;
// archives, loose files and foreign directories are never touched. Age is
// judged by directory modification time.
package pathretention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/avasilev/snapback/pkg/layout"
	"github.com/avasilev/snapback/pkg/metrics"
	"github.com/avasilev/snapback/pkg/plog"
)

const numDeleteWorkers = 4

// Result summarizes one sweep.
type Result struct {
	Deleted  int
	Failed   int
	Failures map[string]error
}

// Sweep deletes every snapshot directory in hostScope older than
// thresholdDays. The directory named by excludeDir is always kept, which
// shields the snapshot created by the current run regardless of clock
// skew. Per-entry failures do not stop the sweep.
func Sweep(ctx context.Context, hostScope string, thresholdDays int, excludeDir string, m metrics.Metrics) (*Result, error) {
	result := &Result{Failures: make(map[string]error)}
	if thresholdDays <= 0 {
		return result, nil
	}
	if m == nil {
		m = &metrics.NoopMetrics{}
	}

	entries, err := os.ReadDir(hostScope)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return result, fmt.Errorf("failed to read host scope %s: %w", hostScope, err)
	}

	cutoff := time.Now().Add(-time.Duration(thresholdDays) * 24 * time.Hour)
	excludeName := filepath.Base(excludeDir)

	var candidates []string
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), layout.SnapshotPrefix) {
			continue
		}
		if entry.Name() == excludeName {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			result.Failures[entry.Name()] = err
			continue
		}
		if info.ModTime().Before(cutoff) {
			candidates = append(candidates, filepath.Join(hostScope, entry.Name()))
		}
	}

	if len(candidates) == 0 {
		plog.Debug("Retention sweep found nothing to delete", "scope", hostScope, "thresholdDays", thresholdDays)
		return result, nil
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	paths := make(chan string, len(candidates))

	g.Go(func() error {
		defer close(paths)
		for _, p := range candidates {
			select {
			case paths <- p:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < min(numDeleteWorkers, len(candidates)); i++ {
		g.Go(func() error {
			for p := range paths {
				plog.Notice("SWEEP", "path", p)
				if err := os.RemoveAll(p); err != nil {
					plog.Error("Failed to delete expired snapshot", "path", p, "error", err)
					m.AddSweepFailed(1)
					mu.Lock()
					result.Failures[p] = err
					mu.Unlock()
					continue
				}
				m.AddSweepDeleted(1)
				mu.Lock()
				result.Deleted++
				mu.Unlock()
			}
			return nil
		})
	}

	err = g.Wait()
	result.Failed = len(result.Failures)
	return result, err
}
