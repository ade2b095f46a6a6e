// Command snapback creates a timestamped snapshot of a source directory
// under a host-scoped backup root, optionally archives it and prunes
// snapshots older than the retention threshold.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avasilev/snapback/pkg/buildinfo"
	"github.com/avasilev/snapback/pkg/config"
	"github.com/avasilev/snapback/pkg/engine"
	"github.com/avasilev/snapback/pkg/lockfile"
	"github.com/avasilev/snapback/pkg/plog"
	"github.com/avasilev/snapback/pkg/preflight"
	"github.com/avasilev/snapback/pkg/util"
)

// action defines a special command to execute instead of a backup.
type action int

const (
	actionRunBackup action = iota // The default action is to run a backup.
	actionShowVersion
)

// init sets up a custom, more descriptive help message for the flags.
func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] SOURCE\n", buildinfo.Name)
		fmt.Fprintf(flag.CommandLine.Output(), "Creates a timestamped backup snapshot of SOURCE under the destination directory.\n\n")
		flag.PrintDefaults()
	}
}

// parseFlagConfig defines and parses the command-line flags and maps them
// onto the immutable run configuration. It touches nothing but the
// arguments: path existence and writability are checked later.
func parseFlagConfig() (action, config.Config, error) {
	destFlag := flag.String("dest", "", "Backup base directory (required).")
	modeFlag := flag.String("mode", "incremental", "Backup mode: 'full', 'incremental' or 'mirror'.")
	compressFlag := flag.Bool("compress", false, "Create a tar archive of the snapshot after the copy (uncompressed unless -compress-format is set).")
	compressFormatFlag := flag.String("compress-format", "none", "Archive compression: 'none', 'gzip', 'bzip2', 'xz' or 'zstd'.")
	compressLevelFlag := flag.Int("compress-level", 0, "Compression level 1-9 (0 = codec default).")
	retentionDaysFlag := flag.Int("retention-days", 0, "Delete snapshots older than this many days (0 disables pruning).")
	logLevelFlag := flag.String("log-level", "info", "Console log level: 'debug', 'notice', 'info', 'warn', 'error'.")
	quietFlag := flag.Bool("quiet", false, "Suppress informational console output.")
	versionFlag := flag.Bool("version", false, "Print the application version and exit.")
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		return actionRunBackup, config.Config{}, err
	}

	if *versionFlag {
		return actionShowVersion, config.Config{}, nil
	}

	if flag.NArg() != 1 {
		return actionRunBackup, config.Config{}, errors.New("exactly one SOURCE argument is required")
	}

	mode, err := config.ParseMode(*modeFlag)
	if err != nil {
		return actionRunBackup, config.Config{}, err
	}

	codec, err := config.ParseCodec(*compressFormatFlag)
	if err != nil {
		return actionRunBackup, config.Config{}, err
	}

	// Selecting a format implies archiving. Bare -compress keeps codec
	// 'none' and produces a plain .tar archive.
	compress := *compressFlag || codec != config.CodecNone

	source, err := util.ExpandPath(flag.Arg(0))
	if err != nil {
		return actionRunBackup, config.Config{}, err
	}
	baseDir, err := util.ExpandPath(*destFlag)
	if err != nil {
		return actionRunBackup, config.Config{}, err
	}

	cfg := config.Config{
		Source:        source,
		BaseDir:       baseDir,
		Mode:          mode,
		Compress:      compress,
		Codec:         codec,
		Level:         *compressLevelFlag,
		RetentionDays: *retentionDaysFlag,
		LogLevel:      *logLevelFlag,
		Quiet:         *quietFlag,
	}
	if err := cfg.Validate(); err != nil {
		return actionRunBackup, config.Config{}, err
	}
	return actionRunBackup, cfg, nil
}

func main() {
	os.Exit(run())
}

func run() int {
	act, cfg, err := parseFlagConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		return 2
	}
	if act == actionShowVersion {
		fmt.Printf("%s %s\n", buildinfo.Name, buildinfo.Version)
		return 0
	}

	if cfg.Quiet {
		plog.SetLevel(slog.LevelWarn)
	} else {
		plog.SetLevel(plog.LevelFromString(cfg.LogLevel))
	}

	// Path validation runs before the lock is even attempted, so bad
	// invocations never contend with a running backup.
	if err := preflight.CheckSource(cfg.Source); err != nil {
		plog.Error("Source validation failed", "error", err)
		return 1
	}
	if err := preflight.CheckBackupBase(cfg.BaseDir); err != nil {
		plog.Error("Backup base validation failed", "error", err)
		return 1
	}

	// A signal cancels the context; running phases stop at their next
	// checkpoint and the deferred lock release still runs.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lock, err := lockfile.Acquire(ctx, "", buildinfo.Name)
	if err != nil {
		var lockErr *lockfile.ErrLockActive
		if errors.As(err, &lockErr) {
			plog.Error("Cannot start backup", "error", lockErr)
		} else {
			plog.Error("Failed to acquire run lock", "error", err)
		}
		return 1
	}
	defer lock.Release()

	plog.Info("Starting backup", "version", buildinfo.Version, "source", cfg.Source, "mode", cfg.Mode.String())

	eng := engine.New(cfg, time.Now())
	if err := eng.Execute(ctx); err != nil {
		plog.Error("Backup failed", "error", err)
		return 1
	}
	plog.Info("Backup complete", "snapshot", eng.SnapshotDir())
	return 0
}
