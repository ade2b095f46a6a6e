package main

import (
	"flag"
	"os"
	"testing"

	"github.com/avasilev/snapback/pkg/config"
)

// runTestWithFlags is a helper to safely run tests that use the global flag
// package. It backs up and restores os.Args and resets the flag package for
// each run.
func runTestWithFlags(t *testing.T, args []string, testFunc func()) {
	t.Helper()

	originalArgs := os.Args
	defer func() { os.Args = originalArgs }()

	// The first element must be the program name.
	os.Args = append([]string{t.Name()}, args...)

	// The flag package is global, so each case starts from a clean state.
	flag.CommandLine = flag.NewFlagSet(t.Name(), flag.ContinueOnError)

	testFunc()
}

func TestParseFlagConfig(t *testing.T) {
	t.Run("Bare Compress Keeps Codec None", func(t *testing.T) {
		args := []string{"-dest", "/backups", "-compress", "/data"}
		runTestWithFlags(t, args, func() {
			_, cfg, err := parseFlagConfig()
			if err != nil {
				t.Fatalf("expected no error, but got: %v", err)
			}
			if !cfg.Compress {
				t.Error("expected Compress to be enabled")
			}
			if cfg.Codec != config.CodecNone {
				t.Errorf("expected codec 'none' for a plain .tar archive, but got %v", cfg.Codec)
			}
		})
	})

	t.Run("Explicit Format None Keeps Codec None", func(t *testing.T) {
		args := []string{"-dest", "/backups", "-compress", "-compress-format", "none", "/data"}
		runTestWithFlags(t, args, func() {
			_, cfg, err := parseFlagConfig()
			if err != nil {
				t.Fatalf("expected no error, but got: %v", err)
			}
			if !cfg.Compress {
				t.Error("expected Compress to be enabled")
			}
			if cfg.Codec != config.CodecNone {
				t.Errorf("expected codec 'none', but got %v", cfg.Codec)
			}
		})
	})

	t.Run("Format Implies Compress", func(t *testing.T) {
		args := []string{"-dest", "/backups", "-compress-format", "zstd", "/data"}
		runTestWithFlags(t, args, func() {
			_, cfg, err := parseFlagConfig()
			if err != nil {
				t.Fatalf("expected no error, but got: %v", err)
			}
			if !cfg.Compress {
				t.Error("expected -compress-format to imply archiving")
			}
			if cfg.Codec != config.CodecZstd {
				t.Errorf("expected codec 'zstd', but got %v", cfg.Codec)
			}
		})
	})

	t.Run("Format And Level Pass Through", func(t *testing.T) {
		args := []string{"-dest", "/backups", "-compress-format", "gzip", "-compress-level", "6", "-mode", "full", "/data"}
		runTestWithFlags(t, args, func() {
			_, cfg, err := parseFlagConfig()
			if err != nil {
				t.Fatalf("expected no error, but got: %v", err)
			}
			if cfg.Codec != config.CodecGzip || cfg.Level != 6 {
				t.Errorf("expected gzip level 6, but got %v level %d", cfg.Codec, cfg.Level)
			}
			if cfg.Mode != config.FullMode {
				t.Errorf("expected mode 'full', but got %v", cfg.Mode)
			}
		})
	})

	t.Run("Defaults", func(t *testing.T) {
		args := []string{"-dest", "/backups", "/data"}
		runTestWithFlags(t, args, func() {
			_, cfg, err := parseFlagConfig()
			if err != nil {
				t.Fatalf("expected no error, but got: %v", err)
			}
			if cfg.Mode != config.IncrementalMode {
				t.Errorf("expected default mode 'incremental', but got %v", cfg.Mode)
			}
			if cfg.Compress {
				t.Error("expected archiving to be disabled by default")
			}
			if cfg.RetentionDays != 0 {
				t.Errorf("expected retention disabled by default, but got %d", cfg.RetentionDays)
			}
		})
	})

	t.Run("Version Flag", func(t *testing.T) {
		runTestWithFlags(t, []string{"-version"}, func() {
			act, _, err := parseFlagConfig()
			if err != nil {
				t.Fatalf("expected no error, but got: %v", err)
			}
			if act != actionShowVersion {
				t.Errorf("expected actionShowVersion, but got %v", act)
			}
		})
	})

	t.Run("Rejections", func(t *testing.T) {
		testCases := []struct {
			name string
			args []string
		}{
			{"Unknown Mode", []string{"-dest", "/backups", "-mode", "differential", "/data"}},
			{"Unknown Format", []string{"-dest", "/backups", "-compress-format", "lz4", "/data"}},
			{"Level Out Of Range", []string{"-dest", "/backups", "-compress-format", "gzip", "-compress-level", "10", "/data"}},
			{"Level Without Codec", []string{"-dest", "/backups", "-compress-level", "6", "/data"}},
			{"Missing Source", []string{"-dest", "/backups"}},
			{"Two Sources", []string{"-dest", "/backups", "/data", "/more"}},
			{"Missing Dest", []string{"/data"}},
			{"Negative Retention", []string{"-dest", "/backups", "-retention-days", "-1", "/data"}},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				runTestWithFlags(t, tc.args, func() {
					if _, _, err := parseFlagConfig(); err == nil {
						t.Error("expected a parse error, but got none")
					}
				})
			})
		}
	})
}
