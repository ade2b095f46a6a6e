package report

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestReportCapturesPhasesAndSummary(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "log", "backup_2026-08-24_10-30-00.log")

	r, err := Open(logPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	r.Phase("SYNC", "mode", "incremental")
	r.Finish(Summary{
		Outcome:     "success",
		Source:      "/data",
		Snapshot:    "/backups/host/backup_2026-08-24_10-30-00",
		Mode:        "incremental",
		Compression: "gzip (level 6)",
		Duration:    1500 * time.Millisecond,
	})

	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("run log missing: %v", err)
	}
	content := string(data)

	if !strings.Contains(content, "SYNC") {
		t.Error("phase line missing from run log")
	}
	if !strings.Contains(content, "outcome=success") {
		t.Error("summary outcome missing from run log")
	}
	if !strings.Contains(content, "mode=incremental") {
		t.Error("summary mode missing from run log")
	}
}

func TestReportFatalWritesErrorMarker(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "backup.log")

	r, err := Open(logPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	r.Fatal("SYNC", errors.New("disk full"))
	r.Close()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "ERROR: SYNC failed") {
		t.Errorf("ERROR marker missing from run log:\n%s", data)
	}
	if !strings.Contains(string(data), "disk full") {
		t.Error("underlying error missing from run log")
	}
}

func TestReportCloseIsIdempotent(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "backup.log"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
