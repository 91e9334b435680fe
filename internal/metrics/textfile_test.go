package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func TestWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "holdfast.prom")
	w := NewWriter(path, testLogger())

	err := w.Write(RunMetrics{
		StartedAt:            time.Date(2026, 8, 23, 3, 30, 0, 0, time.UTC),
		Duration:             90 * time.Second,
		Success:              true,
		ArchivesCreated:      8,
		ArchivesFailed:       1,
		RepoUniqueBytes:      12884901888,
		ReplicationAttempted: true,
		ReplicationSucceeded: true,
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	out := string(data)

	for _, want := range []string{
		"holdfast_last_run_success 1",
		"holdfast_archives_created 8",
		"holdfast_archives_failed 1",
		"holdfast_last_run_duration_seconds 90",
		"holdfast_repo_unique_bytes 1.2884901888e+10",
		"holdfast_replication_succeeded 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("textfile missing %q:\n%s", want, out)
		}
	}
}

func TestWriteDisabled(t *testing.T) {
	w := NewWriter("", testLogger())
	if err := w.Write(RunMetrics{Success: true}); err != nil {
		t.Fatalf("disabled writer: %v", err)
	}
}
