package history

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func TestStore(t *testing.T) {
	store, err := NewStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2026, 8, 23, 3, 30, 0, 0, time.UTC)

	first := Entry{
		ID:               uuid.New(),
		Hostname:         "nas",
		StartedAt:        base,
		FinishedAt:       base.Add(20 * time.Minute),
		Status:           "success",
		ArchivesCreated:  8,
		ArchivesFailed:   0,
		ReplicationState: "succeeded",
		UniqueBytes:      12884901888,
	}
	second := Entry{
		ID:               uuid.New(),
		Hostname:         "nas",
		StartedAt:        base.Add(24 * time.Hour),
		FinishedAt:       base.Add(24*time.Hour + 25*time.Minute),
		Status:           "degraded",
		ArchivesCreated:  6,
		ArchivesFailed:   2,
		ReplicationState: "skipped:threshold_exceeded",
	}

	if err := store.Insert(ctx, first); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Insert(ctx, second); err != nil {
		t.Fatalf("insert: %v", err)
	}

	entries, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(entries))
	}

	// Newest first.
	if entries[0].ID != second.ID {
		t.Errorf("order: got %s first", entries[0].Status)
	}
	if entries[1].Status != "success" || entries[1].ArchivesCreated != 8 {
		t.Errorf("round trip: %+v", entries[1])
	}
	if !entries[1].StartedAt.Equal(first.StartedAt) {
		t.Errorf("started_at: got %v, want %v", entries[1].StartedAt, first.StartedAt)
	}
	if entries[0].ReplicationState != "skipped:threshold_exceeded" {
		t.Errorf("replication state: %q", entries[0].ReplicationState)
	}
}

func TestListLimit(t *testing.T) {
	store, err := NewStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e := Entry{
			ID:        uuid.New(),
			Hostname:  "nas",
			StartedAt: time.Now().Add(time.Duration(i) * time.Hour),
			Status:    "success",
		}
		if err := store.Insert(ctx, e); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	entries, err := store.List(ctx, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("limit: got %d, want 3", len(entries))
	}
}
