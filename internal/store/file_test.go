package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ultrahub-team/ultrahub/internal/raid"
)

func sampleSession(id string) raid.Session {
	return raid.Session{
		ID:        id,
		ChannelID: "chan-1",
		Boss:      "Nulgath",
		Comp:      "meta",
		Creator:   "u1",
		Status:    raid.StatusRecruiting,
		PartySize: 3,
		Members:   map[string]string{"u1": "Healer"},
		JoinOrder: []string{"u1"},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestFileStoreSaveLoadDelete(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	ctx := context.Background()

	sess := sampleSession("u1-100")
	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(ctx, sampleSession("u2-200")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("LoadAll() returned %d sessions, want 2", len(loaded))
	}

	var got raid.Session
	for _, l := range loaded {
		if l.ID == sess.ID {
			got = l
		}
	}
	if got.Boss != sess.Boss || got.Members["u1"] != "Healer" || !got.CreatedAt.Equal(sess.CreatedAt) {
		t.Fatalf("round-tripped session = %+v, want %+v", got, sess)
	}

	if err := s.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	loaded, err = s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() after delete error = %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("LoadAll() returned %d sessions after delete, want 1", len(loaded))
	}

	// Deleting an absent snapshot is not an error.
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Fatalf("Delete(missing) error = %v", err)
	}
}

func TestFileStoreSkipsCorruptSnapshots(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	ctx := context.Background()

	if err := s.Save(ctx, sampleSession("u1-100")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	corrupt := filepath.Join(dir, "raids", "broken.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	loaded, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("LoadAll() returned %d sessions, want 1", len(loaded))
	}
}

func TestFileStoreHistoryIsAppendOnly(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	ctx := context.Background()

	endedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := raid.HistoryRecord{
		ID:      "hist-1",
		RaidID:  "u1-100",
		Status:  raid.StatusCanceled,
		Session: sampleSession("u1-100"),
		EndedAt: endedAt,
	}
	if err := s.AppendHistory(ctx, rec); err != nil {
		t.Fatalf("AppendHistory() error = %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "raid_logs"))
	if err != nil {
		t.Fatalf("read logs dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("logs dir has %d entries, want 1", len(entries))
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "u1-100_canceled_") || !strings.HasSuffix(name, ".json") {
		t.Fatalf("history file name = %q, want u1-100_canceled_<timestamp>.json", name)
	}

	// A colliding record for the same second never rewrites the first file.
	if err := s.AppendHistory(ctx, rec); err != nil {
		t.Fatalf("repeat AppendHistory() error = %v", err)
	}
	entries, _ = os.ReadDir(filepath.Join(dir, "raid_logs"))
	if len(entries) != 1 {
		t.Fatalf("logs dir has %d entries after repeat, want 1", len(entries))
	}

	// A different terminal status for the same raid gets its own file.
	rec.Status = raid.StatusCompleted
	if err := s.AppendHistory(ctx, rec); err != nil {
		t.Fatalf("AppendHistory(completed) error = %v", err)
	}
	entries, _ = os.ReadDir(filepath.Join(dir, "raid_logs"))
	if len(entries) != 2 {
		t.Fatalf("logs dir has %d entries, want 2", len(entries))
	}
}
