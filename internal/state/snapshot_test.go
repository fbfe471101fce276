package state

import (
	"path/filepath"
	"testing"

	"github.com/mcpgate/mcpgate/internal/provider"
)

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.yaml")

	store := NewMemoryStore()
	sess, _ := store.Create("s1")
	sess.Mode = ModeTask
	sess.Messages = append(sess.Messages, provider.Message{
		Role: provider.RoleUser, Content: "summarize the report",
	})
	store.Create("s2")

	if err := store.SaveSnapshot(path); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	restored := NewMemoryStore()
	if err := restored.LoadSnapshot(path); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	got, err := restored.Get("s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Mode != ModeTask || len(got.Messages) != 1 || got.Messages[0].Content != "summarize the report" {
		t.Errorf("restored session = %+v", got)
	}
	if _, err := restored.Get("s2"); err != nil {
		t.Errorf("s2 missing after restore: %v", err)
	}
}

func TestLoadSnapshotMissingFile(t *testing.T) {
	store := NewMemoryStore()
	if err := store.LoadSnapshot(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("missing snapshot must not error: %v", err)
	}
}

func TestLoadSnapshotKeepsLiveSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.yaml")

	old := NewMemoryStore()
	stale, _ := old.Create("s1")
	stale.IterationCount = 1
	if err := old.SaveSnapshot(path); err != nil {
		t.Fatal(err)
	}

	store := NewMemoryStore()
	live, _ := store.Create("s1")
	live.IterationCount = 9
	if err := store.LoadSnapshot(path); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Get("s1")
	if got.IterationCount != 9 {
		t.Errorf("live session overwritten by snapshot: %+v", got)
	}
}
