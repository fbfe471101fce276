package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/mcpgate/mcpgate/internal/provider"
	"github.com/mcpgate/mcpgate/internal/state"
)

func openTestStore(t *testing.T, maxMessages int) *SessionStore {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSessionStore(db, maxMessages)
}

func exerciseStore(t *testing.T, s state.Store) {
	t.Helper()

	sess, err := s.Create("s1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.ID != "s1" {
		t.Fatalf("id = %q", sess.ID)
	}

	sess.Messages = append(sess.Messages,
		provider.Message{Role: provider.RoleUser, Content: "rotate the image"},
		provider.Message{Role: provider.RoleAssistant, Content: "done"},
	)
	sess.Mode = state.ModeTask
	sess.IterationCount = 2
	if err := s.Put(sess); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get("s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Messages) != 2 || got.Messages[0].Content != "rotate the image" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if got.Mode != state.ModeTask || got.IterationCount != 2 {
		t.Errorf("mode = %s iterations = %d", got.Mode, got.IterationCount)
	}

	// Create on an existing id returns the stored session.
	again, err := s.Create("s1")
	if err != nil {
		t.Fatalf("Create existing: %v", err)
	}
	if len(again.Messages) != 2 {
		t.Errorf("Create on existing id lost messages: %+v", again.Messages)
	}

	ids, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 1 || ids[0] != "s1" {
		t.Errorf("ids = %v", ids)
	}

	if err := s.Delete("s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("s1"); err == nil {
		t.Error("Get after Delete must error")
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	exerciseStore(t, openTestStore(t, 0))
}

func TestSQLiteStoreMessageCap(t *testing.T) {
	s := openTestStore(t, 2)
	sess, err := s.Create("s1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, c := range []string{"one", "two", "three"} {
		sess.Messages = append(sess.Messages, provider.Message{
			Role: provider.RoleUser, Content: c,
		})
	}
	if err := s.Put(sess); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get("s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Messages) != 2 || got.Messages[0].Content != "two" {
		t.Errorf("messages = %+v, want oldest dropped", got.Messages)
	}
}

func TestSQLiteStorePruneIdle(t *testing.T) {
	s := openTestStore(t, 0)
	if _, err := s.Create("old"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create("fresh"); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-2 * time.Hour).UTC().Format(time.RFC3339)
	if _, err := s.db.SQLDB().Exec(`UPDATE sessions SET updated_at = ? WHERE id = 'old'`, stale); err != nil {
		t.Fatal(err)
	}

	pruned, err := s.PruneIdle(time.Hour)
	if err != nil {
		t.Fatalf("PruneIdle: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	if _, err := s.Get("fresh"); err != nil {
		t.Errorf("fresh session should survive: %v", err)
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s := NewSessionStore(db, 0)
	sess, err := s.Create("persist")
	if err != nil {
		t.Fatal(err)
	}
	sess.Metadata["origin"] = "stdio"
	if err := s.Put(sess); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = db2.Close() }()
	got, err := NewSessionStore(db2, 0).Get("persist")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Metadata["origin"] != "stdio" {
		t.Errorf("metadata = %+v", got.Metadata)
	}
}

func openTestRedis(t *testing.T, maxMessages int) *RedisStore {
	t.Helper()
	srv := miniredis.RunT(t)
	s, err := OpenRedis(srv.Addr(), 0, maxMessages)
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStoreRoundTrip(t *testing.T) {
	exerciseStore(t, openTestRedis(t, 0))
}

func TestRedisStorePruneIdle(t *testing.T) {
	s := openTestRedis(t, 0)
	old, err := s.Create("old")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create("fresh"); err != nil {
		t.Fatal(err)
	}
	old.UpdatedAt = time.Now().Add(-2 * time.Hour)
	if err := s.write(old); err != nil {
		t.Fatal(err)
	}

	pruned, err := s.PruneIdle(time.Hour)
	if err != nil {
		t.Fatalf("PruneIdle: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	if _, err := s.Get("old"); err == nil {
		t.Error("idle session should be gone")
	}
	ids, _ := s.List()
	if len(ids) != 1 || ids[0] != "fresh" {
		t.Errorf("ids = %v, want [fresh]", ids)
	}
}

func TestRedisStoreDroppedIndexEntry(t *testing.T) {
	srv := miniredis.RunT(t)
	s, err := OpenRedis(srv.Addr(), 0, 0)
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	defer func() { _ = s.Close() }()

	if _, err := s.Create("gone"); err != nil {
		t.Fatal(err)
	}
	srv.Del(redisSessionPrefix + "gone")

	// Prune repairs the index instead of failing on the dangling entry.
	if _, err := s.PruneIdle(time.Hour); err != nil {
		t.Fatalf("PruneIdle: %v", err)
	}
	ids, _ := s.List()
	if len(ids) != 0 {
		t.Errorf("index not repaired: %v", ids)
	}
}
