package sessions

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ollm-core/agentcore/pkg/models"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	ctx := context.Background()

	session := &models.Session{AgentID: "agent-1", Channel: models.ChannelAPI, Key: "k1"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}
	if session.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Key != "k1" || got.AgentID != "agent-1" {
		t.Fatalf("unexpected session: %+v", got)
	}

	if err := store.AppendMessage(ctx, session.ID, &models.Message{Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	history, err := store.GetHistory(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Content != "hi" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestFileStoreIndexRebuildOnCorruption(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	ctx := context.Background()

	session := &models.Session{Key: "k1"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "index.json"), []byte("not json"), 0o600); err != nil {
		t.Fatalf("corrupt index: %v", err)
	}

	entries, err := store.readIndex()
	if err != nil {
		t.Fatalf("readIndex: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != session.ID {
		t.Fatalf("expected rebuilt index with one entry, got %+v", entries)
	}
}

func TestFileStoreEvictsOldest(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	store.MaxSessions = 2
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		s := &models.Session{Key: string(rune('a' + i))}
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, s.ID)
	}

	entries, err := store.readIndex()
	if err != nil {
		t.Fatalf("readIndex: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 retained sessions, got %d", len(entries))
	}
	if _, err := store.Get(ctx, ids[0]); err == nil {
		t.Fatal("expected oldest session to be evicted")
	}
}

func TestFileStoreAtomicWriteSurvivesPartialRename(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	ctx := context.Background()

	session := &models.Session{Key: "k1"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, session.ID+".tmp")); !os.IsNotExist(err) {
		t.Fatal("temp file should not remain after rename")
	}
}
