package snapshots

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ollm-core/agentcore/pkg/models"
)

func TestStorageSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	s := NewStorage(dir)

	snap := &models.Snapshot{
		ID:         "snap-1",
		SessionID:  "sess-1",
		Timestamp:  time.Now(),
		Messages:   []*models.Message{{Content: "hi"}},
		TokenCount: 10,
		Reason:     models.SnapshotReasonManual,
	}
	if err := s.Save(snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load("sess-1", "snap-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.TokenCount != 10 || len(got.Messages) != 1 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}

	idx, err := s.Index("sess-1")
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if len(idx) != 1 || idx[0].ID != "snap-1" {
		t.Fatalf("unexpected index: %+v", idx)
	}
}

func TestStorageRebuildsIndexOnCorruption(t *testing.T) {
	dir := t.TempDir()
	s := NewStorage(dir)

	snap := &models.Snapshot{ID: "snap-1", SessionID: "sess-1", Timestamp: time.Now()}
	if err := s.Save(snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := os.WriteFile(s.indexPath("sess-1"), []byte("not json"), 0o600); err != nil {
		t.Fatalf("corrupt index: %v", err)
	}

	idx, err := s.Index("sess-1")
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if len(idx) != 1 || idx[0].ID != "snap-1" {
		t.Fatalf("expected rebuilt index, got %+v", idx)
	}
}

func TestStorageSkipsCorruptSnapshotFile(t *testing.T) {
	dir := t.TempDir()
	s := NewStorage(dir)

	if err := s.Save(&models.Snapshot{ID: "good", SessionID: "sess-1", Timestamp: time.Now()}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sess-1", "bad.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write corrupt: %v", err)
	}
	os.Remove(s.indexPath("sess-1"))

	idx, err := s.Index("sess-1")
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if len(idx) != 1 || idx[0].ID != "good" {
		t.Fatalf("expected corrupt file skipped, got %+v", idx)
	}
}

func TestStorageDeleteRemovesFileAndIndexEntry(t *testing.T) {
	dir := t.TempDir()
	s := NewStorage(dir)
	s.Save(&models.Snapshot{ID: "snap-1", SessionID: "sess-1", Timestamp: time.Now()})

	if err := s.Delete("sess-1", "snap-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Load("sess-1", "snap-1"); err == nil {
		t.Fatal("expected load to fail after delete")
	}
	idx, _ := s.Index("sess-1")
	if len(idx) != 0 {
		t.Fatalf("expected empty index after delete, got %+v", idx)
	}
}
