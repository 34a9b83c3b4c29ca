// Package snapshots persists context snapshots: immutable images of a
// session's messages captured at a point in time, so compression and
// memory-pressure recovery always have something to roll back to.
package snapshots

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/ollm-core/agentcore/pkg/models"
)

const (
	filePerm = 0o600
	dirPerm  = 0o700
)

// Storage persists snapshot files under one directory per session, with a
// shared index.json for O(1) listing. Writes are temp-file-then-rename;
// a corrupt index is rebuilt by scanning the directory, a corrupt
// snapshot file is skipped rather than failing the whole listing.
type Storage struct {
	root string
}

// NewStorage creates a snapshot storage rooted at dir.
func NewStorage(dir string) *Storage {
	return &Storage{root: dir}
}

func (s *Storage) sessionDir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

func (s *Storage) snapshotPath(sessionID, id string) string {
	return filepath.Join(s.sessionDir(sessionID), id+".json")
}

func (s *Storage) indexPath(sessionID string) string {
	return filepath.Join(s.sessionDir(sessionID), "index.json")
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Save writes a snapshot file and updates the session's index.
func (s *Storage) Save(snap *models.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomic(s.snapshotPath(snap.SessionID, snap.ID), data); err != nil {
		return err
	}

	entries, err := s.Index(snap.SessionID)
	if err != nil {
		return err
	}
	entries = append(entries, models.SnapshotIndexEntry{
		ID:           snap.ID,
		Timestamp:    snap.Timestamp,
		TokenCount:   snap.TokenCount,
		MessageCount: len(snap.Messages),
		Reason:       snap.Reason,
	})
	return s.writeIndex(snap.SessionID, entries)
}

// Load reads one snapshot by id.
func (s *Storage) Load(sessionID, id string) (*models.Snapshot, error) {
	data, err := os.ReadFile(s.snapshotPath(sessionID, id))
	if err != nil {
		return nil, err
	}
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Index returns the listing index for a session, rebuilding it from disk
// if the index file is missing or unparsable.
func (s *Storage) Index(sessionID string) ([]models.SnapshotIndexEntry, error) {
	data, err := os.ReadFile(s.indexPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return s.rebuildIndex(sessionID)
		}
		return nil, err
	}
	var entries []models.SnapshotIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return s.rebuildIndex(sessionID)
	}
	return entries, nil
}

func (s *Storage) rebuildIndex(sessionID string) ([]models.SnapshotIndexEntry, error) {
	dirEntries, err := os.ReadDir(s.sessionDir(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []models.SnapshotIndexEntry
	for _, de := range dirEntries {
		if de.IsDir() || de.Name() == "index.json" || filepath.Ext(de.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.sessionDir(sessionID), de.Name()))
		if err != nil {
			continue // skip unreadable file
		}
		var snap models.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue // skip corrupt snapshot file
		}
		out = append(out, models.SnapshotIndexEntry{
			ID:           snap.ID,
			Timestamp:    snap.Timestamp,
			TokenCount:   snap.TokenCount,
			MessageCount: len(snap.Messages),
			Reason:       snap.Reason,
		})
	}

	_ = s.writeIndex(sessionID, out)
	return out, nil
}

func (s *Storage) writeIndex(sessionID string, entries []models.SnapshotIndexEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.indexPath(sessionID), data)
}

// Delete removes a snapshot file and its index entry.
func (s *Storage) Delete(sessionID, id string) error {
	if err := os.Remove(s.snapshotPath(sessionID, id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	entries, err := s.Index(sessionID)
	if err != nil {
		return err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return s.writeIndex(sessionID, out)
}

// sortByTimestamp returns entries ordered oldest-first.
func sortByTimestamp(entries []models.SnapshotIndexEntry) []models.SnapshotIndexEntry {
	out := append([]models.SnapshotIndexEntry{}, entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
