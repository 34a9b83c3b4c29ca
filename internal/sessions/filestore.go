package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ollm-core/agentcore/pkg/models"
)

// sessionFilePerm and indexFilePerm match the permissions used by the
// rest of the codebase's flat-file stores (see internal/pairing/store.go).
const (
	sessionFilePerm = 0o600
	sessionDirPerm  = 0o700
)

// sessionFile is the on-disk document for one session: its metadata plus
// its full message history.
type sessionFile struct {
	Session  *models.Session   `json:"session"`
	Messages []*models.Message `json:"messages"`
}

// FileStore is a Store implementation backed by one JSON file per session
// plus a shared index.json for O(1) listing. Writes go through a
// temp-file-then-rename so a reader never observes a partial write. At
// most MaxSessions are retained; the oldest (by LastActivity) are evicted
// first.
type FileStore struct {
	mu          sync.Mutex
	dir         string
	MaxSessions int
}

// NewFileStore creates a flat-file session store rooted at dir. The
// directory (and an empty index.json) is created lazily on first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir, MaxSessions: 500}
}

func (s *FileStore) sessionPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) indexPath() string {
	return filepath.Join(s.dir, "index.json")
}

// writeAtomic writes data to path via a temp file then rename.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), sessionDirPerm); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// readIndex loads index.json, rebuilding it from directory contents if the
// file is missing or fails to parse.
func (s *FileStore) readIndex() ([]models.SessionIndexEntry, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return s.rebuildIndex()
		}
		return nil, err
	}
	var entries []models.SessionIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return s.rebuildIndex()
	}
	return entries, nil
}

// rebuildIndex reconstructs index.json by scanning the session directory.
// This is the recovery path for a corrupt or missing index file.
func (s *FileStore) rebuildIndex() ([]models.SessionIndexEntry, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []models.SessionIndexEntry
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == "index.json" || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue // skip unreadable file, log elsewhere
		}
		var doc sessionFile
		if err := json.Unmarshal(data, &doc); err != nil || doc.Session == nil {
			continue // skip corrupt snapshot file
		}
		out = append(out, models.SessionIndexEntry{
			ID:           doc.Session.ID,
			CreatedAt:    doc.Session.CreatedAt,
			LastActivity: doc.Session.LastActivity,
		})
	}

	_ = s.writeIndex(out)
	return out, nil
}

func (s *FileStore) writeIndex(entries []models.SessionIndexEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.indexPath(), data, sessionFilePerm)
}

func (s *FileStore) upsertIndexEntry(session *models.Session) error {
	entries, err := s.readIndex()
	if err != nil {
		return err
	}
	found := false
	for i := range entries {
		if entries[i].ID == session.ID {
			entries[i].LastActivity = session.LastActivity
			entries[i].CreatedAt = session.CreatedAt
			found = true
			break
		}
	}
	if !found {
		entries = append(entries, models.SessionIndexEntry{
			ID:           session.ID,
			CreatedAt:    session.CreatedAt,
			LastActivity: session.LastActivity,
		})
	}

	entries, evicted := evictOldest(entries, s.maxSessions())
	for _, id := range evicted {
		_ = os.Remove(s.sessionPath(id))
	}
	return s.writeIndex(entries)
}

func (s *FileStore) maxSessions() int {
	if s.MaxSessions <= 0 {
		return 500
	}
	return s.MaxSessions
}

// evictOldest trims entries down to max, removing the oldest-by-LastActivity
// first, and returns the ids that were evicted.
func evictOldest(entries []models.SessionIndexEntry, max int) ([]models.SessionIndexEntry, []string) {
	if max <= 0 || len(entries) <= max {
		return entries, nil
	}
	sorted := append([]models.SessionIndexEntry{}, entries...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LastActivity.Before(sorted[j].LastActivity)
	})
	excess := len(sorted) - max
	evicted := make([]string, 0, excess)
	evictedIDs := map[string]bool{}
	for i := 0; i < excess; i++ {
		evicted = append(evicted, sorted[i].ID)
		evictedIDs[sorted[i].ID] = true
	}
	kept := make([]models.SessionIndexEntry, 0, max)
	for _, e := range entries {
		if !evictedIDs[e.ID] {
			kept = append(kept, e)
		}
	}
	return kept, evicted
}

func (s *FileStore) readSessionFile(id string) (*sessionFile, error) {
	data, err := os.ReadFile(s.sessionPath(id))
	if err != nil {
		return nil, err
	}
	var doc sessionFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *FileStore) writeSessionFile(doc *sessionFile) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.sessionPath(doc.Session.ID), data, sessionFilePerm)
}

func (s *FileStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := cloneSession(session)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	now := time.Now()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = clone.CreatedAt
	if clone.LastActivity.IsZero() {
		clone.LastActivity = clone.CreatedAt
	}

	if err := s.writeSessionFile(&sessionFile{Session: clone}); err != nil {
		return err
	}
	if err := s.upsertIndexEntry(clone); err != nil {
		return err
	}

	session.ID = clone.ID
	session.CreatedAt = clone.CreatedAt
	session.UpdatedAt = clone.UpdatedAt
	session.LastActivity = clone.LastActivity
	return nil
}

func (s *FileStore) Get(ctx context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readSessionFile(id)
	if err != nil {
		return nil, err
	}
	return cloneSession(doc.Session), nil
}

func (s *FileStore) Update(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readSessionFile(session.ID)
	if err != nil {
		return err
	}

	clone := cloneSession(session)
	clone.CreatedAt = doc.Session.CreatedAt
	clone.UpdatedAt = time.Now()
	doc.Session = clone

	if err := s.writeSessionFile(doc); err != nil {
		return err
	}
	return s.upsertIndexEntry(clone)
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.sessionPath(id)); err != nil {
		return errors.New("session not found")
	}
	if err := os.Remove(s.sessionPath(id)); err != nil {
		return err
	}

	entries, err := s.readIndex()
	if err != nil {
		return err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return s.writeIndex(out)
}

func (s *FileStore) GetByKey(ctx context.Context, key string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		doc, err := s.readSessionFile(e.ID)
		if err != nil {
			continue
		}
		if doc.Session.Key == key {
			return cloneSession(doc.Session), nil
		}
	}
	return nil, errors.New("session not found")
}

func (s *FileStore) GetOrCreate(ctx context.Context, key string, agentID string, channel models.ChannelType, channelID string) (*models.Session, error) {
	if existing, err := s.GetByKey(ctx, key); err == nil {
		return existing, nil
	}

	session := &models.Session{
		AgentID:   agentID,
		Channel:   channel,
		ChannelID: channelID,
		Key:       key,
	}
	if err := s.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *FileStore) List(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastActivity.After(entries[j].LastActivity)
	})

	var out []*models.Session
	for _, e := range entries {
		doc, err := s.readSessionFile(e.ID)
		if err != nil {
			continue
		}
		if agentID != "" && doc.Session.AgentID != agentID {
			continue
		}
		if opts.Channel != "" && doc.Session.Channel != opts.Channel {
			continue
		}
		out = append(out, cloneSession(doc.Session))
	}

	start := opts.Offset
	if start < 0 {
		start = 0
	}
	end := len(out)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	if start > len(out) {
		return []*models.Session{}, nil
	}
	return out[start:end], nil
}

func (s *FileStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readSessionFile(sessionID)
	if err != nil {
		return err
	}

	clone := cloneMessage(msg)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.SequenceNum = len(doc.Messages)
	doc.Messages = append(doc.Messages, clone)
	doc.Session.LastActivity = clone.CreatedAt
	doc.Session.UpdatedAt = clone.CreatedAt

	if err := s.writeSessionFile(doc); err != nil {
		return err
	}
	return s.upsertIndexEntry(doc.Session)
}

func (s *FileStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readSessionFile(sessionID)
	if err != nil {
		return nil, err
	}
	messages := doc.Messages
	start := 0
	if limit > 0 && len(messages) > limit {
		start = len(messages) - limit
	}
	out := make([]*models.Message, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

// ReplaceMessages overwrites a session's full message history, used by the
// context engine after compression or snapshot restore. The system prompt
// and tail-window invariants are the caller's responsibility to uphold.
func (s *FileStore) ReplaceMessages(ctx context.Context, sessionID string, messages []*models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readSessionFile(sessionID)
	if err != nil {
		return err
	}
	cloned := make([]*models.Message, len(messages))
	for i, m := range messages {
		cloned[i] = cloneMessage(m)
	}
	doc.Messages = cloned
	doc.Session.UpdatedAt = time.Now()
	if err := s.writeSessionFile(doc); err != nil {
		return err
	}
	return s.upsertIndexEntry(doc.Session)
}

var _ Store = (*FileStore)(nil)
