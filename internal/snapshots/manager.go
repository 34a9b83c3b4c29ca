package snapshots

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ollm-core/agentcore/pkg/models"
)

const (
	// autoThresholdRatio is the default fraction of the context limit at
	// which an automatic snapshot is captured.
	autoThresholdRatio = 0.80
	// preOverflowRatio is the fraction at which a pre-overflow event fires,
	// ahead of the memory guard's own emergency-clear crossing.
	preOverflowRatio = 0.95
	// defaultKeep is how many recent snapshots a session retains by default.
	defaultKeep = 10
)

// Event is emitted by the manager when usage crosses an auto-capture or
// pre-overflow threshold.
type Event struct {
	SessionID  string
	Reason     models.SnapshotReason
	TokenCount int
	Limit      int
}

// Manager creates, restores, and prunes snapshots for sessions. Auto
// capture and pre-overflow detection are edge-triggered per session so a
// usage ratio hovering around a threshold does not re-fire every check.
type Manager struct {
	storage *Storage
	keep    int

	mu        sync.Mutex
	autoFired map[string]bool // sessionID -> already captured at auto threshold this cycle
	preFired  map[string]bool // sessionID -> pre-overflow event already emitted this cycle

	onEvent func(Event)
}

// NewManager creates a snapshot manager backed by storage rooted at dir.
func NewManager(dir string, onEvent func(Event)) *Manager {
	return &Manager{
		storage:   NewStorage(dir),
		keep:      defaultKeep,
		autoFired: make(map[string]bool),
		preFired:  make(map[string]bool),
		onEvent:   onEvent,
	}
}

// SetKeep overrides how many recent snapshots are retained per session.
func (m *Manager) SetKeep(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keep = n
}

// Capture writes a snapshot of the given messages for reason and returns
// its id. Cleanup runs immediately after, keeping only the N most recent.
func (m *Manager) Capture(sessionID string, messages []*models.Message, tokenCount int, reason models.SnapshotReason) (string, error) {
	snap := &models.Snapshot{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Timestamp:  timeNow(),
		Messages:   cloneMessages(messages),
		TokenCount: tokenCount,
		Reason:     reason,
	}
	if err := m.storage.Save(snap); err != nil {
		return "", err
	}
	if err := m.cleanup(sessionID); err != nil {
		return snap.ID, err
	}
	return snap.ID, nil
}

// Restore loads a snapshot and returns the messages it captured, for the
// caller to install as the session's in-memory message list.
func (m *Manager) Restore(sessionID, snapshotID string) ([]*models.Message, error) {
	snap, err := m.storage.Load(sessionID, snapshotID)
	if err != nil {
		return nil, err
	}
	return cloneMessages(snap.Messages), nil
}

// cleanup keeps only the keep most recent snapshots, removing older ones
// last-in-first-out by timestamp (oldest goes first).
func (m *Manager) cleanup(sessionID string) error {
	entries, err := m.storage.Index(sessionID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	keep := m.keep
	m.mu.Unlock()

	if len(entries) <= keep {
		return nil
	}
	ordered := sortByTimestamp(entries)
	excess := len(ordered) - keep
	for i := 0; i < excess; i++ {
		if err := m.storage.Delete(sessionID, ordered[i].ID); err != nil {
			return err
		}
	}
	return nil
}

// CheckUsage evaluates current usage against limit for a session and fires
// auto-capture / pre-overflow events as thresholds are crossed. It does not
// itself capture the snapshot; callers invoke Capture from the event
// handler so the caller controls exactly which messages get persisted.
func (m *Manager) CheckUsage(sessionID string, tokenCount, limit int) {
	if limit <= 0 {
		return
	}
	ratio := float64(tokenCount) / float64(limit)

	m.mu.Lock()
	fireAuto := ratio >= autoThresholdRatio && !m.autoFired[sessionID]
	firePre := ratio >= preOverflowRatio && !m.preFired[sessionID]
	if fireAuto {
		m.autoFired[sessionID] = true
	}
	if firePre {
		m.preFired[sessionID] = true
	}
	if ratio < autoThresholdRatio {
		m.autoFired[sessionID] = false
	}
	if ratio < preOverflowRatio {
		m.preFired[sessionID] = false
	}
	cb := m.onEvent
	m.mu.Unlock()

	if cb == nil {
		return
	}
	// Pre-overflow fires ahead of (in the same cycle as) any memory-guard
	// emergency event the caller derives from the same usage sample.
	if firePre {
		cb(Event{SessionID: sessionID, Reason: models.SnapshotReasonPreOverflow, TokenCount: tokenCount, Limit: limit})
	}
	if fireAuto {
		cb(Event{SessionID: sessionID, Reason: models.SnapshotReasonAutoThresh, TokenCount: tokenCount, Limit: limit})
	}
}

func cloneMessages(in []*models.Message) []*models.Message {
	out := make([]*models.Message, len(in))
	for i, m := range in {
		cp := *m
		out[i] = &cp
	}
	return out
}

// timeNow is a var so tests can freeze it; production uses time.Now.
var timeNow = time.Now
