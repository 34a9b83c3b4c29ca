package agenthooks

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ollm-core/agentcore/pkg/models"
)

// ContentHash returns the sha256 hex digest of a hook's command and args,
// joined, forming the (id, sha256(command+args)) approval key.
func ContentHash(h models.Hook) string {
	sum := sha256.Sum256([]byte(h.Command + strings.Join(h.Args, "\x00")))
	return hex.EncodeToString(sum[:])
}

// RequestApproval is an opaque callback delegated to the UI layer to
// obtain a human decision for a hook whose source is not trusted by
// default.
type RequestApproval func(h models.Hook, hash string) bool

// TrustStore persists approvals for workspace/downloaded hooks, keyed by
// (id, content hash), atomically to a flat JSON file.
type TrustStore struct {
	mu       sync.Mutex
	path     string
	approved map[string]models.TrustApproval // key: id+"/"+hash
	onAsk    RequestApproval
}

// NewTrustStore loads (or initializes) persisted approvals from path.
func NewTrustStore(path string, onAsk RequestApproval) (*TrustStore, error) {
	t := &TrustStore{
		path:     path,
		approved: make(map[string]models.TrustApproval),
		onAsk:    onAsk,
	}
	if err := t.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return t, nil
}

func approvalKey(id, hash string) string { return id + "/" + hash }

func (t *TrustStore) load() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return err
	}
	var list []models.TrustApproval
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	for _, a := range list {
		t.approved[approvalKey(a.ID, a.Hash)] = a
	}
	return nil
}

func (t *TrustStore) save() error {
	list := make([]models.TrustApproval, 0, len(t.approved))
	for _, a := range t.approved {
		list = append(list, a)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o700); err != nil {
		return err
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, t.path)
}

// IsTrusted reports whether a hook may run right now: builtin/user
// sources are trusted unconditionally, workspace/downloaded sources need
// a stored approval matching the hook's current content hash. When no
// matching approval exists and onAsk is set, it is consulted; an approval
// is persisted, a refusal is not.
func (t *TrustStore) IsTrusted(h models.Hook) bool {
	if h.Source.TrustedByDefault() {
		return true
	}

	hash := ContentHash(h)
	t.mu.Lock()
	_, ok := t.approved[approvalKey(h.ID, hash)]
	ask := t.onAsk
	t.mu.Unlock()
	if ok {
		return true
	}
	if ask == nil {
		return false
	}

	if !ask(h, hash) {
		return false
	}
	t.mu.Lock()
	t.approved[approvalKey(h.ID, hash)] = models.TrustApproval{
		ID: h.ID, Hash: hash, ApprovedAt: time.Now(), Source: h.Source,
	}
	err := t.save()
	t.mu.Unlock()
	return err == nil
}

// Approve records an approval directly, bypassing onAsk (used when the UI
// layer has already obtained consent out of band).
func (t *TrustStore) Approve(h models.Hook) error {
	hash := ContentHash(h)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.approved[approvalKey(h.ID, hash)] = models.TrustApproval{
		ID: h.ID, Hash: hash, ApprovedAt: time.Now(), Source: h.Source,
	}
	return t.save()
}

// Revoke removes any stored approval for a hook id, regardless of hash.
func (t *TrustStore) Revoke(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, a := range t.approved {
		if a.ID == id {
			delete(t.approved, k)
		}
	}
	return t.save()
}
