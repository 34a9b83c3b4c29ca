package extensions

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ollm-core/agentcore/internal/agenthooks"
	"github.com/ollm-core/agentcore/internal/mcp"
	"github.com/ollm-core/agentcore/pkg/models"
)

func writeManifest(t *testing.T, dir, name string, manifest map[string]any) {
	t.Helper()
	extDir := filepath.Join(dir, name)
	if err := os.MkdirAll(extDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(extDir, "manifest.json"), data, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func newTestManager(t *testing.T, userDir, workspaceDir string) (*Manager, *agenthooks.Registry, *mcp.Manager) {
	t.Helper()
	hooks := agenthooks.NewRegistry()
	mcpMgr := mcp.NewManager(&mcp.Config{Enabled: true}, nil)
	statePath := filepath.Join(t.TempDir(), "state.json")
	m := NewManager(userDir, workspaceDir, statePath, hooks, mcpMgr, func() map[string]string {
		return map[string]string{"GREETING": "hello"}
	}, nil)
	return m, hooks, mcpMgr
}

func TestManager_DiscoverSkipsInvalidManifest(t *testing.T) {
	userDir := t.TempDir()
	writeManifest(t, userDir, "good", map[string]any{
		"name": "good", "version": "1.0.0", "description": "a good extension",
	})
	writeManifest(t, userDir, "bad", map[string]any{
		"name": "bad", "description": "missing version",
	})

	m, _, _ := newTestManager(t, userDir, "")
	if err := m.Discover(); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	list := m.List()
	if len(list) != 1 {
		t.Fatalf("expected 1 valid extension, got %d: %+v", len(list), list)
	}
	if list[0].Name != "good" {
		t.Fatalf("expected 'good', got %q", list[0].Name)
	}
	if list[0].State != models.ExtensionLoaded {
		t.Fatalf("expected loaded state, got %q", list[0].State)
	}
}

func TestManager_EnableRegistersHooksWithUserSource(t *testing.T) {
	userDir := t.TempDir()
	writeManifest(t, userDir, "myext", map[string]any{
		"name": "myext", "version": "1.0.0", "description": "d",
		"hooks": []map[string]any{
			{"id": "on-tool", "event": "before_tool", "command": "/bin/true"},
		},
	})

	m, hooks, _ := newTestManager(t, userDir, "")
	if err := m.Discover(); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if err := m.Enable(context.Background(), "myext"); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	registered := hooks.Hooks(models.HookEventBeforeTool)
	if len(registered) != 1 {
		t.Fatalf("expected 1 registered hook, got %d", len(registered))
	}
	if registered[0].Source != models.HookSourceUser {
		t.Fatalf("expected user source for user-dir extension, got %q", registered[0].Source)
	}

	ext, ok := m.Get("myext")
	if !ok {
		t.Fatal("expected extension to be found")
	}
	if ext.State != models.ExtensionEnabled {
		t.Fatalf("expected enabled state, got %q", ext.State)
	}
	if len(ext.HookIDs) != 1 {
		t.Fatalf("expected 1 tracked hook id, got %d", len(ext.HookIDs))
	}
}

func TestManager_EnableWorkspaceSourceRequiresApproval(t *testing.T) {
	workspaceDir := t.TempDir()
	writeManifest(t, workspaceDir, "wsext", map[string]any{
		"name": "wsext", "version": "1.0.0", "description": "d",
		"hooks": []map[string]any{
			{"id": "on-tool", "event": "before_tool", "command": "/bin/true"},
		},
	})

	m, hooks, _ := newTestManager(t, "", workspaceDir)
	if err := m.Discover(); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if err := m.Enable(context.Background(), "wsext"); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	registered := hooks.Hooks(models.HookEventBeforeTool)
	if len(registered) != 1 {
		t.Fatalf("expected 1 registered hook, got %d", len(registered))
	}
	if registered[0].Source != models.HookSourceWorkspace {
		t.Fatalf("expected workspace source, got %q", registered[0].Source)
	}
}

func TestManager_DisableUnregistersHooksAndServers(t *testing.T) {
	userDir := t.TempDir()
	writeManifest(t, userDir, "myext", map[string]any{
		"name": "myext", "version": "1.0.0", "description": "d",
		"hooks": []map[string]any{
			{"id": "on-tool", "event": "before_tool", "command": "/bin/true"},
		},
		"mcp_servers": []map[string]any{
			{"name": "srv", "command": "/bin/true", "env": map[string]string{"G": "${GREETING}"}},
		},
	})

	m, hooks, mcpMgr := newTestManager(t, userDir, "")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := m.Discover(); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if err := m.Enable(ctx, "myext"); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	if len(hooks.Hooks(models.HookEventBeforeTool)) != 1 {
		t.Fatal("expected hook registered before disable")
	}
	if len(mcpMgr.Status()) != 1 {
		t.Fatal("expected mcp server config added before disable")
	}

	if err := m.Disable("myext"); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	if len(hooks.Hooks(models.HookEventBeforeTool)) != 0 {
		t.Fatal("expected hook unregistered after disable")
	}
	if len(mcpMgr.Status()) != 0 {
		t.Fatal("expected mcp server config removed after disable")
	}

	ext, _ := m.Get("myext")
	if ext.State != models.ExtensionDisabled {
		t.Fatalf("expected disabled state, got %q", ext.State)
	}
}

func TestManager_EnableSubstitutesEnvAndInjectsSettings(t *testing.T) {
	userDir := t.TempDir()
	writeManifest(t, userDir, "myext", map[string]any{
		"name": "myext", "version": "1.0.0", "description": "d",
		"settings": map[string]string{"api_key": "abc123"},
		"mcp_servers": []map[string]any{
			{"name": "srv", "command": "/bin/true", "env": map[string]string{
				"GREETING": "${GREETING}",
				"MISSING":  "${NOPE}",
			}},
		},
	})

	m, _, mcpMgr := newTestManager(t, userDir, "")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := m.Discover(); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if err := m.Enable(ctx, "myext"); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	// /bin/true exits immediately and never speaks MCP, so the server never
	// actually connects; what matters here is that its config (with env
	// substitution applied) was added regardless of connect outcome.
	statuses := mcpMgr.Status()
	if len(statuses) != 1 || statuses[0].ID != "myext:srv" {
		t.Fatalf("expected server config myext:srv, got %+v", statuses)
	}
}

func TestManager_DiscoverSkipsMCPServerMissingCommandAndURL(t *testing.T) {
	userDir := t.TempDir()
	writeManifest(t, userDir, "bad", map[string]any{
		"name": "bad", "version": "1.0.0", "description": "d",
		"mcp_servers": []map[string]any{
			{"name": "srv"},
		},
	})

	m, _, _ := newTestManager(t, userDir, "")
	if err := m.Discover(); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	// ParseManifest itself rejects an mcp_servers entry with neither
	// command nor url, so the extension never makes it into the manager.
	if _, ok := m.Get("bad"); ok {
		t.Fatal("expected extension with invalid mcp_servers entry to be skipped at discovery")
	}
}

func TestManager_EnableIsIdempotent(t *testing.T) {
	userDir := t.TempDir()
	writeManifest(t, userDir, "myext", map[string]any{
		"name": "myext", "version": "1.0.0", "description": "d",
		"hooks": []map[string]any{
			{"id": "on-tool", "event": "before_tool", "command": "/bin/true"},
		},
	})

	m, hooks, _ := newTestManager(t, userDir, "")
	if err := m.Discover(); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if err := m.Enable(context.Background(), "myext"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := m.Enable(context.Background(), "myext"); err != nil {
		t.Fatalf("second Enable should be a no-op, got: %v", err)
	}
	if len(hooks.Hooks(models.HookEventBeforeTool)) != 1 {
		t.Fatal("expected exactly 1 hook registered, not duplicated by second Enable")
	}
}

func TestManager_StatePersistsAcrossDiscover(t *testing.T) {
	userDir := t.TempDir()
	writeManifest(t, userDir, "myext", map[string]any{
		"name": "myext", "version": "1.0.0", "description": "d",
		"hooks": []map[string]any{
			{"id": "on-tool", "event": "before_tool", "command": "/bin/true"},
		},
	})
	statePath := filepath.Join(t.TempDir(), "state.json")

	hooks1 := agenthooks.NewRegistry()
	mcpMgr1 := mcp.NewManager(&mcp.Config{Enabled: true}, nil)
	m1 := NewManager(userDir, "", statePath, hooks1, mcpMgr1, nil, nil)
	if err := m1.Discover(); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if err := m1.Enable(context.Background(), "myext"); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	// Simulate a restart: fresh registries, same state file.
	hooks2 := agenthooks.NewRegistry()
	mcpMgr2 := mcp.NewManager(&mcp.Config{Enabled: true}, nil)
	m2 := NewManager(userDir, "", statePath, hooks2, mcpMgr2, nil, nil)
	if err := m2.Discover(); err != nil {
		t.Fatalf("Discover (restart): %v", err)
	}

	registered := hooks2.Hooks(models.HookEventBeforeTool)
	if len(registered) != 1 {
		t.Fatalf("expected hook to be re-registered after restart, got %d", len(registered))
	}
	ext, _ := m2.Get("myext")
	if ext.State != models.ExtensionEnabled {
		t.Fatalf("expected re-enabled state after restart, got %q", ext.State)
	}
}

func TestManager_LoadedSkillsTracksEnableDisable(t *testing.T) {
	userDir := t.TempDir()
	writeManifest(t, userDir, "myext", map[string]any{
		"name": "myext", "version": "1.0.0", "description": "d",
		"skills": []map[string]any{
			{"name": "greet", "prompt": "Say {{thing}}", "placeholders": []string{"thing"}, "required": []string{"thing"}},
		},
	})

	m, _, _ := newTestManager(t, userDir, "")
	if err := m.Discover(); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if err := m.Enable(context.Background(), "myext"); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	skills := m.LoadedSkills()
	sk, ok := skills[SkillKey("myext", "greet")]
	if !ok {
		t.Fatal("expected loaded skill myext/greet")
	}
	rendered, err := RenderSkill(sk, map[string]string{"thing": "hi"})
	if err != nil {
		t.Fatalf("RenderSkill: %v", err)
	}
	if rendered != "Say hi" {
		t.Fatalf("expected rendered prompt 'Say hi', got %q", rendered)
	}

	if err := m.Disable("myext"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if _, ok := m.LoadedSkills()[SkillKey("myext", "greet")]; ok {
		t.Fatal("expected skill to be unloaded after disable")
	}
}

func TestManager_DuplicateExtensionNameKeepsFirst(t *testing.T) {
	userDir := t.TempDir()
	workspaceDir := t.TempDir()
	writeManifest(t, userDir, "dup", map[string]any{
		"name": "dup", "version": "1.0.0", "description": "from user",
	})
	writeManifest(t, workspaceDir, "dup", map[string]any{
		"name": "dup", "version": "2.0.0", "description": "from workspace",
	})

	m, _, _ := newTestManager(t, userDir, workspaceDir)
	if err := m.Discover(); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	ext, ok := m.Get("dup")
	if !ok {
		t.Fatal("expected dup extension to be discovered")
	}
	if ext.Manifest.Version != "1.0.0" {
		t.Fatalf("expected first-discovered (user) manifest to win, got version %q", ext.Manifest.Version)
	}
}

func TestManager_DangerousSettingsKeyNeverInjected(t *testing.T) {
	userDir := t.TempDir()
	writeManifest(t, userDir, "myext", map[string]any{
		"name": "myext", "version": "1.0.0", "description": "d",
		"mcp_servers": []map[string]any{
			{"name": "srv", "command": "/bin/true", "env": map[string]string{
				"V": "${__proto__}",
			}},
		},
	})

	m, _, _ := newTestManager(t, userDir, "")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := m.Discover(); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	// Enable must not panic or inject anything from the dangerous key;
	// SubstituteEnv's own unit tests cover the exact substitution result.
	if err := m.Enable(ctx, "myext"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
}

func TestManager_StartWatchingPicksUpNewExtension(t *testing.T) {
	userDir := t.TempDir()
	m, _, _ := newTestManager(t, userDir, "")
	if err := m.Discover(); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(m.List()) != 0 {
		t.Fatalf("expected no extensions initially, got %d", len(m.List()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.StartWatching(ctx); err != nil {
		t.Fatalf("StartWatching: %v", err)
	}
	defer m.Close()

	writeManifest(t, userDir, "late", map[string]any{
		"name": "late", "version": "1.0.0", "description": "discovered via watch",
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := m.Get("late"); ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected watcher to discover the newly created extension directory within the deadline")
}
