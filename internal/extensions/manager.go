package extensions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ollm-core/agentcore/internal/agenthooks"
	"github.com/ollm-core/agentcore/internal/mcp"
	"github.com/ollm-core/agentcore/pkg/models"
)

// Manager discovers manifest-driven extensions in the user and workspace
// extension directories and owns their enable/disable lifecycle: an
// enabled extension's hooks are registered into a shared agenthooks
// registry and its MCP servers added to a shared mcp.Manager, both by
// stable handle, so Disable can unregister exactly what Enable registered
// without either registry knowing extensions exist.
//
// Extensions discovered under the user directory are sourced as
// agenthooks.HookSourceUser (trusted by default); extensions discovered
// under the workspace directory are sourced as HookSourceWorkspace
// (require a persisted trust approval before their hooks may run), since a
// checked-out workspace is less trusted than the operator's own machine.
type Manager struct {
	mu sync.RWMutex

	userDir      string
	workspaceDir string
	statePath    string

	hooks *agenthooks.Registry
	mcp   *mcp.Manager
	env   func() map[string]string
	log   *slog.Logger

	extensions map[string]*models.Extension
	skills     map[string]models.ManifestSkill

	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// NewManager creates an extension manager rooted at userDir and
// workspaceDir (either may be empty to disable that root). statePath is
// where enabled/disabled state is persisted across restarts. env supplies
// the source environment for ${VAR} substitution in MCP server configs;
// if nil, os.Environ() is used.
func NewManager(userDir, workspaceDir, statePath string, hooks *agenthooks.Registry, mcpMgr *mcp.Manager, env func() map[string]string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if env == nil {
		env = parentEnviron
	}
	return &Manager{
		userDir:      userDir,
		workspaceDir: workspaceDir,
		statePath:    statePath,
		hooks:        hooks,
		mcp:          mcpMgr,
		env:          env,
		log:          log.With("component", "extensions"),
		extensions:   make(map[string]*models.Extension),
		skills:       make(map[string]models.ManifestSkill),
	}
}

func parentEnviron() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			out[kv[:i]] = kv[i+1:]
		}
	}
	return out
}

func (m *Manager) roots() []string {
	var roots []string
	if strings.TrimSpace(m.userDir) != "" {
		roots = append(roots, m.userDir)
	}
	if strings.TrimSpace(m.workspaceDir) != "" {
		roots = append(roots, m.workspaceDir)
	}
	return roots
}

// Discover scans the user and workspace extension directories for
// subdirectories containing a manifest.json, parsing and registering each
// as models.ExtensionDiscovered. Invalid extensions (unreadable directory,
// malformed manifest) are skipped and logged, never fatal to discovery as
// a whole. Previously enabled extensions (per the persisted state file)
// are re-enabled.
func (m *Manager) Discover() error {
	prevEnabled, err := m.loadState()
	if err != nil {
		m.log.Warn("failed to load extension state, starting fresh", "error", err)
		prevEnabled = map[string]bool{}
	}

	m.mu.Lock()
	for _, dir := range m.roots() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				m.log.Warn("failed to read extension directory", "dir", dir, "error", err)
			}
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			extDir := filepath.Join(dir, entry.Name())
			manifestPath := filepath.Join(extDir, "manifest.json")
			data, err := os.ReadFile(manifestPath)
			if err != nil {
				if !os.IsNotExist(err) {
					m.log.Warn("failed to read manifest", "path", manifestPath, "error", err)
				}
				continue
			}
			manifest, warnings, err := ParseManifest(data)
			if err != nil {
				m.log.Warn("invalid extension manifest, skipping", "path", manifestPath, "error", err)
				continue
			}
			for _, w := range warnings {
				m.log.Warn("extension manifest warning", "extension", manifest.Name, "warning", w)
			}
			if existing, ok := m.extensions[manifest.Name]; ok {
				m.log.Warn("duplicate extension name, keeping first discovered", "name", manifest.Name, "kept_dir", existing.Dir, "skipped_dir", extDir)
				continue
			}
			m.extensions[manifest.Name] = &models.Extension{
				Name:     manifest.Name,
				Dir:      extDir,
				Manifest: manifest,
				State:    models.ExtensionLoaded,
			}
		}
	}
	names := make([]string, 0, len(m.extensions))
	for name := range m.extensions {
		names = append(names, name)
	}
	sort.Strings(names)
	m.mu.Unlock()

	for _, name := range names {
		if prevEnabled[name] {
			if err := m.Enable(context.Background(), name); err != nil {
				m.log.Error("failed to re-enable extension from persisted state", "name", name, "error", err)
			}
		}
	}
	return nil
}

// List returns discovered extensions sorted by name.
func (m *Manager) List() []*models.Extension {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Extension, 0, len(m.extensions))
	for _, e := range m.extensions {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a single discovered extension by name.
func (m *Manager) Get(name string) (*models.Extension, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.extensions[name]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// Enable registers all of an extension's hooks and starts all of its MCP
// servers, injecting its settings into both under the
// EXTENSION_<NAME>_<SETTING> prefix, and loads all of its skills. Enabling
// an already-enabled extension is a no-op. Source priority (and therefore
// default trust) is derived from which root the extension was discovered
// under.
func (m *Manager) Enable(ctx context.Context, name string) error {
	m.mu.Lock()
	ext, ok := m.extensions[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("extensions: unknown extension %q", name)
	}
	if ext.State == models.ExtensionEnabled {
		m.mu.Unlock()
		return nil
	}
	source := m.sourceFor(ext.Dir)
	settingsEnv := SettingsEnv(ext.Name, ext.Manifest.Settings)
	m.mu.Unlock()

	var hookIDs []string
	for _, h := range ext.Manifest.Hooks {
		hookID := SkillKey(ext.Name, h.ID)
		hook := models.Hook{
			ID:      hookID,
			Event:   models.HookEvent(h.Event),
			Source:  source,
			Command: h.Command,
			Args:    h.Args,
		}
		if h.Timeout > 0 {
			hook.Timeout = time.Duration(h.Timeout) * time.Second
		}
		if err := m.hooks.Register(hook); err != nil {
			m.rollbackHooks(hookIDs)
			return fmt.Errorf("extensions: enabling %q: %w", name, err)
		}
		hookIDs = append(hookIDs, hookID)
	}

	var serverNames []string
	for _, s := range ext.Manifest.MCPServers {
		cfg, err := m.buildServerConfig(ext.Name, s, settingsEnv)
		if err != nil {
			m.rollbackHooks(hookIDs)
			m.rollbackServers(serverNames)
			return fmt.Errorf("extensions: enabling %q: %w", name, err)
		}
		m.mcp.AddServerConfig(cfg)
		serverNames = append(serverNames, cfg.ID)
		if cfg.AutoStart {
			if err := m.mcp.Connect(ctx, cfg.ID); err != nil {
				m.log.Error("failed to start extension mcp server", "extension", name, "server", cfg.ID, "error", err)
			}
		}
	}

	m.mu.Lock()
	for _, sk := range ext.Manifest.Skills {
		m.skills[SkillKey(ext.Name, sk.Name)] = sk
	}
	ext.State = models.ExtensionEnabled
	ext.HookIDs = hookIDs
	ext.MCPServerNames = serverNames
	m.mu.Unlock()

	return m.saveState()
}

func (m *Manager) rollbackHooks(ids []string) {
	for _, id := range ids {
		m.hooks.Unregister(id)
	}
}

func (m *Manager) rollbackServers(ids []string) {
	for _, id := range ids {
		_ = m.mcp.RemoveServerConfig(id)
	}
}

func (m *Manager) sourceFor(extDir string) models.HookSource {
	if strings.TrimSpace(m.userDir) != "" && strings.HasPrefix(extDir, m.userDir) {
		return models.HookSourceUser
	}
	return models.HookSourceWorkspace
}

func (m *Manager) buildServerConfig(extName string, s models.ManifestMCPServer, settingsEnv map[string]string) (*mcp.ServerConfig, error) {
	base := m.env()
	source := make(map[string]string, len(base)+len(settingsEnv))
	for k, v := range base {
		source[k] = v
	}
	for k, v := range settingsEnv {
		source[k] = v
	}

	env, warnings := SubstituteEnvMap(s.Env, source)
	for _, w := range warnings {
		m.log.Warn("mcp server env substitution warning", "extension", extName, "server", s.Name, "warning", w)
	}
	for k, v := range settingsEnv {
		if _, exists := env[k]; !exists {
			env[k] = v
		}
	}

	cfg := &mcp.ServerConfig{
		ID:        extName + ":" + s.Name,
		Name:      s.Name,
		Env:       env,
		AutoStart: true,
	}
	switch {
	case s.Command != "":
		cfg.Transport = mcp.TransportStdio
		cfg.Command = s.Command
		cfg.Args = s.Args
	case s.URL != "":
		cfg.Transport = mcp.TransportHTTP
		substitutedURL, warnings := SubstituteEnv(s.URL, source)
		for _, w := range warnings {
			m.log.Warn("mcp server url substitution warning", "extension", extName, "server", s.Name, "warning", w)
		}
		cfg.URL = substitutedURL
	default:
		return nil, fmt.Errorf("mcp server %q: exactly one of command or url is required", s.Name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Disable unregisters all of an extension's hooks, stops and forgets all
// of its MCP servers, and unloads all of its skills. Disabling an
// already-disabled (or never-enabled) extension is a no-op.
func (m *Manager) Disable(name string) error {
	m.mu.Lock()
	ext, ok := m.extensions[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("extensions: unknown extension %q", name)
	}
	if ext.State != models.ExtensionEnabled {
		m.mu.Unlock()
		return nil
	}
	hookIDs := ext.HookIDs
	serverNames := ext.MCPServerNames
	skillNames := ext.Manifest.Skills
	m.mu.Unlock()

	for _, id := range hookIDs {
		m.hooks.Unregister(id)
	}
	for _, id := range serverNames {
		if err := m.mcp.RemoveServerConfig(id); err != nil {
			m.log.Warn("failed to remove mcp server while disabling extension", "extension", name, "server", id, "error", err)
		}
	}

	m.mu.Lock()
	for _, sk := range skillNames {
		delete(m.skills, SkillKey(name, sk.Name))
	}
	ext.State = models.ExtensionDisabled
	ext.HookIDs = nil
	ext.MCPServerNames = nil
	m.mu.Unlock()

	return m.saveState()
}

// LoadedSkills returns the manifest skills currently loaded by enabled
// extensions, keyed by "extension/skill-name".
func (m *Manager) LoadedSkills() map[string]models.ManifestSkill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]models.ManifestSkill, len(m.skills))
	for k, v := range m.skills {
		out[k] = v
	}
	return out
}

// StartWatching watches the user and workspace extension roots for newly
// created extension directories and re-runs Discover, debounced, when one
// appears. It does not detect in-place edits to an already-discovered
// extension's manifest.json; picking those up requires a restart, matching
// the "first discovered wins" semantics Discover already applies to
// same-named extensions across roots.
func (m *Manager) StartWatching(ctx context.Context) error {
	m.mu.Lock()
	if m.watcher != nil {
		m.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	for _, dir := range m.roots() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			m.log.Warn("failed to watch extension directory", "dir", dir, "error", err)
		}
	}
	m.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	m.watchCancel = cancel
	m.mu.Unlock()

	m.watchWg.Add(1)
	go m.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops the extension directory watcher, if running.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.watchCancel != nil {
		m.watchCancel()
		m.watchCancel = nil
	}
	watcher := m.watcher
	m.watcher = nil
	m.mu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	m.watchWg.Wait()
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer m.watchWg.Done()

	var timer *time.Timer
	scheduleRediscover := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			if err := m.Discover(); err != nil {
				m.log.Warn("extension discovery failed during watch refresh", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleRediscover()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.log.Warn("extension watch error", "error", err)
		}
	}
}

// extensionState is the small persisted state file format: just which
// extensions were enabled, so Discover can restore them after restart.
type extensionState struct {
	Enabled []string `json:"enabled"`
}

func (m *Manager) loadState() (map[string]bool, error) {
	if strings.TrimSpace(m.statePath) == "" {
		return map[string]bool{}, nil
	}
	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, err
	}
	var s extensionState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(s.Enabled))
	for _, name := range s.Enabled {
		out[name] = true
	}
	return out, nil
}

func (m *Manager) saveState() error {
	if strings.TrimSpace(m.statePath) == "" {
		return nil
	}
	m.mu.RLock()
	var s extensionState
	for name, ext := range m.extensions {
		if ext.State == models.ExtensionEnabled {
			s.Enabled = append(s.Enabled, name)
		}
	}
	m.mu.RUnlock()
	sort.Strings(s.Enabled)

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.statePath), 0o700); err != nil {
		return err
	}
	tmp := m.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, m.statePath)
}
