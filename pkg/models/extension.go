package models

// ExtensionManifest is the parsed, validated contents of an extension's
// manifest.json. Name, Version (semver-shaped), and Description are
// required; the rest are optional. Unknown top-level keys encountered
// while parsing are surfaced as warnings by the manifest parser, never as
// errors.
type ExtensionManifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`

	Hooks      []ManifestHook      `json:"hooks,omitempty"`
	MCPServers []ManifestMCPServer `json:"mcp_servers,omitempty"`
	Settings   map[string]string   `json:"settings,omitempty"`
	Skills     []ManifestSkill     `json:"skills,omitempty"`
}

// ManifestHook declares a hook owned by an extension.
type ManifestHook struct {
	ID      string   `json:"id"`
	Event   string   `json:"event"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Timeout int      `json:"timeout_seconds,omitempty"`
}

// ManifestMCPServer declares an MCP server owned by an extension. Exactly
// one of (Command, URL) should be set; the transport type is inferred from
// which field is populated.
type ManifestMCPServer struct {
	Name    string            `json:"name"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	URL     string            `json:"url,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// ManifestSkill declares a skill owned by an extension, keyed at load time
// as "extension/skill-name".
type ManifestSkill struct {
	Name         string   `json:"name"`
	Prompt       string   `json:"prompt"`
	Placeholders []string `json:"placeholders,omitempty"`
	Required     []string `json:"required,omitempty"`
}

// ExtensionState is the lifecycle state of a discovered extension.
type ExtensionState string

const (
	ExtensionDiscovered ExtensionState = "discovered"
	ExtensionLoaded     ExtensionState = "loaded"
	ExtensionEnabled    ExtensionState = "enabled"
	ExtensionDisabled   ExtensionState = "disabled"
)

// Extension is a runtime handle over a discovered extension directory.
type Extension struct {
	Name     string             `json:"name"`
	Dir      string             `json:"dir"`
	Manifest *ExtensionManifest `json:"manifest"`
	State    ExtensionState     `json:"state"`

	// HookIDs and MCPServerNames record which registry/manager entries this
	// extension owns, so Disable can unregister exactly what Enable
	// registered without the two sides knowing about each other directly.
	HookIDs        []string `json:"hook_ids,omitempty"`
	MCPServerNames []string `json:"mcp_server_names,omitempty"`
}
