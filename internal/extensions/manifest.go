package extensions

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/ollm-core/agentcore/pkg/models"
)

var semverShape = regexp.MustCompile(`^\d+\.\d+\.\d+`)

// ManifestError locates a validation failure to a specific top-level field.
type ManifestError struct {
	Field string
	Msg   string
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("manifest: field %q: %s", e.Field, e.Msg)
}

// ParseManifest validates manifest.json contents against the schema:
// required name/version(semver-shaped)/description, optional hooks/
// mcp_servers/settings/skills. Unknown top-level keys are returned as
// warnings, never as errors.
func ParseManifest(data []byte) (*models.ExtensionManifest, []string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("manifest: invalid JSON: %w", err)
	}

	var m models.ExtensionManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, fmt.Errorf("manifest: invalid JSON: %w", err)
	}

	if m.Name == "" {
		return nil, nil, &ManifestError{Field: "name", Msg: "is required"}
	}
	if m.Version == "" {
		return nil, nil, &ManifestError{Field: "version", Msg: "is required"}
	}
	if !semverShape.MatchString(m.Version) {
		return nil, nil, &ManifestError{Field: "version", Msg: fmt.Sprintf("must be semver-shaped (MAJOR.MINOR.PATCH), got %q", m.Version)}
	}
	if m.Description == "" {
		return nil, nil, &ManifestError{Field: "description", Msg: "is required"}
	}

	for i, h := range m.Hooks {
		if h.ID == "" {
			return nil, nil, &ManifestError{Field: fmt.Sprintf("hooks[%d].id", i), Msg: "is required"}
		}
		if h.Event == "" {
			return nil, nil, &ManifestError{Field: fmt.Sprintf("hooks[%d].event", i), Msg: "is required"}
		}
		if h.Command == "" {
			return nil, nil, &ManifestError{Field: fmt.Sprintf("hooks[%d].command", i), Msg: "is required"}
		}
	}
	for i, s := range m.MCPServers {
		if s.Name == "" {
			return nil, nil, &ManifestError{Field: fmt.Sprintf("mcp_servers[%d].name", i), Msg: "is required"}
		}
		if s.Command == "" && s.URL == "" {
			return nil, nil, &ManifestError{Field: fmt.Sprintf("mcp_servers[%d]", i), Msg: "exactly one of command or url is required"}
		}
	}
	for i, sk := range m.Skills {
		if sk.Name == "" {
			return nil, nil, &ManifestError{Field: fmt.Sprintf("skills[%d].name", i), Msg: "is required"}
		}
		if sk.Prompt == "" {
			return nil, nil, &ManifestError{Field: fmt.Sprintf("skills[%d].prompt", i), Msg: "is required"}
		}
	}

	var warnings []string
	for key := range raw {
		if !knownManifestKeys[key] {
			warnings = append(warnings, fmt.Sprintf("unknown top-level key %q", key))
		}
	}

	return &m, warnings, nil
}

var knownManifestKeys = map[string]bool{
	"name": true, "version": true, "description": true,
	"hooks": true, "mcp_servers": true, "settings": true, "skills": true,
}
