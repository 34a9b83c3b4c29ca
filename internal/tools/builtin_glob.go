package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ollm-core/agentcore/internal/tools/files"
	"github.com/ollm-core/agentcore/internal/toolsafety"
)

// globTool implements glob: recursive filename-pattern search within the
// workspace, respecting .gitignore/.ollmignore. Grounded on
// internal/tools/files.Resolver for path-escape safety (every built-in
// that touches the filesystem goes through the same resolver).
type globTool struct {
	root string
}

// NewGlobTool returns the glob built-in scoped to root.
func NewGlobTool(root string) Tool { return &globTool{root: root} }

func (t *globTool) Name() string { return "glob" }

func (t *globTool) Description() string {
	return "Find files within the workspace matching a glob pattern (supports ** for recursive matching)."
}

func (t *globTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{"type": "string", "description": "Glob pattern, e.g. \"**/*.go\"."},
			"path":    map[string]any{"type": "string", "description": "Directory to search from (default: workspace root)."},
		},
		"required": []string{"pattern"},
	})
}

func (t *globTool) Build(params json.RawMessage) (Invocation, error) {
	var input struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("glob: invalid parameters: %w", err)
	}
	if strings.TrimSpace(input.Pattern) == "" {
		return nil, fmt.Errorf("glob: pattern is required")
	}
	return &globInvocation{tool: t, pattern: input.Pattern, path: input.Path}, nil
}

type globInvocation struct {
	tool    *globTool
	pattern string
	path    string
}

func (i *globInvocation) Describe() string { return "glob " + i.pattern }
func (i *globInvocation) Locations() []string {
	if i.path != "" {
		return []string{i.path}
	}
	return nil
}
func (i *globInvocation) Risk() RiskLevel { return RiskSafe }
func (i *globInvocation) ShouldConfirm(ctx context.Context) (*toolsafety.ConfirmationDetails, bool) {
	return nil, false
}

func (i *globInvocation) Execute(ctx context.Context, onUpdate func(string)) (*ToolResult, error) {
	resolver := files.Resolver{Root: i.tool.root}
	startRel := i.path
	if startRel == "" {
		startRel = "."
	}
	start, err := resolver.Resolve(startRel)
	if err != nil {
		return Err("invalid_path", err.Error()), nil
	}
	ignore := loadIgnoreRules(i.tool.root)

	var matches []string
	err = filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(i.tool.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if alwaysSkipDirs[d.Name()] || ignore.Matches(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if ignore.Matches(rel) {
			return nil
		}
		if ok, _ := doubleStarMatch(i.pattern, rel); ok {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return Err("walk_failed", err.Error()), nil
	}
	sort.Strings(matches)
	payload, _ := json.MarshalIndent(map[string]any{"matches": matches, "count": len(matches)}, "", "  ")
	return Ok(string(payload), string(payload)), nil
}

// doubleStarMatch matches a gitignore/glob-style pattern that may contain
// "**" segments (meaning "zero or more path segments") against a
// forward-slash relative path, since filepath.Match has no "**" support.
func doubleStarMatch(pattern, name string) (bool, error) {
	patParts := strings.Split(pattern, "/")
	nameParts := strings.Split(name, "/")
	return matchParts(patParts, nameParts)
}

func matchParts(pat, name []string) (bool, error) {
	if len(pat) == 0 {
		return len(name) == 0, nil
	}
	if pat[0] == "**" {
		if len(pat) == 1 {
			return true, nil
		}
		for i := 0; i <= len(name); i++ {
			if ok, err := matchParts(pat[1:], name[i:]); err != nil {
				return false, err
			} else if ok {
				return true, nil
			}
		}
		return false, nil
	}
	if len(name) == 0 {
		return false, nil
	}
	ok, err := filepath.Match(pat[0], name[0])
	if err != nil || !ok {
		return false, err
	}
	return matchParts(pat[1:], name[1:])
}

func mustSchema(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return b
}
