package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ollm-core/agentcore/internal/tools/files"
	"github.com/ollm-core/agentcore/internal/toolsafety"
)

// lsTool lists a directory's immediate entries, respecting ignore files.
type lsTool struct {
	root string
}

// NewLsTool returns the ls built-in scoped to root.
func NewLsTool(root string) Tool { return &lsTool{root: root} }

func (t *lsTool) Name() string        { return "ls" }
func (t *lsTool) Description() string { return "List a directory's entries within the workspace." }

func (t *lsTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Directory to list (default: workspace root)."},
		},
	})
}

func (t *lsTool) Build(params json.RawMessage) (Invocation, error) {
	var input struct {
		Path string `json:"path"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return nil, fmt.Errorf("ls: invalid parameters: %w", err)
		}
	}
	return &lsInvocation{tool: t, path: input.Path}, nil
}

type lsInvocation struct {
	tool *lsTool
	path string
}

func (i *lsInvocation) Describe() string {
	if i.path == "" {
		return "ls ."
	}
	return "ls " + i.path
}
func (i *lsInvocation) Locations() []string { return []string{i.path} }
func (i *lsInvocation) Risk() RiskLevel     { return RiskSafe }
func (i *lsInvocation) ShouldConfirm(ctx context.Context) (*toolsafety.ConfirmationDetails, bool) {
	return nil, false
}

type lsEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

func (i *lsInvocation) Execute(ctx context.Context, onUpdate func(string)) (*ToolResult, error) {
	resolver := files.Resolver{Root: i.tool.root}
	target := i.path
	if target == "" {
		target = "."
	}
	resolved, err := resolver.Resolve(target)
	if err != nil {
		return Err("invalid_path", err.Error()), nil
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return Err("read_dir_failed", err.Error()), nil
	}
	ignore := loadIgnoreRules(i.tool.root)
	out := make([]lsEntry, 0, len(entries))
	for _, e := range entries {
		rel := filepath.ToSlash(filepath.Join(target, e.Name()))
		rel = strings.TrimPrefix(rel, "./")
		if ignore.Matches(rel) || alwaysSkipDirs[e.Name()] {
			continue
		}
		info, err := e.Info()
		size := int64(0)
		if err == nil {
			size = info.Size()
		}
		out = append(out, lsEntry{Name: e.Name(), IsDir: e.IsDir(), Size: size})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	payload, _ := json.MarshalIndent(map[string]any{"path": target, "entries": out}, "", "  ")
	return Ok(string(payload), string(payload)), nil
}
