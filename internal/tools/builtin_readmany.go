package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ollm-core/agentcore/internal/tools/files"
	"github.com/ollm-core/agentcore/internal/toolsafety"
)

// readManyFilesTool reads the contents of every workspace file matching
// one or more glob patterns, bounded by a total byte budget so a broad
// pattern can't exhaust the model's context window in one call.
// Grounded on builtin_glob.go's traversal/ignore logic for pattern
// matching and internal/tools/files.ReadTool's per-file read-with-limit
// behaviour, combined rather than duplicated.
type readManyFilesTool struct {
	root         string
	maxTotalSize int
}

// NewReadManyFilesTool returns the read_many_files built-in scoped to
// root. maxTotalSize bounds the sum of bytes returned across all
// matched files; zero uses a 1MB default.
func NewReadManyFilesTool(root string, maxTotalSize int) Tool {
	if maxTotalSize <= 0 {
		maxTotalSize = 1 << 20
	}
	return &readManyFilesTool{root: root, maxTotalSize: maxTotalSize}
}

func (t *readManyFilesTool) Name() string { return "read_many_files" }

func (t *readManyFilesTool) Description() string {
	return "Read the contents of every workspace file matching one or more glob patterns, up to a total size budget."
}

func (t *readManyFilesTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"patterns": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Glob patterns, e.g. [\"**/*.go\", \"README.md\"].",
			},
			"path": map[string]any{"type": "string", "description": "Directory to search from (default: workspace root)."},
		},
		"required": []string{"patterns"},
	})
}

func (t *readManyFilesTool) Build(params json.RawMessage) (Invocation, error) {
	var input struct {
		Patterns []string `json:"patterns"`
		Path     string   `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("read_many_files: invalid parameters: %w", err)
	}
	if len(input.Patterns) == 0 {
		return nil, fmt.Errorf("read_many_files: at least one pattern is required")
	}
	return &readManyFilesInvocation{tool: t, patterns: input.Patterns, path: input.Path}, nil
}

type readManyFilesInvocation struct {
	tool     *readManyFilesTool
	patterns []string
	path     string
}

func (i *readManyFilesInvocation) Describe() string {
	return "read_many_files " + strings.Join(i.patterns, ", ")
}
func (i *readManyFilesInvocation) Locations() []string {
	if i.path != "" {
		return []string{i.path}
	}
	return nil
}
func (i *readManyFilesInvocation) Risk() RiskLevel { return RiskSafe }
func (i *readManyFilesInvocation) ShouldConfirm(ctx context.Context) (*toolsafety.ConfirmationDetails, bool) {
	return nil, false
}

type readFileEntry struct {
	Path      string `json:"path"`
	Content   string `json:"content,omitempty"`
	Bytes     int    `json:"bytes"`
	Truncated bool   `json:"truncated,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (i *readManyFilesInvocation) Execute(ctx context.Context, onUpdate func(string)) (*ToolResult, error) {
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

	var matched []string
	walkErr := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
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
		for _, pattern := range i.patterns {
			if ok, _ := doubleStarMatch(pattern, rel); ok {
				matched = append(matched, rel)
				return nil
			}
		}
		return nil
	})
	if walkErr != nil {
		return Err("walk_failed", walkErr.Error()), nil
	}
	sort.Strings(matched)

	budget := i.tool.maxTotalSize
	entries := make([]readFileEntry, 0, len(matched))
	for _, rel := range matched {
		if budget <= 0 {
			entries = append(entries, readFileEntry{Path: rel, Truncated: true, Error: "size budget exhausted"})
			continue
		}
		full := filepath.Join(i.tool.root, rel)
		data, readErr := os.ReadFile(full)
		if readErr != nil {
			entries = append(entries, readFileEntry{Path: rel, Error: readErr.Error()})
			continue
		}
		truncated := false
		if len(data) > budget {
			data = data[:budget]
			truncated = true
		}
		budget -= len(data)
		entries = append(entries, readFileEntry{Path: rel, Content: string(data), Bytes: len(data), Truncated: truncated})
	}

	payload, _ := json.MarshalIndent(map[string]any{"files": entries, "count": len(entries)}, "", "  ")
	return Ok(string(payload), string(payload)), nil
}
