package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/ollm-core/agentcore/internal/tools/files"
	"github.com/ollm-core/agentcore/internal/toolsafety"
)

// grepTool implements grep: regex search over file contents within the
// workspace, respecting .gitignore/.ollmignore like glob does. It shares
// glob's single-walk traversal for the directory-skip and ignore logic.
type grepTool struct {
	root string
}

// NewGrepTool returns the grep built-in scoped to root.
func NewGrepTool(root string) Tool { return &grepTool{root: root} }

func (t *grepTool) Name() string { return "grep" }

func (t *grepTool) Description() string {
	return "Search file contents within the workspace for a regular expression, returning matching lines."
}

// grepArgs is both the decode target for Build and the source of the
// model-facing schema, generated by reflection so the two cannot drift.
type grepArgs struct {
	Pattern       string `json:"pattern" jsonschema:"required,description=Regular expression to search for."`
	Path          string `json:"path,omitempty" jsonschema:"description=Directory to search from (default: workspace root)."`
	Glob          string `json:"glob,omitempty" jsonschema:"description=Restrict search to files matching this glob (e.g. **/*.go)."`
	MaxMatches    int    `json:"max_matches,omitempty" jsonschema:"minimum=1,description=Maximum number of matches to return (default 200)."`
	CaseSensitive *bool  `json:"case_sensitive,omitempty" jsonschema:"description=Whether the match is case-sensitive (default true)."`
}

func (t *grepTool) Schema() json.RawMessage {
	return reflectSchema(&grepArgs{})
}

func (t *grepTool) Build(params json.RawMessage) (Invocation, error) {
	var input grepArgs
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("grep: invalid parameters: %w", err)
	}
	if input.Pattern == "" {
		return nil, fmt.Errorf("grep: pattern is required")
	}
	expr := input.Pattern
	if input.CaseSensitive != nil && !*input.CaseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("grep: invalid pattern: %w", err)
	}
	max := input.MaxMatches
	if max <= 0 {
		max = 200
	}
	return &grepInvocation{tool: t, pattern: re, display: input.Pattern, path: input.Path, glob: input.Glob, max: max}, nil
}

type grepInvocation struct {
	tool    *grepTool
	pattern *regexp.Regexp
	display string
	path    string
	glob    string
	max     int
}

func (i *grepInvocation) Describe() string { return "grep " + i.display }
func (i *grepInvocation) Locations() []string {
	if i.path != "" {
		return []string{i.path}
	}
	return nil
}
func (i *grepInvocation) Risk() RiskLevel { return RiskSafe }
func (i *grepInvocation) ShouldConfirm(ctx context.Context) (*toolsafety.ConfirmationDetails, bool) {
	return nil, false
}

type grepMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (i *grepInvocation) Execute(ctx context.Context, onUpdate func(string)) (*ToolResult, error) {
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

	var matches []grepMatch
	truncated := false
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
		if i.glob != "" {
			if ok, _ := doubleStarMatch(i.glob, rel); !ok {
				return nil
			}
		}
		if len(matches) >= i.max {
			truncated = true
			return nil
		}
		found, err := grepFile(path, rel, i.pattern, i.max-len(matches))
		if err != nil {
			return nil
		}
		matches = append(matches, found...)
		return nil
	})
	if walkErr != nil {
		return Err("walk_failed", walkErr.Error()), nil
	}
	if len(matches) > i.max {
		matches = matches[:i.max]
		truncated = true
	}
	sort.Slice(matches, func(a, b int) bool {
		if matches[a].Path != matches[b].Path {
			return matches[a].Path < matches[b].Path
		}
		return matches[a].Line < matches[b].Line
	})
	payload, _ := json.MarshalIndent(map[string]any{
		"matches":   matches,
		"count":     len(matches),
		"truncated": truncated,
	}, "", "  ")
	return Ok(string(payload), string(payload)), nil
}

func grepFile(path, rel string, re *regexp.Regexp, budget int) ([]grepMatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []grepMatch
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if re.MatchString(line) {
			out = append(out, grepMatch{Path: rel, Line: lineNo, Text: line})
			if len(out) >= budget {
				break
			}
		}
	}
	return out, nil
}
