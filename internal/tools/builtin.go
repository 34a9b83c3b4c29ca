package tools

import (
	"path/filepath"

	"github.com/ollm-core/agentcore/internal/tools/exec"
	"github.com/ollm-core/agentcore/internal/tools/files"
	"github.com/ollm-core/agentcore/internal/tools/websearch"
)

// BuiltinConfig parameterises the built-in tool surface: every
// tool that touches the filesystem or spawns a process is scoped to
// Workspace, and the memory tool persists to MemoryPath (default
// "~/.ollm/memory.json", resolved by the caller).
type BuiltinConfig struct {
	Workspace    string
	MemoryPath   string
	MaxReadBytes int
	TodoStore    *TodoStore
	ExecManager  *exec.Manager
	FetchConfig  *websearch.FetchConfig
	SearchConfig *websearch.Config
}

// Builtins constructs the full built-in tool set: read_file,
// read_many_files, write_file, edit_file, glob, grep, ls, shell,
// web_fetch, web_search, memory, and write_todos. Each
// filesystem/process tool shares cfg.Workspace; callers wanting
// independent registries per session should construct BuiltinConfig
// per session and call Builtins once each.
func Builtins(cfg BuiltinConfig) []Tool {
	fileCfg := files.Config{Workspace: cfg.Workspace, MaxReadBytes: cfg.MaxReadBytes}

	execManager := cfg.ExecManager
	if execManager == nil {
		execManager = exec.NewManager(cfg.Workspace)
	}

	memoryPath := cfg.MemoryPath
	if memoryPath == "" {
		memoryPath = filepath.Join(cfg.Workspace, ".ollm", "memory.json")
	}

	fetchCfg := cfg.FetchConfig
	if fetchCfg == nil {
		fetchCfg = &websearch.FetchConfig{}
	}
	searchCfg := cfg.SearchConfig
	if searchCfg == nil {
		searchCfg = &websearch.Config{}
	}

	return []Tool{
		wrapAgentTool(files.NewReadTool(fileCfg), "read_file", RiskSafe, false, nil, func(p map[string]any) []string {
			return []string{stringField(p, "path")}
		}),
		NewReadManyFilesTool(cfg.Workspace, 0),
		wrapAgentTool(files.NewWriteTool(fileCfg), "write_file", RiskModerate, true, nil, func(p map[string]any) []string {
			return []string{stringField(p, "path")}
		}),
		wrapAgentTool(files.NewEditTool(fileCfg), "edit_file", RiskModerate, true, nil, func(p map[string]any) []string {
			return []string{stringField(p, "path")}
		}),
		NewGlobTool(cfg.Workspace),
		NewGrepTool(cfg.Workspace),
		NewLsTool(cfg.Workspace),
		wrapShellTool(exec.NewExecTool("shell", execManager)),
		wrapAgentTool(websearch.NewWebFetchTool(fetchCfg), "web_fetch", RiskModerate, false, nil, func(p map[string]any) []string {
			return []string{stringField(p, "url")}
		}),
		wrapAgentTool(websearch.NewWebSearchTool(searchCfg), "web_search", RiskSafe, false, nil, nil),
		NewMemoryTool(memoryPath),
		NewWriteTodosTool(cfg.TodoStore),
	}
}

// RegisterBuiltins builds the built-in tool set and registers each into reg.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) {
	for _, t := range Builtins(cfg) {
		reg.Register(t)
	}
}
