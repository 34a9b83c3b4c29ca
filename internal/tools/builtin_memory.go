package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ollm-core/agentcore/internal/toolsafety"
)

// memoryTool is a flat JSON key-value store ("Memory
// store. JSON key-value at ~/.ollm/memory.json, atomic writes."),
// distinct from the vector-search memory subsystem: a simple durable
// scratchpad a model can set/get/delete/list across sessions.
type memoryTool struct {
	path string
	mu   sync.Mutex
}

// NewMemoryTool returns the memory built-in backed by the JSON file at
// path (typically ~/.ollm/memory.json).
func NewMemoryTool(path string) Tool { return &memoryTool{path: path} }

func (t *memoryTool) Name() string { return "memory" }

func (t *memoryTool) Description() string {
	return "Get, set, delete, or list entries in a persistent key-value memory store."
}

func (t *memoryTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{"type": "string", "enum": []string{"get", "set", "delete", "list"}},
			"key":    map[string]any{"type": "string", "description": "Key (required for get/set/delete)."},
			"value":  map[string]any{"type": "string", "description": "Value (required for set)."},
		},
		"required": []string{"action"},
	})
}

func (t *memoryTool) Build(params json.RawMessage) (Invocation, error) {
	var input struct {
		Action string `json:"action"`
		Key    string `json:"key"`
		Value  string `json:"value"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("memory: invalid parameters: %w", err)
	}
	switch input.Action {
	case "get", "set", "delete", "list":
	default:
		return nil, fmt.Errorf("memory: unsupported action %q", input.Action)
	}
	if (input.Action == "get" || input.Action == "set" || input.Action == "delete") && input.Key == "" {
		return nil, fmt.Errorf("memory: key is required for action %q", input.Action)
	}
	if input.Action == "set" && input.Value == "" {
		return nil, fmt.Errorf("memory: value is required for action \"set\"")
	}
	return &memoryInvocation{tool: t, action: input.Action, key: input.Key, value: input.Value}, nil
}

type memoryInvocation struct {
	tool   *memoryTool
	action string
	key    string
	value  string
}

func (i *memoryInvocation) Describe() string {
	if i.key == "" {
		return "memory " + i.action
	}
	return fmt.Sprintf("memory %s %q", i.action, i.key)
}
func (i *memoryInvocation) Locations() []string { return []string{i.tool.path} }
func (i *memoryInvocation) Risk() RiskLevel {
	if i.action == "set" || i.action == "delete" {
		return RiskModerate
	}
	return RiskSafe
}
func (i *memoryInvocation) ShouldConfirm(ctx context.Context) (*toolsafety.ConfirmationDetails, bool) {
	return nil, false
}

func (i *memoryInvocation) Execute(ctx context.Context, onUpdate func(string)) (*ToolResult, error) {
	i.tool.mu.Lock()
	defer i.tool.mu.Unlock()

	store, err := loadMemoryStore(i.tool.path)
	if err != nil {
		return Err("memory_read_failed", err.Error()), nil
	}

	switch i.action {
	case "get":
		value, ok := store[i.key]
		if !ok {
			return Err("not_found", fmt.Sprintf("no memory entry for key %q", i.key)), nil
		}
		payload, _ := json.MarshalIndent(map[string]any{"key": i.key, "value": value}, "", "  ")
		return Ok(string(payload), string(payload)), nil
	case "list":
		keys := make([]string, 0, len(store))
		for k := range store {
			keys = append(keys, k)
		}
		payload, _ := json.MarshalIndent(map[string]any{"keys": keys}, "", "  ")
		return Ok(string(payload), string(payload)), nil
	case "set":
		store[i.key] = i.value
		if err := saveMemoryStore(i.tool.path, store); err != nil {
			return Err("memory_write_failed", err.Error()), nil
		}
		payload, _ := json.MarshalIndent(map[string]any{"status": "ok", "key": i.key}, "", "  ")
		return Ok(string(payload), string(payload)), nil
	case "delete":
		if _, ok := store[i.key]; !ok {
			return Err("not_found", fmt.Sprintf("no memory entry for key %q", i.key)), nil
		}
		delete(store, i.key)
		if err := saveMemoryStore(i.tool.path, store); err != nil {
			return Err("memory_write_failed", err.Error()), nil
		}
		payload, _ := json.MarshalIndent(map[string]any{"status": "ok", "key": i.key}, "", "  ")
		return Ok(string(payload), string(payload)), nil
	}
	return Err("unsupported_action", i.action), nil
}

func loadMemoryStore(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	store := map[string]string{}
	if len(data) == 0 {
		return store, nil
	}
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, fmt.Errorf("parse memory store: %w", err)
	}
	return store, nil
}

// saveMemoryStore writes store to path via a temp-file-then-rename, the
// same atomic-write idiom used by session and snapshot persistence.
func saveMemoryStore(path string, store map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
