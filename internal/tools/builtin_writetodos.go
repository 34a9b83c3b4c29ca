package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ollm-core/agentcore/internal/toolsafety"
)

// TodoItem is a single entry in a write_todos list.
type TodoItem struct {
	Content string `json:"content"`
	Status  string `json:"status"` // pending, in_progress, completed
}

// TodoStore holds the current todo list for one session. write_todos
// replaces the whole list on every call, matching the teacher's
// "latest write wins" plan-tracking idiom rather than incremental
// item-level mutation.
type TodoStore struct {
	mu    sync.Mutex
	items []TodoItem
}

// NewTodoStore returns an empty todo store.
func NewTodoStore() *TodoStore { return &TodoStore{} }

// Set replaces the stored list.
func (s *TodoStore) Set(items []TodoItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
}

// Get returns a copy of the stored list.
func (s *TodoStore) Get() []TodoItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TodoItem, len(s.items))
	copy(out, s.items)
	return out
}

var validTodoStatuses = map[string]bool{"pending": true, "in_progress": true, "completed": true}

// writeTodosTool lets a model record and update its own task list for a
// session, surfaced back to it (and to a UI) on the next call.
type writeTodosTool struct {
	store *TodoStore
}

// NewWriteTodosTool returns the write_todos built-in backed by store.
func NewWriteTodosTool(store *TodoStore) Tool {
	if store == nil {
		store = NewTodoStore()
	}
	return &writeTodosTool{store: store}
}

func (t *writeTodosTool) Name() string { return "write_todos" }

func (t *writeTodosTool) Description() string {
	return "Record the current task list for this session, replacing any previous list."
}

func (t *writeTodosTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"todos": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"content": map[string]any{"type": "string"},
						"status":  map[string]any{"type": "string", "enum": []string{"pending", "in_progress", "completed"}},
					},
					"required": []string{"content", "status"},
				},
			},
		},
		"required": []string{"todos"},
	})
}

func (t *writeTodosTool) Build(params json.RawMessage) (Invocation, error) {
	var input struct {
		Todos []TodoItem `json:"todos"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("write_todos: invalid parameters: %w", err)
	}
	for idx, item := range input.Todos {
		if item.Content == "" {
			return nil, fmt.Errorf("write_todos: item %d missing content", idx)
		}
		if !validTodoStatuses[item.Status] {
			return nil, fmt.Errorf("write_todos: item %d has invalid status %q", idx, item.Status)
		}
	}
	return &writeTodosInvocation{tool: t, todos: input.Todos}, nil
}

type writeTodosInvocation struct {
	tool  *writeTodosTool
	todos []TodoItem
}

func (i *writeTodosInvocation) Describe() string {
	return fmt.Sprintf("write_todos (%d items)", len(i.todos))
}
func (i *writeTodosInvocation) Locations() []string { return nil }
func (i *writeTodosInvocation) Risk() RiskLevel     { return RiskSafe }
func (i *writeTodosInvocation) ShouldConfirm(ctx context.Context) (*toolsafety.ConfirmationDetails, bool) {
	return nil, false
}

func (i *writeTodosInvocation) Execute(ctx context.Context, onUpdate func(string)) (*ToolResult, error) {
	i.tool.store.Set(i.todos)
	payload, _ := json.MarshalIndent(map[string]any{"todos": i.todos}, "", "  ")
	return Ok(string(payload), string(payload)), nil
}
