package models

import "time"

// HookEvent is one of the fixed named points in the chat lifecycle at which
// hooks may observe or influence execution.
type HookEvent string

const (
	HookEventSessionStart     HookEvent = "session_start"
	HookEventSessionEnd       HookEvent = "session_end"
	HookEventBeforeAgent      HookEvent = "before_agent"
	HookEventAfterAgent       HookEvent = "after_agent"
	HookEventBeforeModel      HookEvent = "before_model"
	HookEventAfterModel       HookEvent = "after_model"
	HookEventBeforeToolSelect HookEvent = "before_tool_selection"
	HookEventBeforeTool       HookEvent = "before_tool"
	HookEventAfterTool        HookEvent = "after_tool"
)

// AllHookEvents enumerates the fixed hook event set in registry-iteration
// order. Any event string outside this set is rejected at registration.
var AllHookEvents = []HookEvent{
	HookEventSessionStart,
	HookEventSessionEnd,
	HookEventBeforeAgent,
	HookEventAfterAgent,
	HookEventBeforeModel,
	HookEventAfterModel,
	HookEventBeforeToolSelect,
	HookEventBeforeTool,
	HookEventAfterTool,
}

// HookSource identifies where a hook definition came from; it governs both
// trust defaults and planner execution order.
type HookSource string

const (
	HookSourceBuiltin    HookSource = "builtin"
	HookSourceUser       HookSource = "user"
	HookSourceWorkspace  HookSource = "workspace"
	HookSourceDownloaded HookSource = "downloaded"
)

// SourcePriority returns the planner ordering rank for a hook source; lower
// values run first. Builtin and user sources are trusted by default;
// workspace and downloaded sources require a persisted trust approval.
func (s HookSource) SourcePriority() int {
	switch s {
	case HookSourceBuiltin:
		return 0
	case HookSourceUser:
		return 1
	case HookSourceWorkspace:
		return 2
	case HookSourceDownloaded:
		return 3
	default:
		return 99
	}
}

// TrustedByDefault reports whether a hook from this source may execute
// without a persisted trust approval.
func (s HookSource) TrustedByDefault() bool {
	return s == HookSourceBuiltin || s == HookSourceUser
}

// Hook is a declarative, process-backed extension point bound to one
// HookEvent. Its trust hash is SHA-256 of Command plus Args, joined; trust
// approvals are persisted keyed by (ID, hash), and are invalidated the
// moment the hash changes.
type Hook struct {
	ID      string     `json:"id"`
	Event   HookEvent  `json:"event"`
	Source  HookSource `json:"source"`
	Command string     `json:"command"`
	Args    []string   `json:"args,omitempty"`

	// Timeout is the maximum duration the hook process may run before being
	// killed. Zero means the runner's default (30s) applies.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// TrustApproval is a persisted record that a hook's current content hash has
// been approved for execution.
type TrustApproval struct {
	ID         string     `json:"id"`
	Hash       string     `json:"hash"`
	ApprovedAt time.Time  `json:"approved_at"`
	Source     HookSource `json:"source"`
}
