package agenthooks

// BeforeToolPayload is written to stdin for a before_tool hook.
type BeforeToolPayload struct {
	Event     string         `json:"event"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	SessionID string         `json:"session_id"`
}

// AfterToolPayload is written to stdin for an after_tool hook.
type AfterToolPayload struct {
	Event     string `json:"event"`
	ToolName  string `json:"tool_name"`
	Result    any    `json:"result"`
	Err       string `json:"error,omitempty"`
	SessionID string `json:"session_id"`
}

// BeforeAgentPayload is written to stdin for a before_agent hook.
type BeforeAgentPayload struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
	Goal      string `json:"goal,omitempty"`
}

// AfterAgentPayload is written to stdin for an after_agent hook.
type AfterAgentPayload struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
	Messages  []any  `json:"messages"`
	Model     string `json:"model"`
}

// BeforeModelPayload is written to stdin for a before_model hook.
type BeforeModelPayload struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
	Messages  []any  `json:"messages"`
}

// AfterModelPayload is written to stdin for an after_model hook.
type AfterModelPayload struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
	Response  string `json:"response"`
}

// SessionLifecyclePayload is written to stdin for session_start/session_end.
type SessionLifecyclePayload struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
}

// BeforeToolSelectionPayload is written to stdin for before_tool_selection.
type BeforeToolSelectionPayload struct {
	Event         string   `json:"event"`
	SessionID     string   `json:"session_id"`
	AvailableTool []string `json:"available_tools"`
}
