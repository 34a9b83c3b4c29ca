// Package observability carries the runtime's ambient instrumentation:
// correlation IDs threaded through context, structured logging with
// secret redaction, prometheus metrics for the tool/compression/MCP
// paths, and otel span helpers around each turn. Everything here is
// optional for correctness — a component handed no logger, metrics, or
// tracer behaves identically, just silently.
package observability

import "context"

type contextKey string

const (
	runIDKey      contextKey = "run_id"
	sessionIDKey  contextKey = "session_id"
	messageIDKey  contextKey = "message_id"
	agentIDKey    contextKey = "agent_id"
	toolCallIDKey contextKey = "tool_call_id"
)

// AddRunID stores the agent-run identifier for downstream log/span
// correlation.
func AddRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// GetRunID returns the run identifier stored by AddRunID, or "".
func GetRunID(ctx context.Context) string { return fromContext(ctx, runIDKey) }

// AddSessionID stores the session identifier.
func AddSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// GetSessionID returns the session identifier, or "".
func GetSessionID(ctx context.Context) string { return fromContext(ctx, sessionIDKey) }

// AddMessageID stores the triggering message's identifier.
func AddMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, messageIDKey, messageID)
}

// GetMessageID returns the message identifier, or "".
func GetMessageID(ctx context.Context) string { return fromContext(ctx, messageIDKey) }

// AddAgentID stores the agent identifier.
func AddAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

// GetAgentID returns the agent identifier, or "".
func GetAgentID(ctx context.Context) string { return fromContext(ctx, agentIDKey) }

// AddToolCallID stores the identifier of the tool call being executed.
func AddToolCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, toolCallIDKey, callID)
}

// GetToolCallID returns the tool-call identifier, or "".
func GetToolCallID(ctx context.Context) string { return fromContext(ctx, toolCallIDKey) }

func fromContext(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
