// Package tools implements the built-in tool registry: the ordered set of
// declarative tools the chat runtime can offer a model, their risk
// classification, and the confirm-before-execute lifecycle that lets a
// caller approve or reject a dangerous invocation before it runs.
//
// Unlike internal/agent.Tool (a flat name/schema/execute surface used by
// the older provider-facing tool-call loop), a Tool here is built twice:
// once to validate arguments and describe the call (Build), and again to
// actually run it (Invocation.Execute). Splitting the two lets a caller
// inspect Describe/Locations/Risk and ask for confirmation before any
// side effect happens.
package tools

import (
	"context"
	"encoding/json"

	"github.com/ollm-core/agentcore/internal/toolsafety"
)

// RiskLevel classifies the blast radius of an invocation, independent of
// the policy engine's allow/deny/ask decision: a tool's RiskLevel informs
// which rules apply to it, not the other way around.
type RiskLevel string

const (
	// RiskSafe invocations are read-only and reversible (read_file, ls).
	RiskSafe RiskLevel = "safe"
	// RiskModerate invocations write within the workspace (write_file,
	// edit_file) but touch nothing outside it.
	RiskModerate RiskLevel = "moderate"
	// RiskDestructive invocations can lose data or reach outside the
	// workspace filesystem (shell, write_todos persisting state).
	RiskDestructive RiskLevel = "destructive"
	// RiskDangerous invocations run arbitrary code or leave the
	// workspace entirely (shell with network access, web_fetch).
	RiskDangerous RiskLevel = "dangerous"
)

// ToolResult is the tagged-union outcome of Execute: either Ok is
// populated (LLMContent for the model, ReturnDisplay for a human-facing
// transcript) or Error is populated with a message and a classification
// the caller can use to decide whether to retry.
type ToolResult struct {
	LLMContent    string
	ReturnDisplay string
	IsError       bool
	ErrorKind     string
}

// Ok builds a successful result. ReturnDisplay defaults to llmContent
// when empty, since most built-ins render the same text to both model
// and human.
func Ok(llmContent string, returnDisplay string) *ToolResult {
	if returnDisplay == "" {
		returnDisplay = llmContent
	}
	return &ToolResult{LLMContent: llmContent, ReturnDisplay: returnDisplay}
}

// Err builds an error result.
func Err(kind string, message string) *ToolResult {
	return &ToolResult{LLMContent: message, ReturnDisplay: message, IsError: true, ErrorKind: kind}
}

// Invocation is a single, already-validated tool call, ready to describe
// to a user, check for required confirmation, and finally execute.
type Invocation interface {
	// Describe renders a one-line, human-readable summary of what
	// Execute will do ("read internal/tools/tool.go", "rm -rf /tmp/x").
	Describe() string

	// Locations lists the filesystem paths (or other addressable
	// resources) this invocation touches, for a UI that wants to
	// highlight affected files before confirming.
	Locations() []string

	// Risk classifies the invocation for policy and display purposes.
	Risk() RiskLevel

	// ShouldConfirm reports whether this invocation requires human
	// confirmation before Execute runs, and if so, the details to
	// surface to whatever is subscribed to the confirmation bus.
	ShouldConfirm(ctx context.Context) (*toolsafety.ConfirmationDetails, bool)

	// Execute runs the invocation. onUpdate, if non-nil, is called with
	// incremental output chunks as they become available (used by
	// streaming tools like shell); tools that produce output only at
	// the end may ignore it.
	Execute(ctx context.Context, onUpdate func(chunk string)) (*ToolResult, error)
}

// Tool is a named, schema-described tool factory. Build validates params
// against the tool's own rules (Schema is advisory for the model; Build
// is where invalid input is actually rejected) and returns an Invocation
// ready to run.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Build(params json.RawMessage) (Invocation, error)
}
