package tools

import (
	"context"
	"encoding/json"

	"github.com/ollm-core/agentcore/internal/agent"
	"github.com/ollm-core/agentcore/internal/toolsafety"
)

// agentToolAdapter wraps an internal/agent.Tool (a flat name/schema/
// execute surface used by the provider-facing tool-call loop) so it can
// also be registered in this package's confirmation-aware registry,
// without rewriting the underlying implementation.
type agentToolAdapter struct {
	inner    agent.Tool
	name     string
	risk     RiskLevel
	describe func(params map[string]any) string
	locate   func(params map[string]any) []string
	confirm  bool

	// confirmCheck, when set, decides per-invocation whether confirmation
	// is needed and why, overriding the static confirm flag. The shell
	// tool uses it to wave through provably safe commands while demanding
	// confirmation (with the unsafe reason attached) for everything else.
	confirmCheck func(params map[string]any) (reason string, need bool)
}

// wrapAgentTool adapts an agent.Tool. describe/locate may be nil, in
// which case a generic description/empty location list is used. name,
// if non-empty, overrides inner.Name() for registration purposes
// (the underlying implementations are named generically, "read"/"write"/
// "edit", while the registry exposes "read_file"/"write_file"/"edit_file").
func wrapAgentTool(inner agent.Tool, name string, risk RiskLevel, confirm bool, describe func(map[string]any) string, locate func(map[string]any) []string) Tool {
	return &agentToolAdapter{inner: inner, name: name, risk: risk, describe: describe, locate: locate, confirm: confirm}
}

func (a *agentToolAdapter) Name() string {
	if a.name != "" {
		return a.name
	}
	return a.inner.Name()
}
func (a *agentToolAdapter) Description() string     { return a.inner.Description() }
func (a *agentToolAdapter) Schema() json.RawMessage { return a.inner.Schema() }

func (a *agentToolAdapter) Build(params json.RawMessage) (Invocation, error) {
	var asMap map[string]any
	_ = json.Unmarshal(params, &asMap)
	return &agentInvocation{adapter: a, params: params, asMap: asMap}, nil
}

type agentInvocation struct {
	adapter *agentToolAdapter
	params  json.RawMessage
	asMap   map[string]any
}

func (i *agentInvocation) Describe() string {
	if i.adapter.describe != nil {
		return i.adapter.describe(i.asMap)
	}
	return i.adapter.Name() + " call"
}

func (i *agentInvocation) Locations() []string {
	if i.adapter.locate != nil {
		return i.adapter.locate(i.asMap)
	}
	return nil
}

func (i *agentInvocation) Risk() RiskLevel { return i.adapter.risk }

func (i *agentInvocation) ShouldConfirm(ctx context.Context) (*toolsafety.ConfirmationDetails, bool) {
	summary := i.Describe()
	if i.adapter.confirmCheck != nil {
		reason, need := i.adapter.confirmCheck(i.asMap)
		if !need {
			return nil, false
		}
		if reason != "" {
			summary = summary + " (" + reason + ")"
		}
	} else if !i.adapter.confirm {
		return nil, false
	}
	return &toolsafety.ConfirmationDetails{
		ToolName: i.adapter.Name(),
		RiskTag:  string(i.adapter.risk),
		Summary:  summary,
		Args:     i.asMap,
	}, true
}

func (i *agentInvocation) Execute(ctx context.Context, onUpdate func(chunk string)) (*ToolResult, error) {
	res, err := i.adapter.inner.Execute(ctx, i.params)
	if err != nil {
		return nil, err
	}
	if res.IsError {
		return Err("tool_error", res.Content), nil
	}
	return Ok(res.Content, res.Content), nil
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
