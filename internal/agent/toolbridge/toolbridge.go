// Package toolbridge adapts the declarative built-in tool surface
// (internal/tools.Tool, Build-then-Execute with risk/confirmation) onto
// the flat agent.Tool interface the provider-facing chat loop calls
// directly. It is the seam between the two tool abstractions: the
// runtime keeps calling agent.Tool.Execute exactly as it always has,
// while the underlying implementation goes through Build/Describe/Risk
// so validation, policy, and confirmation still run.
package toolbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ollm-core/agentcore/internal/agent"
	"github.com/ollm-core/agentcore/internal/tools"
	"github.com/ollm-core/agentcore/internal/toolsafety"
)

// Options wires the safety layer into the bridge. All fields are
// optional: a zero Options reproduces direct execution with
// auto-approved confirmations.
type Options struct {
	// Policy, when set, is evaluated before every execution. A deny
	// decision yields a tool error; an ask decision defers to Bus.
	Policy *toolsafety.Engine

	// Bus, when set, is where ask decisions and invocation-requested
	// confirmations are published. When nil, ask decisions and
	// confirmations are auto-approved.
	Bus *toolsafety.Bus

	// ConfirmTimeout bounds how long a confirmation may stay pending.
	// Zero means 60 seconds.
	ConfirmTimeout time.Duration
}

const defaultConfirmTimeout = 60 * time.Second

// toolAdapter presents a tools.Tool as an agent.Tool.
type toolAdapter struct {
	inner tools.Tool
	opts  Options
}

// Adapt wraps a single declarative tool for registration into a
// Runtime's ToolRegistry via Runtime.RegisterTool.
func Adapt(t tools.Tool) agent.Tool {
	return AdaptWithOptions(t, Options{})
}

// AdaptWithOptions wraps a declarative tool with the policy engine and
// confirmation bus applied on every execution.
func AdaptWithOptions(t tools.Tool, opts Options) agent.Tool {
	return &toolAdapter{inner: t, opts: opts}
}

// AdaptAll wraps a whole built-in set, e.g. tools.Builtins(cfg).
func AdaptAll(ts []tools.Tool) []agent.Tool {
	return AdaptAllWithOptions(ts, Options{})
}

// AdaptAllWithOptions wraps a whole built-in set with a shared safety
// configuration.
func AdaptAllWithOptions(ts []tools.Tool, opts Options) []agent.Tool {
	out := make([]agent.Tool, 0, len(ts))
	for _, t := range ts {
		out = append(out, AdaptWithOptions(t, opts))
	}
	return out
}

func (a *toolAdapter) Name() string            { return a.inner.Name() }
func (a *toolAdapter) Description() string     { return a.inner.Description() }
func (a *toolAdapter) Schema() json.RawMessage { return a.inner.Schema() }

// Execute builds the invocation, runs it through policy and
// confirmation, then executes it. Validation, policy, and confirmation
// failures are reported as tool errors (the model sees them and can
// adjust); only infrastructure failures propagate as Go errors.
func (a *toolAdapter) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	inv, err := a.inner.Build(params)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	if a.opts.Policy != nil {
		args := map[string]any{}
		if len(params) > 0 {
			// Best-effort decode; rule conditions evaluate against
			// stringified arguments, so a non-object payload just means
			// no condition matches.
			_ = json.Unmarshal(params, &args)
		}
		decision := a.opts.Policy.Evaluate(a.inner.Name(), args)
		switch decision.Decision {
		case toolsafety.DecisionDeny:
			return &agent.ToolResult{
				Content: fmt.Sprintf("tool %q denied by policy", a.inner.Name()),
				IsError: true,
			}, nil
		case toolsafety.DecisionAsk:
			details := toolsafety.ConfirmationDetails{
				ToolName: a.inner.Name(),
				Summary:  inv.Describe(),
				RiskTag:  decision.RiskTag,
				Args:     args,
			}
			if result, ok := a.confirm(ctx, details); !ok {
				return result, nil
			}
		}
	}

	if details, needed := inv.ShouldConfirm(ctx); needed {
		if result, ok := a.confirm(ctx, *details); !ok {
			return result, nil
		}
	}

	result, err := inv.Execute(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &agent.ToolResult{Content: result.ReturnDisplay, IsError: result.IsError}, nil
}

// confirm publishes a confirmation request and blocks for the outcome.
// The second return is true when execution may proceed; otherwise the
// first return carries the tool error to surface.
func (a *toolAdapter) confirm(ctx context.Context, details toolsafety.ConfirmationDetails) (*agent.ToolResult, bool) {
	if a.opts.Bus == nil {
		return nil, true
	}
	timeout := a.opts.ConfirmTimeout
	if timeout <= 0 {
		timeout = defaultConfirmTimeout
	}
	_, outcome := a.opts.Bus.Request(ctx, details, timeout)
	switch outcome {
	case toolsafety.Approved:
		return nil, true
	case toolsafety.TimedOut:
		return &agent.ToolResult{
			Content: fmt.Sprintf("tool %q confirmation timed out", details.ToolName),
			IsError: true,
		}, false
	case toolsafety.Cancelled:
		return &agent.ToolResult{
			Content: fmt.Sprintf("tool %q confirmation cancelled", details.ToolName),
			IsError: true,
		}, false
	default:
		return &agent.ToolResult{
			Content: fmt.Sprintf("tool %q rejected by user", details.ToolName),
			IsError: true,
		}, false
	}
}
