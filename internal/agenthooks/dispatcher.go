package agenthooks

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ollm-core/agentcore/pkg/models"
)

// Dispatcher feeds the chat runtime's agent event stream into the hook
// substrate: each AgentEvent type maps to a hook lifecycle event, whose
// registered hooks then run in planner order. It plugs into the runtime
// as a Plugin (Runtime.Use) so the runtime itself stays ignorant of
// process hooks. Session start/end have no AgentEvent equivalent and are
// fired explicitly by the host around a session's lifetime.
type Dispatcher struct {
	registry *Registry
	runner   *Runner
	logger   *slog.Logger
}

// NewDispatcher wires the registry and runner behind a Plugin-shaped
// OnEvent.
func NewDispatcher(registry *Registry, runner *Runner, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, runner: runner, logger: logger.With("component", "hookdispatch")}
}

// OnEvent implements the runtime plugin interface: it translates one
// agent event into the matching hook event and runs its hooks. Hook
// failures are logged and isolated; the event stream is never blocked on
// a hook outcome.
func (d *Dispatcher) OnEvent(ctx context.Context, e models.AgentEvent) {
	switch e.Type {
	case models.AgentEventRunStarted:
		d.fire(ctx, models.HookEventBeforeAgent, BeforeAgentPayload{
			Event:     string(models.HookEventBeforeAgent),
			SessionID: e.RunID,
		})
	case models.AgentEventRunFinished:
		d.fire(ctx, models.HookEventAfterAgent, AfterAgentPayload{
			Event:     string(models.HookEventAfterAgent),
			SessionID: e.RunID,
		})
	case models.AgentEventIterStarted:
		d.fire(ctx, models.HookEventBeforeModel, BeforeModelPayload{
			Event:     string(models.HookEventBeforeModel),
			SessionID: e.RunID,
		})
	case models.AgentEventModelCompleted:
		d.fire(ctx, models.HookEventAfterModel, AfterModelPayload{
			Event:     string(models.HookEventAfterModel),
			SessionID: e.RunID,
		})
	case models.AgentEventToolStarted:
		payload := BeforeToolPayload{
			Event:     string(models.HookEventBeforeTool),
			SessionID: e.RunID,
		}
		if e.Tool != nil {
			payload.ToolName = e.Tool.Name
			if len(e.Tool.ArgsJSON) > 0 {
				args := map[string]any{}
				if err := json.Unmarshal(e.Tool.ArgsJSON, &args); err == nil {
					payload.Arguments = args
				}
			}
		}
		d.fire(ctx, models.HookEventBeforeTool, payload)
	case models.AgentEventToolFinished, models.AgentEventToolTimedOut:
		payload := AfterToolPayload{
			Event:     string(models.HookEventAfterTool),
			SessionID: e.RunID,
		}
		if e.Tool != nil {
			payload.ToolName = e.Tool.Name
			if len(e.Tool.ResultJSON) > 0 {
				payload.Result = json.RawMessage(e.Tool.ResultJSON)
			}
			if !e.Tool.Success && e.Type == models.AgentEventToolTimedOut {
				payload.Err = "tool timed out"
			}
		}
		d.fire(ctx, models.HookEventAfterTool, payload)
	}
}

// FireSessionStart runs session_start hooks. The host calls this once
// when a session opens, before the first exchange.
func (d *Dispatcher) FireSessionStart(ctx context.Context, sessionID string) {
	d.fire(ctx, models.HookEventSessionStart, SessionLifecyclePayload{
		Event:     string(models.HookEventSessionStart),
		SessionID: sessionID,
	})
}

// FireSessionEnd runs session_end hooks. The host calls this once when a
// session closes.
func (d *Dispatcher) FireSessionEnd(ctx context.Context, sessionID string) {
	d.fire(ctx, models.HookEventSessionEnd, SessionLifecyclePayload{
		Event:     string(models.HookEventSessionEnd),
		SessionID: sessionID,
	})
}

// FireBeforeToolSelection runs before_tool_selection hooks with the
// currently-registered tool names.
func (d *Dispatcher) FireBeforeToolSelection(ctx context.Context, sessionID string, toolNames []string) {
	d.fire(ctx, models.HookEventBeforeToolSelect, BeforeToolSelectionPayload{
		Event:         string(models.HookEventBeforeToolSelect),
		SessionID:     sessionID,
		AvailableTool: toolNames,
	})
}

func (d *Dispatcher) fire(ctx context.Context, event models.HookEvent, payload any) {
	hooks := d.registry.Hooks(event)
	if len(hooks) == 0 {
		return
	}
	for _, res := range d.runner.RunEvent(ctx, hooks, payload) {
		if res.Err != nil {
			d.logger.Warn("hook failed", "event", string(event), "hook_id", res.Hook.ID, "error", res.Err)
		}
	}
}
