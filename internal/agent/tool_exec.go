package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ollm-core/agentcore/internal/backoff"
	"github.com/ollm-core/agentcore/internal/observability"
	"github.com/ollm-core/agentcore/pkg/models"
)

// ToolExecConfig configures the runtime-facing tool executor: how many
// calls run at once, how long one attempt may take, and how failures
// are retried. Unlike the loop's Executor, retries here key off the
// tool's own error result (IsError), since the runtime treats a tool
// answering "that failed" as worth one more try.
type ToolExecConfig struct {
	// Concurrency is the maximum number of concurrent executions.
	// Default: 4.
	Concurrency int

	// PerToolTimeout bounds one attempt. Default: 30s.
	PerToolTimeout time.Duration

	// MaxAttempts is the total attempts per call. Default: 1.
	MaxAttempts int

	// RetryBackoff waits between attempts. Default: 0 (immediate).
	RetryBackoff time.Duration
}

// DefaultToolExecConfig returns the defaults: 4 concurrent tools, 30s
// per attempt, no retries.
func DefaultToolExecConfig() ToolExecConfig {
	return ToolExecConfig{
		Concurrency:    4,
		PerToolTimeout: 30 * time.Second,
		MaxAttempts:    1,
	}
}

// ToolExecutor resolves a turn's tool calls for the Runtime, reporting
// lifecycle events as each call starts, retries, and finishes.
type ToolExecutor struct {
	registry *ToolRegistry
	config   ToolExecConfig
}

// NewToolExecutor creates an executor over registry, filling zero config
// fields with defaults.
func NewToolExecutor(registry *ToolRegistry, config ToolExecConfig) *ToolExecutor {
	defaults := DefaultToolExecConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = defaults.PerToolTimeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &ToolExecutor{registry: registry, config: config}
}

// ToolExecResult is one resolved call with its timing.
type ToolExecResult struct {
	Index     int
	ToolCall  models.ToolCall
	Result    models.ToolResult
	StartTime time.Time
	EndTime   time.Time
	TimedOut  bool
}

// EventCallback receives tool lifecycle events during execution. It must
// not block.
type EventCallback func(*models.RuntimeEvent)

// ExecuteConcurrently resolves all calls under the concurrency limit and
// waits for every one of them. results[i] corresponds to toolCalls[i]:
// the order the model emitted the call-ids is the order the results come
// back in, no matter which call finishes first.
func (e *ToolExecutor) ExecuteConcurrently(ctx context.Context, toolCalls []models.ToolCall, emit EventCallback) []ToolExecResult {
	results := make([]ToolExecResult, len(toolCalls))

	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup
	for i, tc := range toolCalls {
		wg.Add(1)
		go func(idx int, call models.ToolCall) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = cancelledResult(idx, call)
				return
			}

			results[idx] = e.runCall(ctx, idx, call, emit)
		}(i, tc)
	}
	wg.Wait()
	return results
}

// ExecuteSequentially resolves calls one at a time, in call-id order.
func (e *ToolExecutor) ExecuteSequentially(ctx context.Context, toolCalls []models.ToolCall) []ToolExecResult {
	results := make([]ToolExecResult, len(toolCalls))
	for i, tc := range toolCalls {
		results[i] = e.runCall(ctx, i, tc, nil)
	}
	return results
}

// runCall drives one call through its attempt loop, emitting lifecycle
// events when emit is set.
func (e *ToolExecutor) runCall(ctx context.Context, idx int, call models.ToolCall, emit EventCallback) ToolExecResult {
	start := time.Now()
	var result models.ToolResult
	var timedOut bool

	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		if emit != nil {
			emit(models.NewToolEvent(models.EventToolStarted, call.Name, call.ID).
				WithMeta("attempt", attempt))
		}

		result, timedOut = e.attempt(ctx, call)
		if !result.IsError {
			break
		}
		if attempt >= e.config.MaxAttempts {
			break
		}

		if emit != nil {
			eventType := models.EventToolFailed
			if timedOut {
				eventType = models.EventToolTimeout
			}
			emit(models.NewToolEvent(eventType, call.Name, call.ID).
				WithMeta("attempt", attempt).
				WithMeta("retrying", true))
		}
		if e.config.RetryBackoff > 0 {
			if err := backoff.SleepWithContext(ctx, e.config.RetryBackoff); err != nil {
				result = models.ToolResult{
					ToolCallID: call.ID,
					Content:    "tool execution canceled",
					IsError:    true,
				}
				break
			}
		}
	}

	end := time.Now()
	if emit != nil {
		eventType := models.EventToolCompleted
		switch {
		case timedOut:
			eventType = models.EventToolTimeout
		case result.IsError:
			eventType = models.EventToolFailed
		}
		event := models.NewToolEvent(eventType, call.Name, call.ID)
		event.WithMeta("duration_ms", end.Sub(start).Milliseconds())
		emit(event)
	}

	return ToolExecResult{
		Index:     idx,
		ToolCall:  call,
		Result:    result,
		StartTime: start,
		EndTime:   end,
		TimedOut:  timedOut,
	}
}

// attempt runs one bounded execution attempt. The tool runs in its own
// goroutine so a hung tool never wedges the turn; if the deadline fires
// first, any late result is discarded (and logged, since a tool that
// completes after its timeout usually indicates the timeout is too
// tight).
func (e *ToolExecutor) attempt(ctx context.Context, call models.ToolCall) (models.ToolResult, bool) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
	defer cancel()
	attemptCtx = observability.AddToolCallID(attemptCtx, call.ID)

	type outcome struct {
		result *ToolResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := e.registry.Execute(attemptCtx, call.Name, call.Input)
		select {
		case done <- outcome{result: result, err: err}:
		default:
			slog.Warn("tool execution completed after timeout, result discarded",
				"tool", call.Name,
				"tool_call_id", call.ID,
				"run_id", observability.GetRunID(attemptCtx),
				"session_id", observability.GetSessionID(attemptCtx))
		}
	}()

	select {
	case <-attemptCtx.Done():
		timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
		content := "tool execution canceled"
		if timedOut {
			content = fmt.Sprintf("tool execution timed out after %v", e.config.PerToolTimeout)
		}
		return models.ToolResult{ToolCallID: call.ID, Content: content, IsError: true}, timedOut
	case out := <-done:
		if out.err != nil {
			return models.ToolResult{ToolCallID: call.ID, Content: out.err.Error(), IsError: true}, false
		}
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    out.result.Content,
			IsError:    out.result.IsError,
		}, false
	}
}

// ExecuteSingle resolves one named call outside a turn (async jobs,
// direct invocations), retrying infrastructure errors up to MaxAttempts.
func (e *ToolExecutor) ExecuteSingle(ctx context.Context, name string, input json.RawMessage) (*ToolResult, error) {
	var lastErr error
	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
		result, err := e.registry.Execute(attemptCtx, name, input)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt < e.config.MaxAttempts && e.config.RetryBackoff > 0 {
			if err := backoff.SleepWithContext(ctx, e.config.RetryBackoff); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

func cancelledResult(idx int, call models.ToolCall) ToolExecResult {
	return ToolExecResult{
		Index:    idx,
		ToolCall: call,
		Result: models.ToolResult{
			ToolCallID: call.ID,
			Content:    "context canceled",
			IsError:    true,
		},
	}
}
