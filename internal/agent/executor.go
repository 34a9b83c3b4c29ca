package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ollm-core/agentcore/internal/backoff"
	"github.com/ollm-core/agentcore/internal/observability"
	"github.com/ollm-core/agentcore/pkg/models"
)

// ExecutorConfig configures the parallel tool executor: concurrency
// ceiling, per-call timeout, and the retry policy applied to transient
// failures.
type ExecutorConfig struct {
	// MaxConcurrency limits simultaneous tool executions. Default: 5.
	MaxConcurrency int

	// DefaultTimeout bounds one execution attempt. Default: 30s.
	DefaultTimeout time.Duration

	// DefaultRetries is how many extra attempts a retryable failure
	// gets. Default: 2.
	DefaultRetries int

	// RetryBackoff is the delay before the first retry; subsequent
	// retries back off exponentially. Default: 100ms.
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the exponential growth. Default: 5s.
	MaxRetryBackoff time.Duration
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency:  5,
		DefaultTimeout:  30 * time.Second,
		DefaultRetries:  2,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}

// ToolConfig overrides the executor defaults for one named tool.
type ToolConfig struct {
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration

	// Priority is stored with the override but not read by the executor:
	// ExecuteAll starts every call concurrently whatever its priority.
	Priority int
}

// callSettings is the resolved (defaults + per-tool override) timing for
// one call.
type callSettings struct {
	timeout time.Duration
	retries int
	policy  backoff.BackoffPolicy
}

// Executor is the structured-concurrency primitive behind a turn's tool
// resolution: every queued call runs under a semaphore, with its own
// timeout, panic guard, and retry policy, and every call either resolves
// with a result or reports a typed error — one call failing never
// cancels its siblings, and the caller always gets exactly one entry per
// call.
type Executor struct {
	registry   *ToolRegistry
	config     *ExecutorConfig
	toolConfig map[string]*ToolConfig
	mu         sync.RWMutex

	// sem bounds concurrency; nil disables backpressure entirely.
	sem chan struct{}

	// obs, when set, mirrors the counters below into prometheus.
	obs *observability.Metrics

	metrics ExecutorMetrics
}

// ExecutorMetrics tracks executor counters. The zero value is ready.
type ExecutorMetrics struct {
	mu              sync.Mutex
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// NewExecutor creates a parallel tool executor over registry. A nil
// config takes the defaults.
func NewExecutor(registry *ToolRegistry, config *ExecutorConfig) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	return &Executor{
		registry:   registry,
		config:     config,
		toolConfig: make(map[string]*ToolConfig),
		sem:        make(chan struct{}, config.MaxConcurrency),
	}
}

// SetObservability attaches optional prometheus instruments mirroring
// the executor's internal counters.
func (e *Executor) SetObservability(m *observability.Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.obs = m
}

// ConfigureTool sets per-tool overrides for the named tool.
func (e *Executor) ConfigureTool(name string, config *ToolConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toolConfig[name] = config
}

// getToolConfig returns the raw per-tool override, if any.
func (e *Executor) getToolConfig(name string) *ToolConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.toolConfig[name]
}

// settingsFor resolves the effective timing for one call.
func (e *Executor) settingsFor(name string) callSettings {
	s := callSettings{
		timeout: e.config.DefaultTimeout,
		retries: e.config.DefaultRetries,
		policy: backoff.BackoffPolicy{
			InitialMs: float64(e.config.RetryBackoff.Milliseconds()),
			MaxMs:     float64(e.config.MaxRetryBackoff.Milliseconds()),
			Factor:    2,
		},
	}

	e.mu.RLock()
	tc := e.toolConfig[name]
	e.mu.RUnlock()
	if tc == nil {
		return s
	}
	if tc.Timeout > 0 {
		s.timeout = tc.Timeout
	}
	if tc.Retries >= 0 {
		s.retries = tc.Retries
	}
	if tc.RetryBackoff > 0 {
		s.policy.InitialMs = float64(tc.RetryBackoff.Milliseconds())
	}
	return s
}

// ExecutionResult is one call's outcome: exactly one of Result or Error
// is meaningful, plus timing and the attempt count.
type ExecutionResult struct {
	ToolCallID string
	ToolName   string
	Result     *ToolResult
	Error      error
	Duration   time.Duration
	Attempts   int
}

// ExecuteAll resolves every queued call concurrently and waits for all
// of them ("await all, never fail fast"). results[i] always corresponds
// to calls[i], so the slice preserves the order the call-ids appeared in
// the model's output regardless of which call finishes first.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []*ExecutionResult {
	if len(calls) == 0 {
		return nil
	}

	results := make([]*ExecutionResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, tc)
		}(i, call)
	}
	wg.Wait()
	return results
}

// Execute resolves a single call: acquire a concurrency slot, then run
// attempts until one succeeds, the error is non-retryable, the retry
// budget is spent, or the context is cancelled.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) *ExecutionResult {
	start := time.Now()
	result := &ExecutionResult{ToolCallID: call.ID, ToolName: call.Name}

	if err := e.acquire(ctx); err != nil {
		result.Error = NewToolError(call.Name, err).
			WithType(ToolErrorTimeout).
			WithToolCallID(call.ID)
		result.Duration = time.Since(start)
		return result
	}
	defer e.release()

	settings := e.settingsFor(call.Name)

	var lastErr error
	for attempt := 0; attempt <= settings.retries; attempt++ {
		result.Attempts = attempt + 1

		outcome, err := e.runAttempt(ctx, call, settings.timeout)
		if err == nil {
			result.Result = outcome
			result.Duration = time.Since(start)
			e.record(result, attempt, nil)
			return result
		}
		lastErr = err

		if !IsToolRetryable(err) || ctx.Err() != nil || attempt >= settings.retries {
			break
		}

		delay := backoff.ComputeBackoffWithRand(settings.policy, attempt+1, 0)
		if sleepErr := backoff.SleepWithContext(ctx, delay); sleepErr != nil {
			lastErr = NewToolError(call.Name, sleepErr).
				WithType(ToolErrorTimeout).
				WithToolCallID(call.ID)
			break
		}
	}

	result.Error = lastErr
	result.Duration = time.Since(start)
	e.record(result, result.Attempts-1, lastErr)
	return result
}

// acquire takes a semaphore slot, or fails when the context dies first
// (backpressure: a stalled slot must not queue work forever).
func (e *Executor) acquire(ctx context.Context) error {
	if e.sem == nil {
		return nil
	}
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) release() {
	if e.sem != nil {
		<-e.sem
	}
}

// runAttempt runs one bounded execution attempt. The tool runs in its
// own goroutine so a hung tool cannot wedge the executor; a panicking
// tool is converted to a typed error instead of crashing the chat loop.
func (e *Executor) runAttempt(ctx context.Context, call models.ToolCall, timeout time.Duration) (*ToolResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type attemptOutcome struct {
		result *ToolResult
		err    error
	}
	done := make(chan attemptOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptOutcome{err: NewToolError(call.Name, fmt.Errorf("panic: %v\n%s", r, debug.Stack())).
					WithType(ToolErrorPanic).
					WithToolCallID(call.ID)}
			}
		}()
		result, err := e.registry.Execute(attemptCtx, call.Name, call.Input)
		if err != nil {
			done <- attemptOutcome{err: NewToolError(call.Name, err).WithToolCallID(call.ID)}
			return
		}
		done <- attemptOutcome{result: result}
	}()

	select {
	case outcome := <-done:
		return outcome.result, outcome.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, NewToolError(call.Name, ctx.Err()).
				WithType(ToolErrorTimeout).
				WithToolCallID(call.ID).
				WithMessage("context cancelled")
		}
		return nil, NewToolError(call.Name, ErrToolTimeout).
			WithType(ToolErrorTimeout).
			WithToolCallID(call.ID).
			WithMessage(fmt.Sprintf("execution timed out after %s", timeout))
	}
}

// record updates the counters (and the optional prometheus mirror) for
// one resolved call.
func (e *Executor) record(result *ExecutionResult, retries int, failure error) {
	outcome := "ok"
	e.metrics.mu.Lock()
	e.metrics.TotalExecutions++
	if retries > 0 {
		e.metrics.TotalRetries += int64(retries)
	}
	if failure != nil {
		e.metrics.TotalFailures++
		outcome = "error"
		if toolErr, ok := GetToolError(failure); ok {
			switch toolErr.Type {
			case ToolErrorTimeout:
				e.metrics.TotalTimeouts++
				outcome = "timeout"
			case ToolErrorPanic:
				e.metrics.TotalPanics++
			}
		}
	}
	e.metrics.mu.Unlock()

	e.mu.RLock()
	obs := e.obs
	e.mu.RUnlock()
	obs.ObserveToolExecution(result.ToolName, outcome, result.Duration)
}

// Metrics returns a point-in-time copy of the executor counters.
func (e *Executor) Metrics() *ExecutorMetricsSnapshot {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	return &ExecutorMetricsSnapshot{
		TotalExecutions: e.metrics.TotalExecutions,
		TotalRetries:    e.metrics.TotalRetries,
		TotalFailures:   e.metrics.TotalFailures,
		TotalTimeouts:   e.metrics.TotalTimeouts,
		TotalPanics:     e.metrics.TotalPanics,
	}
}

// ExecutorMetricsSnapshot is a copy of the executor counters.
type ExecutorMetricsSnapshot struct {
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// ResultsToMessages converts execution results to the tool-role results
// appended to conversation history, in the same call-id order.
func ResultsToMessages(results []*ExecutionResult) []models.ToolResult {
	toolResults := make([]models.ToolResult, len(results))
	for i, r := range results {
		switch {
		case r.Error != nil:
			toolResults[i] = models.ToolResult{
				ToolCallID: r.ToolCallID,
				Content:    r.Error.Error(),
				IsError:    true,
			}
		case r.Result != nil:
			toolResults[i] = models.ToolResult{
				ToolCallID: r.ToolCallID,
				Content:    r.Result.Content,
				IsError:    r.Result.IsError,
			}
		}
	}
	return toolResults
}

// AnyErrors reports whether any result carries an error.
func AnyErrors(results []*ExecutionResult) bool {
	for _, r := range results {
		if r.Error != nil {
			return true
		}
	}
	return false
}

// AsJSON normalises tool input to a JSON payload.
func AsJSON(input any) json.RawMessage {
	switch v := input.(type) {
	case json.RawMessage:
		return v
	case []byte:
		return json.RawMessage(v)
	case string:
		return json.RawMessage(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return json.RawMessage("null")
		}
		return data
	}
}
