package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	agentctx "github.com/ollm-core/agentcore/internal/agent/context"
	"github.com/ollm-core/agentcore/internal/jobs"
	"github.com/ollm-core/agentcore/internal/sessions"
	"github.com/ollm-core/agentcore/internal/tools/policy"
	"github.com/ollm-core/agentcore/pkg/models"
)

// LoopConfig configures the agentic loop: turn limits, token budgets,
// tool execution, and optional history summarization.
type LoopConfig struct {
	// MaxIterations bounds the number of turns per run. Default: 10.
	MaxIterations int

	// MaxTokens is the default response token budget. Default: 4096.
	MaxTokens int

	// MaxToolCalls limits total tool calls per run (0 = unlimited).
	MaxToolCalls int

	// MaxWallTime limits total run duration (0 = no limit).
	MaxWallTime time.Duration

	// ExecutorConfig configures the parallel tool executor.
	ExecutorConfig *ExecutorConfig

	// EnableBackpressure gates tool execution behind the executor's
	// semaphore. Default: true.
	EnableBackpressure bool

	// StreamToolResults streams tool results as they resolve. Default: true.
	StreamToolResults bool

	// DisableToolEvents disables streaming ToolEvent chunks.
	DisableToolEvents bool

	// SummarizeConfig enables history summarization: once the history
	// grows past the configured threshold, older messages are collapsed
	// into a persisted summary that rides in the system prompt.
	SummarizeConfig *agentctx.SummarizationConfig

	// RequireApproval lists tool names/patterns that require approval.
	RequireApproval []string

	// ApprovalChecker evaluates approval policy for tool calls when set.
	ApprovalChecker *ApprovalChecker

	// ElevatedTools lists tool patterns eligible for elevated full bypass.
	ElevatedTools []string

	// AsyncTools lists tool names to execute asynchronously as jobs.
	AsyncTools []string

	// JobStore receives async tool job updates.
	JobStore jobs.Store

	// ToolResultGuard redacts tool results before persistence.
	ToolResultGuard ToolResultGuard

	// ToolEvents persists tool call/result events when set.
	ToolEvents ToolEventStore
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		MaxIterations:      10,
		MaxTokens:          4096,
		ExecutorConfig:     DefaultExecutorConfig(),
		EnableBackpressure: true,
		StreamToolResults:  true,
	}
}

func sanitizeLoopConfig(config *LoopConfig) *LoopConfig {
	if config == nil {
		return DefaultLoopConfig()
	}
	cfg := *config
	defaults := DefaultLoopConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.ExecutorConfig == nil {
		cfg.ExecutorConfig = defaults.ExecutorConfig
	}
	if cfg.MaxToolCalls < 0 {
		cfg.MaxToolCalls = 0
	}
	if cfg.MaxWallTime < 0 {
		cfg.MaxWallTime = 0
	}
	return &cfg
}

// AgenticLoop drives a multi-turn conversation: each iteration is one
// Turn (a provider exchange plus the resolution of any tool calls it
// queued), and the loop continues until a turn finishes without tool
// calls, the turn limit is exhausted, or the run is cancelled.
type AgenticLoop struct {
	provider LLMProvider
	executor *Executor
	sessions sessions.Store
	config   *LoopConfig

	defaultModel  string
	defaultSystem string

	jobSem chan struct{}
}

// NewAgenticLoop creates a loop over provider/registry/sessions. A nil
// config takes the defaults.
func NewAgenticLoop(provider LLMProvider, registry *ToolRegistry, sessions sessions.Store, config *LoopConfig) *AgenticLoop {
	config = sanitizeLoopConfig(config)
	if registry == nil {
		registry = NewToolRegistry()
	}

	executor := NewExecutor(registry, config.ExecutorConfig)
	if !config.EnableBackpressure {
		executor.sem = nil
	}

	return &AgenticLoop{
		provider: provider,
		executor: executor,
		sessions: sessions,
		config:   config,
		jobSem:   make(chan struct{}, maxConcurrentJobs),
	}
}

// SetDefaultModel sets the model used when requests do not specify one.
func (l *AgenticLoop) SetDefaultModel(model string) {
	l.defaultModel = model
}

// SetDefaultSystem sets the system prompt used when requests do not
// specify one.
func (l *AgenticLoop) SetDefaultSystem(system string) {
	l.defaultSystem = system
}

// ConfigureTool sets per-tool overrides for timeout and retry (a Priority
// value is stored but does not change execution order).
func (l *AgenticLoop) ConfigureTool(name string, config *ToolConfig) {
	l.executor.ConfigureTool(name, config)
}

// LoopState carries one run's accumulated state across turns.
type LoopState struct {
	Phase           LoopPhase
	Iteration       int
	TotalToolCalls  int
	Messages        []CompletionMessage
	PendingTools    []models.ToolCall
	ToolResults     []models.ToolResult
	AccumulatedText string
	LastError       error
	AssistantMsgID  string

	// SystemParts holds system-role history content lifted out of
	// Messages; Summary is the latest conversation summary. Both ride
	// in the request's system prompt, never in the message list.
	SystemParts []string
	Summary     string
}

// Run executes the loop, streaming results until the run completes or
// fails. Exhausting the turn limit without a finish is itself an error
// (ErrMaxIterations) — the caller must be able to tell "done" from "ran
// out of turns".
func (l *AgenticLoop) Run(ctx context.Context, session *models.Session, msg *models.Message) (<-chan *ResponseChunk, error) {
	if l.provider == nil {
		return nil, ErrNoProvider
	}
	if l.config == nil {
		return nil, errors.New("loop config is nil")
	}
	if session == nil {
		return nil, errors.New("session is nil")
	}
	if msg == nil {
		return nil, errors.New("message is nil")
	}
	if l.sessions == nil {
		return nil, errors.New("no session store configured")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if l.config.MaxWallTime > 0 {
		runCtx, cancel = context.WithTimeout(ctx, l.config.MaxWallTime)
	}
	runCtx = WithSession(runCtx, session)

	chunks := make(chan *ResponseChunk, processBufferSize)
	go func() {
		defer close(chunks)
		if cancel != nil {
			defer cancel()
		}
		l.run(runCtx, session, msg, chunks)
	}()
	return chunks, nil
}

// fail sends a phase-tagged error downstream.
func fail(chunks chan<- *ResponseChunk, state *LoopState, phase LoopPhase, cause error, message string) {
	chunks <- &ResponseChunk{Error: &LoopError{
		Phase:     phase,
		Iteration: state.Iteration,
		Cause:     cause,
		Message:   message,
	}}
}

func (l *AgenticLoop) run(ctx context.Context, session *models.Session, msg *models.Message, chunks chan<- *ResponseChunk) {
	state := &LoopState{Phase: PhaseInit}

	if err := l.initializeState(ctx, session, msg, state); err != nil {
		fail(chunks, state, PhaseInit, err, "")
		return
	}
	if err := l.persistInboundMessage(ctx, session, msg); err != nil {
		fail(chunks, state, PhaseInit, err, "")
		return
	}

	steeringQueue := SteeringQueueFromContext(ctx)

	for state.Iteration < l.config.MaxIterations {
		select {
		case <-ctx.Done():
			fail(chunks, state, state.Phase, ctx.Err(), "")
			return
		default:
		}

		turn := newTurn(l, state)

		state.Phase = PhaseStream
		toolCalls, err := turn.Stream(ctx, chunks)
		if err != nil {
			fail(chunks, state, PhaseStream, err, "")
			return
		}

		if l.config.MaxToolCalls > 0 && state.TotalToolCalls+len(toolCalls) > l.config.MaxToolCalls {
			fail(chunks, state, PhaseStream, fmt.Errorf("tool calls exceed maximum of %d for run", l.config.MaxToolCalls), "")
			return
		}
		state.TotalToolCalls += len(toolCalls)

		assistantMsgID, err := l.persistAssistantMessage(ctx, session, state, toolCalls)
		if err != nil {
			fail(chunks, state, PhaseStream, err, "")
			return
		}
		state.AssistantMsgID = assistantMsgID
		l.persistToolCalls(ctx, session, assistantMsgID, toolCalls)

		// A turn with no tool calls is a finish — unless a follow-up is
		// queued, which starts another turn.
		if len(toolCalls) == 0 {
			l.addAssistantMessage(state, toolCalls)
			state.AccumulatedText = ""
			if l.injectFollowUps(state, steeringQueue) {
				state.Iteration++
				continue
			}
			state.Phase = PhaseComplete
			return
		}

		state.Phase = PhaseExecuteTools
		state.PendingTools = toolCalls

		toolResults, err := turn.ResolveTools(ctx, session, chunks)
		if err != nil {
			fail(chunks, state, PhaseExecuteTools, err, "")
			return
		}
		if err := l.persistToolMessage(ctx, session, toolCalls, toolResults); err != nil {
			fail(chunks, state, PhaseExecuteTools, err, "")
			return
		}

		state.Phase = PhaseContinue
		l.continuePhase(state, toolCalls, toolResults)
		l.injectSteering(state, steeringQueue)

		state.Iteration++
	}

	// Turn limit exhausted without a finish.
	fail(chunks, state, state.Phase, ErrMaxIterations,
		fmt.Sprintf("turn limit exhausted: %d", l.config.MaxIterations))
}

// injectFollowUps appends queued follow-up messages, reporting whether
// any were added.
func (l *AgenticLoop) injectFollowUps(state *LoopState, queue *SteeringQueue) bool {
	if queue == nil {
		return false
	}
	followUps := queue.GetFollowUpMessages()
	for _, followUp := range followUps {
		role := followUp.Role
		if role == "" {
			role = "user"
		}
		state.Messages = append(state.Messages, CompletionMessage{
			Role:        role,
			Content:     followUp.Content,
			Attachments: followUp.Attachments,
		})
	}
	return len(followUps) > 0
}

// injectSteering appends any queued steering messages after a turn's
// tool results.
func (l *AgenticLoop) injectSteering(state *LoopState, queue *SteeringQueue) {
	if queue == nil {
		return
	}
	for _, steering := range queue.GetSteeringMessages() {
		role := steering.Role
		if role == "" {
			role = "user"
		}
		state.Messages = append(state.Messages, CompletionMessage{
			Role:        role,
			Content:     steering.Content,
			Attachments: steering.Attachments,
		})
	}
}

// initializeState loads history, runs optional summarization, and packs
// the conversation: system-role messages and the summary go to the
// state's system fields, everything else becomes the message list.
func (l *AgenticLoop) initializeState(ctx context.Context, session *models.Session, msg *models.Message, state *LoopState) error {
	history, err := l.loadHistory(ctx, session)
	if err != nil {
		return err
	}
	history = repairTranscript(history)

	summary, err := l.maybeSummarize(ctx, session, state, history)
	if err != nil {
		return err
	}
	if summary != nil {
		state.Summary = summary.Content
	}

	state.Messages = make([]CompletionMessage, 0, len(history)+1)
	for _, m := range history {
		if m.Role == models.RoleSystem {
			if m.Content != "" {
				state.SystemParts = append(state.SystemParts, m.Content)
			}
			continue
		}
		if isSummaryMessage(m) {
			continue
		}
		state.Messages = append(state.Messages, CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
			Attachments: m.Attachments,
		})
	}

	role := msg.Role
	if role == "" {
		role = models.RoleUser
	}
	state.Messages = append(state.Messages, CompletionMessage{
		Role:        string(role),
		Content:     msg.Content,
		Attachments: msg.Attachments,
	})
	return nil
}

// loadHistory reads the recent conversation from the session store.
func (l *AgenticLoop) loadHistory(ctx context.Context, session *models.Session) ([]*models.Message, error) {
	history, err := l.sessions.GetHistory(ctx, session.ID, 50)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	return history, nil
}

// maybeSummarize collapses old history into a persisted summary message
// when the configured threshold is crossed, returning the latest summary
// either way.
func (l *AgenticLoop) maybeSummarize(ctx context.Context, session *models.Session, state *LoopState, history []*models.Message) (*models.Message, error) {
	summary := agentctx.FindLatestSummary(history)
	if l.config.SummarizeConfig == nil {
		return summary, nil
	}

	summarizer := agentctx.NewSummarizer(&llmSummaryProvider{provider: l.provider, model: l.defaultModel}, *l.config.SummarizeConfig)
	if !summarizer.ShouldSummarize(history, summary) {
		return summary, nil
	}

	newSummary, err := summarizer.Summarize(ctx, session.ID, history, summary)
	if err != nil {
		return nil, err
	}
	if newSummary == nil {
		return summary, nil
	}
	if newSummary.ID == "" {
		newSummary.ID = uuid.NewString()
	}
	if newSummary.SessionID == "" {
		newSummary.SessionID = session.ID
	}
	if newSummary.CreatedAt.IsZero() {
		newSummary.CreatedAt = time.Now()
	}
	if err := l.appendMessage(ctx, session, newSummary); err != nil {
		return nil, fmt.Errorf("failed to persist summary message: %w", err)
	}
	return newSummary, nil
}

func isSummaryMessage(m *models.Message) bool {
	if m == nil || m.Metadata == nil {
		return false
	}
	flagged, ok := m.Metadata[agentctx.SummaryMetadataKey].(bool)
	return ok && flagged
}

// continuePhase appends the assistant message with its tool calls and
// the tool-role results message, then clears per-turn state.
func (l *AgenticLoop) continuePhase(state *LoopState, toolCalls []models.ToolCall, toolResults []models.ToolResult) {
	l.addAssistantMessage(state, toolCalls)
	state.Messages = append(state.Messages, CompletionMessage{
		Role:        "tool",
		ToolResults: toolResults,
	})
	state.AccumulatedText = ""
	state.PendingTools = nil
	state.ToolResults = nil
}

func (l *AgenticLoop) addAssistantMessage(state *LoopState, toolCalls []models.ToolCall) {
	state.Messages = append(state.Messages, CompletionMessage{
		Role:      "assistant",
		Content:   state.AccumulatedText,
		ToolCalls: toolCalls,
	})
}

func (l *AgenticLoop) persistInboundMessage(ctx context.Context, session *models.Session, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is nil")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SessionID == "" {
		msg.SessionID = session.ID
	}
	if msg.Channel == "" {
		msg.Channel = session.Channel
	}
	if msg.ChannelID == "" {
		msg.ChannelID = session.ChannelID
	}
	if msg.Role == "" {
		msg.Role = models.RoleUser
	}
	if msg.Direction == "" {
		msg.Direction = models.DirectionInbound
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	return l.appendMessage(ctx, session, msg)
}

func (l *AgenticLoop) persistAssistantMessage(ctx context.Context, session *models.Session, state *LoopState, toolCalls []models.ToolCall) (string, error) {
	assistantMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Channel:   session.Channel,
		ChannelID: session.ChannelID,
		Direction: models.DirectionOutbound,
		Role:      models.RoleAssistant,
		Content:   state.AccumulatedText,
		ToolCalls: toolCalls,
		CreatedAt: time.Now(),
	}
	if err := l.appendMessage(ctx, session, assistantMsg); err != nil {
		return "", err
	}
	return assistantMsg.ID, nil
}

func (l *AgenticLoop) persistToolMessage(ctx context.Context, session *models.Session, toolCalls []models.ToolCall, toolResults []models.ToolResult) error {
	if len(toolResults) == 0 {
		return nil
	}
	resolver, _, _ := toolPolicyFromContext(ctx)
	persistResults := guardToolResults(l.config.ToolResultGuard, toolCalls, toolResults, resolver)
	resultsForStorage := make([]models.ToolResult, len(persistResults))
	for i := range persistResults {
		resultsForStorage[i] = persistResults[i]
		resultsForStorage[i].Attachments = nil
	}
	toolMsg := &models.Message{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		Channel:     session.Channel,
		ChannelID:   session.ChannelID,
		Direction:   models.DirectionInbound,
		Role:        models.RoleTool,
		ToolResults: resultsForStorage,
		CreatedAt:   time.Now(),
	}
	return l.appendMessage(ctx, session, toolMsg)
}

func (l *AgenticLoop) appendMessage(ctx context.Context, session *models.Session, msg *models.Message) error {
	if msg == nil {
		return nil
	}
	if l.sessions == nil {
		return errors.New("no session store configured")
	}
	return l.sessions.AppendMessage(ctx, session.ID, msg)
}

func (l *AgenticLoop) emitToolEvent(chunks chan<- *ResponseChunk, event *models.ToolEvent) {
	if l.config.DisableToolEvents || event == nil {
		return
	}
	chunks <- &ResponseChunk{ToolEvent: event}
}

func (l *AgenticLoop) persistToolCalls(ctx context.Context, session *models.Session, assistantMsgID string, toolCalls []models.ToolCall) {
	if l.config.ToolEvents == nil || session == nil {
		return
	}
	for i := range toolCalls {
		tc := toolCalls[i]
		_ = l.config.ToolEvents.AddToolCall(ctx, session.ID, assistantMsgID, &tc)
	}
}

func (l *AgenticLoop) persistToolResult(ctx context.Context, session *models.Session, assistantMsgID string, tc models.ToolCall, res models.ToolResult, resolver *policy.Resolver) {
	if l.config.ToolEvents == nil || session == nil {
		return
	}
	guarded := guardToolResult(l.config.ToolResultGuard, tc.Name, res, resolver)
	_ = l.config.ToolEvents.AddToolResult(ctx, session.ID, assistantMsgID, &tc, &guarded)
}

func (l *AgenticLoop) isAsyncTool(name string, resolver *policy.Resolver) bool {
	return matchesToolPatterns(l.config.AsyncTools, name, resolver)
}

// queueAsyncJob records a job for the call and kicks off its execution
// in the background, returning the job handle as the call's immediate
// result.
func (l *AgenticLoop) queueAsyncJob(tc models.ToolCall) models.ToolResult {
	job := &jobs.Job{
		ID:         uuid.NewString(),
		ToolName:   tc.Name,
		ToolCallID: tc.ID,
		Status:     jobs.StatusQueued,
		CreatedAt:  time.Now(),
	}
	if l.config.JobStore != nil {
		_ = l.config.JobStore.Create(context.Background(), job)
	}

	payload, err := json.Marshal(map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	})
	res := models.ToolResult{ToolCallID: tc.ID}
	if err != nil {
		res.Content = fmt.Sprintf("failed to encode job payload: %v", err)
		res.IsError = true
	} else {
		res.Content = string(payload)
	}

	if l.config.JobStore != nil {
		if l.jobSem == nil {
			go l.runToolJob(tc, job)
		} else {
			select {
			case l.jobSem <- struct{}{}:
				go func() {
					defer func() { <-l.jobSem }()
					l.runToolJob(tc, job)
				}()
			default:
				go l.runToolJob(tc, job)
			}
		}
	}
	return res
}

func (l *AgenticLoop) runToolJob(tc models.ToolCall, job *jobs.Job) {
	if job == nil || l.config.JobStore == nil {
		return
	}
	ctx := context.Background()
	job.Status = jobs.StatusRunning
	job.StartedAt = time.Now()
	_ = l.config.JobStore.Update(ctx, job)

	execResult := l.executor.Execute(ctx, tc)
	switch {
	case execResult.Error != nil:
		job.Status = jobs.StatusFailed
		job.Error = execResult.Error.Error()
	case execResult.Result != nil:
		res := models.ToolResult{
			ToolCallID:  tc.ID,
			Content:     execResult.Result.Content,
			IsError:     execResult.Result.IsError,
			Attachments: artifactsToAttachments(execResult.Result.Artifacts),
		}
		if res.IsError {
			job.Status = jobs.StatusFailed
			job.Error = res.Content
		} else {
			job.Status = jobs.StatusSucceeded
			job.Result = &res
		}
	default:
		job.Status = jobs.StatusFailed
		job.Error = "tool execution failed"
	}
	job.FinishedAt = time.Now()
	_ = l.config.JobStore.Update(ctx, job)
}

// AgenticRuntime wraps the AgenticLoop behind the Runtime-shaped Process
// interface, so callers can swap between the two.
type AgenticRuntime struct {
	loop *AgenticLoop
}

// NewAgenticRuntime creates an AgenticRuntime with its own registry.
func NewAgenticRuntime(provider LLMProvider, sessions sessions.Store, config *LoopConfig) *AgenticRuntime {
	return &AgenticRuntime{loop: NewAgenticLoop(provider, NewToolRegistry(), sessions, config)}
}

// SetDefaultModel configures the fallback model.
func (r *AgenticRuntime) SetDefaultModel(model string) {
	r.loop.SetDefaultModel(model)
}

// SetSystemPrompt configures the fallback system prompt.
func (r *AgenticRuntime) SetSystemPrompt(system string) {
	r.loop.SetDefaultSystem(system)
}

// RegisterTool adds a tool to the runtime's registry.
func (r *AgenticRuntime) RegisterTool(tool Tool) {
	r.loop.executor.registry.Register(tool)
}

// ConfigureTool sets per-tool configuration.
func (r *AgenticRuntime) ConfigureTool(name string, config *ToolConfig) {
	r.loop.ConfigureTool(name, config)
}

// Process handles an incoming message through the loop.
func (r *AgenticRuntime) Process(ctx context.Context, session *models.Session, msg *models.Message) (<-chan *ResponseChunk, error) {
	return r.loop.Run(ctx, session, msg)
}

// ExecutorMetrics returns a snapshot of the tool executor's counters.
func (r *AgenticRuntime) ExecutorMetrics() *ExecutorMetricsSnapshot {
	return r.loop.executor.Metrics()
}
