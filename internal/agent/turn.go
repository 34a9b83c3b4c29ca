package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ollm-core/agentcore/pkg/models"
)

// Turn manages one provider exchange within a run: building the request,
// streaming the model's events downstream, queueing tool calls as they
// arrive, and — once the provider reports done — resolving the queue.
// Tool calls are gated (policy, approval, async dispatch) one by one,
// then the survivors execute in parallel; results always come back in
// the order their call-ids appeared in the model's output.
type Turn struct {
	loop  *AgenticLoop
	state *LoopState
}

func newTurn(l *AgenticLoop, state *LoopState) *Turn {
	return &Turn{loop: l, state: state}
}

// Stream performs the provider exchange: it forwards text and thinking
// deltas to chunks and returns the tool calls queued during streaming.
// The accumulated assistant text lands in the loop state for
// persistence.
func (t *Turn) Stream(ctx context.Context, chunks chan<- *ResponseChunk) ([]models.ToolCall, error) {
	l := t.loop

	tools := l.executor.registry.AsLLMTools()
	if resolver, toolPolicy, ok := toolPolicyFromContext(ctx); ok {
		tools = filterToolsByPolicy(resolver, toolPolicy, tools)
	}

	req := &CompletionRequest{
		Model:     l.defaultModel,
		System:    t.composeSystem(ctx),
		Messages:  t.state.Messages,
		Tools:     tools,
		MaxTokens: l.config.MaxTokens,
	}
	if model, ok := modelFromContext(ctx); ok {
		req.Model = model
	}
	if thinkingLevel := ThinkingLevelFromContext(ctx); thinkingLevel != ThinkingOff {
		if budget := GetThinkingBudget(thinkingLevel); budget > 0 {
			req.EnableThinking = true
			req.ThinkingBudgetTokens = budget
		}
	}

	completionCtx := ctx
	if resolver := APIKeyResolverFromContext(ctx); resolver != nil {
		resolvedKey, keyErr := resolver(ctx, l.provider.Name())
		if keyErr != nil {
			return nil, fmt.Errorf("API key resolution failed: %w", keyErr)
		}
		if resolvedKey != "" {
			completionCtx = WithResolvedAPIKey(ctx, resolvedKey)
		}
	}

	completion, err := l.provider.Complete(completionCtx, req)
	if err != nil {
		return nil, err
	}

	var queued []models.ToolCall
	var text strings.Builder
	for chunk := range completion {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.ThinkingStart {
			chunks <- &ResponseChunk{ThinkingStart: true}
		}
		if chunk.Thinking != "" {
			chunks <- &ResponseChunk{Thinking: chunk.Thinking}
		}
		if chunk.ThinkingEnd {
			chunks <- &ResponseChunk{ThinkingEnd: true}
		}
		if chunk.Text != "" {
			if text.Len()+len(chunk.Text) > MaxResponseTextSize {
				return nil, fmt.Errorf("response text exceeds maximum size of %d bytes", MaxResponseTextSize)
			}
			text.WriteString(chunk.Text)
			chunks <- &ResponseChunk{Text: chunk.Text}
		}
		if chunk.ToolCall != nil {
			if len(queued) >= MaxToolCallsPerIteration {
				return nil, fmt.Errorf("tool calls exceed maximum of %d per iteration", MaxToolCallsPerIteration)
			}
			queued = append(queued, *chunk.ToolCall)
		}
	}

	t.state.AccumulatedText = text.String()
	return queued, nil
}

// composeSystem assembles the request's system prompt: the context
// override (or the loop default), any system-role history lifted out of
// the message list, and the latest conversation summary. System content
// never travels in the message list itself.
func (t *Turn) composeSystem(ctx context.Context) string {
	var parts []string
	if system, ok := systemPromptFromContext(ctx); ok {
		parts = append(parts, system)
	} else if t.loop.defaultSystem != "" {
		parts = append(parts, t.loop.defaultSystem)
	}
	parts = append(parts, t.state.SystemParts...)
	if t.state.Summary != "" {
		parts = append(parts, "Conversation summary:\n"+t.state.Summary)
	}
	return strings.Join(parts, "\n\n")
}

// gateOutcome is one queued call's fate after gating: either a
// short-circuit result (denied, approval pending, dispatched async) or
// clearance to execute.
type gateOutcome struct {
	execute bool
	result  models.ToolResult
}

// ResolveTools gates and executes the turn's queued calls, returning
// results indexed like state.PendingTools (call-id order).
func (t *Turn) ResolveTools(ctx context.Context, session *models.Session, chunks chan<- *ResponseChunk) ([]models.ToolResult, error) {
	l := t.loop
	pending := t.state.PendingTools
	if len(pending) == 0 {
		return nil, nil
	}

	resolver, _, _ := toolPolicyFromContext(ctx)
	results := make([]models.ToolResult, len(pending))
	artifacts := make([][]Artifact, len(pending))
	var runnable []models.ToolCall
	var runnableIdx []int

	for i, tc := range pending {
		l.emitToolEvent(chunks, &models.ToolEvent{
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Stage:      models.ToolEventRequested,
			Input:      tc.Input,
		})

		outcome := t.gate(ctx, session, tc, chunks)
		if !outcome.execute {
			results[i] = outcome.result
			l.persistToolResult(ctx, session, t.state.AssistantMsgID, tc, outcome.result, resolver)
			continue
		}
		runnable = append(runnable, tc)
		runnableIdx = append(runnableIdx, i)
	}

	for _, idx := range runnableIdx {
		tc := pending[idx]
		l.emitToolEvent(chunks, &models.ToolEvent{
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Stage:      models.ToolEventStarted,
			StartedAt:  time.Now(),
		})
	}

	// Await all: every runnable call resolves or reports a typed error;
	// none of them can terminate the others.
	for i, r := range l.executor.ExecuteAll(ctx, runnable) {
		idx := runnableIdx[i]
		tc := pending[idx]
		results[idx], artifacts[idx] = t.fold(tc, r, chunks)
		l.persistToolResult(ctx, session, t.state.AssistantMsgID, tc, results[idx], resolver)
	}

	for i := range results {
		if results[i].ToolCallID == "" {
			results[i].ToolCallID = pending[i].ID
		}
	}

	if l.config.StreamToolResults {
		for i := range results {
			chunk := &ResponseChunk{ToolResult: &results[i]}
			if len(artifacts[i]) > 0 {
				chunk.Artifacts = artifacts[i]
			}
			chunks <- chunk
		}
	}
	return results, nil
}

// gate decides one call's fate before execution: policy check, approval
// check (with elevated bypass), then async-job dispatch.
func (t *Turn) gate(ctx context.Context, session *models.Session, tc models.ToolCall, chunks chan<- *ResponseChunk) gateOutcome {
	l := t.loop
	resolver, toolPolicy, hasPolicy := toolPolicyFromContext(ctx)
	elevated := ElevatedFromContext(ctx)

	deny := func(content string, stage models.ToolEventStage, reason string) gateOutcome {
		res := models.ToolResult{ToolCallID: tc.ID, Content: content, IsError: true}
		l.emitToolEvent(chunks, &models.ToolEvent{
			ToolCallID:   tc.ID,
			ToolName:     tc.Name,
			Stage:        stage,
			Error:        content,
			PolicyReason: reason,
			FinishedAt:   time.Now(),
		})
		return gateOutcome{result: res}
	}

	if hasPolicy && !resolver.IsAllowed(toolPolicy, tc.Name) {
		return deny("tool not allowed: "+tc.Name, models.ToolEventDenied, "tool not allowed by policy")
	}

	if checker := l.config.ApprovalChecker; checker != nil {
		decision, reason := checker.Check(ctx, session.AgentID, tc)
		if decision == ApprovalPending && elevated == ElevatedFull && matchesToolPatterns(l.config.ElevatedTools, tc.Name, resolver) {
			decision = ApprovalAllowed
		}
		switch decision {
		case ApprovalDenied:
			return deny("tool denied by approval policy: "+reason, models.ToolEventDenied, reason)
		case ApprovalPending:
			content := "approval required for tool: " + tc.Name
			if req, err := checker.CreateApprovalRequest(ctx, session.AgentID, session.ID, tc, reason); err == nil && req != nil {
				content = fmt.Sprintf("%s (id: %s)", content, req.ID)
			}
			return deny(content, models.ToolEventApprovalRequired, reason)
		}
	} else if matchesToolPatterns(l.config.RequireApproval, tc.Name, resolver) {
		if elevated != ElevatedFull || !matchesToolPatterns(l.config.ElevatedTools, tc.Name, resolver) {
			return deny("approval required for tool: "+tc.Name, models.ToolEventApprovalRequired, "")
		}
	}

	if l.isAsyncTool(tc.Name, resolver) && l.config.JobStore != nil {
		res := l.queueAsyncJob(tc)
		l.emitToolEvent(chunks, &models.ToolEvent{
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Stage:      models.ToolEventSucceeded,
			Output:     res.Content,
			FinishedAt: time.Now(),
		})
		return gateOutcome{result: res}
	}

	return gateOutcome{execute: true}
}

// fold converts one ExecutionResult into the history-facing ToolResult
// plus any artifacts, emitting the matching lifecycle event.
func (t *Turn) fold(tc models.ToolCall, r *ExecutionResult, chunks chan<- *ResponseChunk) (models.ToolResult, []Artifact) {
	l := t.loop
	switch {
	case r == nil:
		res := models.ToolResult{ToolCallID: tc.ID, Content: "tool execution failed", IsError: true}
		l.emitToolEvent(chunks, &models.ToolEvent{
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Stage:      models.ToolEventFailed,
			Error:      res.Content,
			FinishedAt: time.Now(),
		})
		return res, nil
	case r.Error != nil:
		res := models.ToolResult{ToolCallID: r.ToolCallID, Content: r.Error.Error(), IsError: true}
		l.emitToolEvent(chunks, &models.ToolEvent{
			ToolCallID: r.ToolCallID,
			ToolName:   tc.Name,
			Stage:      models.ToolEventFailed,
			Error:      res.Content,
			FinishedAt: time.Now(),
		})
		return res, nil
	case r.Result == nil:
		res := models.ToolResult{ToolCallID: tc.ID, Content: "tool execution failed", IsError: true}
		l.emitToolEvent(chunks, &models.ToolEvent{
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Stage:      models.ToolEventFailed,
			Error:      res.Content,
			FinishedAt: time.Now(),
		})
		return res, nil
	default:
		res := models.ToolResult{
			ToolCallID:  r.ToolCallID,
			Content:     r.Result.Content,
			IsError:     r.Result.IsError,
			Attachments: artifactsToAttachments(r.Result.Artifacts),
		}
		stage := models.ToolEventSucceeded
		if r.Result.IsError {
			stage = models.ToolEventFailed
		}
		l.emitToolEvent(chunks, &models.ToolEvent{
			ToolCallID: r.ToolCallID,
			ToolName:   tc.Name,
			Stage:      stage,
			Output:     r.Result.Content,
			FinishedAt: time.Now(),
		})
		return res, r.Result.Artifacts
	}
}
