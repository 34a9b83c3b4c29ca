package compaction

import (
	"context"
	"fmt"
	"time"
)

// Strategy is one of the three compression approaches.
type Strategy string

const (
	// StrategyTruncate keeps the system prompt and tail window, drops
	// everything else. No LLM call.
	StrategyTruncate Strategy = "truncate"
	// StrategySummarize keeps the system prompt and tail window, and
	// replaces the middle with an injected summary assistant message.
	StrategySummarize Strategy = "summarize"
	// StrategyHybrid keeps the system prompt, a summary of the middle,
	// and the tail, and additionally drops anything before the head
	// window that summarization alone wouldn't fit.
	StrategyHybrid Strategy = "hybrid"
)

// TriggerRatio is the fraction of (limit - systemPromptTokens -
// safetyMarginTokens) at which compression is triggered.
const TriggerRatio = 0.75

// SafetyMarginTokens is subtracted from the usable budget before the
// trigger ratio is applied.
const SafetyMarginTokens = 1000

// ShouldCompress reports whether compression should trigger for the given
// current usage, limit, and system-prompt token cost.
func ShouldCompress(current, limit, systemPromptTokens int) bool {
	availableForMessages := limit - systemPromptTokens - SafetyMarginTokens
	if availableForMessages <= 0 {
		return current > 0
	}
	threshold := int(float64(availableForMessages) * TriggerRatio)
	return current > threshold
}

// CompressResult is the outcome of one compression pass.
type CompressResult struct {
	Messages        []*Message
	Strategy        Strategy
	TokensBefore    int
	TokensAfter     int
	DroppedMessages int
	Summary         string
	GoalUpdates     []string
}

// CompressionEngine runs one of the three strategies, coordinating the
// mode/goal-aware prompt adapters and enforcing the invariants required
// of every pass: the system prompt and tail window survive
// byte-identical, and the token count strictly decreases.
type CompressionEngine struct {
	summarizer Summarizer
	mode       *ModeAwareAdapter
	goal       *GoalAwareAdapter
}

// NewCompressionEngine wires a summarizer (used by Summarize/Hybrid; may
// be nil if only Truncate is ever used) and the mode/goal adapters. A nil
// goal adapter is treated as "no active goal" by GoalAwareAdapter itself.
func NewCompressionEngine(summarizer Summarizer, mode *ModeAwareAdapter, goal *GoalAwareAdapter) *CompressionEngine {
	if mode == nil {
		mode = NewModeAwareAdapter()
	}
	if goal == nil {
		goal = NewGoalAwareAdapter(nil)
	}
	return &CompressionEngine{summarizer: summarizer, mode: mode, goal: goal}
}

// Compress runs the requested strategy against messages, where
// messages[0] is assumed to be the system prompt and tailWindow is the
// count of most-recent messages (after the system prompt) that must
// survive untouched. It returns an error — never a partial or silently
// wrong result — if the goal-marker invariant would be violated.
func (e *CompressionEngine) Compress(ctx context.Context, messages []*Message, strategy Strategy, tailWindow int, mode Mode, level CompressionLevel, cfg *SummarizationConfig) (*CompressResult, error) {
	if len(messages) == 0 {
		return &CompressResult{Strategy: strategy}, nil
	}
	systemPrompt := messages[0]
	body := messages[1:]

	if err := e.goal.Verify(body); err != nil {
		return nil, err
	}

	tail := tailWindow
	if tail > len(body) {
		tail = len(body)
	}
	middle := body[:len(body)-tail]
	recent := body[len(body)-tail:]

	tokensBefore := EstimateMessagesTokens(messages)

	var result *CompressResult
	var err error
	switch strategy {
	case StrategyTruncate:
		result, err = e.truncate(systemPrompt, middle, recent)
	case StrategySummarize:
		result, err = e.summarize(ctx, systemPrompt, middle, recent, mode, level, cfg)
	case StrategyHybrid:
		result, err = e.hybrid(ctx, systemPrompt, middle, recent, mode, level, cfg)
	default:
		return nil, fmt.Errorf("compaction: unknown strategy %q", strategy)
	}
	if err != nil {
		return nil, err
	}

	result.Strategy = strategy
	result.TokensBefore = tokensBefore
	result.TokensAfter = EstimateMessagesTokens(result.Messages)
	result.DroppedMessages = len(middle)

	if err := e.assertInvariants(messages, result, systemPrompt, recent, tailWindow); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *CompressionEngine) truncate(systemPrompt *Message, middle, recent []*Message) (*CompressResult, error) {
	out := make([]*Message, 0, 1+len(recent))
	out = append(out, systemPrompt)
	out = append(out, recent...)
	return &CompressResult{Messages: out}, nil
}

func (e *CompressionEngine) summarize(ctx context.Context, systemPrompt *Message, middle, recent []*Message, mode Mode, level CompressionLevel, cfg *SummarizationConfig) (*CompressResult, error) {
	if len(middle) == 0 {
		return e.truncate(systemPrompt, middle, recent)
	}
	if e.summarizer == nil {
		return nil, fmt.Errorf("compaction: summarize strategy requires a non-nil Summarizer")
	}
	if cfg == nil {
		cfg = DefaultSummarizationConfig()
	}
	cfg = mergeCustomInstructions(cfg, e.mode.BuildPrompt(mode, level), e.goal.BuildPrompt())

	summary, err := SummarizeInStages(ctx, middle, e.summarizer, cfg)
	if err != nil {
		return nil, fmt.Errorf("summarize strategy: %w", err)
	}
	applied := e.goal.ApplySummary(summary, time.Now())
	summary = e.goal.StripMarkers(summary)

	summaryMsg := &Message{Role: "assistant", Content: summary}
	out := make([]*Message, 0, 2+len(recent))
	out = append(out, systemPrompt, summaryMsg)
	out = append(out, recent...)
	return &CompressResult{Messages: out, Summary: summary, GoalUpdates: applied}, nil
}

func (e *CompressionEngine) hybrid(ctx context.Context, systemPrompt *Message, middle, recent []*Message, mode Mode, level CompressionLevel, cfg *SummarizationConfig) (*CompressResult, error) {
	// Hybrid additionally drops anything before a head window within the
	// middle segment itself, so a very long history doesn't force an
	// oversized single summarization pass — the head is dropped outright
	// (truncate-style) and only the remainder is summarized.
	headDrop := len(middle) / 2
	if headDrop > 0 {
		middle = middle[headDrop:]
	}
	return e.summarize(ctx, systemPrompt, middle, recent, mode, level, cfg)
}

func mergeCustomInstructions(cfg *SummarizationConfig, extra ...string) *SummarizationConfig {
	merged := *cfg
	parts := []string{}
	if merged.CustomInstructions != "" {
		parts = append(parts, merged.CustomInstructions)
	}
	for _, e := range extra {
		if e != "" {
			parts = append(parts, e)
		}
	}
	joined := ""
	for i, p := range parts {
		if i > 0 {
			joined += "\n\n"
		}
		joined += p
	}
	merged.CustomInstructions = joined
	return &merged
}

// assertInvariants enforces the post-compression checks: token count
// strictly decreased (unless there was nothing to drop), and the tail
// window is byte-identical to the input. It panics on violation — these
// are invariant violations, not retryable semantic errors.
func (e *CompressionEngine) assertInvariants(input []*Message, result *CompressResult, systemPrompt *Message, recent []*Message, tailWindow int) error {
	if len(result.Messages) == 0 || result.Messages[0] != systemPrompt {
		panic("compaction: system prompt not first in compressed output")
	}
	got := result.Messages[len(result.Messages)-len(recent):]
	for i := range recent {
		if got[i] != recent[i] {
			panic(fmt.Sprintf("compaction: tail message %d not byte-identical after compression", i))
		}
	}
	if len(input) > 1+tailWindow && result.TokensAfter >= result.TokensBefore {
		panic("compaction: token count did not decrease after compression")
	}
	return nil
}
