package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ollm-core/agentcore/internal/compaction"
)

// ProviderSummarizer implements compaction.Summarizer on top of any
// LLMProvider, so the compression engine's summarize/hybrid strategies
// can run against the same local model the chat loop uses.
type ProviderSummarizer struct {
	provider LLMProvider
	model    string
}

var _ compaction.Summarizer = (*ProviderSummarizer)(nil)

// NewProviderSummarizer binds a provider and the model summaries run on.
// An empty model defers to the provider's default.
func NewProviderSummarizer(provider LLMProvider, model string) *ProviderSummarizer {
	return &ProviderSummarizer{provider: provider, model: model}
}

// GenerateSummary asks the model for a summary of the formatted
// conversation, draining the provider's stream into a single string.
func (s *ProviderSummarizer) GenerateSummary(ctx context.Context, messages []*compaction.Message, config *compaction.SummarizationConfig) (string, error) {
	if s.provider == nil {
		return "", fmt.Errorf("summarizer has no provider")
	}

	prompt := "Summarize the following conversation, preserving facts, decisions, and anything the participants would need to continue the work.\n"
	if config != nil && config.CustomInstructions != "" {
		prompt += config.CustomInstructions + "\n"
	}
	if config != nil && config.PreviousSummary != "" {
		prompt += "\nBuild on this prior summary:\n" + config.PreviousSummary + "\n"
	}
	prompt += "\nConversation:\n" + compaction.FormatMessagesForSummary(messages)

	model := s.model
	if config != nil && config.Model != "" {
		model = config.Model
	}
	maxTokens := 0
	if config != nil && config.ReserveTokens > 0 {
		maxTokens = config.ReserveTokens
	}

	chunks, err := s.provider.Complete(ctx, &CompletionRequest{
		Model:     model,
		Messages:  []CompletionMessage{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarize request: %w", err)
	}

	var b strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", fmt.Errorf("summarize stream: %w", chunk.Error)
		}
		b.WriteString(chunk.Text)
	}
	summary := strings.TrimSpace(b.String())
	if summary == "" {
		return compaction.DefaultSummaryFallback, nil
	}
	return summary, nil
}
