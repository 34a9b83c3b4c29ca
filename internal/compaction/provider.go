package compaction

import (
	"errors"
	"net"
	"strings"

	agentctx "github.com/ollm-core/agentcore/internal/context"
)

// CompressionUrgency classifies how close the current usage is to the
// compression trigger, for callers (e.g. a status bar) that want a
// coarser signal than the raw token numbers.
type CompressionUrgency string

const (
	UrgencyNone     CompressionUrgency = "none"
	UrgencyLow      CompressionUrgency = "low"
	UrgencyMedium   CompressionUrgency = "medium"
	UrgencyHigh     CompressionUrgency = "high"
	UrgencyCritical CompressionUrgency = "critical"
)

// ProviderErrorKind classifies a provider call failure so the chat client
// knows whether (and how) to retry.
type ProviderErrorKind string

const (
	// ProviderErrorContextOverflow means the provider rejected the request
	// because the context window was exceeded; compress, then retry once.
	ProviderErrorContextOverflow ProviderErrorKind = "context_overflow"
	// ProviderErrorConnection means a transient network failure; retry
	// without compressing.
	ProviderErrorConnection ProviderErrorKind = "connection_error"
	// ProviderErrorUnknown is not recovered locally.
	ProviderErrorUnknown ProviderErrorKind = "unknown"
)

// ProviderAwareAdapter looks up the precomputed effective context size for
// a (model, requested size) pair and derives compression triggers and
// urgency from current usage, and classifies provider errors for retry
// purposes. It never computes the 85% figure itself — that is the
// profile table's job (internal/context.ProfileTable).
type ProviderAwareAdapter struct {
	profiles *agentctx.ProfileTable
}

// NewProviderAwareAdapter wires the adapter to a profile table. Passing
// nil is valid; Lookup then falls back to ComputeEffectiveSize with a
// default quantisation, same as an empty table would.
func NewProviderAwareAdapter(profiles *agentctx.ProfileTable) *ProviderAwareAdapter {
	if profiles == nil {
		profiles = agentctx.NewProfileTable()
	}
	return &ProviderAwareAdapter{profiles: profiles}
}

// EffectiveContextSize returns the precomputed "ollama_context_size" for
// the given model and requested size.
func (a *ProviderAwareAdapter) EffectiveContextSize(model string, requestedSize int) int {
	return a.profiles.Lookup(model, requestedSize).EffectiveSize
}

// ShouldTrigger reports whether the compression trigger threshold (75% of
// limit minus the system prompt and the 1000-token safety margin) has
// been crossed for the given model/requested-size pair, delegating to the
// package-level ShouldCompress so the two surfaces never drift.
func (a *ProviderAwareAdapter) ShouldTrigger(current int, model string, requestedSize, systemPromptTokens int) bool {
	limit := a.EffectiveContextSize(model, requestedSize)
	return ShouldCompress(current, limit, systemPromptTokens)
}

// Urgency classifies current usage against limit into one of five bands.
// Bands below 75% (the trigger threshold) are UrgencyNone/Low; at and
// above the trigger they escalate to Medium/High/Critical.
func Urgency(current, limit int) CompressionUrgency {
	if limit <= 0 {
		return UrgencyNone
	}
	ratio := float64(current) / float64(limit)
	switch {
	case ratio >= 0.95:
		return UrgencyCritical
	case ratio >= 0.90:
		return UrgencyHigh
	case ratio >= 0.75:
		return UrgencyMedium
	case ratio >= 0.50:
		return UrgencyLow
	default:
		return UrgencyNone
	}
}

// ClassifyProviderError maps a provider call failure to a retry-relevant
// kind. Context-overflow detection is string-based because local LLM
// runtimes (ollama included) surface it as a plain-text error rather than
// a typed one; connection failures are detected via net.Error.
func ClassifyProviderError(err error) ProviderErrorKind {
	if err == nil {
		return ProviderErrorUnknown
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ProviderErrorConnection
	}
	if isContextOverflow(err.Error()) {
		return ProviderErrorContextOverflow
	}
	return ProviderErrorUnknown
}

var contextOverflowPhrases = []string{
	"context length",
	"context window",
	"exceeds the context",
	"too many tokens",
	"maximum context",
}

func isContextOverflow(msg string) bool {
	lower := strings.ToLower(msg)
	for _, phrase := range contextOverflowPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
