// Package tokens implements the runtime's token-counting contract: a
// provider-backed count when available, a character-based heuristic
// fallback otherwise, and a per-message cache that stays pure until the
// model multiplier changes.
package tokens

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CharsPerToken is the approximate character-to-token ratio used by the
// heuristic fallback, grounded on the same constant the compression engine
// uses for its own chunk-sizing estimates.
const CharsPerToken = 4

// PerToolCallTokens is the flat per-call overhead added by
// count_conversation for every tool call present in the conversation.
const PerToolCallTokens = 50

// ProviderCounter is the optional capability a provider may expose to count
// tokens exactly rather than via the heuristic. Providers that do not
// support it are simply absent (nil) from a Counter.
type ProviderCounter interface {
	CountTokens(ctx context.Context, model, text string) (int, error)
}

// CountEvent describes one completed count operation, for an optional
// metrics hook. It is informational only: nothing a hook does can change
// the count already returned to the caller.
type CountEvent struct {
	MessageID string
	Tokens    int
	FromCache bool
	Elapsed   time.Duration
}

// Message is the minimal shape count_conversation needs from a message: an
// id for cache lookups, content to count, and whether it carries tool
// calls (each adds a flat per-call charge).
type Message struct {
	ID            string
	Content       string
	ToolCallCount int
}

// Counter implements count/count_cached/count_conversation. A single type
// serves both the metered and unmetered use; MetricsHook is optional and
// purely observational.
type Counter struct {
	mu         sync.Mutex
	cache      map[string]int
	multiplier float64
	provider   ProviderCounter
	model      string

	// MetricsHook, if set, is invoked after every count is computed. It
	// must never be relied upon to change behavior.
	MetricsHook func(CountEvent)
}

// New creates a Counter with multiplier 1.0 (no adjustment) and no
// provider-backed counting.
func New() *Counter {
	return &Counter{cache: make(map[string]int), multiplier: 1.0}
}

// WithProvider attaches a provider capable of exact token counting for the
// given model; when absent, Count falls back to the character heuristic.
func (c *Counter) WithProvider(p ProviderCounter, model string) *Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider = p
	c.model = model
	return c
}

// SetMultiplier changes the per-model adjustment factor applied to raw
// counts. Changing it invalidates every cached count, since a prior count
// computed under the old multiplier is no longer valid.
func (c *Counter) SetMultiplier(m float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m == c.multiplier {
		return
	}
	c.multiplier = m
	c.cache = make(map[string]int)
}

// ClearCache discards all cached counts without changing the multiplier.
// Safe to call at any time; it only forces recomputation.
func (c *Counter) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]int)
}

// Count computes the token count for text, preferring the attached
// provider's exact count and falling back to ceil(len/4) scaled by the
// configured multiplier, rounded once at the end.
func (c *Counter) Count(ctx context.Context, text string) (int, error) {
	start := time.Now()
	c.mu.Lock()
	provider, model, multiplier := c.provider, c.model, c.multiplier
	c.mu.Unlock()

	var raw int
	if provider != nil {
		n, err := provider.CountTokens(ctx, model, text)
		if err != nil {
			return 0, fmt.Errorf("provider token count: %w", err)
		}
		raw = n
	} else {
		raw = heuristicTokens(text)
	}

	tokens := int(roundHalfAwayFromZero(float64(raw) * multiplier))
	if tokens < 0 {
		return 0, fmt.Errorf("invalid negative token count %d", tokens)
	}

	c.emitMetrics(CountEvent{Tokens: tokens, FromCache: false, Elapsed: time.Since(start)})
	return tokens, nil
}

// CountCached is the synchronous, cache-populating fallback: it never
// consults a provider, computing purely from the heuristic, and is stable
// for a given message id until the multiplier changes or the cache is
// cleared.
func (c *Counter) CountCached(messageID, text string) (int, error) {
	start := time.Now()
	c.mu.Lock()
	if cached, ok := c.cache[messageID]; ok {
		c.mu.Unlock()
		c.emitMetrics(CountEvent{MessageID: messageID, Tokens: cached, FromCache: true, Elapsed: time.Since(start)})
		return cached, nil
	}
	multiplier := c.multiplier
	c.mu.Unlock()

	raw := heuristicTokens(text)
	tokens := int(roundHalfAwayFromZero(float64(raw) * multiplier))
	if tokens < 0 {
		return 0, fmt.Errorf("invalid negative token count %d", tokens)
	}

	c.mu.Lock()
	c.cache[messageID] = tokens
	c.mu.Unlock()

	c.emitMetrics(CountEvent{MessageID: messageID, Tokens: tokens, FromCache: false, Elapsed: time.Since(start)})
	return tokens, nil
}

// CountConversation sums CountCached over every message plus
// PerToolCallTokens for each tool call present.
func (c *Counter) CountConversation(messages []Message) (int, error) {
	total := 0
	for _, m := range messages {
		n, err := c.CountCached(m.ID, m.Content)
		if err != nil {
			return 0, err
		}
		total += n
		total += m.ToolCallCount * PerToolCallTokens
	}
	return total, nil
}

func (c *Counter) emitMetrics(ev CountEvent) {
	if c.MetricsHook != nil {
		c.MetricsHook(ev)
	}
}

func heuristicTokens(text string) int {
	chars := len(text)
	return (chars + CharsPerToken - 1) / CharsPerToken
}

func roundHalfAwayFromZero(f float64) float64 {
	if f >= 0 {
		return float64(int64(f + 0.5))
	}
	return float64(int64(f - 0.5))
}
