package context

import (
	"fmt"
	"sync"

	"github.com/ollm-core/agentcore/pkg/models"
)

// profileKey identifies one row of the static context-profile table.
type profileKey struct {
	model         string
	requestedSize int
}

// ProfileTable is a pre-computed lookup from (model, requested context
// size) to the provider's effective usable context (the "85% value") and
// the quantisation used to size it. Rows are computed once, ahead of
// time, and the runtime only ever reads from this table — it never
// recomputes the 85% figure on the request path.
type ProfileTable struct {
	mu   sync.RWMutex
	rows map[profileKey]models.ContextProfile
}

// NewProfileTable creates an empty table. Use Seed or Register to
// populate it before serving lookups.
func NewProfileTable() *ProfileTable {
	return &ProfileTable{rows: make(map[profileKey]models.ContextProfile)}
}

// Register adds or replaces one precomputed row.
func (t *ProfileTable) Register(p models.ContextProfile) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[profileKey{model: p.Model, requestedSize: p.RequestedSize}] = p
}

// Lookup returns the effective context profile for (model, requestedSize).
// A miss falls back to ComputeEffectiveSize against a default quantisation
// so unseen models still get a usable answer, but known combinations are
// always served from the precomputed table.
func (t *ProfileTable) Lookup(model string, requestedSize int) models.ContextProfile {
	t.mu.RLock()
	p, ok := t.rows[profileKey{model: model, requestedSize: requestedSize}]
	t.mu.RUnlock()
	if ok {
		return p
	}
	return models.ContextProfile{
		Model:         model,
		RequestedSize: requestedSize,
		EffectiveSize: ComputeEffectiveSize(requestedSize, models.QuantQ4_0),
		Quantisation:  models.QuantQ4_0,
	}
}

// EffectiveSizeRatio is the static "85% value" fraction: providers reserve
// the remainder of the requested context for special tokens, chat
// templates, and KV-cache rounding.
const EffectiveSizeRatio = 0.85

// ComputeEffectiveSize derives the usable context size from a requested
// size. This is the build-time computation used to populate table rows;
// it is never called from the request-serving path.
func ComputeEffectiveSize(requestedSize int, _ models.Quantisation) int {
	return int(float64(requestedSize) * EffectiveSizeRatio)
}

// DefaultProfileTable returns a table pre-seeded with the effective sizes
// for the context windows ollama commonly serves, across the three
// supported quantisations.
func DefaultProfileTable() *ProfileTable {
	t := NewProfileTable()
	sizes := []int{4096, 8192, 16384, 32768, 65536, 131072}
	quants := []models.Quantisation{models.QuantF16, models.QuantQ8_0, models.QuantQ4_0}
	for _, model := range defaultOllamaModels {
		for _, size := range sizes {
			for _, q := range quants {
				t.Register(models.ContextProfile{
					Model:         fmt.Sprintf("%s:%s", model, q),
					RequestedSize: size,
					EffectiveSize: ComputeEffectiveSize(size, q),
					Quantisation:  q,
				})
			}
		}
	}
	return t
}

// defaultOllamaModels is the seed list for DefaultProfileTable; it is not
// exhaustive and callers are expected to Register additional rows for
// models they actually serve.
var defaultOllamaModels = []string{
	"llama3.1",
	"llama3.2",
	"qwen2.5",
	"mistral",
	"phi3",
	"gemma2",
	"deepseek-coder-v2",
}
