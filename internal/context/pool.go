package context

import (
	"sync"

	"github.com/ollm-core/agentcore/pkg/models"
)

// ResizeCallback is invoked when the pool wants to change the provider's
// active context size. The provider may refuse and return the size it is
// actually willing to run at; the pool adopts that value as its new target.
type ResizeCallback func(requestedTokens int) (acceptedTokens int)

// PoolStats is the real-time usage snapshot exposed by the context pool.
type PoolStats struct {
	UsedTokens      int
	AvailableTokens int
	TargetTokens    int
	Quantisation    models.Quantisation
}

// Pool sizes the active context window to fit available VRAM. Its target
// is recomputed on every VRAM sample; resizes beyond a hysteresis band are
// pushed to the provider through a callback rather than applied silently.
type Pool struct {
	mu sync.Mutex

	minSize, maxSize int
	reservedBuffer   uint64
	quant            models.Quantisation
	hysteresis       float64 // fraction of current target that must change before a resize fires

	target   int
	used     int
	onResize ResizeCallback
}

// NewPool creates a context pool clamped to [minSize, maxSize] tokens,
// sized from VRAM using the given quantisation's bytes-per-token figure.
func NewPool(minSize, maxSize int, quant models.Quantisation, onResize ResizeCallback) *Pool {
	return &Pool{
		minSize:        minSize,
		maxSize:        maxSize,
		reservedBuffer: vramReservedBuffer,
		quant:          quant,
		hysteresis:     0.10,
		onResize:       onResize,
	}
}

// clampTarget enforces the pool's configured bounds.
func (p *Pool) clampTarget(target int) int {
	if target < p.minSize {
		return p.minSize
	}
	if target > p.maxSize {
		return p.maxSize
	}
	return target
}

// OnVRAMReading recomputes the target size from a fresh memory reading
// and, if the change exceeds the hysteresis band, requests a resize from
// the provider. The provider's accepted size (which may be lower than
// requested) becomes the new target either way.
func (p *Pool) OnVRAMReading(reading MemoryReading) {
	if reading.Available <= p.reservedBuffer {
		p.applyResize(p.minSize)
		return
	}
	usable := reading.Available - p.reservedBuffer
	bytesPerToken := p.quant.BytesPerToken()
	if bytesPerToken <= 0 {
		bytesPerToken = 2
	}
	computed := int(float64(usable) / bytesPerToken)
	newTarget := p.clampTarget(computed)

	p.mu.Lock()
	current := p.target
	p.mu.Unlock()

	if current == 0 {
		p.applyResize(newTarget)
		return
	}

	delta := float64(newTarget-current) / float64(current)
	if delta < 0 {
		delta = -delta
	}
	if delta >= p.hysteresis {
		p.applyResize(newTarget)
	}
}

func (p *Pool) applyResize(requested int) {
	accepted := requested
	p.mu.Lock()
	cb := p.onResize
	p.mu.Unlock()
	if cb != nil {
		accepted = cb(requested)
	}
	accepted = p.clampTarget(accepted)

	p.mu.Lock()
	p.target = accepted
	p.mu.Unlock()
}

// SetUsed records the current token usage against the pool's target.
func (p *Pool) SetUsed(tokens int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.used = tokens
}

// Stats returns the pool's current usage snapshot.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	available := p.target - p.used
	if available < 0 {
		available = 0
	}
	return PoolStats{
		UsedTokens:      p.used,
		AvailableTokens: available,
		TargetTokens:    p.target,
		Quantisation:    p.quant,
	}
}

// Target returns the pool's current target token size.
func (p *Pool) Target() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}
