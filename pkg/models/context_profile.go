package models

// Quantisation identifies the numeric format a model's weights (and KV
// cache) are stored in, which determines the bytes-per-token figure used
// for VRAM-based context sizing.
type Quantisation string

const (
	QuantF16  Quantisation = "f16"
	QuantQ8_0 Quantisation = "q8_0"
	QuantQ4_0 Quantisation = "q4_0"
)

// BytesPerToken returns the approximate KV-cache bytes consumed per token
// for this quantisation. These are fixed constants, not computed.
func (q Quantisation) BytesPerToken() float64 {
	switch q {
	case QuantF16:
		return 2
	case QuantQ8_0:
		return 1
	case QuantQ4_0:
		return 0.5
	default:
		return 2
	}
}

// ContextProfile is a pre-computed row keyed by (model, requested size)
// giving the provider-specific effective context limit (the "85% value")
// and the quantisation used to size it. The runtime only looks this value
// up; it never recomputes the 85% figure dynamically.
type ContextProfile struct {
	Model         string       `json:"model"`
	RequestedSize int          `json:"requested_size"`
	EffectiveSize int          `json:"effective_size"`
	Quantisation  Quantisation `json:"quantisation"`
}
