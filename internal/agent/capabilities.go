package agent

import "context"

// The interfaces below are optional provider capabilities. A provider
// advertises one by implementing it; callers feature-detect with a type
// assertion. Local-model runtimes (Ollama) implement the full model
// management set; a provider that cannot, simply doesn't.

// PullProgress is one progress event from a streaming model pull.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// ModelInfo is the metadata returned by a provider's show operation. The
// context engine seeds its profile table from ParameterSize, Quantisation,
// and ContextLength.
type ModelInfo struct {
	Name          string `json:"name"`
	Family        string `json:"family,omitempty"`
	ParameterSize string `json:"parameter_size,omitempty"`
	Quantisation  string `json:"quantization_level,omitempty"`
	ContextLength int    `json:"context_length,omitempty"`
}

// ModelLister lists the models the backing runtime currently has
// available, as opposed to Models() which may be a static default.
type ModelLister interface {
	ListModels(ctx context.Context) ([]Model, error)
}

// ModelPuller downloads a model into the backing runtime, reporting
// progress events as they stream in. A nil progress callback is allowed.
type ModelPuller interface {
	PullModel(ctx context.Context, model string, progress func(PullProgress)) error
}

// ModelDeleter removes a model from the backing runtime.
type ModelDeleter interface {
	DeleteModel(ctx context.Context, model string) error
}

// ModelShower fetches a model's metadata from the backing runtime.
type ModelShower interface {
	ShowModel(ctx context.Context, model string) (*ModelInfo, error)
}

// ProviderTokenCounter is implemented by providers whose API can count
// tokens exactly. The token counter consults it before falling back to
// its heuristic.
type ProviderTokenCounter interface {
	CountTokens(ctx context.Context, model, text string) (int, error)
}
