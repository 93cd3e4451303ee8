package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/parrot/pkg/provider/embeddings"
)

// EmbeddingsFallback implements [embeddings.Provider] with failover across
// several hosts serving the same embedding model. Every backend must report
// the primary's model and vector length, otherwise stored and query vectors
// would be incomparable; a model change needs a re-embed, not a fallback.
type EmbeddingsFallback struct {
	group *FallbackGroup[embeddings.Provider]
	dims  int
	model string
}

var _ embeddings.Provider = (*EmbeddingsFallback)(nil)

// NewEmbeddingsFallback creates an [EmbeddingsFallback] with primary as the
// preferred backend.
func NewEmbeddingsFallback(primary embeddings.Provider, primaryName string, cfg FallbackConfig) *EmbeddingsFallback {
	return &EmbeddingsFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
		dims:  primary.Dimensions(),
		model: primary.ModelID(),
	}
}

// AddFallback registers an additional backend. It fails when the backend's
// vector length or model differs from the primary's.
func (f *EmbeddingsFallback) AddFallback(name string, provider embeddings.Provider) error {
	if d := provider.Dimensions(); d != f.dims {
		return fmt.Errorf("resilience: embeddings fallback %q has %d dimensions, primary has %d", name, d, f.dims)
	}
	if m := provider.ModelID(); m != f.model {
		return fmt.Errorf("resilience: embeddings fallback %q serves model %q, primary serves %q", name, m, f.model)
	}
	f.group.AddFallback(name, provider)
	return nil
}

// Embed returns the vector from the first healthy backend. An empty vector
// counts as a failure of that backend.
func (f *EmbeddingsFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(p embeddings.Provider) ([]float32, error) {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		if err := embeddings.Check(vec); err != nil {
			return nil, err
		}
		return vec, nil
	})
}

// EmbedBatch returns the vectors from the first healthy backend.
func (f *EmbeddingsFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions implements embeddings.Provider.
func (f *EmbeddingsFallback) Dimensions() int { return f.dims }

// ModelID returns the model shared by all backends.
func (f *EmbeddingsFallback) ModelID() string { return f.model }
