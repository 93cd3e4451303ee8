// Package embeddings defines the Provider interface for text embedding backends.
//
// An embeddings provider maps a user message to a dense float32 vector. The
// dialogue cache embeds every incoming message once: the vector drives the
// similarity search and, on a cache miss, is stored alongside the generated
// line so later paraphrases of the same question can be served from cache.
//
// Implementations must be safe for concurrent use.
package embeddings

import (
	"context"
	"errors"
)

// ErrEmptyVector is returned when a backend answers with a zero-length vector.
// Callers must treat it like any other embedding failure.
var ErrEmptyVector = errors.New("embeddings: empty vector")

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by one Provider share the length reported by
// Dimensions. Vectors from different models must never be compared.
type Provider interface {
	// Embed computes the embedding vector for a single text. The text is sent
	// verbatim; no prefix or normalisation is applied.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for several texts in one backend call. The
	// i-th result corresponds to texts[i]. On error the whole result is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length produced by this provider.
	Dimensions() int

	// ModelID returns the backend model identifier, e.g. "all-MiniLM-L6-v2".
	ModelID() string
}

// Check returns ErrEmptyVector when vec is empty and nil otherwise.
func Check(vec []float32) error {
	if len(vec) == 0 {
		return ErrEmptyVector
	}
	return nil
}
