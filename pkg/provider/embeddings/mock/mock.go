// Package mock provides a test double for the embeddings.Provider interface.
//
// Example:
//
//	p := &mock.Provider{
//	    EmbedResult:     []float32{0.1, 0.2, 0.3},
//	    DimensionsValue: 3,
//	}
//	vec, _ := p.Embed(ctx, "why so serious?")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parrot/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// EmbedResult is returned by Embed.
	EmbedResult []float32

	// EmbedFunc, if set, takes precedence over EmbedResult and lets a test
	// return a different vector per text.
	EmbedFunc func(text string) []float32

	// EmbedErr, if non-nil, is returned as the error from Embed and EmbedBatch.
	EmbedErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// --- Call records ---

	// EmbedCalls records the text of every call to Embed in order.
	EmbedCalls []string

	// EmbedBatchCalls records a copy of the texts of every EmbedBatch call.
	EmbedBatchCalls [][]string
}

func (p *Provider) vector(text string) []float32 {
	if p.EmbedFunc != nil {
		return p.EmbedFunc(text)
	}
	return p.EmbedResult
}

// Embed records the call and returns the configured vector or EmbedErr.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.vector(text), nil
}

// EmbedBatch records the call and returns one configured vector per text.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, append([]string(nil), texts...))
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int { return p.DimensionsValue }

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string { return p.ModelIDValue }

// CallCount returns the number of Embed calls so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EmbedCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
	p.EmbedBatchCalls = nil
}

var _ embeddings.Provider = (*Provider)(nil)
