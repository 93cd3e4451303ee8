// Package cached wraps an embeddings.Provider with an in-process TTL cache.
//
// Users tend to repeat themselves, and an identical message always maps to the
// same vector, so a short-lived memo saves a round trip to the backend on
// every repeat. Only successful, non-empty results are cached.
package cached

import (
	"context"
	"slices"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/MrWong99/parrot/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider memoises Embed results of an inner provider.
type Provider struct {
	inner embeddings.Provider
	cache *cache.Cache
}

// New wraps inner. Entries expire after ttl; expired entries are purged every
// ttl/2. A ttl <= 0 panics, callers should skip wrapping instead.
func New(inner embeddings.Provider, ttl time.Duration) *Provider {
	if ttl <= 0 {
		panic("cached: ttl must be positive")
	}
	return &Provider{
		inner: inner,
		cache: cache.New(ttl, ttl/2),
	}
}

func (p *Provider) key(text string) string {
	return p.inner.ModelID() + "\x00" + text
}

// Embed returns the cached vector for text or asks the inner provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	k := p.key(text)
	if v, found := p.cache.Get(k); found {
		return slices.Clone(v.([]float32)), nil
	}
	vec, err := p.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) > 0 {
		p.cache.Set(k, slices.Clone(vec), cache.DefaultExpiration)
	}
	return vec, nil
}

// EmbedBatch resolves cached texts locally and forwards only the misses.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if v, found := p.cache.Get(p.key(t)); found {
			out[i] = slices.Clone(v.([]float32))
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := p.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, vec := range vecs {
		out[missIdx[j]] = vec
		if len(vec) > 0 {
			p.cache.Set(p.key(missTexts[j]), slices.Clone(vec), cache.DefaultExpiration)
		}
	}
	return out, nil
}

// Dimensions delegates to the inner provider.
func (p *Provider) Dimensions() int { return p.inner.Dimensions() }

// ModelID delegates to the inner provider.
func (p *Provider) ModelID() string { return p.inner.ModelID() }

// Len reports the number of cached vectors, including expired but not yet
// purged ones.
func (p *Provider) Len() int { return p.cache.ItemCount() }
