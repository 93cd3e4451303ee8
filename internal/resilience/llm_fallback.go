package resilience

import (
	"context"

	"github.com/MrWong99/parrot/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across several LLM
// backends, each behind its own circuit breaker.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional LLM provider.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in failover order.
func (f *LLMFallback) Names() []string { return f.group.Names() }

// Complete sends req to the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Capabilities reports the smallest limits across all backends so a request
// sized for them fits whichever backend ends up serving it.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	caps := f.group.entries[0].value.Capabilities()
	for _, e := range f.group.entries[1:] {
		c := e.value.Capabilities()
		if c.ContextWindow > 0 && c.ContextWindow < caps.ContextWindow {
			caps.ContextWindow = c.ContextWindow
		}
		if c.MaxOutputTokens > 0 && c.MaxOutputTokens < caps.MaxOutputTokens {
			caps.MaxOutputTokens = c.MaxOutputTokens
		}
	}
	return caps
}
