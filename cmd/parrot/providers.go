package main

import (
	"context"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/parrot/internal/app"
	"github.com/MrWong99/parrot/internal/config"
	"github.com/MrWong99/parrot/internal/observe"
	"github.com/MrWong99/parrot/internal/resilience"
	"github.com/MrWong99/parrot/pkg/provider/embeddings"
	"github.com/MrWong99/parrot/pkg/provider/embeddings/cached"
	hfembed "github.com/MrWong99/parrot/pkg/provider/embeddings/huggingface"
	ollamaembed "github.com/MrWong99/parrot/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/parrot/pkg/provider/embeddings/openai"
	"github.com/MrWong99/parrot/pkg/provider/llm"
	"github.com/MrWong99/parrot/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/parrot/pkg/provider/llm/openai"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai talks to the API directly so base_url can point at any
	// OpenAI-compatible server.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// The rest share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "ollama",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if n := optInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, oaembed.WithDimensions(n))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if n := optInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, ollamaembed.WithDimensions(n))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("huggingface", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []hfembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, hfembed.WithBaseURL(entry.BaseURL))
		}
		if n := optInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, hfembed.WithDimensions(n))
		}
		return hfembed.New(entry.APIKey, entry.Model, opts...)
	})

	slog.Debug("registered providers", "llm", reg.LLMNames(), "embeddings", reg.EmbeddingsNames())
}

// buildProviders instantiates the providers named in cfg. Configured
// fallbacks are grouped behind per-provider circuit breakers, and embeddings
// are memoised when retrieval.embedding_cache_ttl is set.
func buildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*app.Providers, error) {
	pc := cfg.Providers
	if pc.LLM.Name == "" {
		return nil, fmt.Errorf("providers.llm is required")
	}
	if pc.Embeddings.Name == "" {
		return nil, fmt.Errorf("providers.embeddings is required")
	}

	// Breakers are named kind/provider, e.g. "llm/openai".
	fbCfg := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, _, to resilience.State) {
			m.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}}

	primaryLLM, err := reg.CreateLLM(pc.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", pc.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", pc.LLM.Name, "model", pc.LLM.Model)
	var model llm.Provider = primaryLLM
	if len(pc.LLMFallbacks) > 0 {
		group := resilience.NewLLMFallback(primaryLLM, "llm/"+pc.LLM.Name, fbCfg)
		for _, entry := range pc.LLMFallbacks {
			p, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
			}
			group.AddFallback("llm/"+entry.Name, p)
			slog.Info("provider created", "kind", "llm_fallback", "name", entry.Name, "model", entry.Model)
		}
		model = group
	}

	primaryEmb, err := reg.CreateEmbeddings(pc.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("create embeddings provider %q: %w", pc.Embeddings.Name, err)
	}
	slog.Info("provider created", "kind", "embeddings", "name", pc.Embeddings.Name,
		"model", primaryEmb.ModelID(), "dimensions", primaryEmb.Dimensions())
	if dims := cfg.Stores.EmbeddingDimensions; dims > 0 && dims != primaryEmb.Dimensions() {
		return nil, fmt.Errorf("embeddings provider %q produces %d dimensions, stores.embedding_dimensions is %d",
			pc.Embeddings.Name, primaryEmb.Dimensions(), dims)
	}
	var embedder embeddings.Provider = primaryEmb
	if len(pc.EmbeddingFallbacks) > 0 {
		group := resilience.NewEmbeddingsFallback(primaryEmb, "embeddings/"+pc.Embeddings.Name, fbCfg)
		for _, entry := range pc.EmbeddingFallbacks {
			p, err := reg.CreateEmbeddings(entry)
			if err != nil {
				return nil, fmt.Errorf("create embeddings fallback %q: %w", entry.Name, err)
			}
			if err := group.AddFallback("embeddings/"+entry.Name, p); err != nil {
				return nil, err
			}
			slog.Info("provider created", "kind", "embeddings_fallback", "name", entry.Name)
		}
		embedder = group
	}
	if ttl := cfg.Retrieval.EmbeddingCacheTTL; ttl > 0 {
		embedder = cached.New(embedder, ttl)
	}

	return &app.Providers{LLM: model, Embeddings: embedder}, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optInt extracts an integer from a provider Options map. YAML numbers decode
// as int; floats are truncated. Returns 0 when absent or not numeric.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
