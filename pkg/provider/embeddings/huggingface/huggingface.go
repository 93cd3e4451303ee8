// Package huggingface provides an embeddings provider backed by the Hugging
// Face Inference API feature-extraction pipeline.
//
// The default model is sentence-transformers/all-MiniLM-L6-v2, which yields
// mean-pooled 384-dimensional sentence vectors.
//
//	p, err := huggingface.New(os.Getenv("HF_API_KEY"), "")
//	vec, err := p.Embed(ctx, "what do you fear?")
package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/parrot/pkg/provider/embeddings"
)

const (
	// DefaultBaseURL is the serverless inference router.
	DefaultBaseURL = "https://router.huggingface.co/hf-inference"

	// DefaultModel is the sentence-transformers model used when none is set.
	DefaultModel = "sentence-transformers/all-MiniLM-L6-v2"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider against the Inference API.
// It is safe for concurrent use.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
}

type config struct {
	baseURL    string
	timeout    time.Duration
	dimensions int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL points the provider at a dedicated inference endpoint or a
// self-hosted text-embeddings-inference server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithDimensions sets the vector length for models other than the MiniLM family.
func WithDimensions(n int) Option {
	return func(c *config) { c.dimensions = n }
}

// New constructs a Provider. apiKey is sent as a bearer token and may be empty
// for self-hosted endpoints.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{baseURL: DefaultBaseURL}
	for _, o := range opts {
		o(cfg)
	}
	dims := cfg.dimensions
	if dims == 0 {
		dims = knownDimensions(model)
	}
	if dims <= 0 {
		return nil, fmt.Errorf("huggingface embeddings: unknown dimensions for model %q, set them explicitly", model)
	}
	return &Provider{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(cfg.baseURL, "/"),
		model:      model,
		dimensions: dims,
		httpClient: &http.Client{Timeout: cfg.timeout},
	}, nil
}

type featureRequest struct {
	Inputs  []string       `json:"inputs"`
	Options featureOptions `json:"options"`
}

type featureOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.call(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("huggingface embeddings: embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("huggingface embeddings: embed: %w", embeddings.ErrEmptyVector)
	}
	if err := embeddings.Check(vecs[0]); err != nil {
		return nil, fmt.Errorf("huggingface embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.call(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("huggingface embeddings: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("huggingface embeddings: embed batch: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.dimensions }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.model }

func (p *Provider) call(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(featureRequest{
		Inputs:  texts,
		Options: featureOptions{WaitForModel: true},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := p.baseURL + "/models/" + p.model + "/pipeline/feature-extraction"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var vecs [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vecs); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return vecs, nil
}

func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "minilm"):
		return 384
	case strings.Contains(lower, "all-mpnet-base"):
		return 768
	default:
		return 0
	}
}
