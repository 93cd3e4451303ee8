package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/parrot/pkg/provider/llm"
)

func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model string
		want  llm.ModelCapabilities
	}{
		{"gpt-4o-mini", llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384}},
		{"GPT-4o", llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384}},
		{"gpt-3.5-turbo", llm.ModelCapabilities{ContextWindow: 16_385, MaxOutputTokens: 4_096}},
		{"claude-3-opus-20240229", llm.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 4_096}},
		{"claude-3-5-haiku-latest", llm.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 8_192}},
		{"gemini-1.5-pro", llm.ModelCapabilities{ContextWindow: 2_097_152, MaxOutputTokens: 8_192}},
		{"gemini-2.0-flash", llm.ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192}},
		{"llama3", llm.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 2_048}},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := modelCapabilities(tt.model); got != tt.want {
				t.Errorf("modelCapabilities(%q) = %+v, want %+v", tt.model, got, tt.want)
			}
		})
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		model    string
	}{
		{"empty provider", "", "gpt-4o"},
		{"empty model", "openai", ""},
		{"unsupported provider", "fakecloud", "some-model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.provider, tt.model, anyllmlib.WithAPIKey("dummy")); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_Backends(t *testing.T) {
	tests := []struct {
		name string
		fn   func() (*Provider, error)
	}{
		{"openai", func() (*Provider, error) { return New("OpenAI", "gpt-4o", anyllmlib.WithAPIKey("sk-test")) }},
		{"anthropic", func() (*Provider, error) {
			return NewAnthropic("claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-test"))
		}},
		{"ollama", func() (*Provider, error) { return NewOllama("llama3") }},
		{"llamacpp", func() (*Provider, error) { return New("llamacpp", "llama3") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.fn()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.name != tt.name {
				t.Errorf("name = %q, want %q", p.name, tt.name)
			}
		})
	}
}

func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestBuildParams(t *testing.T) {
	p := &Provider{model: "llama3"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are the Joker.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Why so serious?"}},
		Temperature:  0.9,
		MaxTokens:    150,
	})
	if params.Model != "llama3" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first role = %q, want system", params.Messages[0].Role)
	}
	if params.Temperature == nil || *params.Temperature != 0.9 {
		t.Errorf("Temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 150 {
		t.Errorf("MaxTokens = %v", params.MaxTokens)
	}

	bare := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	if len(bare.Messages) != 1 || bare.Temperature != nil || bare.MaxTokens != nil {
		t.Errorf("zero-valued request should omit optional fields: %+v", bare)
	}
}
