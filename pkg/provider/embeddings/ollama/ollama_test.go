package ollama_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/parrot/pkg/provider/embeddings"
	"github.com/MrWong99/parrot/pkg/provider/embeddings/ollama"
)

// embedServer answers /api/embed with the first len(input) vectors of responses.
func embedServer(t *testing.T, wantModel string, responses [][]float32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Model != wantModel {
			t.Errorf("model: got %q, want %q", req.Model, wantModel)
		}
		result := responses
		if len(result) > len(req.Input) {
			result = result[:len(req.Input)]
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": wantModel, "embeddings": result})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		opts     []ollama.Option
		wantDims int
		wantErr  bool
	}{
		{name: "empty model", model: "", wantErr: true},
		{name: "known model", model: "all-minilm", wantDims: 384},
		{name: "tagged known model", model: "nomic-embed-text:latest", wantDims: 768},
		{name: "unknown model", model: "my-embedder", wantErr: true},
		{name: "unknown model with dims", model: "my-embedder", opts: []ollama.Option{ollama.WithDimensions(42)}, wantDims: 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ollama.New("", tt.model, tt.opts...)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := p.Dimensions(); got != tt.wantDims {
				t.Errorf("Dimensions() = %d, want %d", got, tt.wantDims)
			}
		})
	}
}

func TestEmbed_Single(t *testing.T) {
	want := []float32{0.1, 0.2, 0.3, 0.4}
	srv := embedServer(t, "all-minilm", [][]float32{want})

	p, err := ollama.New(srv.URL+"/", "all-minilm")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.Embed(context.Background(), "why so serious?")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("length: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("vec[%d]: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEmbed_EmptyVector(t *testing.T) {
	srv := embedServer(t, "all-minilm", [][]float32{{}})
	p, err := ollama.New(srv.URL, "all-minilm")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Embed(context.Background(), "hello")
	if !errors.Is(err, embeddings.ErrEmptyVector) {
		t.Errorf("Embed error = %v, want ErrEmptyVector", err)
	}
}

func TestEmbed_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := ollama.New(srv.URL, "all-minilm")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestEmbedBatch(t *testing.T) {
	vecs := [][]float32{{0.1, 0.2}, {0.3, 0.4}, {0.5, 0.6}}
	srv := embedServer(t, "all-minilm", vecs)
	p, err := ollama.New(srv.URL, "all-minilm")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[2][1] != 0.6 {
		t.Errorf("got[2][1] = %v, want 0.6", got[2][1])
	}

	empty, err := p.EmbedBatch(context.Background(), nil)
	if err != nil || empty != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", empty, err)
	}
}

func TestEmbedBatch_CountMismatch(t *testing.T) {
	srv := embedServer(t, "all-minilm", [][]float32{{0.1}})
	p, err := ollama.New(srv.URL, "all-minilm")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error when server returns fewer vectors than inputs")
	}
}
