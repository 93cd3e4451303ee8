package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/parrot/internal/generate"
	"github.com/MrWong99/parrot/internal/observe"
	"github.com/MrWong99/parrot/internal/persona"
	"github.com/MrWong99/parrot/internal/resilience"
	"github.com/MrWong99/parrot/internal/writeback"
	"github.com/MrWong99/parrot/pkg/dialogue"
	"github.com/MrWong99/parrot/pkg/dialogue/memstore"
	"github.com/MrWong99/parrot/pkg/dialogue/mock"
	embmock "github.com/MrWong99/parrot/pkg/provider/embeddings/mock"
	"github.com/MrWong99/parrot/pkg/provider/llm"
	llmmock "github.com/MrWong99/parrot/pkg/provider/llm/mock"
)

// fakeGenerator records calls and returns a canned reply.
type fakeGenerator struct {
	mu    sync.Mutex
	text  string
	err   error
	calls []string
}

func (g *fakeGenerator) Generate(_ context.Context, character, userMessage string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, character+"|"+userMessage)
	return g.text, g.err
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// recordingWriter captures entries instead of persisting them.
type recordingWriter struct {
	mu      sync.Mutex
	entries []writeback.Entry
}

func (w *recordingWriter) CommitAsync(_ context.Context, e writeback.Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, e)
}

func (w *recordingWriter) all() []writeback.Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]writeback.Entry(nil), w.entries...)
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

type fixture struct {
	lex    *mock.LexicalStore
	vec    *mock.VectorStore
	emb    *embmock.Provider
	gen    *fakeGenerator
	writer *recordingWriter
	orch   *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		lex:    &mock.LexicalStore{},
		vec:    &mock.VectorStore{},
		emb:    &embmock.Provider{EmbedResult: []float32{0.1, 0.2, 0.3}, DimensionsValue: 3, ModelIDValue: "test-embed"},
		gen:    &fakeGenerator{text: "Why so serious?"},
		writer: &recordingWriter{},
	}
	o, err := New(Deps{
		Lexical:   f.lex,
		Vectors:   f.vec,
		Embedder:  f.emb,
		Generator: f.gen,
		Writer:    f.writer,
	}, WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.orch = o
	return f
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	if err == nil {
		t.Fatal("expected error for empty deps")
	}
	for _, want := range []string{"lexical", "vector", "embedder", "generator", "writer"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestRespond_LexicalHitSkipsEmbedding(t *testing.T) {
	f := newFixture(t)
	f.lex.FindOK = true
	f.lex.FindRecord = dialogue.Record{Character: "joker", UserMessage: "tell me a joke", Dialogue: "HAHA"}

	reply, err := f.orch.Respond(context.Background(), "Joker", "tell me a joke")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.Source != dialogue.SourceExact || reply.Text != "HAHA" {
		t.Errorf("reply = %+v, want exact HAHA", reply)
	}
	if got := f.emb.CallCount(); got != 0 {
		t.Errorf("embed calls = %d, want 0", got)
	}
	if len(f.vec.SearchCalls) != 0 {
		t.Errorf("vector searches = %d, want 0", len(f.vec.SearchCalls))
	}
	if f.gen.callCount() != 0 {
		t.Error("generator called on lexical hit")
	}
	if len(f.writer.all()) != 0 {
		t.Error("write-back issued on lexical hit")
	}
	if f.lex.FindCalls[0].Character != "joker" {
		t.Errorf("lexical lookup character = %q, want normalised", f.lex.FindCalls[0].Character)
	}
}

func TestRespond_VectorHit(t *testing.T) {
	f := newFixture(t)
	f.vec.SearchResult = []dialogue.Match{
		match("a joke", "too short", 0.01),
		match("tell me a joke pls", "Here's a good one", 0.1),
		match("tell me a joke", "second best", 0.2),
	}

	reply, err := f.orch.Respond(context.Background(), "joker", "tell me a joke")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.Source != dialogue.SourceCache {
		t.Errorf("source = %q, want cache", reply.Source)
	}
	if reply.Text != "Here's a good one" {
		t.Errorf("text = %q, want top surviving candidate", reply.Text)
	}
	if f.gen.callCount() != 0 {
		t.Error("generator called on cache hit")
	}
	call := f.vec.SearchCalls[0]
	if call.Limit != DefaultLimit || call.MaxDistance != DefaultMaxDistance || call.Character != "joker" {
		t.Errorf("search call = %+v", call)
	}
}

func TestRespond_AllCandidatesFiltered(t *testing.T) {
	f := newFixture(t)
	f.vec.SearchResult = []dialogue.Match{
		match("hi", "greeting", 0.01),
		match(strings.Repeat("monologue ", 20), "speech", 0.02),
	}

	reply, err := f.orch.Respond(context.Background(), "joker", "tell me a joke")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.Source != dialogue.SourceAI || reply.Text != "Why so serious?" {
		t.Errorf("reply = %+v, want generated", reply)
	}
	entries := f.writer.all()
	if len(entries) != 1 {
		t.Fatalf("write-backs = %d, want 1", len(entries))
	}
	if len(entries[0].Embedding) != 3 {
		t.Errorf("write-back embedding = %v, want query vector reused", entries[0].Embedding)
	}
}

func TestRespond_DegradedStages(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(f *fixture)
		wantSearches int
		wantEmbedded bool
	}{
		{
			name:         "lexical store error is a miss",
			setup:        func(f *fixture) { f.lex.FindErr = errors.New("mongo down") },
			wantSearches: 1,
			wantEmbedded: true,
		},
		{
			name:         "embedding error skips vector stage",
			setup:        func(f *fixture) { f.emb.EmbedErr = errors.New("quota") },
			wantSearches: 0,
		},
		{
			name:         "empty embedding skips vector stage",
			setup:        func(f *fixture) { f.emb.EmbedResult = []float32{} },
			wantSearches: 0,
		},
		{
			name:         "vector store error is a miss",
			setup:        func(f *fixture) { f.vec.SearchErr = errors.New("pg down") },
			wantSearches: 1,
			wantEmbedded: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tc.setup(f)

			reply, err := f.orch.Respond(context.Background(), "joker", "tell me a joke")
			if err != nil {
				t.Fatalf("Respond: %v", err)
			}
			if reply.Source != dialogue.SourceAI {
				t.Errorf("source = %q, want ai", reply.Source)
			}
			if got := len(f.vec.SearchCalls); got != tc.wantSearches {
				t.Errorf("vector searches = %d, want %d", got, tc.wantSearches)
			}
			entries := f.writer.all()
			if len(entries) != 1 {
				t.Fatalf("write-backs = %d, want 1", len(entries))
			}
			if got := len(entries[0].Embedding) > 0; got != tc.wantEmbedded {
				t.Errorf("write-back carries embedding = %v, want %v", got, tc.wantEmbedded)
			}
		})
	}
}

func TestRespond_GenerationFailureIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.gen.err = errors.New("upstream 503")

	_, err := f.orch.Respond(context.Background(), "joker", "tell me a joke")
	if !errors.Is(err, dialogue.ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
	if len(f.writer.all()) != 0 {
		t.Error("write-back issued after generation failure")
	}
}

func TestRespond_Validation(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct{ character, message string }{
		{"", "hi"},
		{"joker", "   "},
	} {
		_, err := f.orch.Respond(context.Background(), tc.character, tc.message)
		if !errors.Is(err, dialogue.ErrValidation) {
			t.Errorf("Respond(%q, %q) err = %v, want ErrValidation", tc.character, tc.message, err)
		}
	}
	if len(f.lex.FindCalls) != 0 {
		t.Error("invalid input reached the lexical store")
	}
}

func TestRespond_StageTimeout(t *testing.T) {
	f := newFixture(t)
	f.gen.text = "fresh"
	slow := &slowVectors{VectorStore: f.vec}
	o, err := New(Deps{
		Lexical: f.lex, Vectors: slow, Embedder: f.emb, Generator: f.gen, Writer: f.writer,
	}, WithMetrics(testMetrics(t)), WithTimeouts(0, 0, 10*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	reply, err := o.Respond(context.Background(), "joker", "tell me a joke")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.Source != dialogue.SourceAI {
		t.Errorf("source = %q, want ai after vector timeout", reply.Source)
	}
}

// slowVectors blocks until the stage deadline expires.
type slowVectors struct {
	*mock.VectorStore
}

func (s *slowVectors) SearchSimilar(ctx context.Context, _ string, _ []float32, _ int, _ float64) ([]dialogue.Match, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// newPipeline wires the real generator and writer over in-memory stores.
func newPipeline(t *testing.T, llmp *llmmock.Provider) (*Orchestrator, *memstore.Lexical, *memstore.Vector, *writeback.Writer) {
	t.Helper()
	m := testMetrics(t)
	lex := memstore.NewLexical()
	vec := memstore.NewVector()
	emb := &embmock.Provider{
		DimensionsValue: 3,
		EmbedFunc: func(text string) []float32 {
			return []float32{float32(len(text)), 1, 0}
		},
	}
	w := writeback.New(lex, vec, emb,
		writeback.WithMetrics(m),
		writeback.WithRetryPolicy(resilience.RetryPolicy{MaxAttempts: 1}),
	)
	o, err := New(Deps{
		Lexical:   lex,
		Vectors:   vec,
		Embedder:  emb,
		Generator: generate.New(llmp, persona.NewTable()),
		Writer:    w,
	}, WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o, lex, vec, w
}

func TestRespond_JokerEndToEnd(t *testing.T) {
	llmp := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  Why so serious?  "}}
	o, lex, vec, w := newPipeline(t, llmp)
	ctx := context.Background()

	first, err := o.Respond(ctx, "Joker", "tell me a joke")
	if err != nil {
		t.Fatalf("first Respond: %v", err)
	}
	if first.Source != dialogue.SourceAI || first.Text != "Why so serious?" {
		t.Fatalf("first reply = %+v, want ai 'Why so serious?'", first)
	}
	calls := llmp.Calls()
	if len(calls) != 1 {
		t.Fatalf("llm calls = %d, want 1", len(calls))
	}
	if !strings.Contains(calls[0].Req.SystemPrompt, "You are the Joker") {
		t.Errorf("system prompt = %q, want Joker persona", calls[0].Req.SystemPrompt)
	}

	if err := w.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	rec, ok, err := lex.FindByCharacterAndMessage(ctx, "joker", "tell me a joke")
	if err != nil || !ok {
		t.Fatalf("lexical record missing: ok=%v err=%v", ok, err)
	}
	if rec.Dialogue != first.Text || rec.Character != "joker" {
		t.Errorf("lexical record = %+v", rec)
	}
	if vec.Len() != 1 {
		t.Errorf("vector records = %d, want 1", vec.Len())
	}

	second, err := o.Respond(ctx, "Joker", "tell me a joke")
	if err != nil {
		t.Fatalf("second Respond: %v", err)
	}
	if second.Source != dialogue.SourceExact || second.Text != first.Text {
		t.Errorf("second reply = %+v, want exact %q", second, first.Text)
	}
	if got := len(llmp.Calls()); got != 1 {
		t.Errorf("llm calls after repeat = %d, want 1", got)
	}
}

func TestRespond_CharacterNormalisation(t *testing.T) {
	ctx := context.Background()
	lex := memstore.NewLexical()
	rec, err := dialogue.NewRecord("Iron Man", "who are you", "I am Iron Man.", nil)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	if err := lex.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	o, err := New(Deps{
		Lexical:   lex,
		Vectors:   &mock.VectorStore{},
		Embedder:  &embmock.Provider{EmbedResult: []float32{1}},
		Generator: &fakeGenerator{text: "unused"},
		Writer:    &recordingWriter{},
	}, WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, name := range []string{"iron man", "IRON  MAN", " Iron Man "} {
		reply, err := o.Respond(ctx, name, "who are you")
		if err != nil {
			t.Fatalf("Respond(%q): %v", name, err)
		}
		if reply.Source != dialogue.SourceExact || reply.Text != "I am Iron Man." {
			t.Errorf("Respond(%q) = %+v, want exact hit", name, reply)
		}
	}
}
