// Package orchestrator implements the retrieval pipeline that answers a user
// message addressed to a character.
//
// A request moves through an explicit state machine:
//
//	LexicalLookup -> VectorLookup -> Filter -> (Hit | Generate) -> WriteBack -> Respond
//
// Each failure kind has exactly one transition. A lexical or vector store
// error counts as a miss for that stage. An embedding error skips the vector
// stage and goes to generation. A generation error ends the request. A write
// error is only logged, and the write is issued in the background so the
// reply never waits on persistence.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/parrot/internal/observe"
	"github.com/MrWong99/parrot/internal/writeback"
	"github.com/MrWong99/parrot/pkg/dialogue"
	"github.com/MrWong99/parrot/pkg/provider/embeddings"
)

// Defaults applied by [New].
const (
	DefaultLimit          = 5
	DefaultMaxDistance    = 0.35
	DefaultLexicalTimeout = 2 * time.Second
	DefaultEmbedTimeout   = 5 * time.Second
	DefaultVectorTimeout  = 3 * time.Second
)

// State is a step of the retrieval state machine.
type State string

const (
	StateLexicalLookup State = "lexical_lookup"
	StateVectorLookup  State = "vector_lookup"
	StateFilter        State = "filter"
	StateGenerate      State = "generate"
	StateWriteBack     State = "write_back"
	StateRespond       State = "respond"
)

// Reply is the outcome of a successful request.
type Reply struct {
	Text   string
	Source dialogue.Source
}

// Generator produces a fresh line for character.
type Generator interface {
	Generate(ctx context.Context, character, userMessage string) (string, error)
}

// Committer persists a resolved exchange without blocking the caller.
type Committer interface {
	CommitAsync(ctx context.Context, e writeback.Entry)
}

// Deps are the collaborators of an [Orchestrator]. All fields are required.
type Deps struct {
	Lexical   dialogue.LexicalStore
	Vectors   dialogue.VectorStore
	Embedder  embeddings.Provider
	Generator Generator
	Writer    Committer
}

func (d Deps) validate() error {
	var errs []error
	if d.Lexical == nil {
		errs = append(errs, errors.New("lexical store is required"))
	}
	if d.Vectors == nil {
		errs = append(errs, errors.New("vector store is required"))
	}
	if d.Embedder == nil {
		errs = append(errs, errors.New("embedder is required"))
	}
	if d.Generator == nil {
		errs = append(errs, errors.New("generator is required"))
	}
	if d.Writer == nil {
		errs = append(errs, errors.New("writer is required"))
	}
	return errors.Join(errs...)
}

// Option is a functional option for configuring an [Orchestrator].
type Option func(*Orchestrator)

// WithLimit sets how many vector candidates are fetched. Default: 5.
func WithLimit(n int) Option {
	return func(o *Orchestrator) { o.limit = n }
}

// WithMaxDistance sets the cosine distance bound for vector hits.
// Default: 0.35.
func WithMaxDistance(d float64) Option {
	return func(o *Orchestrator) { o.maxDistance = d }
}

// WithMinLengthRatio sets the candidate length-ratio floor. Default: 0.5.
func WithMinLengthRatio(r float64) Option {
	return func(o *Orchestrator) { o.minRatio = r }
}

// WithTimeouts sets the per-stage timeouts. A zero value keeps the default.
func WithTimeouts(lexical, embed, vector time.Duration) Option {
	return func(o *Orchestrator) {
		if lexical > 0 {
			o.lexicalTimeout = lexical
		}
		if embed > 0 {
			o.embedTimeout = embed
		}
		if vector > 0 {
			o.vectorTimeout = vector
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator runs the retrieval pipeline. It holds no per-request state and
// is safe for concurrent use.
type Orchestrator struct {
	deps           Deps
	limit          int
	maxDistance    float64
	minRatio       float64
	lexicalTimeout time.Duration
	embedTimeout   time.Duration
	vectorTimeout  time.Duration
	metrics        *observe.Metrics
}

// New returns an Orchestrator or an error when a collaborator is missing.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, errors.Join(errors.New("orchestrator: invalid dependencies"), err)
	}
	o := &Orchestrator{
		deps:           deps,
		limit:          DefaultLimit,
		maxDistance:    DefaultMaxDistance,
		minRatio:       DefaultMinLengthRatio,
		lexicalTimeout: DefaultLexicalTimeout,
		embedTimeout:   DefaultEmbedTimeout,
		vectorTimeout:  DefaultVectorTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o, nil
}

// request is the per-call state carried between transitions.
type request struct {
	name       string // as the user wrote it, for persona interpolation
	character  string // normalised
	message    string
	embedding  []float32
	candidates []dialogue.Match
	reply      Reply
	log        *slog.Logger
}

// Respond answers userMessage as character. The only error kinds returned
// are [dialogue.ErrValidation] for empty input and [dialogue.ErrGeneration]
// when nothing was cached and the model failed.
func (o *Orchestrator) Respond(ctx context.Context, character, userMessage string) (Reply, error) {
	ctx, span := observe.StartSpan(ctx, "orchestrator.Respond")
	defer span.End()

	req := &request{
		name:      strings.Join(strings.Fields(character), " "),
		character: dialogue.NormalizeCharacter(character),
		message:   strings.TrimSpace(userMessage),
	}
	if req.character == "" || req.message == "" {
		err := dialogue.Wrap(dialogue.ErrValidation, "orchestrator.respond",
			errors.New("character and user message are required"))
		span.SetStatus(codes.Error, err.Error())
		return Reply{}, err
	}
	req.log = observe.Logger(ctx).With("character", req.character)
	span.SetAttributes(attribute.String("parrot.character", req.character))

	state := StateLexicalLookup
	for state != StateRespond {
		next, err := o.step(ctx, state, req)
		if err != nil {
			o.metrics.RecordChatFailure(ctx, kindLabel(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Reply{}, err
		}
		req.log.Debug("orchestrator: transition", "from", string(state), "to", string(next))
		state = next
	}

	span.SetAttributes(attribute.String("parrot.source", string(req.reply.Source)))
	o.metrics.RecordChat(ctx, string(req.reply.Source))
	req.log.Debug("orchestrator: responding", "source", string(req.reply.Source))
	return req.reply, nil
}

// step executes state and returns the next one.
func (o *Orchestrator) step(ctx context.Context, state State, req *request) (State, error) {
	switch state {
	case StateLexicalLookup:
		if rec, ok := o.lexicalLookup(ctx, req); ok {
			req.reply = Reply{Text: rec.Dialogue, Source: dialogue.SourceExact}
			return StateRespond, nil
		}
		return StateVectorLookup, nil

	case StateVectorLookup:
		emb, err := o.embed(ctx, req)
		if err != nil {
			req.log.Warn("orchestrator: embedding failed, falling back to generation", "error", err)
			return StateGenerate, nil
		}
		req.embedding = emb
		req.candidates = o.vectorLookup(ctx, req)
		return StateFilter, nil

	case StateFilter:
		kept := FilterCandidates(req.candidates, req.message, o.minRatio)
		best, ok := Best(kept)
		if !ok {
			if len(req.candidates) > 0 {
				req.log.Debug("orchestrator: all candidates rejected by length ratio",
					"candidates", len(req.candidates))
			}
			return StateGenerate, nil
		}
		req.log.Debug("orchestrator: cache hit",
			"distance", best.Distance,
			"candidates", len(req.candidates),
			"kept", len(kept))
		req.reply = Reply{Text: best.Record.Dialogue, Source: dialogue.SourceCache}
		return StateRespond, nil

	case StateGenerate:
		start := time.Now()
		text, err := o.deps.Generator.Generate(ctx, req.name, req.message)
		if err != nil {
			o.metrics.RecordStage(ctx, observe.StageGenerate, "error", time.Since(start))
			req.log.Error("orchestrator: generation failed", "error", err)
			if !errors.Is(err, dialogue.ErrGeneration) {
				err = dialogue.Wrap(dialogue.ErrGeneration, "orchestrator.generate", err)
			}
			return "", err
		}
		o.metrics.RecordStage(ctx, observe.StageGenerate, "ok", time.Since(start))
		req.reply = Reply{Text: text, Source: dialogue.SourceAI}
		return StateWriteBack, nil

	case StateWriteBack:
		o.deps.Writer.CommitAsync(ctx, writeback.Entry{
			Character:   req.character,
			UserMessage: req.message,
			Dialogue:    req.reply.Text,
			Embedding:   req.embedding,
		})
		return StateRespond, nil
	}
	return "", errors.New("orchestrator: unknown state " + string(state))
}

func (o *Orchestrator) lexicalLookup(ctx context.Context, req *request) (dialogue.Record, bool) {
	ctx, cancel := context.WithTimeout(ctx, o.lexicalTimeout)
	defer cancel()

	start := time.Now()
	rec, ok, err := o.deps.Lexical.FindByCharacterAndMessage(ctx, req.character, req.message)
	if err != nil {
		o.metrics.RecordStage(ctx, observe.StageLexical, "error", time.Since(start))
		o.metrics.RecordStoreError(ctx, "lexical", "find")
		req.log.Warn("orchestrator: lexical lookup failed, treating as miss",
			"error", dialogue.Wrap(dialogue.ErrStoreQuery, "lexical.find", err))
		return dialogue.Record{}, false
	}
	o.metrics.RecordStage(ctx, observe.StageLexical, hitOrMiss(ok), time.Since(start))
	return rec, ok
}

func (o *Orchestrator) embed(ctx context.Context, req *request) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, o.embedTimeout)
	defer cancel()

	start := time.Now()
	vec, err := o.deps.Embedder.Embed(ctx, req.message)
	if err == nil {
		err = embeddings.Check(vec)
	}
	if err != nil {
		o.metrics.RecordStage(ctx, observe.StageEmbed, "error", time.Since(start))
		o.metrics.RecordProviderError(ctx, o.deps.Embedder.ModelID(), "embeddings")
		return nil, dialogue.Wrap(dialogue.ErrEmbedding, "embed", err)
	}
	o.metrics.RecordStage(ctx, observe.StageEmbed, "ok", time.Since(start))
	return vec, nil
}

func (o *Orchestrator) vectorLookup(ctx context.Context, req *request) []dialogue.Match {
	ctx, cancel := context.WithTimeout(ctx, o.vectorTimeout)
	defer cancel()

	start := time.Now()
	matches, err := o.deps.Vectors.SearchSimilar(ctx, req.character, req.embedding, o.limit, o.maxDistance)
	if err != nil {
		o.metrics.RecordStage(ctx, observe.StageVector, "error", time.Since(start))
		o.metrics.RecordStoreError(ctx, "vector", "search")
		req.log.Warn("orchestrator: vector lookup failed, treating as miss",
			"error", dialogue.Wrap(dialogue.ErrStoreQuery, "vector.search", err))
		return nil
	}
	o.metrics.RecordStage(ctx, observe.StageVector, hitOrMiss(len(matches) > 0), time.Since(start))
	return matches
}

func hitOrMiss(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

// kindLabel returns a short metric label for the error kind of err.
func kindLabel(err error) string {
	switch dialogue.KindOf(err) {
	case dialogue.ErrValidation:
		return "validation"
	case dialogue.ErrGeneration:
		return "generation"
	case nil:
		return "unknown"
	default:
		return "other"
	}
}
