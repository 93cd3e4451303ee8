// Package writeback implements the cache writer: after a reply has been
// generated, the exchange is persisted to the lexical store and the vector
// store so that later identical or similar requests are served from cache.
//
// The two writes are independent. They run concurrently, each under its own
// retry policy, and neither is wrapped in a cross-store transaction. A failure
// in one store never undoes or blocks the other.
package writeback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parrot/internal/observe"
	"github.com/MrWong99/parrot/internal/resilience"
	"github.com/MrWong99/parrot/pkg/dialogue"
	"github.com/MrWong99/parrot/pkg/provider/embeddings"
)

// DefaultTimeout bounds a single commit including retries.
const DefaultTimeout = 10 * time.Second

// Store labels used in logs and metrics.
const (
	storeLexical = "lexical"
	storeVector  = "vector"
)

// Entry is one resolved exchange to persist.
type Entry struct {
	Character   string
	UserMessage string
	Dialogue    string

	// Embedding is the vector of UserMessage computed during retrieval. When
	// nil the writer embeds UserMessage itself.
	Embedding []float32
}

// Option is a functional option for configuring a [Writer].
type Option func(*Writer)

// WithTimeout bounds each commit. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(w *Writer) { w.timeout = d }
}

// WithRetryPolicy sets the per-store retry policy. The policy name is
// replaced with the store label.
func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(w *Writer) { w.policy = p }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Writer) { w.metrics = m }
}

// Writer persists entries to both stores. It is safe for concurrent use.
type Writer struct {
	lexical  dialogue.LexicalStore
	vectors  dialogue.VectorStore
	embedder embeddings.Provider
	timeout  time.Duration
	policy   resilience.RetryPolicy
	metrics  *observe.Metrics

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// New returns a Writer. embedder is used only for entries that arrive without
// an embedding and may be nil, in which case such entries skip the vector
// store.
func New(lexical dialogue.LexicalStore, vectors dialogue.VectorStore, embedder embeddings.Provider, opts ...Option) *Writer {
	w := &Writer{
		lexical:  lexical,
		vectors:  vectors,
		embedder: embedder,
		timeout:  DefaultTimeout,
	}
	for _, o := range opts {
		o(w)
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	return w
}

// Commit writes e to both stores concurrently and waits for both. The
// returned error joins the failures of each store and is a
// [dialogue.ErrWrite]; nil means both writes landed.
func (w *Writer) Commit(ctx context.Context, e Entry) error {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	ctx, span := observe.StartSpan(ctx, "writeback.Commit")
	defer span.End()

	rec, err := dialogue.NewRecord(e.Character, e.UserMessage, e.Dialogue, nil)
	if err != nil {
		return dialogue.Wrap(dialogue.ErrWrite, "writeback.commit", err)
	}
	if !rec.HasTrigger() {
		return dialogue.Wrap(dialogue.ErrWrite, "writeback.commit", errors.New("user message is required"))
	}

	start := time.Now()
	var (
		g       errgroup.Group
		lexErr  error
		vecErr  error
		vecSkip bool
	)
	g.Go(func() error {
		lexErr = w.retry(ctx, storeLexical, func(ctx context.Context) error {
			return w.lexical.Insert(ctx, rec)
		})
		return lexErr
	})
	g.Go(func() error {
		emb, err := w.embedding(ctx, e)
		if err != nil {
			vecErr = err
			return err
		}
		if emb == nil {
			vecSkip = true
			return nil
		}
		vrec := rec
		vrec.Embedding = emb
		vecErr = w.retry(ctx, storeVector, func(ctx context.Context) error {
			return w.vectors.Upsert(ctx, vrec)
		})
		return vecErr
	})
	_ = g.Wait()

	w.record(ctx, storeLexical, lexErr)
	if !vecSkip {
		w.record(ctx, storeVector, vecErr)
	}
	outcome := "ok"
	if lexErr != nil || vecErr != nil {
		outcome = "error"
	}
	w.metrics.RecordStage(ctx, observe.StageWrite, outcome, time.Since(start))

	var errs []error
	if lexErr != nil {
		errs = append(errs, fmt.Errorf("%s: %w", storeLexical, lexErr))
	}
	if vecErr != nil {
		errs = append(errs, fmt.Errorf("%s: %w", storeVector, vecErr))
	}
	return dialogue.Wrap(dialogue.ErrWrite, "writeback.commit", errors.Join(errs...))
}

// CommitAsync issues Commit in the background and returns immediately.
// Failures are logged and counted, never returned. The background write keeps
// the values of ctx (trace, logger) but not its cancellation, so it outlives
// the request that triggered it. After [Writer.Wait] has been called new
// entries are dropped.
func (w *Writer) CommitAsync(ctx context.Context, e Entry) {
	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		observe.Logger(ctx).Warn("writeback: writer draining, entry dropped",
			"character", e.Character)
		return
	}
	w.wg.Add(1)
	w.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	w.metrics.PendingWriteBacks.Add(ctx, 1)
	go func() {
		defer w.wg.Done()
		defer w.metrics.PendingWriteBacks.Add(ctx, -1)
		if err := w.Commit(ctx, e); err != nil {
			observe.Logger(ctx).Warn("writeback: cache write failed",
				"character", dialogue.NormalizeCharacter(e.Character),
				"error", err)
		}
	}()
}

// Wait stops accepting new asynchronous entries and blocks until all issued
// ones have finished or ctx is done.
func (w *Writer) Wait(ctx context.Context) error {
	w.mu.Lock()
	w.closing = true
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("writeback: wait: %w", ctx.Err())
	}
}

func (w *Writer) embedding(ctx context.Context, e Entry) ([]float32, error) {
	if len(e.Embedding) > 0 {
		return e.Embedding, nil
	}
	if w.embedder == nil {
		slog.Debug("writeback: no embedding and no embedder, skipping vector store",
			"character", e.Character)
		return nil, nil
	}
	var vec []float32
	err := w.retry(ctx, "embed", func(ctx context.Context) error {
		v, err := w.embedder.Embed(ctx, e.UserMessage)
		if err != nil {
			return err
		}
		if err := embeddings.Check(v); err != nil {
			return resilience.Permanent(err)
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, dialogue.Wrap(dialogue.ErrEmbedding, "writeback.embed", err)
	}
	return vec, nil
}

// retry runs fn under the write-back policy. Validation failures are
// returned after the first attempt.
func (w *Writer) retry(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	p := w.policy
	p.Name = "writeback." + name
	return resilience.Retry(ctx, p, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, dialogue.ErrValidation) {
			return resilience.Permanent(err)
		}
		return err
	})
}

func (w *Writer) record(ctx context.Context, store string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	w.metrics.RecordWriteBack(ctx, store, status)
}
