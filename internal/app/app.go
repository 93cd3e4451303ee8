// Package app wires all parrot subsystems into a running application.
//
// The App struct owns the full lifecycle: New connects the stores, builds the
// retrieval pipeline and the HTTP server, Run serves until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject in-memory implementations via functional options
// (WithLexicalStore, WithVectorStore, WithLimiter). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/parrot/internal/config"
	"github.com/MrWong99/parrot/internal/generate"
	"github.com/MrWong99/parrot/internal/health"
	"github.com/MrWong99/parrot/internal/observe"
	"github.com/MrWong99/parrot/internal/orchestrator"
	"github.com/MrWong99/parrot/internal/persona"
	"github.com/MrWong99/parrot/internal/ratelimit"
	"github.com/MrWong99/parrot/internal/resilience"
	"github.com/MrWong99/parrot/internal/scrape"
	"github.com/MrWong99/parrot/internal/server"
	"github.com/MrWong99/parrot/internal/writeback"
	"github.com/MrWong99/parrot/pkg/dialogue"
	"github.com/MrWong99/parrot/pkg/provider/embeddings"
	"github.com/MrWong99/parrot/pkg/provider/llm"
)

// Providers holds the model providers. Both are required. Populated by
// main.go via the config registry, usually wrapped in fallback groups.
type Providers struct {
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	personas *persona.Table
	lexical  dialogue.LexicalStore
	vectors  dialogue.VectorStore
	limiter  ratelimit.Limiter
	scraper  server.Scraper
	writer   *writeback.Writer
	orch     *orchestrator.Orchestrator
	health   *health.Handler
	metrics  *observe.Metrics
	logLevel *slog.LevelVar

	httpServer *http.Server

	// closers are called in order during Shutdown, after in-flight requests
	// and write-backs have drained.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLexicalStore injects a lexical store instead of creating one from config.
func WithLexicalStore(s dialogue.LexicalStore) Option {
	return func(a *App) { a.lexical = s }
}

// WithVectorStore injects a vector store instead of creating one from config.
func WithVectorStore(s dialogue.VectorStore) Option {
	return func(a *App) { a.vectors = s }
}

// WithLimiter injects a rate limiter instead of creating one from config.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(a *App) { a.limiter = l }
}

// WithScraper replaces the default screenplay scraper.
func WithScraper(s server.Scraper) Option {
	return func(a *App) { a.scraper = s }
}

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets [App.ApplyConfig] adjust the process log level.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Store connections are
// retried according to cfg.Stores; everything else is constructed in memory.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil || providers.Embeddings == nil {
		return nil, errors.New("app: llm and embeddings providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		personas:  persona.NewTable(Personas(cfg.Characters)...),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Stores ────────────────────────────────────────────────────────
	if err := a.initStores(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init stores: %w", err)
	}

	// ── 2. Rate limiter ──────────────────────────────────────────────────
	if err := a.initLimiter(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init rate limiter: %w", err)
	}

	// ── 3. Retrieval pipeline ────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	a.initServer()
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStores opens whichever stores were not injected.
func (a *App) initStores(ctx context.Context) error {
	stores, err := OpenStores(ctx, a.cfg.Stores, a.lexical, a.vectors)
	if err != nil {
		return err
	}
	a.lexical, a.vectors = stores.Lexical, stores.Vectors
	a.closers = append(a.closers, stores.Close)
	return nil
}

func (a *App) initLimiter(ctx context.Context) error {
	if a.limiter != nil {
		a.closers = append(a.closers, a.limiter.Close)
		return nil
	}
	rl := a.cfg.RateLimit
	switch rl.Backend {
	case config.BackendRedis:
		l, err := ratelimit.NewRedisFromURL(ctx, rl.RedisURL, rl.Limit, rl.Window)
		if err != nil {
			return err
		}
		a.limiter = l
	default:
		a.limiter = ratelimit.NewMemory(rl.Limit, rl.Window, ratelimit.WithSweepInterval(rl.SweepInterval))
	}
	a.closers = append(a.closers, a.limiter.Close)
	slog.Info("rate limiter ready", "backend", rl.Backend, "limit", rl.Limit, "window", rl.Window)
	return nil
}

func (a *App) initPipeline() error {
	wb := a.cfg.WriteBack
	a.writer = writeback.New(a.lexical, a.vectors, a.providers.Embeddings,
		writeback.WithTimeout(wb.Timeout),
		writeback.WithRetryPolicy(resilience.RetryPolicy{
			Name:           "write-back",
			MaxAttempts:    wb.MaxAttempts,
			InitialBackoff: wb.InitialBackoff,
		}),
		writeback.WithMetrics(a.metrics),
	)

	g := a.cfg.Generation
	gen := generate.New(a.providers.LLM, a.personas,
		generate.WithMaxTokens(g.MaxTokens),
		generate.WithTemperature(g.Temperature),
		generate.WithMaxRunes(g.MaxChars),
		generate.WithTimeout(g.Timeout),
	)

	rt := a.cfg.Retrieval
	orch, err := orchestrator.New(orchestrator.Deps{
		Lexical:   a.lexical,
		Vectors:   a.vectors,
		Embedder:  a.providers.Embeddings,
		Generator: gen,
		Writer:    a.writer,
	},
		orchestrator.WithLimit(rt.Limit),
		orchestrator.WithMaxDistance(rt.MaxDistance),
		orchestrator.WithMinLengthRatio(rt.MinLengthRatio),
		orchestrator.WithTimeouts(rt.LexicalTimeout, rt.EmbedTimeout, rt.VectorTimeout),
		orchestrator.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.orch = orch
	return nil
}

func (a *App) initServer() {
	a.health = health.New(
		health.PingChecker("lexical_store", a.lexical),
		health.PingChecker("vector_store", a.vectors),
	)
	if a.scraper == nil {
		a.scraper = scrape.New()
	}
	srv := server.New(a.orch,
		server.WithScraper(a.scraper, a.lexical),
		server.WithRateLimit(a.limiter, ratelimit.ClientIP(a.cfg.Server.TrustForwardedFor)),
		server.WithHealth(a.health),
		server.WithMetrics(a.metrics),
	)
	a.httpServer = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Handler returns the fully wired HTTP handler. Useful for tests that drive
// the app through httptest.
func (a *App) Handler() http.Handler { return a.httpServer.Handler }

// Personas returns the live persona table.
func (a *App) Personas() *persona.Table { return a.personas }

// Run listens on the configured address and serves until ctx is cancelled or
// the listener fails. It returns ctx.Err() on cancellation.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.httpServer.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like [App.Run] on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpServer.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpServer.Serve(ln)
		}
		errCh <- err
	}()

	slog.Info("app running", "addr", ln.Addr().String(), "characters", a.personas.Len())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ApplyConfig applies the hot-reloadable part of a config change. Sections
// that need a restart are logged and otherwise ignored. It is the callback
// handed to [config.NewWatcher].
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.CharactersChanged {
		a.personas.Replace(Personas(new.Characters))
		for _, c := range d.CharacterChanges {
			slog.Info("character persona updated",
				"character", c.Name,
				"added", c.Added,
				"removed", c.Removed,
			)
		}
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown flips readiness to draining, stops accepting requests, waits for
// in-flight requests and pending write-backs, then closes the limiter and the
// stores. It is safe to call more than once; only the first call does work.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.health.SetDraining(true)

		if err := a.httpServer.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown", "err", err)
			shutdownErr = err
		}
		if err := a.writer.Wait(ctx); err != nil {
			slog.Warn("pending write-backs abandoned", "err", err)
			shutdownErr = errors.Join(shutdownErr, err)
		}

		a.closeAll()
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for i, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// Personas converts configured characters into persona table entries.
func Personas(chars []config.CharacterConfig) []persona.Persona {
	out := make([]persona.Persona, 0, len(chars))
	for _, c := range chars {
		out = append(out, persona.Persona{Name: c.Name, Personality: c.Personality})
	}
	return out
}

// SlogLevel maps a config log level to its slog counterpart. Unknown values
// map to Info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
