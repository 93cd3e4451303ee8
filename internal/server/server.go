// Package server exposes the dialogue cache over HTTP.
//
// Routes:
//
//	POST /chat     {character, user_message} -> {response, source}
//	POST /scrape   {character, url}          -> {success, count}
//	GET  /healthz  liveness
//	GET  /readyz   readiness
//	GET  /metrics  Prometheus exposition
//
// /chat and /scrape sit behind the rate limiter. Every route is traced and
// timed by [observe.Middleware].
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/parrot/internal/health"
	"github.com/MrWong99/parrot/internal/observe"
	"github.com/MrWong99/parrot/internal/orchestrator"
	"github.com/MrWong99/parrot/internal/ratelimit"
	"github.com/MrWong99/parrot/pkg/dialogue"
)

// maxBodyBytes bounds a request body.
const maxBodyBytes = 64 << 10

// Client-facing error messages. Internal details never reach the body.
const (
	msgChatRequired   = "Character and message are required"
	msgChatTooLong    = "Message too long. Please keep it to 500 characters or fewer."
	msgScrapeRequired = "Character and URL are required"
	msgBadJSON        = "Request body must be a JSON object"
	msgInternal       = "Something went wrong"
	msgScrapeFailed   = "Scraping failed"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Character   string `json:"character"`
	UserMessage string `json:"user_message"`
}

// ChatResponse is the body of a successful POST /chat.
type ChatResponse struct {
	Response string          `json:"response"`
	Source   dialogue.Source `json:"source"`
}

// ScrapeRequest is the body of POST /scrape.
type ScrapeRequest struct {
	Character string `json:"character"`
	URL       string `json:"url"`
}

// ScrapeResponse is the body of a successful POST /scrape.
type ScrapeResponse struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ValidateChat checks that both fields are present and that the message is
// at most [dialogue.MaxMessageRunes] characters.
func ValidateChat(req ChatRequest) error {
	if strings.TrimSpace(req.Character) == "" || strings.TrimSpace(req.UserMessage) == "" {
		return dialogue.Wrap(dialogue.ErrValidation, "chat", errors.New(msgChatRequired))
	}
	if utf8.RuneCountInString(req.UserMessage) > dialogue.MaxMessageRunes {
		return dialogue.Wrap(dialogue.ErrValidation, "chat", errors.New(msgChatTooLong))
	}
	return nil
}

// Responder answers chat requests.
type Responder interface {
	Respond(ctx context.Context, character, userMessage string) (orchestrator.Reply, error)
}

// Scraper turns a screenplay URL into corpus records.
type Scraper interface {
	Scrape(ctx context.Context, character, url string) ([]dialogue.Record, error)
}

// Option is a functional option for configuring a [Server].
type Option func(*Server)

// WithScraper enables POST /scrape, storing results in lexical.
func WithScraper(s Scraper, lexical dialogue.LexicalStore) Option {
	return func(srv *Server) {
		srv.scraper = s
		srv.lexical = lexical
	}
}

// WithRateLimit guards /chat and /scrape with l, keyed by key.
func WithRateLimit(l ratelimit.Limiter, key ratelimit.KeyFunc) Option {
	return func(srv *Server) {
		srv.limiter = l
		srv.key = key
	}
}

// WithHealth serves the probes from h.
func WithHealth(h *health.Handler) Option {
	return func(srv *Server) { srv.health = h }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(srv *Server) { srv.metrics = m }
}

// WithMetricsHandler serves /metrics from h. Default: [observe.MetricsHandler].
func WithMetricsHandler(h http.Handler) Option {
	return func(srv *Server) { srv.metricsHandler = h }
}

// Server holds the HTTP handlers.
type Server struct {
	responder      Responder
	scraper        Scraper
	lexical        dialogue.LexicalStore
	limiter        ratelimit.Limiter
	key            ratelimit.KeyFunc
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
}

// New returns a Server answering chat requests with responder.
func New(responder Responder, opts ...Option) *Server {
	s := &Server{responder: responder}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = observe.MetricsHandler()
	}
	if s.health == nil {
		s.health = health.New()
	}
	if s.key == nil {
		s.key = ratelimit.ClientIP(false)
	}
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	limited := func(h http.Handler) http.Handler { return h }
	if s.limiter != nil {
		limited = ratelimit.Middleware(s.limiter, s.key, s.metrics)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /chat", limited(http.HandlerFunc(s.handleChat)))
	if s.scraper != nil && s.lexical != nil {
		mux.Handle("POST /scrape", limited(http.HandlerFunc(s.handleScrape)))
	}
	s.health.Register(mux)
	mux.Handle("GET /metrics", s.metricsHandler)

	return observe.Middleware(s.metrics)(mux)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ValidateChat(req); err != nil {
		var de *dialogue.Error
		msg := msgChatRequired
		if errors.As(err, &de) && de.Err != nil {
			msg = de.Err.Error()
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
		return
	}

	reply, err := s.responder.Respond(r.Context(), req.Character, req.UserMessage)
	if err != nil {
		status := http.StatusInternalServerError
		msg := msgInternal
		if errors.Is(err, dialogue.ErrValidation) {
			status, msg = http.StatusBadRequest, msgChatRequired
		}
		observe.Logger(r.Context()).Error("chat failed", "character", req.Character, "error", err)
		writeJSON(w, status, errorResponse{Error: msg})
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{Response: reply.Text, Source: reply.Source})
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req ScrapeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Character) == "" || strings.TrimSpace(req.URL) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgScrapeRequired})
		return
	}

	ctx := r.Context()
	log := observe.Logger(ctx).With("character", req.Character, "url", req.URL)
	recs, err := s.scraper.Scrape(ctx, req.Character, req.URL)
	if err != nil {
		log.Error("scrape failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgScrapeFailed})
		return
	}
	if len(recs) > 0 {
		if err := s.lexical.InsertMany(ctx, recs); err != nil {
			log.Error("scrape: store failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgScrapeFailed})
			return
		}
		s.metrics.RecordScraped(ctx, dialogue.NormalizeCharacter(req.Character), len(recs))
		log.Info("scraped dialogue lines", "count", len(recs))
	} else {
		log.Warn("scrape: no lines found")
	}
	writeJSON(w, http.StatusOK, ScrapeResponse{Success: true, Count: len(recs)})
}

// decodeJSON reads a bounded JSON body into v, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgBadJSON})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
