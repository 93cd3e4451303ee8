// Package health serves the liveness and readiness probes.
//
//   - /healthz reports that the process can serve HTTP.
//   - /readyz reports whether every backing store answers a ping and the
//     server is not draining. Load balancers stop routing to a replica as
//     soon as it starts shutting down.
//
// Bodies are JSON: {"status": "ok"|"fail"|"draining", "checks": {...}}.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 3 * time.Second

// Pinger is anything that can report its own reachability, such as a
// dialogue store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker is a named readiness check.
type Checker struct {
	// Name labels the check in the response, e.g. "lexical_store".
	Name string

	// Check returns nil when the dependency is usable. It must respect ctx.
	Check func(ctx context.Context) error
}

// PingChecker adapts p into a Checker.
func PingChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction; the draining flag may flip at any time.
type Handler struct {
	checkers []Checker
	draining atomic.Bool
}

// New returns a Handler that runs checkers concurrently on every /readyz.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// SetDraining marks the server as shutting down. While draining, /readyz
// answers 503 without running the checks.
func (h *Handler) SetDraining(v bool) {
	h.draining.Store(v)
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz answers 200 when every check passes and 503 otherwise. Check
// failures are reported by name only; error details go to the log.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, result{Status: "draining"})
		return
	}

	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
		g      errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("health: readiness check failed", "check", c.Name, "error", err)
				checks[c.Name] = "fail"
				allOK = false
				return nil
			}
			checks[c.Name] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
