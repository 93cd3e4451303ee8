// Package ratelimit implements the per-client sliding-window limiter that
// guards the chat API.
//
// Each client key may make at most Limit accepted requests in any rolling
// Window. Requests beyond the ceiling are rejected before they reach the
// retrieval pipeline. Two backends are provided: [Memory] keeps a
// per-process log of accept times, [Redis] keeps the same log in a sorted set
// so several replicas share one budget.
package ratelimit

import (
	"context"
	"time"
)

// Defaults used by the constructors when a zero value is passed.
const (
	DefaultLimit  = 20
	DefaultWindow = 60 * time.Second
)

// Decision is the outcome of a single [Limiter.Allow] call.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Remaining is how many more requests the key may make in the current
	// window after this one.
	Remaining int

	// RetryAfter is how long until the oldest counted request leaves the
	// window. Zero when Allowed.
	RetryAfter time.Duration
}

// Limiter decides whether a client key may make another request.
//
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow counts a request for key when it is within budget and reports the
	// decision. A rejected request is not counted.
	Allow(ctx context.Context, key string) (Decision, error)

	// Close releases background resources.
	Close() error
}

func withDefaults(limit int, window time.Duration) (int, time.Duration) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return limit, window
}
