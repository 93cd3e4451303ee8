package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Default retry parameters.
const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

// RetryPolicy configures [Retry]. Zero fields take defaults.
type RetryPolicy struct {
	// Name labels log lines.
	Name string

	// MaxAttempts is the total number of tries, including the first.
	// Default: 3.
	MaxAttempts int

	// InitialBackoff is the pause after the first failure. It doubles after
	// each further failure up to MaxBackoff. Default: 100ms.
	InitialBackoff time.Duration

	// MaxBackoff caps a single pause. Default: 5s.
	MaxBackoff time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultInitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultMaxBackoff
	}
	return p
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. [Retry] returns the wrapped error
// immediately. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn until it succeeds, returns a [Permanent] error, ctx is done,
// or the policy's attempts are used up. Pauses grow exponentially with full
// jitter. The returned error wraps the last failure.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	policy = policy.withDefaults()
	backoff := policy.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
		if attempt == policy.MaxAttempts {
			break
		}

		wait := jitter(backoff)
		slog.Debug("retrying after failure",
			"op", policy.Name,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"backoff", wait,
			"error", err,
		)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%s: %w (last error: %w)", policy.Name, ctx.Err(), lastErr)
		case <-t.C:
		}
		backoff = min(backoff*2, policy.MaxBackoff)
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", policy.Name, policy.MaxAttempts, lastErr)
}

// jitter returns a duration in [d/2, d).
func jitter(d time.Duration) time.Duration {
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half)
}
