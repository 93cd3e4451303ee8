package dialogue

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure surfaced by the pipeline wraps exactly one of
// these so that callers can branch with [errors.Is].
var (
	// ErrValidation marks missing or oversized input.
	ErrValidation = errors.New("validation error")

	// ErrEmbedding marks an empty text, an upstream failure or timeout, or an
	// empty vector returned by the embedding provider.
	ErrEmbedding = errors.New("embedding error")

	// ErrStoreQuery marks a read failure in the lexical or vector store.
	ErrStoreQuery = errors.New("store query error")

	// ErrGeneration marks an upstream failure, timeout, or empty response from
	// the language model.
	ErrGeneration = errors.New("generation error")

	// ErrWrite marks a failed cache write-back.
	ErrWrite = errors.New("write error")

	// ErrRateLimited marks a request rejected by the rate limiter.
	ErrRateLimited = errors.New("rate limited")
)

// Error carries a failure kind, the operation that failed, and the cause.
type Error struct {
	// Kind is one of the package-level sentinel errors.
	Kind error

	// Op names the failing operation (e.g. "lexical.find", "embed").
	Op string

	// Err is the underlying cause. May be nil.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to [errors.Is] and [errors.As].
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap returns err wrapped as kind for op. A nil err yields nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the sentinel kind carried by err, or nil when err does not
// belong to the taxonomy.
func KindOf(err error) error {
	for _, k := range []error{ErrValidation, ErrEmbedding, ErrStoreQuery, ErrGeneration, ErrWrite, ErrRateLimited} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
