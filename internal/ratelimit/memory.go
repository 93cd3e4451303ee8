package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often [Memory] drops idle keys.
const DefaultSweepInterval = time.Minute

// MemoryOption configures a [Memory] limiter.
type MemoryOption func(*Memory)

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithSweepInterval sets how often idle keys are dropped. Zero or negative
// disables the background sweep; keys are then only pruned on access.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(m *Memory) { m.sweepEvery = d }
}

// Memory is an in-process sliding-log limiter. Its state starts empty, is
// pruned lazily on every access and by a periodic sweep, and is discarded on
// [Memory.Close].
type Memory struct {
	limit      int
	window     time.Duration
	now        func() time.Time
	sweepEvery time.Duration

	mu   sync.Mutex
	hits map[string][]time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemory returns a Memory limiter and starts its sweep goroutine.
func NewMemory(limit int, window time.Duration, opts ...MemoryOption) *Memory {
	limit, window = withDefaults(limit, window)
	m := &Memory{
		limit:      limit,
		window:     window,
		now:        time.Now,
		sweepEvery: DefaultSweepInterval,
		hits:       make(map[string][]time.Time),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	if m.sweepEvery > 0 {
		go m.sweepLoop()
	} else {
		close(m.done)
	}
	return m
}

// Backend returns "memory".
func (m *Memory) Backend() string { return "memory" }

// Allow implements [Limiter]. It never returns an error.
func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	log := prune(m.hits[key], now.Add(-m.window))
	if len(log) >= m.limit {
		m.hits[key] = log
		return Decision{RetryAfter: log[0].Add(m.window).Sub(now)}, nil
	}
	log = append(log, now)
	m.hits[key] = log
	return Decision{Allowed: true, Remaining: m.limit - len(log)}, nil
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hits)
}

// Sweep drops every key with no request inside the window and returns how
// many were dropped.
func (m *Memory) Sweep() int {
	cutoff := m.now().Add(-m.window)

	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := 0
	for k, log := range m.hits {
		if rest := prune(log, cutoff); len(rest) == 0 {
			delete(m.hits, k)
			dropped++
		} else {
			m.hits[k] = rest
		}
	}
	return dropped
}

// Close stops the sweep goroutine and clears all state. Safe to call more
// than once.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		close(m.stop)
		<-m.done
		m.mu.Lock()
		m.hits = make(map[string][]time.Time)
		m.mu.Unlock()
	})
	return nil
}

func (m *Memory) sweepLoop() {
	defer close(m.done)
	t := time.NewTicker(m.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			if n := m.Sweep(); n > 0 {
				slog.Debug("ratelimit: swept idle keys", "dropped", n)
			}
		}
	}
}

// prune drops the timestamps at or before cutoff. log is sorted ascending.
func prune(log []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return log
	}
	return append(log[:0:0], log[i:]...)
}

var _ Limiter = (*Memory)(nil)
