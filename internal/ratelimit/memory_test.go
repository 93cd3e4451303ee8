package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMemory(t *testing.T, clock *fakeClock) *Memory {
	t.Helper()
	m := NewMemory(20, time.Minute, WithClock(clock.Now), WithSweepInterval(0))
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMemory_TwentyFirstRequestRejected(t *testing.T) {
	clock := newFakeClock()
	m := newTestMemory(t, clock)
	ctx := context.Background()

	for i := 1; i <= 20; i++ {
		d, err := m.Allow(ctx, "10.0.0.1")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d rejected, want allowed", i)
		}
		if d.Remaining != 20-i {
			t.Errorf("request %d remaining = %d, want %d", i, d.Remaining, 20-i)
		}
		clock.Advance(time.Second)
	}

	// 20s have passed; the 21st is still inside the window.
	d, _ := m.Allow(ctx, "10.0.0.1")
	if d.Allowed {
		t.Fatal("21st request allowed, want rejected")
	}
	if d.RetryAfter != 40*time.Second {
		t.Errorf("RetryAfter = %v, want 40s", d.RetryAfter)
	}

	// Other clients have their own budget.
	if d, _ := m.Allow(ctx, "10.0.0.2"); !d.Allowed {
		t.Error("other client rejected")
	}
}

func TestMemory_WindowSlides(t *testing.T) {
	clock := newFakeClock()
	m := newTestMemory(t, clock)
	ctx := context.Background()

	for range 20 {
		m.Allow(ctx, "k")
	}
	clock.Advance(59 * time.Second)
	if d, _ := m.Allow(ctx, "k"); d.Allowed {
		t.Fatal("request at 59s allowed, want rejected")
	}

	clock.Advance(time.Second)
	d, _ := m.Allow(ctx, "k")
	if !d.Allowed {
		t.Fatal("request after window elapsed rejected, want allowed")
	}
	if d.Remaining != 19 {
		t.Errorf("remaining = %d, want 19", d.Remaining)
	}
}

func TestMemory_RejectedRequestsDoNotCount(t *testing.T) {
	clock := newFakeClock()
	m := NewMemory(2, time.Minute, WithClock(clock.Now), WithSweepInterval(0))
	defer m.Close()
	ctx := context.Background()

	m.Allow(ctx, "k")
	m.Allow(ctx, "k")
	for range 10 {
		clock.Advance(time.Second)
		m.Allow(ctx, "k")
	}
	clock.Advance(50 * time.Second)
	if d, _ := m.Allow(ctx, "k"); !d.Allowed {
		t.Error("rejections extended the window")
	}
}

func TestMemory_Sweep(t *testing.T) {
	clock := newFakeClock()
	m := newTestMemory(t, clock)
	ctx := context.Background()

	m.Allow(ctx, "old")
	clock.Advance(30 * time.Second)
	m.Allow(ctx, "new")
	clock.Advance(31 * time.Second)

	if got := m.Sweep(); got != 1 {
		t.Errorf("Sweep dropped %d keys, want 1", got)
	}
	if got := m.Len(); got != 1 {
		t.Errorf("Len = %d, want 1", got)
	}
}

func TestMemory_BackgroundSweepAndClose(t *testing.T) {
	clock := newFakeClock()
	m := NewMemory(5, time.Minute, WithClock(clock.Now), WithSweepInterval(5*time.Millisecond))
	m.Allow(context.Background(), "k")
	clock.Advance(2 * time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for m.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("background sweep did not drop idle key")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestMemory_Concurrent(t *testing.T) {
	m := NewMemory(50, time.Minute, WithSweepInterval(0))
	defer m.Close()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := m.Allow(context.Background(), "shared")
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 50 {
		t.Errorf("allowed = %d, want 50", allowed)
	}
}
