package memory

import (
	"context"
	"sync"
	"time"

	"github.com/AlexKimmel/aiproxy/internal/ratelimit"
)

// window is the admission log of one key, ascending by time.
type window struct {
	mu    sync.Mutex
	stamp []time.Time
	dead  bool // removed from the map by the janitor
}

// evict drops every timestamp at or before cutoff. Timestamps are appended
// in non-decreasing order so this is a prefix trim.
func (w *window) evict(cutoff time.Time) {
	i := 0
	for i < len(w.stamp) && !w.stamp[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamp = append(w.stamp[:0], w.stamp[i:]...)
	}
}

// Limiter is a sliding-window log limiter. Each key keeps the timestamps of
// its admissions inside the trailing window.
type Limiter struct {
	now    func() time.Time
	policy ratelimit.Policy
	window sync.Map // key -> *window
}

type Option func(*Limiter)

// WithClock replaces the time source. Tests use it to move time by hand.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(p ratelimit.Policy, opts ...Option) *Limiter {
	if p.Window <= 0 {
		p.Window = ratelimit.DefaultWindow
	}
	l := &Limiter{
		now:    time.Now,
		policy: p,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Close() error { return nil }

func (l *Limiter) Policy() ratelimit.Policy { return l.policy }

func (l *Limiter) Allow(_ context.Context, key string) ratelimit.Decision {
	p := l.policy
	if p.Max <= 0 {
		return ratelimit.Decision{Allowed: true}
	}

	for {
		v, _ := l.window.LoadOrStore(key, &window{})
		w := v.(*window)

		w.mu.Lock()
		if w.dead {
			// lost a race with Sweep; pick up the fresh window
			w.mu.Unlock()
			continue
		}
		dec := l.decide(w, p)
		w.mu.Unlock()
		return dec
	}
}

// decide runs with w.mu held.
func (l *Limiter) decide(w *window, p ratelimit.Policy) ratelimit.Decision {
	now := l.now()
	w.evict(now.Add(-p.Window))

	allow := len(w.stamp) < p.Max
	if allow {
		w.stamp = append(w.stamp, now)
	}

	reset := now.Unix()
	if len(w.stamp) > 0 {
		reset = w.stamp[0].Add(p.Window).Unix()
	}

	return ratelimit.Decision{
		Allowed:      allow,
		Limit:        p.Max,
		Remaining:    max(p.Max-len(w.stamp), 0),
		ResetUnixSec: reset,
	}
}

// Sweep forgets keys with no admissions left in the window and reports how
// many were dropped. Without it the key set grows with every distinct caller.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.policy.Window)
	dropped := 0
	l.window.Range(func(k, v any) bool {
		w := v.(*window)
		w.mu.Lock()
		w.evict(cutoff)
		if len(w.stamp) == 0 {
			w.dead = true
			l.window.Delete(k)
			dropped++
		}
		w.mu.Unlock()
		return true
	})
	return dropped
}

// Len is the number of keys currently tracked.
func (l *Limiter) Len() int {
	n := 0
	l.window.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// StartJanitor sweeps idle keys every interval until ctx is done.
func (l *Limiter) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Sweep()
			}
		}
	}()
}
