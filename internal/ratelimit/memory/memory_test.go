package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexKimmel/aiproxy/internal/ratelimit"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestAllow_RejectsAfterMax(t *testing.T) {
	clk := newFakeClock()
	lim := New(ratelimit.Policy{Max: 3, Window: time.Minute}, WithClock(clk.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		dec := lim.Allow(ctx, "user1")
		require.True(t, dec.Allowed, "request %d", i+1)
		assert.Equal(t, 3, dec.Limit)
		assert.Equal(t, 2-i, dec.Remaining)
		clk.Advance(time.Second)
	}

	dec := lim.Allow(ctx, "user1")
	assert.False(t, dec.Allowed)
	assert.Equal(t, 0, dec.Remaining)
}

func TestAllow_RejectionDoesNotConsumeSlot(t *testing.T) {
	clk := newFakeClock()
	lim := New(ratelimit.Policy{Max: 1, Window: time.Minute}, WithClock(clk.Now))
	ctx := context.Background()

	require.True(t, lim.Allow(ctx, "k").Allowed)
	for i := 0; i < 5; i++ {
		clk.Advance(10 * time.Second)
		assert.False(t, lim.Allow(ctx, "k").Allowed)
	}

	// only the first admission is logged, so it frees up one window after it
	clk.Advance(10 * time.Second)
	assert.True(t, lim.Allow(ctx, "k").Allowed)
}

func TestAllow_WindowSlides(t *testing.T) {
	clk := newFakeClock()
	lim := New(ratelimit.Policy{Max: 2, Window: time.Minute}, WithClock(clk.Now))
	ctx := context.Background()

	require.True(t, lim.Allow(ctx, "ip").Allowed) // t=0
	clk.Advance(30 * time.Second)
	require.True(t, lim.Allow(ctx, "ip").Allowed) // t=30
	require.False(t, lim.Allow(ctx, "ip").Allowed)

	// exactly one window after the first admission it no longer counts
	clk.Advance(30 * time.Second)
	assert.True(t, lim.Allow(ctx, "ip").Allowed) // t=60
	assert.False(t, lim.Allow(ctx, "ip").Allowed)

	clk.Advance(29 * time.Second)
	assert.False(t, lim.Allow(ctx, "ip").Allowed) // t=89, t=30 still inside

	clk.Advance(time.Second)
	assert.True(t, lim.Allow(ctx, "ip").Allowed) // t=90
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	clk := newFakeClock()
	lim := New(ratelimit.Policy{Max: 1, Window: time.Minute}, WithClock(clk.Now))
	ctx := context.Background()

	assert.True(t, lim.Allow(ctx, "a").Allowed)
	assert.False(t, lim.Allow(ctx, "a").Allowed)
	assert.True(t, lim.Allow(ctx, "b").Allowed)
}

func TestAllow_ResetIsOldestPlusWindow(t *testing.T) {
	clk := newFakeClock()
	start := clk.Now()
	lim := New(ratelimit.Policy{Max: 5, Window: time.Minute}, WithClock(clk.Now))

	lim.Allow(context.Background(), "k")
	clk.Advance(20 * time.Second)
	dec := lim.Allow(context.Background(), "k")

	assert.Equal(t, start.Add(time.Minute).Unix(), dec.ResetUnixSec)
}

func TestAllow_DisabledPolicyAdmitsEverything(t *testing.T) {
	lim := New(ratelimit.Policy{Max: 0})
	for i := 0; i < 100; i++ {
		assert.True(t, lim.Allow(context.Background(), "k").Allowed)
	}
	assert.Equal(t, 0, lim.Len())
}

func TestNew_DefaultWindow(t *testing.T) {
	lim := New(ratelimit.Policy{Max: 30})
	assert.Equal(t, ratelimit.DefaultWindow, lim.Policy().Window)
}

func TestAllow_ConcurrentSameKeyNeverOverAdmits(t *testing.T) {
	clk := newFakeClock()
	const limit = 25
	lim := New(ratelimit.Policy{Max: limit, Window: time.Minute}, WithClock(clk.Now))

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lim.Allow(context.Background(), "hot").Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), admitted.Load())
}

func TestAllow_ConcurrentWithSweep(t *testing.T) {
	clk := newFakeClock()
	const limit = 10
	lim := New(ratelimit.Policy{Max: limit, Window: time.Minute}, WithClock(clk.Now))

	var admitted atomic.Int64
	var wg sync.WaitGroup
	stop := make(chan struct{})

	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				lim.Sweep()
			}
		}
	}()

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lim.Allow(context.Background(), "hot").Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	close(stop)

	assert.Equal(t, int64(limit), admitted.Load())
}

func TestSweep_DropsIdleKeys(t *testing.T) {
	clk := newFakeClock()
	lim := New(ratelimit.Policy{Max: 5, Window: time.Minute}, WithClock(clk.Now))
	ctx := context.Background()

	lim.Allow(ctx, "old")
	clk.Advance(45 * time.Second)
	lim.Allow(ctx, "fresh")
	require.Equal(t, 2, lim.Len())

	clk.Advance(20 * time.Second)
	assert.Equal(t, 1, lim.Sweep())
	assert.Equal(t, 1, lim.Len())

	// a swept key starts over with a full window
	for i := 0; i < 5; i++ {
		assert.True(t, lim.Allow(ctx, "old").Allowed)
	}
}
