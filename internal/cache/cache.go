// Package cache holds short-lived generated replies keyed by caller and
// request text.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultTTL is how long a reply stays servable after insertion.
const DefaultTTL = 60 * time.Second

const shardCount = 16

type entry struct {
	reply     string
	expiresAt time.Time
}

type shard struct {
	mu   sync.RWMutex
	data map[string]entry
}

// Cache is an in-memory TTL map. There is no capacity bound; entries leave
// only by expiry.
type Cache struct {
	now    func() time.Time
	ttl    time.Duration
	shards [shardCount]*shard
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func New(opts ...Option) *Cache {
	c := &Cache{now: time.Now, ttl: DefaultTTL}
	for i := range c.shards {
		c.shards[i] = &shard{data: make(map[string]entry)}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fingerprint composes the cache key from the caller key and the exact
// request text. The caller key is length-prefixed so no pair of inputs can
// produce the same fingerprint.
func Fingerprint(key, message string) string {
	return strconv.Itoa(len(key)) + ":" + key + ":" + message
}

func (c *Cache) shardFor(fp string) *shard {
	return c.shards[xxhash.Sum64String(fp)%shardCount]
}

// Get returns the reply for fp unless it is missing or expired.
func (c *Cache) Get(fp string) (string, bool) {
	s := c.shardFor(fp)
	s.mu.RLock()
	e, ok := s.data[fp]
	s.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		return "", false
	}
	return e.reply, true
}

// Set stores reply under fp, replacing any previous entry wholesale.
func (c *Cache) Set(fp, reply string) {
	s := c.shardFor(fp)
	e := entry{reply: reply, expiresAt: c.now().Add(c.ttl)}
	s.mu.Lock()
	s.data[fp] = e
	s.mu.Unlock()
}

// Len counts stored entries, expired ones included until swept.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.data)
		s.mu.RUnlock()
	}
	return n
}

// Sweep deletes expired entries and returns how many went.
func (c *Cache) Sweep() int {
	now := c.now()
	dropped := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.data {
			if !now.Before(e.expiresAt) {
				delete(s.data, k)
				dropped++
			}
		}
		s.mu.Unlock()
	}
	return dropped
}

// StartJanitor runs Sweep every interval until ctx is done.
func (c *Cache) StartJanitor(ctx context.Context, every time.Duration) {
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
				c.Sweep()
			}
		}
	}()
}
