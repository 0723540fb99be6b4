package ratelimit

import (
	"context"
	"time"
)

// DefaultWindow is the trailing interval admissions are counted over.
const DefaultWindow = 60 * time.Second

type Policy struct {
	Max    int           // admissions allowed per window
	Window time.Duration // sliding window length
}

type Decision struct {
	Allowed      bool
	Limit        int   // admissions per window
	Remaining    int   // admissions left in the current window (min 0)
	ResetUnixSec int64 // when the oldest counted admission leaves the window
}

// Limiter admits or rejects a request for key. Implementations never fail;
// the context is only there for limiters backed by something remote.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
	Close() error
}
