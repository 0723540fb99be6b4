// Package chat is the rate-limited, cached gateway in front of the
// generative-text upstream.
package chat

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/AlexKimmel/aiproxy/internal/apperr"
	"github.com/AlexKimmel/aiproxy/internal/cache"
	"github.com/AlexKimmel/aiproxy/internal/ratelimit"
)

// FallbackReply is returned when the upstream answers without usable text.
const FallbackReply = "Sorry, I could not generate a response. Please try again."

const defaultTimeout = 20 * time.Second

// Generator produces a reply for a prompt. An empty string with a nil
// error means the upstream had nothing usable.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Request struct {
	Message string
	UserID  string
	Origin  string // network origin of the caller
}

type Reply struct {
	Reply  string `json:"reply"`
	Cached bool   `json:"cached"`
	// Decision is the limiter outcome, exposed for response headers.
	Decision ratelimit.Decision `json:"-"`
}

type Hooks struct {
	OnCacheHit  func()
	OnCacheMiss func()
	OnLimited   func()
}

type Service struct {
	limiter ratelimit.Limiter
	cache   *cache.Cache
	gen     Generator // nil when credentials are missing
	timeout time.Duration
	hooks   Hooks
	log     zerolog.Logger
}

type Option func(*Service)

func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

func WithHooks(h Hooks) Option {
	return func(s *Service) { s.hooks = h }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New builds the gateway. gen may be nil, in which case every cache miss
// fails with a configuration error.
func New(lim ratelimit.Limiter, c *cache.Cache, gen Generator, opts ...Option) *Service {
	s := &Service{
		limiter: lim,
		cache:   c,
		gen:     gen,
		timeout: defaultTimeout,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key is the throttling subject: the user id when given, else the origin.
func Key(userID, origin string) string {
	if userID != "" {
		return userID
	}
	return origin
}

// Handle validates, charges the caller's quota, then serves from cache or
// the upstream. Cache hits still consume quota.
func (s *Service) Handle(ctx context.Context, req Request) (Reply, error) {
	if req.Message == "" {
		return Reply{}, apperr.Validation("message required")
	}

	key := Key(req.UserID, req.Origin)
	dec := s.limiter.Allow(ctx, key)
	if !dec.Allowed {
		if s.hooks.OnLimited != nil {
			s.hooks.OnLimited()
		}
		return Reply{Decision: dec}, apperr.RateLimited()
	}

	fp := cache.Fingerprint(key, req.Message)
	if reply, ok := s.cache.Get(fp); ok {
		if s.hooks.OnCacheHit != nil {
			s.hooks.OnCacheHit()
		}
		return Reply{Reply: reply, Cached: true, Decision: dec}, nil
	}
	if s.hooks.OnCacheMiss != nil {
		s.hooks.OnCacheMiss()
	}

	if s.gen == nil {
		return Reply{Decision: dec}, apperr.NotConfigured("STUDIO_API_URL/STUDIO_API_KEY")
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.gen.Generate(cctx, req.Message)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("chat upstream failed")
		return Reply{Decision: dec}, apperr.Upstream("internal_error", err)
	}
	if text == "" {
		text = FallbackReply
	}

	s.cache.Set(fp, text)
	return Reply{Reply: text, Cached: false, Decision: dec}, nil
}
