// Package notify resolves delivery tokens from the user directory and fans
// notifications out to them through the push service.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/AlexKimmel/aiproxy/internal/apperr"
)

// RoleAdmin is the directory role that receives operational alerts.
const RoleAdmin = "admin"

const (
	defaultDirectoryTimeout = 10 * time.Second
	defaultSendTimeout      = 10 * time.Second
	defaultConcurrency      = 16
)

// Directory looks up delivery tokens. It is read only.
type Directory interface {
	TokensByRole(ctx context.Context, role string) ([]string, error)
	AllTokens(ctx context.Context) ([]string, error)
}

// Sender delivers a single message to its token.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type Failure struct {
	Token string `json:"token"`
	Error string `json:"error"`
}

// DispatchResult aggregates one fan-out. A run where every send failed is
// still a result, with Succeeded == 0.
type DispatchResult struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	Failures  []Failure `json:"failures,omitempty"`
	// Note explains an empty run, e.g. no tokens resolved.
	Note string `json:"note,omitempty"`
}

type Engine struct {
	dir         Directory
	sender      Sender
	dirTimeout  time.Duration
	sendTimeout time.Duration
	concurrency int
	newID       func() string
	onDispatch  func(DispatchResult)
	log         zerolog.Logger
}

type Option func(*Engine)

func WithDirectoryTimeout(d time.Duration) Option {
	return func(e *Engine) { e.dirTimeout = d }
}

func WithSendTimeout(d time.Duration) Option {
	return func(e *Engine) { e.sendTimeout = d }
}

// WithConcurrency caps in-flight sends per dispatch.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// OnDispatch is called with every finished fan-out.
func OnDispatch(fn func(DispatchResult)) Option {
	return func(e *Engine) { e.onDispatch = fn }
}

func WithIDs(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// New builds an engine. A nil dir or sender turns every dispatch that
// needs it into a configuration error.
func New(dir Directory, sender Sender, opts ...Option) *Engine {
	e := &Engine{
		dir:         dir,
		sender:      sender,
		dirTimeout:  defaultDirectoryTimeout,
		sendTimeout: defaultSendTimeout,
		concurrency: defaultConcurrency,
		newID:       uuid.NewString,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SOS alerts every admin.
func (e *Engine) SOS(ctx context.Context, ev SOSEvent) (DispatchResult, error) {
	return e.toRole(ctx, TypeSOS, RoleAdmin, ev.template())
}

// NewReport tells every admin about a freshly filed report.
func (e *Engine) NewReport(ctx context.Context, ev ReportEvent) (DispatchResult, error) {
	return e.toRole(ctx, TypeNewReport, RoleAdmin, ev.template())
}

// Broadcast goes to every token in the directory.
func (e *Engine) Broadcast(ctx context.Context, ev BroadcastEvent) (DispatchResult, error) {
	if ev.Title == "" || ev.Message == "" {
		return DispatchResult{}, apperr.Validation("title and message required")
	}
	if err := e.ready(); err != nil {
		return DispatchResult{}, err
	}

	lctx, cancel := context.WithTimeout(ctx, e.dirTimeout)
	tokens, err := e.dir.AllTokens(lctx)
	cancel()
	if err != nil {
		return DispatchResult{}, e.directoryFailed(TypeBroadcast, err)
	}
	return e.fanOut(ctx, TypeBroadcast, ev.template(), tokens), nil
}

// StatusUpdate notifies the one device that filed the report. Unlike the
// fan-outs, a failed send is reported as an error.
func (e *Engine) StatusUpdate(ctx context.Context, ev StatusEvent) (DispatchResult, error) {
	if ev.UserToken == "" {
		return DispatchResult{}, apperr.Validation("userToken required")
	}
	if e.sender == nil {
		return DispatchResult{}, apperr.NotConfigured("push delivery")
	}

	res := e.fanOut(ctx, TypeStatusUpdate, ev.template(), []string{ev.UserToken})
	if res.Succeeded == 0 {
		detail := "send failed"
		if len(res.Failures) > 0 {
			detail = res.Failures[0].Error
		}
		return res, &apperr.Error{Kind: apperr.KindUpstream, Code: "notification_error", Detail: detail}
	}
	return res, nil
}

func (e *Engine) ready() error {
	if e.dir == nil {
		return apperr.NotConfigured("user directory")
	}
	if e.sender == nil {
		return apperr.NotConfigured("push delivery")
	}
	return nil
}

func (e *Engine) toRole(ctx context.Context, kind, role string, tmpl Message) (DispatchResult, error) {
	if err := e.ready(); err != nil {
		return DispatchResult{}, err
	}

	lctx, cancel := context.WithTimeout(ctx, e.dirTimeout)
	tokens, err := e.dir.TokensByRole(lctx, role)
	cancel()
	if err != nil {
		return DispatchResult{}, e.directoryFailed(kind, err)
	}
	return e.fanOut(ctx, kind, tmpl, tokens), nil
}

func (e *Engine) directoryFailed(kind string, err error) error {
	e.log.Error().Err(err).Str("kind", kind).Msg("directory lookup failed")
	return apperr.Upstream("notification_error", err)
}

// fanOut sends tmpl to every distinct non-empty token concurrently and
// joins the outcomes. It never fails; send errors land in Failures.
func (e *Engine) fanOut(ctx context.Context, kind string, tmpl Message, tokens []string) DispatchResult {
	res := DispatchResult{ID: e.newID(), Kind: kind}
	tokens = distinct(tokens)
	if len(tokens) == 0 {
		res.Note = "no tokens to notify"
		e.log.Info().Str("dispatch_id", res.ID).Str("kind", kind).Msg("nothing to notify")
		e.finish(res)
		return res
	}

	msgs := addressed(tmpl, tokens)
	res.Attempted = len(msgs)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for _, m := range msgs {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, e.sendTimeout)
			err := e.sender.Send(sctx, m)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failures = append(res.Failures, Failure{Token: m.Token, Error: err.Error()})
				return nil
			}
			res.Succeeded++
			return nil
		})
	}
	_ = g.Wait()

	ev := e.log.Info()
	if res.Succeeded == 0 {
		ev = e.log.Error()
	} else if len(res.Failures) > 0 {
		ev = e.log.Warn()
	}
	ev.Str("dispatch_id", res.ID).
		Str("kind", kind).
		Int("attempted", res.Attempted).
		Int("succeeded", res.Succeeded).
		Msg("dispatch finished")

	e.finish(res)
	return res
}

func (e *Engine) finish(res DispatchResult) {
	if e.onDispatch != nil {
		e.onDispatch(res)
	}
}

func distinct(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
