// Package httpapi exposes the chat gateway, the notification engine and the
// image annotation relay over JSON.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/AlexKimmel/aiproxy/internal/apperr"
	"github.com/AlexKimmel/aiproxy/internal/chat"
	"github.com/AlexKimmel/aiproxy/internal/gateway"
	"github.com/AlexKimmel/aiproxy/internal/identity"
	"github.com/AlexKimmel/aiproxy/internal/notify"
	"github.com/AlexKimmel/aiproxy/internal/upstream/vision"
)

const visionTimeout = 20 * time.Second

// Version is reported by /version.
var Version = "v0.1.0"

type Chat interface {
	Handle(ctx context.Context, req chat.Request) (chat.Reply, error)
}

type Notifier interface {
	SOS(ctx context.Context, ev notify.SOSEvent) (notify.DispatchResult, error)
	NewReport(ctx context.Context, ev notify.ReportEvent) (notify.DispatchResult, error)
	StatusUpdate(ctx context.Context, ev notify.StatusEvent) (notify.DispatchResult, error)
	Broadcast(ctx context.Context, ev notify.BroadcastEvent) (notify.DispatchResult, error)
}

type ImageAnalyzer interface {
	Analyze(ctx context.Context, imageURL string) (vision.Analysis, error)
}

type Deps struct {
	Chat     Chat
	Notifier Notifier
	Vision   ImageAnalyzer // nil when no key is configured
	Identity identity.Resolver
	Logger   zerolog.Logger
	MaxBody  int64
	// Middlewares wrap everything after identity and logging.
	Middlewares []gateway.Middleware
	// Mounts attach extra handlers, e.g. metrics and pass-through.
	Mounts map[string]http.Handler
}

type api struct {
	chat     Chat
	notifier Notifier
	vision   ImageAnalyzer
}

func NewRouter(d Deps) http.Handler {
	a := &api{chat: d.Chat, notifier: d.Notifier, vision: d.Vision}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(*http.Request, string) bool { return true },
		AllowedMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:  []string{"Content-Type", "Authorization", "X-Request-ID"},
	}))
	r.Use(d.Identity.Middleware())
	r.Use(gateway.BodyLimit(d.MaxBody))
	for _, mw := range d.Middlewares {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(Version))
	})

	r.Post("/chat", a.handleChat)
	r.Post("/sendSOSNotification", a.handleSOS)
	r.Post("/notifyAdminsOfNewReport", a.handleNewReport)
	r.Post("/notifyUserOfStatusUpdate", a.handleStatusUpdate)
	r.Post("/sendEmergencyBroadcast", a.handleBroadcast)
	r.Post("/vision-analyze", a.handleVision)

	for pattern, h := range d.Mounts {
		r.Handle(pattern, h)
	}
	return r
}

// decode reads an optional JSON body. An empty body decodes to the zero
// value, matching clients that post nothing.
func decode(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return &apperr.Error{Kind: apperr.KindValidation, Code: "body too large", Err: err}
		}
		return &apperr.Error{Kind: apperr.KindValidation, Code: "invalid json", Detail: err.Error(), Err: err}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// writeError maps err onto its status and body. Details are only echoed for
// upstream and internal failures and configuration gaps.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.From(err)
	body := errorBody{Error: ae.Code}
	if ae.Kind != apperr.KindValidation && ae.Kind != apperr.KindRateLimit {
		body.Detail = ae.Detail
	}

	ev := hlog.FromRequest(r).Warn()
	if ae.Kind.Status() >= http.StatusInternalServerError {
		ev = hlog.FromRequest(r).Error()
	}
	ev.Err(err).Str("kind", ae.Kind.String()).Str("path", r.URL.Path).Msg("request failed")

	writeJSON(w, ae.Kind.Status(), body)
}
