package gateway

import (
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/AlexKimmel/aiproxy/internal/routing"
)

// RouteMatcher attaches the pass-through route for the request, or answers
// 404 when none matches.
func RouteMatcher(rr *routing.Router) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rt, ok := rr.Match(r.Method, r.URL.Path)
			if !ok {
				hlog.FromRequest(r).Debug().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("routes", len(rr.Routes())).
					Msg("no pass-through route")
				writeJSON(w, http.StatusNotFound, "no_route", "no matching route")
				return
			}
			next.ServeHTTP(w, routing.WithRoute(r, rt))
		})
	}
}
