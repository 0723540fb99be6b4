package gateway

import (
	"net/http"
	"strconv"

	"github.com/AlexKimmel/aiproxy/internal/identity"
	"github.com/AlexKimmel/aiproxy/internal/ratelimit"
	"github.com/AlexKimmel/aiproxy/internal/routing"
)

// RateLimit throttles pass-through traffic per route and caller origin.
func RateLimit(lim ratelimit.Limiter, onLimited func(routeID string)) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin, ok := identity.OriginFrom(r.Context())
			if !ok || origin == "" {
				origin = "unknown"
			}

			routeID := "unknown"
			if rt, ok := routing.RouteFrom(r); ok && rt != nil && rt.ID != "" {
				routeID = rt.ID
			}

			dec := lim.Allow(r.Context(), routeID+":"+origin)
			SetLimitHeaders(w, dec)

			if !dec.Allowed {
				if onLimited != nil {
					onLimited(routeID)
				}
				writeJSON(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SetLimitHeaders reports the limiter decision to the client.
func SetLimitHeaders(w http.ResponseWriter, dec ratelimit.Decision) {
	if dec.Limit <= 0 {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(dec.Remaining, 0)))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(dec.ResetUnixSec, 10))
}
