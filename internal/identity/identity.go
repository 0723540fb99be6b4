// Package identity resolves the network origin of a caller and carries it
// through the request context.
package identity

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type ctxKey int

const keyOrigin ctxKey = 0

// Resolver extracts the caller origin from a request.
type Resolver struct {
	// TrustForwardedFor takes the first X-Forwarded-For hop when set. Only
	// enable it behind a proxy that overwrites the header.
	TrustForwardedFor bool
}

// Origin returns the caller address without port, or "unknown".
func (res Resolver) Origin(r *http.Request) string {
	if res.TrustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if addr != "" {
		return addr
	}
	return "unknown"
}

// WithOrigin injects the caller origin into ctx.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, keyOrigin, origin)
}

// OriginFrom extracts the caller origin from ctx (if present).
func OriginFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(keyOrigin)
	if v == nil {
		return "", false
	}
	o, ok := v.(string)
	return o, ok
}

// Middleware stores the resolved origin on every request.
func (res Resolver) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithOrigin(r.Context(), res.Origin(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
