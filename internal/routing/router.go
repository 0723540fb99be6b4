package routing

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Route forwards requests under Prefix to Upstream. Query values are merged
// into every forwarded request and override what the caller sent.
type Route struct {
	ID       string
	Methods  map[string]struct{}
	Prefix   string
	Upstream *url.URL
	Query    url.Values
	Timeout  time.Duration
}

type Router struct {
	routes []*Route
}

func New() *Router {
	return &Router{}
}

func (r *Router) Add(rt *Route) {
	r.routes = append(r.routes, rt)
}

func (r *Router) Routes() []*Route {
	return r.routes
}

// Match returns the first route whose method set and prefix admit the
// request. Prefixes match on whole path segments.
func (r *Router) Match(method string, path string) (*Route, bool) {
	m := strings.ToUpper(method)
	for _, rt := range r.routes {
		if _, ok := rt.Methods[m]; !ok {
			continue
		}
		prefix := strings.TrimSuffix(strings.TrimSpace(rt.Prefix), "/")
		if prefix == "" {
			return rt, true
		}
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return rt, true
		}
	}
	return nil, false
}

// Rest is the part of path below the route prefix, always starting with "/"
// or empty.
func (rt *Route) Rest(path string) string {
	prefix := strings.TrimSuffix(strings.TrimSpace(rt.Prefix), "/")
	return strings.TrimPrefix(path, prefix)
}

// --- context helpers ---
type ctxKey int

const keyRoute ctxKey = 0

func WithRoute(r *http.Request, rt *Route) *http.Request {
	ctx := context.WithValue(r.Context(), keyRoute, rt)
	return r.WithContext(ctx)
}

func RouteFrom(r *http.Request) (*Route, bool) {
	v := r.Context().Value(keyRoute)
	if v == nil {
		return nil, false
	}
	rt, ok := v.(*Route)
	return rt, ok
}
