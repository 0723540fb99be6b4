package proxy

import (
	"context"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/AlexKimmel/aiproxy/internal/routing"
)

func NewHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Handler relays the request to the upstream of the matched route. The
// path below the route prefix is appended to the upstream path and the
// route's query values (the server credential) are set on the way out.
func Handler(tr http.RoundTripper) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt, ok := routing.RouteFrom(r)
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"no_route_ctx","detail":"route not in context"}`))
			return
		}

		rest := rt.Rest(r.URL.Path)
		proxy := &httputil.ReverseProxy{
			Rewrite: func(pr *httputil.ProxyRequest) {
				pr.Out.URL.Scheme = rt.Upstream.Scheme
				pr.Out.URL.Host = rt.Upstream.Host
				pr.Out.URL.Path = strings.TrimSuffix(rt.Upstream.Path, "/") + rest
				pr.Out.URL.RawPath = ""
				pr.Out.Host = rt.Upstream.Host

				q := pr.In.URL.Query()
				for k, vs := range rt.Query {
					q[k] = vs
				}
				pr.Out.URL.RawQuery = q.Encode()
				pr.SetXForwarded()
			},
			Transport: tr,
			ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
				hlog.FromRequest(r).Error().Err(err).Str("route", rt.ID).Msg("upstream relay failed")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte(`{"error":"upstream_error"}`))
			},
		}

		timeout := rt.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		proxy.ServeHTTP(w, r.WithContext(ctx))
	})
}
