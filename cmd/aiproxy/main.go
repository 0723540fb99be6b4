package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/AlexKimmel/aiproxy/internal/cache"
	"github.com/AlexKimmel/aiproxy/internal/chat"
	"github.com/AlexKimmel/aiproxy/internal/config"
	"github.com/AlexKimmel/aiproxy/internal/gateway"
	"github.com/AlexKimmel/aiproxy/internal/httpapi"
	"github.com/AlexKimmel/aiproxy/internal/identity"
	"github.com/AlexKimmel/aiproxy/internal/notify"
	"github.com/AlexKimmel/aiproxy/internal/obs"
	"github.com/AlexKimmel/aiproxy/internal/proxy"
	"github.com/AlexKimmel/aiproxy/internal/ratelimit"
	"github.com/AlexKimmel/aiproxy/internal/ratelimit/memory"
	"github.com/AlexKimmel/aiproxy/internal/routing"
	"github.com/AlexKimmel/aiproxy/internal/upstream/fcm"
	"github.com/AlexKimmel/aiproxy/internal/upstream/firestore"
	"github.com/AlexKimmel/aiproxy/internal/upstream/gemini"
	"github.com/AlexKimmel/aiproxy/internal/upstream/vision"
)

func main() {
	cfgPath := flag.String("config", envOr("CONFIG_PATH", "./config.yaml"), "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		l := obs.SetupLogger("info")
		l.Fatal().Err(err).Msg("load config")
	}

	logger := obs.SetupLogger(cfg.Observability.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(reg)

	sweep := cfg.Limits.SweepEvery()

	chatLimiter := memory.New(ratelimit.Policy{Max: cfg.Limits.ChatPerMinute, Window: ratelimit.DefaultWindow})
	chatLimiter.StartJanitor(ctx, sweep)
	replies := cache.New()
	replies.StartJanitor(ctx, cache.DefaultTTL)

	var gen chat.Generator
	if cfg.Generative.Configured() {
		g, err := gemini.New(ctx, gemini.Config{
			APIKey:   cfg.Generative.APIKey,
			Model:    cfg.Generative.Model,
			Endpoint: cfg.Generative.Endpoint,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("gemini client")
		}
		defer g.Close()
		gen = g
	} else {
		logger.Warn().Msg("STUDIO_API_KEY not set, /chat will answer 500 on cache misses")
	}

	chatSvc := chat.New(chatLimiter, replies, gen,
		chat.WithTimeout(cfg.Generative.Timeout()),
		chat.WithLogger(logger.With().Str("component", "chat").Logger()),
		chat.WithHooks(chat.Hooks{
			OnCacheHit:  func() { metrics.CacheLookups.WithLabelValues("hit").Inc() },
			OnCacheMiss: func() { metrics.CacheLookups.WithLabelValues("miss").Inc() },
			OnLimited:   func() { metrics.RateLimited.WithLabelValues("/chat").Inc() },
		}),
	)

	notifier := notify.New(directory(ctx, cfg, logger), sender(ctx, cfg, logger),
		notify.WithLogger(logger.With().Str("component", "notify").Logger()),
		notify.OnDispatch(metrics.ObserveDispatch),
	)

	var annotator httpapi.ImageAnalyzer
	if cfg.Google.VisionAPIKey != "" {
		a, err := vision.New(ctx, cfg.Google.VisionAPIKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("vision client")
		}
		annotator = a
	}

	passLimiter := memory.New(ratelimit.Policy{Max: cfg.Limits.PassthroughPerMinute, Window: ratelimit.DefaultWindow})
	passLimiter.StartJanitor(ctx, sweep)

	mounts := map[string]http.Handler{
		cfg.Observability.PrometheusPath: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	if cfg.Google.MapsAPIKey != "" {
		rr, err := buildRoutes(cfg.Routes, cfg.Google.MapsAPIKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("pass-through routes")
		}
		mounts["/maps/*"] = gateway.Chain(
			proxy.Handler(proxy.NewHTTPTransport()),
			gateway.RouteMatcher(rr),
			gateway.RateLimit(passLimiter, func(id string) { metrics.RateLimited.WithLabelValues(id).Inc() }),
		)
	} else {
		logger.Warn().Msg("MAPS_API_KEY not set, map pass-through disabled")
	}

	skip := map[string]struct{}{
		"/health":                        {},
		"/version":                       {},
		cfg.Observability.PrometheusPath: {},
	}

	handler := httpapi.NewRouter(httpapi.Deps{
		Chat:        chatSvc,
		Notifier:    notifier,
		Vision:      annotator,
		Identity:    identity.Resolver{TrustForwardedFor: cfg.Server.TrustForwardedFor},
		Logger:      logger,
		MaxBody:     cfg.Server.MaxBody(),
		Middlewares: []gateway.Middleware{obs.Logger(), metrics.Middleware(skip)},
		Mounts:      mounts,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout(),
		ReadTimeout:       cfg.Server.ReadTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("AI proxy listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("bye")
}

// directory is nil when no project is configured; the engine then answers
// with a configuration error.
func directory(ctx context.Context, cfg *config.Root, logger zerolog.Logger) notify.Directory {
	if cfg.Google.ProjectID == "" {
		logger.Warn().Msg("GOOGLE_CLOUD_PROJECT not set, notifications disabled")
		return nil
	}
	d, err := firestore.New(ctx, firestore.Config{
		ProjectID:       cfg.Google.ProjectID,
		CredentialsFile: cfg.Google.CredentialsFile,
		Collection:      cfg.Google.UsersCollection,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("firestore client")
	}
	return d
}

func sender(ctx context.Context, cfg *config.Root, logger zerolog.Logger) notify.Sender {
	if cfg.Google.ProjectID == "" {
		return nil
	}
	s, err := fcm.New(ctx, fcm.Config{
		ProjectID:       cfg.Google.ProjectID,
		CredentialsFile: cfg.Google.CredentialsFile,
		PerSecond:       cfg.Google.PushPerSecond,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("fcm client")
	}
	return s
}

func buildRoutes(routes []config.Route, apiKey string) (*routing.Router, error) {
	rr := routing.New()
	for _, r := range routes {
		u, err := url.Parse(r.Upstream)
		if err != nil {
			return nil, err
		}
		methods := make(map[string]struct{}, len(r.Methods))
		for _, m := range r.Methods {
			methods[strings.ToUpper(m)] = struct{}{}
		}
		rr.Add(&routing.Route{
			ID:       r.ID,
			Methods:  methods,
			Prefix:   r.Prefix,
			Upstream: u,
			Query:    url.Values{"key": {apiKey}},
			Timeout:  r.Timeout(),
		})
	}
	return rr, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
