package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "movierecommender/panel/internal/api/http"
	"movierecommender/panel/internal/app"
	"movierecommender/panel/internal/backend"
	"movierecommender/panel/internal/metrics"
	"movierecommender/panel/internal/panel"
	"movierecommender/panel/internal/session"
	"movierecommender/panel/internal/telemetry"
)

const serviceName = "movie-panel"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := app.LoadDotEnv(); err != nil {
		slog.Default().Warn("dotenv load failed", slog.String("error", err.Error()))
	}
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), serviceName, version)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("version", version),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("backendBaseURL", cfg.BackendBaseURL),
		slog.Duration("backendTimeout", cfg.BackendTimeout),
		slog.Int("backendMaxInFlight", cfg.BackendMaxInFlight),
		slog.Duration("suggestDebounce", cfg.SuggestDebounce),
		slog.Int("suggestMinChars", cfg.SuggestMinChars),
		slog.Bool("suggestDiscardStale", cfg.SuggestDiscardStale),
		slog.Duration("sessionIdleTTL", cfg.SessionIdleTTL),
		slog.String("allowedOrigins", strings.Join(cfg.AllowedOrigins, ",")),
	)

	backendClient := backend.NewClient(backend.Config{
		BaseURL:     cfg.BackendBaseURL,
		UserAgent:   cfg.UserAgent,
		Client:      &http.Client{Timeout: cfg.BackendTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		MaxInFlight: int64(cfg.BackendMaxInFlight),
	})
	probeBackend(backendClient, logger)

	panelLogger := logger.With(slog.String("component", "panel"))
	sessions := session.NewRegistry(cfg.SessionIdleTTL, func() *panel.Panel {
		return panel.New(backendClient,
			panel.WithDebounce(cfg.SuggestDebounce),
			panel.WithMinQueryChars(cfg.SuggestMinChars),
			panel.WithDiscardStaleSuggestions(cfg.SuggestDiscardStale),
			panel.WithLogger(panelLogger),
		)
	}, logger)

	api := apihttp.NewServer(sessions,
		apihttp.WithLogger(logger),
		apihttp.WithBackendHealth(backendClient),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		apihttp.WithWSEventRate(cfg.WSEventsPerSecond),
		apihttp.WithAllowedOrigins(cfg.AllowedOrigins),
	)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// WebSocket connections are long-lived; write deadlines are set per message.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("movie panel service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.String("backend", backendClient.BaseURL()),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			sessions.Close()
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	api.Close()
	sessions.Close()
	logger.Info("movie panel service stopped")
}

// probeBackend logs whether the recommendation backend is reachable. The
// service starts either way; /ready reports the live status.
func probeBackend(client *backend.Client, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	health, err := client.Health(ctx)
	if err != nil {
		logger.Warn("recommendation backend not reachable",
			slog.String("baseURL", client.BaseURL()),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Info("recommendation backend reachable",
		slog.String("status", health.Status),
		slog.Bool("dataLoaded", health.DataLoaded),
	)
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
