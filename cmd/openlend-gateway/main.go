package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"openlend/gateway/config"
	"openlend/gateway/middleware"
	"openlend/gateway/routes"
	"openlend/observability/logging"
	telemetry "openlend/observability/otel"
	"openlend/sdk/lend"
)

func main() {
	configPath := flag.String("config", "", "path to the gateway YAML config (built-in defaults apply when empty)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("OPENLEND_ENV"))
	logger := logging.Setup("openlend-gateway", env)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load gateway config", "error", err)
		os.Exit(1)
	}

	shutdownTelemetry := func(context.Context) error { return nil }
	if cfg.Observability.Tracing {
		otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
		otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
		insecure := true
		if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
			if parsed, err := strconv.ParseBool(value); err == nil {
				insecure = parsed
			}
		}
		shutdown, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: cfg.Observability.ServiceName,
			Environment: env,
			Endpoint:    otlpEndpoint,
			Insecure:    insecure,
			Headers:     otlpHeaders,
			Traces:      true,
		})
		if err != nil {
			logger.Error("Failed to initialise telemetry", "error", err)
			os.Exit(1)
		}
		shutdownTelemetry = shutdown
	}

	runErr := run(cfg, logger)
	if err := shutdownTelemetry(context.Background()); err != nil {
		logger.Warn("Telemetry shutdown failed", "error", err)
	}
	if runErr != nil {
		logger.Error("Gateway failed", "error", runErr)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	opts := []lend.Option{
		lend.WithHTTPClient(&http.Client{Timeout: cfg.Node.Timeout}),
	}
	if token := cfg.NodeToken(); token != "" {
		opts = append(opts, lend.WithAuthToken(token))
	}
	client, err := lend.New(cfg.Node.Endpoint, opts...)
	if err != nil {
		return err
	}

	var authenticator *middleware.Authenticator
	if cfg.Auth.Enabled {
		authenticator = middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:        true,
			HMACSecret:     cfg.Auth.HMACSecret,
			Issuer:         cfg.Auth.Issuer,
			Audience:       cfg.Auth.Audience,
			ScopeClaim:     cfg.Auth.ScopeClaim,
			OptionalPaths:  cfg.Auth.OptionalPaths,
			AllowAnonymous: cfg.Auth.AllowAnonymous,
			ClockSkew:      cfg.Auth.ClockSkew,
		}, logger)
	}

	var limiter *middleware.RateLimiter
	if len(cfg.RateLimits) > 0 {
		limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
		for id, entry := range cfg.RateLimitTable() {
			limits[id] = middleware.RateLimit{
				RequestsPerMinute: entry.RequestsPerMinute,
				Burst:             entry.Burst,
			}
		}
		limiter = middleware.NewRateLimiter(limits)
	}

	var obs *middleware.Observability
	if cfg.Observability.Metrics || cfg.Observability.Tracing || cfg.Observability.LogRequests {
		obs = middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName:   cfg.Observability.ServiceName,
			MetricsPrefix: cfg.Observability.MetricsPrefix,
			LogRequests:   cfg.Observability.LogRequests,
			Enabled:       true,
		}, logger)
	}

	var replay *middleware.Idempotency
	if cfg.Idempotency.Enabled {
		store, err := middleware.NewIdempotencyStore(cfg.Idempotency.Path, cfg.Idempotency.TTL)
		if err != nil {
			return fmt.Errorf("open idempotency store: %w", err)
		}
		defer store.Close()
		replay = middleware.NewIdempotency(store)
	}

	handler, err := routes.New(routes.Config{
		Client:        client,
		Timeout:       cfg.Node.Timeout,
		Authenticator: authenticator,
		WriteScopes:   cfg.Auth.RequiredScopes,
		RateLimiter:   limiter,
		Observability: obs,
		Idempotency:   replay,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(handler, "openlend-gateway"),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Gateway listening", "address", cfg.ListenAddress, "node", cfg.Node.Endpoint)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Gateway shutdown incomplete", "error", err)
	}
	logger.Info("Gateway stopped")
	return nil
}
