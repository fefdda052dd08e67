// Package main is the entrypoint for the capisim API server.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/capisim/capisim/internal/auth"
	"github.com/capisim/capisim/internal/config"
	"github.com/capisim/capisim/internal/dispatch"
	"github.com/capisim/capisim/internal/event"
	"github.com/capisim/capisim/internal/handler"
	"github.com/capisim/capisim/internal/metrics"
	"github.com/capisim/capisim/internal/middleware"
	"github.com/capisim/capisim/internal/repository"
	"github.com/capisim/capisim/internal/scheduler"
	"github.com/capisim/capisim/internal/server"
	"github.com/capisim/capisim/internal/service"
	"github.com/capisim/capisim/internal/state"
	"github.com/capisim/capisim/internal/stream"
)

// handlers groups everything setupRouter mounts.
type handlers struct {
	root    *handler.Handler
	health  *handler.HealthHandler
	control *handler.ControlHandler
	send    *handler.SendHandler
	history *handler.HistoryHandler
	metrics *handler.MetricsHandler
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	store := state.New(state.Options{
		CatalogSize:    cfg.DefaultCatalogSize,
		BaseURL:        cfg.BaseURL,
		LedgerCapacity: cfg.DedupLedgerSize,
		LedgerWindow:   cfg.DedupWindow,
	})

	capi := dispatch.NewCAPIClient(dispatch.CAPIConfig{
		PixelID:       cfg.PixelID,
		AccessToken:   cfg.AccessToken,
		TestEventCode: cfg.TestEventCode,
		GraphVersion:  cfg.GraphVersion,
		BaseURL:       cfg.GraphBaseURL,
		PartnerAgent:  cfg.PartnerAgent + "/" + config.Version,
		DryRun:        cfg.DryRun,
		MaxRPS:        cfg.CAPIMaxRPS,
		Burst:         cfg.CAPIBurst,
		HTTPClient:    dispatch.NewHTTPClient(cfg.CAPITimeout),
	})
	if !cfg.CAPIConfigured() {
		logger.Warn("PIXEL_ID or ACCESS_TOKEN missing, CAPI sends are dry runs")
	}

	srv := server.New(nil, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Optional sinks. Interface-typed vars stay untyped nil when absent.
	var (
		sinks   []dispatch.Sink
		db      handler.HealthChecker
		cache   handler.HealthChecker
		journal handler.JournalReader
		recent  handler.StreamReader
	)

	if cfg.GA4Configured() {
		sinks = append(sinks, dispatch.NewGA4Sink(dispatch.GA4Config{
			MeasurementID: cfg.GA4MeasurementID,
			APISecret:     cfg.GA4APISecret,
			Endpoint:      cfg.GA4Endpoint,
		}))
		logger.Info("ga4 sink enabled", "measurement_id", cfg.GA4MeasurementID)
	}

	if cfg.FileSinkPath != "" {
		fileSink, err := dispatch.NewFileSink(cfg.FileSinkPath)
		if err != nil {
			logger.Error("failed to open file sink", "path", cfg.FileSinkPath, "error", err)
			os.Exit(1)
		}
		srv.OnShutdown("file_sink", func(context.Context) error { return fileSink.Close() })
		sinks = append(sinks, fileSink)
		logger.Info("file sink enabled", "path", cfg.FileSinkPath)
	}

	if cfg.WebhookURL != "" {
		sinks = append(sinks, dispatch.NewWebhookSink(dispatch.WebhookConfig{
			URL:     cfg.WebhookURL,
			Headers: cfg.WebhookHeaders,
			Secret:  cfg.WebhookSecret,
		}))
		logger.Info("webhook sink enabled", "url", redactURL(cfg.WebhookURL), "signed", cfg.WebhookSecret != "")
	}

	if cfg.RedisURL != "" {
		pub, err := stream.New(ctx, cfg.RedisURL, cfg.RedisStream)
		if err != nil {
			logger.Error(
				"failed to connect to Redis",
				slog.String("error", sanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", redactURL(cfg.RedisURL)),
			)
			os.Exit(1)
		}
		srv.OnShutdown("redis", func(context.Context) error { return pub.Close() })
		sinks = append(sinks, pub)
		cache, recent = pub, pub
		logger.Info("redis stream sink enabled", "stream", cfg.RedisStream)
	}

	if cfg.DatabaseURL != "" {
		repo, err := repository.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error(
				"failed to connect to database",
				slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
				slog.String("database_url", redactURL(cfg.DatabaseURL)),
			)
			os.Exit(1)
		}
		srv.OnShutdown("postgres", func(context.Context) error { repo.Close(); return nil })
		sinks = append(sinks, repo)
		db, journal = repo, repo
		logger.Info("postgres journal enabled")
	}

	recorder := metrics.NewInMemory()
	router := dispatch.NewRouter(dispatch.RouterConfig{
		Store:   store,
		CAPI:    capi,
		Sinks:   sinks,
		Metrics: recorder,
		Logger:  logger,
	})

	builder := event.NewBuilder(event.BuilderConfig{
		Catalog:          store,
		StoreCurrency:    cfg.StoreCurrency,
		MismatchCurrency: cfg.MismatchCurrency,
	})
	sim := service.NewSimulator(builder, event.NewInjector(nil), router, logger)

	loop := scheduler.New(scheduler.Config{
		Sender:  sim,
		Store:   store,
		Metrics: recorder,
		Logger:  logger,
	})
	// Registered after the sinks so it stops before they close.
	srv.OnShutdown("server_auto", loop.Shutdown)

	h := handlers{
		root:    handler.New(),
		health:  handler.NewHealthHandler(db, cache, router.Readiness()),
		control: handler.NewControlHandler(store, loop, router.Readiness(), logger),
		send:    handler.NewSendHandler(sim, logger),
		history: handler.NewHistoryHandler(journal, recent, logger),
		metrics: handler.NewMetricsHandler(recorder),
	}

	r, err := setupRouter(h, cfg, logger)
	if err != nil {
		logger.Error("failed to set up router", "error", err)
		os.Exit(1)
	}
	srv.SetHandler(r)

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"version", config.Version,
		"capi_live", capi.Live(),
		"sinks", len(sinks),
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(h handlers, cfg *config.Config, logger *slog.Logger) (*chi.Mux, error) {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger, "/healthz", "/readyz", "/api/metrics"))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	if cfg.BasicAuthEnabled {
		verifier, err := auth.NewBasicVerifier(cfg.BasicAuthUsername, cfg.BasicAuthPassword)
		if err != nil {
			return nil, err
		}
		r.Use(middleware.BasicAuth(middleware.BasicAuthConfig{
			Verifier: verifier,
			Realm:    cfg.BasicAuthRealm,
			Exempt:   cfg.ExemptPaths(),
			Logger:   logger,
		}))
		logger.Info("basic auth enabled", "exempt", cfg.ExemptPaths())
	}

	r.Get("/", h.root.Hello)
	r.Get("/version", h.root.Version)
	r.Get("/healthz", h.health.Healthz)
	r.Get("/readyz", h.health.Readyz)

	r.Route("/api", func(r chi.Router) {
		r.Post("/master", h.control.Master)
		r.Get("/catalog", h.control.Catalog)
		r.Post("/catalog/size", h.control.CatalogSize)
		r.Post("/manual/send", h.send.ManualSend)

		r.Post("/server_auto/start", h.control.ServerAutoStart)
		r.Post("/server_auto/stop", h.control.ServerAutoStop)

		r.Post("/pixel_auto/set", h.control.PixelAutoSet)
		r.Post("/pixel_auto/increment", h.control.PixelAutoIncrement)
		r.Post("/pixel_auto/reset_count", h.control.PixelAutoResetCount)

		r.Get("/status", h.control.Status)
		r.Post("/capi/clear_error", h.control.ClearCAPIError)

		r.Get("/metrics", h.metrics.Metrics)
		r.Get("/dispatches", h.history.Dispatches)
		r.Get("/stream/recent", h.history.StreamRecent)
	})

	r.Post("/selftest/run", h.send.SelfTest)
	r.Post("/chaos/reset", h.control.ChaosReset)

	r.NotFound(h.root.NotFound)
	r.MethodNotAllowed(h.root.MethodNotAllowed)

	return r, nil
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}
	if parsed.RawQuery != "" {
		parsed.RawQuery = "redacted"
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
