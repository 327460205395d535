package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/lokalert/apkdist/internal/audit"
	"github.com/lokalert/apkdist/internal/config"
	"github.com/lokalert/apkdist/internal/hosting/github"
	"github.com/lokalert/apkdist/internal/http/rest"
	"github.com/lokalert/apkdist/internal/logctx"
	"github.com/lokalert/apkdist/internal/notifier"
	"github.com/lokalert/apkdist/internal/session"
	"github.com/lokalert/apkdist/internal/storage/sqlite"
	"github.com/lokalert/apkdist/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("apkdist starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	sessions := sqlite.NewInstrumentedSessionRepository(database, tel)
	versions := sqlite.NewVersionRepository(database)
	auditLog := sqlite.NewAuditRepository(database)

	// =========================================================================
	// Backfill Catalog Sizes
	if cfg.GitHubToken != "" {
		gh := github.NewClient(ctx, cfg.GitHubToken)
		if err := gh.BackfillCatalogSizes(ctx, versions); err != nil {
			logger.Warn("failed to backfill catalog sizes", "err", err)
		}
	}

	// =========================================================================
	// Start Session Engine
	var sink audit.Sink = auditLog
	if cfg.DiscordWebhookURL != "" {
		sink = notifier.NewCompletionAnnouncer(sink, &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL})
	}

	limiter := session.NewRateLimiter(sessions, cfg.CooldownWindow)
	engine := session.NewEngine(sessions, versions, limiter, audit.NewBestEffort(sink))

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, cfg, engine, auditLog, versions, sessions, tel)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	return group.Wait()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	engine *session.Engine,
	auditLog *sqlite.AuditRepository,
	versions *sqlite.VersionRepository,
	sessions *sqlite.InstrumentedSessionRepository,
	tel *telemetry.Telemetry,
) *http.Server {
	downloadHandler := rest.NewDownloadHandler(engine, auditLog, tel)
	catalogHandler := rest.NewCatalogHandler(versions, sessions)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Mount("/api", catalogHandler.Routes())
	r.Mount("/api/downloads", downloadHandler.Routes())
	r.Handle("/metrics", tel.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "apkdist"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
