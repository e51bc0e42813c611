// Package app wires the configuration into running components.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/postwave/postwave/internal/api"
	"github.com/postwave/postwave/internal/attachment"
	"github.com/postwave/postwave/internal/campaign"
	"github.com/postwave/postwave/internal/config"
	"github.com/postwave/postwave/internal/dns"
	"github.com/postwave/postwave/internal/gmail"
	"github.com/postwave/postwave/internal/metrics"
	"github.com/postwave/postwave/internal/ratelimit"
	"github.com/postwave/postwave/internal/sender"
	"github.com/postwave/postwave/internal/store"
	"github.com/postwave/postwave/internal/suppress"
	"github.com/postwave/postwave/internal/verify"
)

// App is the main application
type App struct {
	config      *config.Config
	db          *store.DB
	suppression *suppress.Store
	apiServer   *api.Server
	rateLimiter *ratelimit.Limiter
	logger      *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	db, err := store.New(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	suppression, err := suppress.NewStore(cfg.Storage.SuppressionPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open suppression store: %w", err)
	}

	// Pick the delivery adapter. Each adapter knows which of its own
	// errors are worth retrying.
	var (
		mailSender  campaign.Sender
		isTemporary campaign.ErrorChecker
	)
	switch cfg.Sender.Mode {
	case "gmail":
		from, ts, err := cfg.Sender.Gmail.Identity(context.Background())
		if err != nil {
			return nil, fmt.Errorf("gmail identity: %w", err)
		}
		mailSender = gmail.NewClient(from, ts, logger.With("component", "gmail"))
		isTemporary = gmail.IsTemporary
		logger.Info("gmail sender configured", "email", cfg.Sender.Gmail.Email)
	case "smtp":
		mailSender = sender.NewSMTPSender(cfg.Sender.SMTP, logger.With("component", "smtp_sender"))
		isTemporary = sender.IsTemporary
		logger.Info("smtp sender configured", "host", cfg.Sender.SMTP.Host)
	default:
		return nil, fmt.Errorf("unknown sender mode: %s", cfg.Sender.Mode)
	}

	if cfg.Tracking.BaseURL != "" {
		mailSender = campaign.NewTrackingSender(mailSender, cfg.Tracking.BaseURL)
		logger.Info("engagement tracking enabled", "base_url", cfg.Tracking.BaseURL)
	}

	verifyOpts := verify.Options{CheckMX: cfg.Verify.CheckMX}
	if cfg.Verify.CheckMX {
		verifyOpts.Resolver = dns.NewResolver(cfg.Verify.MXCacheTTL)
	}
	verifier := verify.NewHeuristic(verifyOpts)

	service := campaign.NewService(campaign.ServiceOptions{
		Sender:      mailSender,
		Verifier:    verifier,
		Fetcher:     attachment.NewHTTPFetcher(cfg.Campaign.FetchTimeout, cfg.Campaign.AttachmentMax),
		Suppression: suppression,
		IsTemporary: isTemporary,
		Logger:      logger.With("component", "campaign"),
	})

	var rateLimiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		rateLimiter = ratelimit.NewLimiter(cfg.RateLimit.Window)
		logger.Info("rate limiting enabled",
			"window", cfg.RateLimit.Window,
			"max_requests", cfg.RateLimit.MaxRequests,
		)
	}

	var promMetrics *metrics.Metrics
	if cfg.Metrics.Enabled {
		promMetrics = metrics.New()
		metrics.SetGlobal(promMetrics)
		logger.Info("metrics enabled")
	}

	apiServer := api.NewServer(cfg, api.ServerDeps{
		Runner:      service,
		Verifier:    verifier,
		Limiter:     rateLimiter,
		Metrics:     promMetrics,
		Campaigns:   store.NewCampaignRepository(db),
		Runs:        store.NewRunRepository(db),
		Tracking:    store.NewTrackingRepository(db),
		Consent:     store.NewConsentRepository(db),
		Suppression: suppression,
	}, logger.With("component", "api"))

	return &App{
		config:      cfg,
		db:          db,
		suppression: suppression,
		apiServer:   apiServer,
		rateLimiter: rateLimiter,
		logger:      logger,
	}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting postwave",
		"api_addr", a.config.API.ListenAddr,
		"sender_mode", a.config.Sender.Mode,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.rateLimiter != nil {
		a.rateLimiter.Stop()
	}

	if err := a.suppression.Close(); err != nil {
		a.logger.Error("suppression store close error", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
