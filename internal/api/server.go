// Package api exposes campaign management, sending and engagement
// tracking over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/postwave/postwave/internal/campaign"
	"github.com/postwave/postwave/internal/config"
	"github.com/postwave/postwave/internal/ipfilter"
	"github.com/postwave/postwave/internal/metrics"
	"github.com/postwave/postwave/internal/ratelimit"
	"github.com/postwave/postwave/internal/store"
	"github.com/postwave/postwave/internal/suppress"
	"github.com/postwave/postwave/internal/verify"
)

// Runner executes a campaign send. *campaign.Service satisfies it.
type Runner interface {
	Send(ctx context.Context, campaignID string, recipients []campaign.Recipient, tmpl campaign.Template, opts campaign.Options) (*campaign.Summary, error)
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	config     *config.Config
	logger     *slog.Logger
	startTime  time.Time

	runner      Runner
	verifier    verify.Verifier
	limiter     *ratelimit.Limiter
	promMetrics *metrics.Metrics
	ipFilter    *ipfilter.Filter

	campaigns *store.CampaignRepository
	runs      *store.RunRepository
	tracking  *store.TrackingRepository
	consent   *store.ConsentRepository
	suppress  *suppress.Store

	// inFlight maps campaign ID to the cancel func of its running send.
	mu       sync.Mutex
	inFlight map[string]context.CancelFunc
}

// ServerDeps bundles the server's collaborators.
type ServerDeps struct {
	Runner      Runner
	Verifier    verify.Verifier
	Limiter     *ratelimit.Limiter
	Metrics     *metrics.Metrics
	Campaigns   *store.CampaignRepository
	Runs        *store.RunRepository
	Tracking    *store.TrackingRepository
	Consent     *store.ConsentRepository
	Suppression *suppress.Store
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, deps ServerDeps, logger *slog.Logger) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		config:      cfg,
		logger:      logger,
		startTime:   time.Now(),
		runner:      deps.Runner,
		verifier:    deps.Verifier,
		limiter:     deps.Limiter,
		promMetrics: deps.Metrics,
		campaigns:   deps.Campaigns,
		runs:        deps.Runs,
		tracking:    deps.Tracking,
		consent:     deps.Consent,
		suppress:    deps.Suppression,
		inFlight:    make(map[string]context.CancelFunc),
	}
	s.ipFilter = ipfilter.New(cfg.API.AllowedIPs, logger)

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/healthz", s.handleHealth)

	if s.promMetrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(
			s.promMetrics.Registry(),
			promhttp.HandlerOpts{EnableOpenMetrics: true},
		))
	}

	// Public tracking endpoints reached from recipients' mail clients
	s.router.Group(func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)

		r.Get("/t/o/{campaignID}/{token}", s.handleTrackOpen)
		r.Get("/t/c/{campaignID}/{token}", s.handleTrackClick)
		r.Get("/unsubscribe/{token}", s.handleUnsubscribe)
		r.Post("/unsubscribe/{token}", s.handleUnsubscribe)
	})

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(metrics.HTTPMiddleware)
		r.Use(s.ipFilter.HTTPMiddleware)
		r.Use(s.authMiddleware)
		r.Use(s.rateLimitMiddleware)

		r.Post("/verify", s.handleVerify)

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", s.handleCreateCampaign)
			r.Get("/", s.handleListCampaigns)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCampaign)
				r.Put("/", s.handleUpdateCampaign)
				r.Delete("/", s.handleDeleteCampaign)

				r.Put("/recipients", s.handleSetRecipients)
				r.Get("/recipients", s.handleGetRecipients)

				r.Post("/send", s.handleSendCampaign)
				r.Post("/cancel", s.handleCancelCampaign)

				r.Get("/runs", s.handleListRuns)
				r.Get("/stats", s.handleCampaignStats)
			})
		})

		r.Get("/runs/{id}", s.handleGetRun)

		r.Get("/unsubscribes", s.handleListUnsubscribes)
		r.Delete("/unsubscribes/{email}", s.handleResubscribe)

		r.Get("/consent/{email}", s.handleConsentHistory)
	})
}

// Handler returns the root handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.API.ListenAddr,
		Handler:        s.router,
		ReadTimeout:    s.config.API.ReadTimeout,
		WriteTimeout:   s.config.API.WriteTimeout,
		IdleTimeout:    s.config.API.IdleTimeout,
		MaxHeaderBytes: s.config.API.MaxHeaderBytes,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.API.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")

	// Cancel in-flight campaign runs so their summaries get persisted.
	s.mu.Lock()
	for _, cancel := range s.inFlight {
		cancel()
	}
	s.mu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// registerRun registers a running send; it fails when one is already
// in flight for the campaign.
func (s *Server) registerRun(campaignID string, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.inFlight[campaignID]; running {
		return false
	}
	s.inFlight[campaignID] = cancel
	return true
}

func (s *Server) unregisterRun(campaignID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, campaignID)
}

// cancelRun cancels a running send, reporting whether one existed.
func (s *Server) cancelRun(campaignID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.inFlight[campaignID]
	if ok {
		cancel()
	}
	return ok
}
