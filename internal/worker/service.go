// Package worker provides the HTTP service of the strategy engine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Heartcoolman/wordforge-sub001/internal/config"
	"github.com/Heartcoolman/wordforge-sub001/internal/db/gorm"
	"github.com/Heartcoolman/wordforge-sub001/internal/engine"
	"github.com/Heartcoolman/wordforge-sub001/internal/maintenance"
	"github.com/Heartcoolman/wordforge-sub001/internal/metrics"
	"github.com/Heartcoolman/wordforge-sub001/internal/trust"
)

// Service configuration constants
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// ShutdownTimeout bounds the graceful HTTP shutdown.
	ShutdownTimeout = 10 * time.Second

	// MaxRequestBody caps decision request bodies.
	MaxRequestBody = 64 << 10
)

// Store is everything the worker persists.
type Store interface {
	engine.StateStore
	metrics.DailyStore
	trust.Store
	maintenance.Store
	HealthCheck(ctx context.Context) *gorm.HealthInfo
}

// Service is the main worker service orchestrator.
type Service struct {
	startTime time.Time
	log       zerolog.Logger
	store     Store
	config    *config.Config
	registry  *metrics.Registry
	tracker   *trust.Tracker
	engine    *engine.Engine
	flusher   *metrics.Flusher
	syncer    *trust.Syncer
	upkeep    *maintenance.Service
	limiter   *ClientLimiter
	router    *chi.Mux
	server    *http.Server
	version   string
}

// NewService wires the engine, its metrics flusher and trust syncer over store.
func NewService(cfg *config.Config, store Store, version string, log zerolog.Logger) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	registry := metrics.NewRegistry()
	tracker := trust.NewTracker(cfg.Trust, nil, log)

	svc := &Service{
		version:   version,
		config:    cfg,
		store:     store,
		log:       log.With().Str("component", "worker").Logger(),
		registry:  registry,
		tracker:   tracker,
		engine:    engine.New(store, registry, tracker, cfg.Engine, log),
		flusher:   metrics.NewFlusher(store, registry, cfg.FlushInterval, log),
		syncer:    trust.NewSyncer(tracker, store, cfg.TrustSyncInterval, log),
		upkeep:    maintenance.NewService(store, cfg.Maintenance, log),
		limiter:   NewClientLimiter(cfg.DecideRateLimit, cfg.DecideBurst),
		router:    chi.NewRouter(),
		startTime: time.Now(),
	}

	svc.setupMiddleware()
	svc.setupRoutes()
	return svc
}

// Engine returns the decision engine.
func (s *Service) Engine() *engine.Engine { return s.engine }

// Registry returns the process-wide metrics registry.
func (s *Service) Registry() *metrics.Registry { return s.registry }

// Handler returns the HTTP handler of the service.
func (s *Service) Handler() http.Handler { return s.router }

func (s *Service) setupMiddleware() {
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(DefaultHTTPTimeout))
	s.router.Use(SecurityHeaders)
}

// setupRoutes configures HTTP routes.
func (s *Service) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/health", s.handleHealth)

	s.router.Get("/api/metrics", s.handleMetrics)
	s.router.Get("/api/trust", s.handleTrust)

	s.router.Group(func(r chi.Router) {
		r.Use(RateLimit(s.limiter))
		r.Use(MaxBodySize(MaxRequestBody))
		r.Use(RequireJSONContentType)
		r.Post("/api/decide", s.handleDecide)
	})
}

// Restore brings today's exposition totals and the trust scores back from
// the store. Failures are logged; the service starts from zero instead.
func (s *Service) Restore(ctx context.Context) {
	if err := s.flusher.Restore(ctx); err != nil {
		s.log.Warn().Err(err).Msg("metrics totals not restored")
	}
	if err := s.tracker.Load(ctx, s.store); err != nil {
		s.log.Warn().Err(err).Msg("trust scores not restored")
	}
}

// Maintenance returns the housekeeping service.
func (s *Service) Maintenance() *maintenance.Service { return s.upkeep }

// Run restores state, then serves HTTP and runs the background loops until
// ctx is cancelled or the server fails. Counters and trust scores are
// persisted on the way out.
func (s *Service) Run(ctx context.Context) error {
	s.Restore(ctx)

	s.server = &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.flusher.Start(gctx)
		return nil
	})
	g.Go(func() error {
		s.syncer.Start(gctx)
		return nil
	})
	g.Go(func() error {
		s.upkeep.Start(gctx)
		return nil
	})
	g.Go(func() error {
		s.log.Info().Str("addr", s.server.Addr).Str("version", s.version).Msg("worker HTTP server started")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	s.log.Info().Msg("worker service shutdown complete")
	return err
}
