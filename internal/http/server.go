package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Clark-Hu/fanrank/internal/config"
	"github.com/Clark-Hu/fanrank/internal/domain"
	"github.com/Clark-Hu/fanrank/internal/logger"
)

// AggregateService is the ratings core as seen by the HTTP layer.
type AggregateService interface {
	CreateAthlete(ctx context.Context, name string) (domain.Athlete, error)
	GetAthlete(ctx context.Context, athleteID string) (domain.Athlete, error)
	RecordRating(ctx context.Context, athleteID string, scores map[string]int) (domain.Rating, error)
	Reconcile(ctx context.Context, athleteID string) (domain.Athlete, error)
	GetRating(ctx context.Context, ratingID string) (domain.Rating, error)
	DeleteRating(ctx context.Context, ratingID string) error
}

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server wires HTTP routing, middleware, and handlers.
type Server struct {
	cfg      config.Config
	svc      AggregateService
	health   HealthChecker
	gatherer prometheus.Gatherer
	logger   *logger.Logger
	router   chi.Router
	httpSrv  *http.Server
}

// New constructs the HTTP server with base middleware and routes. health and
// gatherer may be nil.
func New(cfg config.Config, svc AggregateService, health HealthChecker, gatherer prometheus.Gatherer, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("component", "http")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:      cfg,
		svc:      svc,
		health:   health,
		gatherer: gatherer,
		logger:   log,
		router:   r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	s.router.Route("/athletes", func(r chi.Router) {
		r.Post("/", s.handleCreateAthlete)
		r.Route("/{athleteID}", func(r chi.Router) {
			r.Get("/", s.handleGetAthlete)
			r.Post("/ratings", s.handleSubmitRating)
			r.Post("/reconcile", s.handleReconcile)
		})
	})
	s.router.Route("/ratings/{ratingID}", func(r chi.Router) {
		r.Get("/", s.handleGetRating)
		r.Delete("/", s.handleDeleteRating)
	})
}

// ServeHTTP lets the server be mounted or exercised directly in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start boots the HTTP server and blocks until ctx ends or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.health != nil {
		if err := s.health.HealthCheck(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err)
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
