package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/liquidity/internal/domain"
	"github.com/opensource-finance/liquidity/internal/history"
	"github.com/opensource-finance/liquidity/internal/rules"
	"github.com/opensource-finance/liquidity/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves the liquidity calculation API.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer wires the handler into a chi router.
//
// Probes and /metrics sit outside the tenant scope. Everything that reads
// or writes submissions, rules or runs requires X-Tenant-ID.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, registry *rules.Registry, runner *worker.Runner, hist *history.Service, version string) *Server {
	handler := NewHandler(repo, cache, bus, registry, runner, hist, version)

	router := chi.NewRouter()
	router.Use(CORSMiddleware(cfg.AllowedOrigins))
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Post("/line-items", handler.IngestLineItems)
		r.Post("/expected", handler.SaveExpected)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", handler.ListRules)
			r.Post("/", handler.CreateRule)
			r.Post("/reload", handler.ReloadRules)
			r.Get("/{code}", handler.GetRule)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", handler.CreateRun)
			r.Get("/{id}", handler.GetRun)
			r.Get("/{id}/breakdowns", handler.GetRunBreakdowns)
		})
		r.Get("/submissions/{id}/runs", handler.ListSubmissionRuns)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start listens on the configured address. It blocks until the server
// stops and returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the router to in-process tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler exposes the handler to in-process tests.
func (s *Server) Handler() *Handler {
	return s.handler
}
