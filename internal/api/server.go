package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"github.com/vaidashi/courier-lifecycle/internal/auth"
	"github.com/vaidashi/courier-lifecycle/internal/booking"
	"github.com/vaidashi/courier-lifecycle/internal/ledger"
	"github.com/vaidashi/courier-lifecycle/internal/models"
	"github.com/vaidashi/courier-lifecycle/internal/worker"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
	ratemw "github.com/vaidashi/courier-lifecycle/pkg/middleware"
	"github.com/vaidashi/courier-lifecycle/pkg/ratelimit"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the HTTP surface
type Options struct {
	Port       int
	Production bool
	Version    string
	RateLimit  ratemw.RateLimiterConfig
}

// Dependencies are the services the handlers call
type Dependencies struct {
	Store      Pinger
	Guard      *auth.Guard
	Bookings   *booking.Service
	Ledger     *ledger.Service
	Sync       *worker.Runner
	Simulation *worker.Runner
	// CarrierState reports the carrier circuit breaker, if one is configured
	CarrierState func() string
}

// Server is the HTTP API
type Server struct {
	opts       Options
	deps       Dependencies
	router     *mux.Router
	limiter    *ratemw.RateLimiterMiddleware
	httpServer *http.Server
	logger     logger.Logger
}

// DefaultRateLimit is the limiter used when none is configured
func DefaultRateLimit() ratemw.RateLimiterConfig {
	return ratemw.RateLimiterConfig{
		Default: ratelimit.Limit{Burst: 20, PerSecond: 2},
		Overrides: map[string]ratelimit.Limit{
			"POST /api/v1/bookings":        {Burst: 5, PerSecond: 0.2},
			"POST /api/v1/wallet/recharge": {Burst: 5, PerSecond: 0.2},
		},
		IdleTTL: 10 * time.Minute,
	}
}

// NewServer creates a new API server
func NewServer(opts Options, deps Dependencies, logger logger.Logger) *Server {
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}

	if opts.RateLimit.Default.Burst <= 0 {
		opts.RateLimit = DefaultRateLimit()
	}

	r := mux.NewRouter()

	s := &Server{
		opts:    opts,
		deps:    deps,
		router:  r,
		limiter: ratemw.NewRateLimiterMiddleware(opts.RateLimit, auth.CallerKey, logger),
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", opts.Port),
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	s.setupRoutes()
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes configures all the routes for our API
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)

	customers := []models.Role{models.RoleCustomer, models.RoleCXBCPartner, models.RoleAdmin}
	staff := []models.Role{models.RoleAdmin, models.RoleWarehouseOperator}

	s.mutation(api, "/bookings", "booking.create", s.createBookingHandler, customers...)
	s.mutation(api, "/bookings/{id}/confirm", "booking.confirm", s.confirmBookingHandler, customers...)
	s.mutation(api, "/bookings/{id}/cancel", "booking.cancel", s.cancelBookingHandler, customers...)
	s.query(api, "/shipments/{id}", "shipment.get", s.getShipmentHandler)
	s.query(api, "/shipments/{id}/history", "shipment.history", s.getShipmentHistoryHandler)

	s.query(api, "/wallet", "wallet.balance", s.getWalletHandler)
	s.query(api, "/wallet/entries", "wallet.entries", s.getWalletEntriesHandler)
	s.query(api, "/wallet/receipts/{id}", "wallet.receipt", s.getReceiptHandler)
	s.mutation(api, "/wallet/recharge", "wallet.recharge", s.rechargeHandler)

	s.mutation(api, "/admin/actions", "admin.action", s.adminActionHandler, staff...)
	s.mutation(api, "/admin/dispatch", "admin.dispatch", s.dispatchHandler, models.RoleAdmin)
	s.mutation(api, "/admin/manifests", "admin.manifest", s.createManifestHandler, models.RoleAdmin)

	api.Handle("/cron/domestic-sync",
		s.deps.Guard.RequireCronSecret("cron.domestic_sync")(s.cronHandler(s.deps.Sync))).
		Methods(http.MethodPost)

	if !s.opts.Production {
		api.Handle("/cron/simulation-worker",
			s.deps.Guard.RequireCronSecret("cron.simulation")(s.cronHandler(s.deps.Simulation))).
			Methods(http.MethodPost)
	}
}

// query registers an authenticated read
func (s *Server) query(r *mux.Router, path, operation string, h http.HandlerFunc, roles ...models.Role) {
	chain := s.deps.Guard.Authenticate(s.deps.Guard.Require(operation, roles...)(h))
	r.Handle(path, chain).Methods(http.MethodGet)
}

// mutation registers an authenticated, rate limited write
func (s *Server) mutation(r *mux.Router, path, operation string, h http.HandlerFunc, roles ...models.Role) {
	chain := s.deps.Guard.Authenticate(s.deps.Guard.Require(operation, roles...)(s.limiter.Middleware(h)))
	r.Handle(path, chain).Methods(http.MethodPost)
}

// loggingMiddleware logs every request with its id and status
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("Request processed",
			"requestID", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"remoteAddr", ratemw.ClientIP(r),
		)
	})
}
