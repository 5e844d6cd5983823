package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	v1 "github.com/gosuda/timeproof/internal/api/v1"
	"github.com/gosuda/timeproof/internal/api/ws"
	"github.com/gosuda/timeproof/internal/config"
	"github.com/gosuda/timeproof/internal/server/middleware"
)

// Deps are the services the HTTP surface exposes.
type Deps struct {
	Roots     v1.RootBuilder
	Notarizer v1.Notarizer
	Exporter  v1.Exporter
	Monitor   v1.HealthMonitor
	Audit     v1.AuditLog
	PubSub    ws.Subscriber
}

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
}

// New creates a Server with all routes wired. ctx bounds the background
// cleanup of the rate limiters.
func New(ctx context.Context, cfg *config.Config, deps Deps) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(middleware.Observe())
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	hub := ws.NewHub(deps.PubSub, originPatterns(cfg.Server.CORSOrigins))

	s := &Server{
		router: router,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT.Secret))
		r.Use(middleware.RequireCompany())
		r.Use(middleware.RateLimit(ctx, middleware.Limit{Rate: cfg.Server.RequestsPerSecond, Burst: cfg.Server.Burst}))
		r.Use(middleware.RateLimitProviderCalls(ctx,
			middleware.Limit{Rate: cfg.Server.ProviderRequestsPerSecond, Burst: cfg.Server.ProviderBurst},
			reachesProvider))
		r.Use(middleware.RequireWriteRole(middleware.RoleAdmin, middleware.RoleMember, middleware.RoleService))

		apiConfig := huma.DefaultConfig("Timeproof API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		registerAPIRoutes(api, deps)
	})

	router.Route("/ws", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(ctx, middleware.Limit{Rate: cfg.Server.WSRequestsPerSecond, Burst: cfg.Server.WSBurst}))
		r.Use(middleware.Auth(cfg.JWT.Secret))
		r.Use(middleware.RequireCompany())
		registerWSRoutes(r, hub)
	})

	router.Handle("/metrics", promhttp.Handler())

	// Health check (unauthenticated).
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

// reachesProvider reports whether an API request calls the trust service
// provider: evidence submission, sealing, retries, the pending check and the
// live health probe.
func reachesProvider(r *http.Request) bool {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1")
	switch r.Method {
	case http.MethodPost:
		switch path {
		case "/evidence", "/evidence/seal", "/evidence/retry", "/evidence/check-pending":
			return true
		}
		return strings.HasPrefix(path, "/evidence/") && strings.HasSuffix(path, "/retry")
	case http.MethodGet:
		return path == "/qtsp/health"
	}
	return false
}

// originPatterns turns CORS origins into the host patterns the WebSocket
// accept check expects.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if _, host, ok := strings.Cut(o, "://"); ok {
			o = host
		}
		if o != "" {
			patterns = append(patterns, o)
		}
	}
	return patterns
}

