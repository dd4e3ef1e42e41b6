// Package web serves the monitoring API: sample ingestion, historical and
// statistics queries, appliance management, and the live WebSocket feed.
package web

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/nilm-server/internal/cache"
	"github.com/sweeney/nilm-server/internal/nilm"
	"github.com/sweeney/nilm-server/internal/store"
)

// Deps bundles the collaborators the server exposes over HTTP.
type Deps struct {
	Pipeline *nilm.Pipeline
	Store    *store.Store
	Cache    *cache.Cache // nil disables caching
	Hub      http.Handler // nil disables /ws
	Logger   *slog.Logger

	APIKey        string // empty disables authentication
	RatePerMinute int    // <= 0 disables rate limiting
}

// Server serves the monitoring API over HTTP.
type Server struct {
	httpServer *http.Server
	deps       Deps
	log        *slog.Logger
	limiter    *rateLimiter
	startTime  time.Time
}

// New creates a Server with all routes registered.
func New(addr string, deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		deps:      deps,
		log:       log.With(slog.String("component", "web")),
		startTime: time.Now(),
	}
	if deps.RatePerMinute > 0 {
		s.limiter = newRateLimiter(deps.RatePerMinute, time.Now)
	}

	router := mux.NewRouter()
	router.Use(s.observeMiddleware)

	// Unauthenticated surfaces: probes, scrapers, and the dashboard feed.
	router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if deps.Hub != nil {
		router.Handle("/ws", deps.Hub)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware, s.rateLimitMiddleware)
	api.HandleFunc("/data", s.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/historical", s.handleHistorical).Methods(http.MethodGet)
	api.HandleFunc("/appliances", s.handleAppliances).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/unlabeled_events", s.handleUnlabeledEvents).Methods(http.MethodGet)
	api.HandleFunc("/label_appliance", s.handleLabelAppliance).Methods(http.MethodPost)
	api.HandleFunc("/statistics", s.handleStatistics).Methods(http.MethodGet)
	api.HandleFunc("/known_appliances", s.handleKnownAppliances).Methods(http.MethodGet)
	api.HandleFunc("/add_appliance", s.handleAddAppliance).Methods(http.MethodPost)
	api.HandleFunc("/delete_appliance/{name}", s.handleDeleteAppliance).Methods(http.MethodDelete)
	api.HandleFunc("/reset_system", s.handleResetSystem).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
