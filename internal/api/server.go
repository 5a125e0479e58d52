// Package api serves the daemon's status surface: health, sync state, and
// the audit trail. It is an operator window into the engine, not a data API.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/sqp-sync/internal/config"
	"github.com/ignite/sqp-sync/internal/domain"
	"github.com/ignite/sqp-sync/internal/syncer"
)

// SyncStore is the store surface the status API reads.
type SyncStore interface {
	Ping(ctx context.Context) error
	RecentSyncLogs(ctx context.Context, limit int) ([]domain.SyncLogEntry, error)
	GetSyncLog(ctx context.Context, id string) (*domain.SyncLogEntry, error)
	LastCompletedSync(ctx context.Context) (*domain.SyncLogEntry, error)
	LatestSyncedPeriodEnd(ctx context.Context, pt domain.PeriodType) (time.Time, bool, error)
	QualityChecksFor(ctx context.Context, syncLogID string) ([]domain.QualityCheck, error)
}

// ManualTrigger starts syncs and reports whether one is in flight.
// Satisfied by *scheduler.Scheduler.
type ManualTrigger interface {
	IsRunning() bool
	TriggerNow(ctx context.Context, syncType string) (*syncer.Result, error)
}

// Server is the daemon's HTTP status server.
type Server struct {
	cfg      config.ServerConfig
	handlers *Handlers
	server   *http.Server
}

// NewServer wires the status routes over the store and scheduler.
func NewServer(cfg config.ServerConfig, store SyncStore, trigger ManualTrigger, periodType domain.PeriodType) *Server {
	h := NewHandlers(store, trigger, periodType)
	return &Server{cfg: cfg, handlers: h}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the route tree for tests.
func (s *Server) Handler() http.Handler { return s.routes() }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8085"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handlers.Health)

	r.Route("/api/sync", func(r chi.Router) {
		r.Get("/status", s.handlers.Status)
		r.Get("/logs", s.handlers.Logs)
		r.Get("/logs/{logID}", s.handlers.LogDetail)
		r.Post("/trigger", s.handlers.Trigger)
	})

	return r
}
