// Package server exposes the keep-alive, health and metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"bridgebot/internal/domain"
	"bridgebot/internal/metrics"

	"github.com/go-chi/chi/v5"
)

// Pinger reports whether storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Addr     string
	Adapters []domain.Provider
	Store    Pinger
	Version  string
	Logger   *slog.Logger
}

type Server struct {
	addr     string
	adapters []domain.Provider
	store    Pinger
	version  string
	started  time.Time
	logger   *slog.Logger
	router   chi.Router
}

// Health is the body of GET /healthz.
type Health struct {
	Status   string          `json:"status"`
	Version  string          `json:"version,omitempty"`
	Uptime   string          `json:"uptime"`
	Adapters map[string]bool `json:"adapters"`
	Storage  string          `json:"storage"`
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		addr:     cfg.Addr,
		adapters: cfg.Adapters,
		store:    cfg.Store,
		version:  cfg.Version,
		started:  time.Now(),
		logger:   cfg.Logger.With("component", "http"),
	}

	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	s.router = r
	return s
}

// Handler returns the routes, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server started", "addr", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleRoot answers keep-alive pings from hosting platforms.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("OK"))
}

// handleHealth reports 503 when no adapter is receiving or storage is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := Health{
		Status:   "ok",
		Version:  s.version,
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Adapters: make(map[string]bool, len(s.adapters)),
		Storage:  "ok",
	}

	anyUp := false
	for _, a := range s.adapters {
		up := a.Connected()
		h.Adapters[a.Name()] = up
		anyUp = anyUp || up
	}

	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.logger.Warn("storage ping failed", "err", err)
			h.Storage = "unavailable"
		}
	}

	code := http.StatusOK
	if !anyUp || h.Storage != "ok" {
		h.Status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(h)
}
