package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/arbiter/internal/config"
	"github.com/MikeSquared-Agency/arbiter/internal/correction"
	"github.com/MikeSquared-Agency/arbiter/internal/ladder"
	"github.com/MikeSquared-Agency/arbiter/internal/settlement"
)

// Deps are the services behind the rating routes.
type Deps struct {
	Store     ladder.Store
	Settler   *settlement.Engine
	Corrector *correction.Engine
	Policy    config.Policy
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	// StoreKind is reported by the status endpoint.
	StoreKind string
	// Bus reports event transport health on the status endpoint when set.
	Bus interface{ Connected() bool }
}

type Server struct {
	router *chi.Mux
	http   *http.Server
	deps   Deps
	logger *slog.Logger
}

func NewServer(port int, apiToken string, deps Deps, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		deps:   deps,
		logger: logger,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/arbiter/status", s.status)
	if deps.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Post("/matches/{id}/settle", s.settle)
		r.Post("/matches/{id}/rollback", s.rollback)
		r.Post("/matches/{id}/void", s.void)
		r.Post("/clans/{id}/reset", s.reset)
		r.Get("/clans/{id}/ledger", s.ledger)
		r.Get("/clans/{id}/audit", s.audit)
	})

	return s
}

func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	bus := "disabled"
	if s.deps.Bus != nil {
		bus = "disconnected"
		if s.deps.Bus.Connected() {
			bus = "connected"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":  "arbiter",
		"status": "active",
		"store":  s.deps.StoreKind,
		"nats":   bus,
		"policy": map[string]any{
			"default_rating":    s.deps.Policy.DefaultRating,
			"floor":             s.deps.Policy.Floor,
			"placement_matches": s.deps.Policy.PlacementMatches,
			"anti_farm":         s.deps.Policy.AntiFarmEnabled,
			"win_rate":          s.deps.Policy.WinRateEnabled,
			"rank":              s.deps.Policy.RankEnabled,
			"underdog":          s.deps.Policy.UnderdogEnabled,
			"gain_cap":          s.deps.Policy.GainCapEnabled,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
