// internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/FairForge/marketcache/internal/config"
	"github.com/FairForge/marketcache/internal/insight"
	"github.com/FairForge/marketcache/internal/intelligence"
	"github.com/FairForge/marketcache/internal/warming"
)

// Server exposes the admin and observability surface over HTTP.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	svc    *intelligence.Service
	router chi.Router
	http   *http.Server
}

// NewServer creates the admin server.
func NewServer(cfg *config.Config, logger *zap.Logger, svc *intelligence.Service) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		svc:    svc,
		router: chi.NewRouter(),
	}
	s.routes()

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", s.svc.Metrics().Handler())

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/insights", s.handleInsights)
		r.Get("/quality/health", s.handleQualityHealth)
		r.Get("/quality/events", s.handleQualityEvents)
		r.Get("/quality/quarantine", s.handleQuarantineList)
		r.Post("/quarantine/{key}/release", s.handleQuarantineRelease)
		r.Get("/warming/tasks", s.handleWarmingTasks)
		r.Post("/warming/warm", s.handleWarm)
	})
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("admin server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: serving: %w", err)
	}
	return nil
}

// Shutdown drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Report())
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	ins := s.svc.Insights()
	if ins == nil {
		ins = s.svc.RegenerateInsights(r.Context())
	}
	s.writeJSON(w, http.StatusOK, ins)
}

func (s *Server) handleQualityHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Gate().Health())
}

func (s *Server) handleQualityEvents(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Gate().History())
}

func (s *Server) handleQuarantineList(w http.ResponseWriter, r *http.Request) {
	keys := s.svc.Gate().QuarantinedKeys(time.Now())
	if keys == nil {
		keys = []string{}
	}
	s.writeJSON(w, http.StatusOK, keys)
}

func (s *Server) handleQuarantineRelease(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !s.svc.Gate().ReleaseQuarantine(key) {
		s.writeError(w, http.StatusNotFound, "key is not quarantined")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"released": key})
}

func (s *Server) handleWarmingTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.svc.Scheduler().Tasks()
	if tasks == nil {
		tasks = []warming.Task{}
	}
	s.writeJSON(w, http.StatusOK, tasks)
}

type warmRequest struct {
	DataType string `json:"data_type"`
	Symbol   string `json:"symbol"`
	Priority string `json:"priority"`
}

func (s *Server) handleWarm(w http.ResponseWriter, r *http.Request) {
	var req warmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DataType == "" {
		s.writeError(w, http.StatusBadRequest, "data_type is required")
		return
	}

	priority := insight.PriorityHigh
	switch req.Priority {
	case "", "high":
	case "medium":
		priority = insight.PriorityMedium
	case "low":
		priority = insight.PriorityLow
	default:
		s.writeError(w, http.StatusBadRequest, "priority must be high, medium, or low")
		return
	}

	task := s.svc.Warm(req.DataType, req.Symbol, priority)
	if task == nil {
		s.writeError(w, http.StatusServiceUnavailable, "warming queue is full")
		return
	}
	s.writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
