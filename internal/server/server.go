package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-optimizer/internal/engine"
)

// HealthSource — откуда берется сводка состояния ядра. Реализуется engine.Optimizer.
type HealthSource interface {
	Health() engine.Health
}

// Pinger — проверка внешней зависимости (Redis, Postgres) для /ready.
type Pinger func(ctx context.Context) error

// OpsServer — служебный HTTP: /health, /ready, /metrics. Бизнес-API здесь нет.
type OpsServer struct {
	router  *chi.Mux
	logger  *zap.Logger
	health  HealthSource
	pingers map[string]Pinger
	gather  prometheus.Gatherer
}

func NewOpsServer(health HealthSource, pingers map[string]Pinger, gather prometheus.Gatherer, logger *zap.Logger) *OpsServer {
	s := &OpsServer{
		router:  chi.NewRouter(),
		logger:  logger.Named("ops-api"),
		health:  health,
		pingers: pingers,
		gather:  gather,
	}
	s.routes()
	return s
}

func (s *OpsServer) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if s.gather != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
	}
}

func (s *OpsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.health.Health()
	if h.Status != "ok" {
		// анализ идет из кэша, но процесс жив: код остается 200
		w.Header().Set("X-Health-Degraded", "true")
	}
	writeJSON(w, http.StatusOK, h)
}

type readiness struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
}

func (s *OpsServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.pingers))
	for name := range s.pingers {
		names = append(names, name)
	}
	sort.Strings(names)

	res := readiness{Ready: true, Checks: make(map[string]string, len(names))}
	for _, name := range names {
		if err := s.pingers[name](ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			res.Ready = false
			res.Checks[name] = err.Error()
			continue
		}
		res.Checks[name] = "ok"
	}

	code := http.StatusOK
	if !res.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// ServeHTTP позволяет использовать OpsServer как стандартный http.Handler
func (s *OpsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
