package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"auction-trader/internal/config"
	"auction-trader/internal/engine"
	"auction-trader/internal/position"
)

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	engine  *engine.Engine
	cfg     config.Config
	logger  *slog.Logger
	metrics http.Handler
}

// NewHandlers creates a new handlers instance.
func NewHandlers(eng *engine.Engine, cfg config.Config, logger *slog.Logger) *Handlers {
	return &Handlers{
		engine:  eng,
		cfg:     cfg,
		logger:  logger.With("component", "api-handlers"),
		metrics: promhttp.HandlerFor(eng.Registry(), promhttp.HandlerOpts{}),
	}
}

// HandleHealth returns a simple health check response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleSnapshot returns the current dashboard state.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := BuildSnapshot(h.engine, h.cfg)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		h.logger.Error("failed to encode snapshot", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
}

// HandleMetrics serves Prometheus metrics from the engine's registry.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.ServeHTTP(w, r)
}

// HandleFlatten closes any open position at the operator-supplied price,
// bypassing the signal engine for manual intervention.
func (h *Handlers) HandleFlatten(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req FlattenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Price <= 0 {
		if q, ok := h.engine.Collector().LatestQuote(); ok {
			req.Price = q.Mid()
		}
	}

	reason, err := h.engine.PositionManager().CloseManual(req.Price, time.Now().UnixMilli())
	if err != nil {
		if errors.Is(err, position.ErrNoPosition) {
			http.Error(w, "no open position", http.StatusConflict)
			return
		}
		h.logger.Error("manual flatten failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(FlattenResponse{Reason: reason})
}
