// Package http provides inbound HTTP adapters for the liquidation scanner.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/archon-research/stl-liquidator/internal/ports/inbound"
)

// HealthServerConfig holds configuration for the health server.
type HealthServerConfig struct {
	// Addr is the address to listen on (e.g., ":8080")
	Addr string

	Logger *slog.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// HealthServerConfigDefaults returns a config with default values.
func HealthServerConfigDefaults() HealthServerConfig {
	return HealthServerConfig{
		Addr:         ":8080",
		Logger:       slog.Default(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// HealthServer serves probe endpoints for the scanner.
//
// Endpoints:
//   - /health/ready  - 200 once the first scan cycle has completed
//   - /health/live   - 200 while cycles keep completing
//   - /health        - combined status with the last cycle's counters
//
// Once shuttingDown is set every endpoint reports 503 so the orchestrator
// stops routing to this task while the current cycle finishes.
type HealthServer struct {
	server       *http.Server
	checker      inbound.HealthChecker
	shuttingDown *atomic.Bool
	logger       *slog.Logger
}

// NewHealthServer creates a new health server.
func NewHealthServer(config HealthServerConfig, checker inbound.HealthChecker, shuttingDown *atomic.Bool) *HealthServer {
	defaults := HealthServerConfigDefaults()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if shuttingDown == nil {
		shuttingDown = new(atomic.Bool)
	}

	hs := &HealthServer{
		checker:      checker,
		shuttingDown: shuttingDown,
		logger:       config.Logger.With("component", "health-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/ready", hs.probe(checker.IsReady, "ready", "not_ready"))
	mux.HandleFunc("GET /health/live", hs.probe(checker.IsHealthy, "healthy", "unhealthy"))
	mux.HandleFunc("GET /health", hs.handleHealth)

	hs.server = &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return hs
}

// Handler returns the server's request router.
func (hs *HealthServer) Handler() http.Handler {
	return hs.server.Handler
}

// Start begins listening in a goroutine.
func (hs *HealthServer) Start() {
	go func() {
		hs.logger.Info("starting health server", "addr", hs.server.Addr)
		if err := hs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			hs.logger.Error("health server failed", "error", err)
		}
	}()
}

// Shutdown gracefully stops the health server.
func (hs *HealthServer) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return hs.server.Shutdown(ctx)
}

func (hs *HealthServer) probe(check func() bool, okStatus, failStatus string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case hs.shuttingDown.Load():
			hs.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		case check():
			hs.respondJSON(w, http.StatusOK, map[string]string{"status": okStatus})
		default:
			hs.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": failStatus})
		}
	}
}

type healthResponse struct {
	Status       string                `json:"status"`
	Ready        bool                  `json:"ready"`
	Healthy      bool                  `json:"healthy"`
	ShuttingDown bool                  `json:"shuttingDown"`
	Scanner      inbound.ScannerStatus `json:"scanner"`
}

func (hs *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Scanner: hs.checker.Status()}

	if hs.shuttingDown.Load() {
		resp.Status = "shutting_down"
		resp.ShuttingDown = true
		hs.respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	resp.Ready = hs.checker.IsReady()
	resp.Healthy = hs.checker.IsHealthy()
	resp.Status = "ok"
	code := http.StatusOK
	if !resp.Ready || !resp.Healthy {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	hs.respondJSON(w, code, resp)
}

func (hs *HealthServer) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		hs.logger.Error("failed to encode JSON response", "error", err)
	}
}
