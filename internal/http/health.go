// Package http serves the liveness endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/linescout/internal/scheduler"
)

const shutdownTimeout = 5 * time.Second

// RuntimeStats is what /healthz reports about the running gateway.
type RuntimeStats interface {
	Sessions() int
	ActiveRuns() int
	LaneStats() []scheduler.LaneStats
}

// HealthHandler answers GET / and GET /healthz.
type HealthHandler struct {
	started time.Time
	version string
	stats   RuntimeStats // nil when unknown
}

// NewHealthHandler creates a liveness handler. stats may be nil.
func NewHealthHandler(version string, stats RuntimeStats) *HealthHandler {
	return &HealthHandler{started: time.Now(), version: version, stats: stats}
}

// RegisterRoutes registers the liveness routes on mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /healthz", h.handleHealthz)
}

func (h *HealthHandler) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type healthResponse struct {
	Status     string                `json:"status"`
	Version    string                `json:"version,omitempty"`
	UptimeSec  int64                 `json:"uptime_sec"`
	Sessions   *int                  `json:"sessions,omitempty"`
	ActiveRuns *int                  `json:"active_runs,omitempty"`
	Lanes      []scheduler.LaneStats `json:"lanes,omitempty"`
}

func (h *HealthHandler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Version:   h.version,
		UptimeSec: int64(time.Since(h.started).Seconds()),
	}
	if h.stats != nil {
		sessions, active := h.stats.Sessions(), h.stats.ActiveRuns()
		resp.Sessions = &sessions
		resp.ActiveRuns = &active
		resp.Lanes = h.stats.LaneStats()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// Serve runs an HTTP server on addr until ctx is cancelled, then shuts it
// down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("liveness server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("liveness server shutdown", "error", err)
		}
		return nil
	}
}
