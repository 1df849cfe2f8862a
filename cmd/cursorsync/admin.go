package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/cursor-sync/internal/balancer"
	"github.com/rickgao/cursor-sync/internal/connection"
	"github.com/rickgao/cursor-sync/internal/metrics"
	"github.com/rickgao/cursor-sync/internal/orchestrator"
)

type snapshotter interface {
	Snapshot() orchestrator.Snapshot
	Logs() []string
}

type endpointLister interface {
	Endpoints() []balancer.Endpoint
	HealthyEndpoints() []balancer.Endpoint
}

// pinger checks an external dependency. Nil means not configured.
type pinger func(ctx context.Context) error

func (a *app) storePinger() pinger {
	if a.store == nil {
		return nil
	}
	return a.store.Ping
}

// newAdminHandler serves metrics, the orchestrator status and a health
// summary.
func newAdminHandler(metricsPath string, orch snapshotter, lb endpointLister, ping pinger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, metrics.Handler())

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"session":   orch.Snapshot(),
			"status":    orch.Snapshot().Label(),
			"endpoints": lb.Endpoints(),
			"logs":      orch.Logs(),
		})
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		// Session
		snap := orch.Snapshot()
		health.Components["session"] = map[string]any{
			"state":    snap.State,
			"endpoint": snap.Endpoint,
			"room":     snap.RoomID,
		}
		switch snap.State {
		case connection.StateFailed, connection.StateAborted:
			health.Status = "unhealthy"
		case connection.StateConnected:
		default:
			health.Status = "degraded"
		}

		// Backends
		healthy := len(lb.HealthyEndpoints())
		health.Components["backends"] = map[string]any{
			"endpoints": len(lb.Endpoints()),
			"healthy":   healthy,
		}
		if healthy == 0 && health.Status == "healthy" {
			health.Status = "degraded"
		}

		// Probe store
		if ping != nil {
			if err := ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["probe_store"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["probe_store"] = "connected"
			}
		}

		status := http.StatusOK
		if health.Status == "unhealthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, health)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func shutdownServer(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}
}
