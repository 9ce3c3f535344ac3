// Package api holds the small read-only HTTP surfaces next to the webhook
// endpoint: liveness and store statistics.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"prmonitor/pkg/storage/eventlog"
)

// HealthHandler answers GET /health with a liveness payload and no side
// effects.
type HealthHandler struct{}

func (HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// StatsHandler answers GET /stats with event counts and store health.
type StatsHandler struct {
	Store *eventlog.Store
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats := h.Store.Stats()
	w.Header().Set("Content-Type", "application/json")
	if !stats.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(stats)
}
