package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

const Version = "0.1.0"

// Pinger checks that durable storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ChatCounter reports how many chats are held in memory.
type ChatCounter interface {
	Len() int
}

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string           `json:"status"` // "healthy" or "degraded"
	Version     string           `json:"version"`
	LoadedChats int              `json:"loaded_chats"`
	Checks      map[string]Check `json:"checks"`
	Timestamp   string           `json:"timestamp"`
}

type healthHandler struct {
	storage Pinger
	chats   ChatCounter
}

// Health reports storage reachability. A failing check answers 503.
func (h *healthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	healthy := true

	start := time.Now()
	if err := h.storage.Ping(ctx); err != nil {
		slog.Warn("storage health check failed", "error", err)
		checks["storage"] = Check{Status: "fail", Message: "connection failed"}
		healthy = false
	} else {
		checks["storage"] = Check{Status: "pass", Latency: time.Since(start).String()}
	}

	resp := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if h.chats != nil {
		resp.LoadedChats = h.chats.Len()
	}

	status := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
