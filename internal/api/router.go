package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates the operations router serving health and metrics.
func NewRouter(storage Pinger, chats ChatCounter) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(Metrics)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	h := &healthHandler{storage: storage, chats: chats}

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.Health)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"name": "evochat", "version": Version})
	})

	return r
}
