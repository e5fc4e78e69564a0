// Package server provides the minimal HTTP surface every background
// consumer exposes even when it has no read-side API of its own: a
// liveness check and the Prometheus scrape endpoint.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/taskmesh/taskmesh/internal/httpx"
	"github.com/taskmesh/taskmesh/internal/metrics"
)

// NewHealthRouter builds a router exposing only /health and /metrics, for
// binaries (notify, regen) that run no other HTTP surface.
func NewHealthRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"}) })
	r.Handle("/metrics", metrics.Handler())
	return r
}
