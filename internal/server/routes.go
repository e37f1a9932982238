// Package server wires admin HTTP handlers into a chi router.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures and returns the admin router: health check, room
// listing and lookup, Prometheus metrics from gatherer, and the live room
// feed.
func SetupRoutes(h *AdminHandlers, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", HealthHandler)
	r.Get("/rooms", h.RoomsHandler)
	r.Get("/rooms/{name}", h.RoomHandler)
	r.Get("/ws/rooms", h.RoomFeedHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}
