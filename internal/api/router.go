package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter wires the query endpoints. Every route is a GET; CORS is wide
// open so LAN dashboards can read from anywhere.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Get("/api/messages/lobby", h.LobbyMessages)
	r.Get("/api/messages/dm", h.DMMessages)
	r.Get("/api/users", h.Users)
	r.Get("/api/stats", h.Stats)
	r.Get("/api/live", h.Live)

	r.NotFound(h.NotFound)

	return r
}
