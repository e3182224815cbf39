// Package server exposes the engine over a small JSON HTTP API so frontends
// stay pure consumers of the core.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cesargomez89/tubecrate/internal/collector"
	"github.com/cesargomez89/tubecrate/internal/logger"
	"github.com/cesargomez89/tubecrate/internal/registry"
	"github.com/cesargomez89/tubecrate/internal/store"
)

type Handler struct {
	Store     *store.Store
	Registry  *registry.Registry
	Collector *collector.Collector
	Logger    *logger.Logger
}

func NewHandler(s *store.Store, r *registry.Registry, c *collector.Collector, log *logger.Logger) *Handler {
	return &Handler{
		Store:     s,
		Registry:  r,
		Collector: c,
		Logger:    log.WithComponent("server"),
	}
}

// Router builds the chi router with the full API surface mounted.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", h.GetStats)

		r.Get("/videos", h.ListVideos)
		r.Get("/videos/{id}", h.GetVideo)
		r.Delete("/videos/{id}", h.DeleteVideo)

		r.Get("/playlists", h.ListPlaylists)
		r.Get("/playlists/{id}", h.GetPlaylist)

		r.Get("/sources", h.ListSources)
		r.Post("/sources", h.AddSource)
		r.Put("/sources/{id}", h.UpdateSource)
		r.Delete("/sources/{id}", h.RemoveSource)

		r.Post("/collect", h.Collect)
		r.Post("/annotate", h.Annotate)
		r.Post("/reindex", h.Reindex)
		r.Get("/backups", h.ListBackups)
	})
	return r
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Error("encoding response failed", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, store.ErrCorrupt):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
