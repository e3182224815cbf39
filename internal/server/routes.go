package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cesargomez89/tubecrate/internal/collector"
	"github.com/cesargomez89/tubecrate/internal/constants"
	"github.com/cesargomez89/tubecrate/internal/domain"
	"github.com/cesargomez89/tubecrate/internal/registry"
)

type statsResponse struct {
	TotalVideos    int       `json:"total_videos"`
	TotalPlaylists int       `json:"total_playlists"`
	Annotated      int       `json:"annotated"`
	Pending        int       `json:"pending"`
	Failed         int       `json:"failed"`
	Creators       int       `json:"creators"`
	Tags           int       `json:"tags"`
	Themes         int       `json:"themes"`
	UpdatedAt      time.Time `json:"updated_at"`
	QuotaRemaining int       `json:"quota_remaining"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	var resp statsResponse
	err := h.Store.View(func(lib *domain.Library) error {
		resp.TotalVideos = lib.TotalVideos
		resp.TotalPlaylists = lib.TotalPlaylists
		resp.Creators = len(lib.ByCreator)
		resp.Tags = len(lib.ByTag)
		resp.Themes = len(lib.ByTheme)
		resp.UpdatedAt = lib.UpdatedAt
		for _, v := range lib.Videos {
			switch v.Annotation {
			case domain.AnnotationDone:
				resp.Annotated++
			case domain.AnnotationPending:
				resp.Pending++
			case domain.AnnotationFailed:
				resp.Failed++
			}
		}
		return nil
	})
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	resp.QuotaRemaining = h.Collector.Gate.Remaining()
	h.writeJSON(w, http.StatusOK, resp)
}

// ListVideos serves the library, filterable through the derived indexes
// (?creator=, ?tag=, ?theme=). Filters combine as an intersection.
func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := constants.MaxListResults
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		if n < limit {
			limit = n
		}
	}

	var out []*domain.Video
	err := h.Store.View(func(lib *domain.Library) error {
		ids := filteredIDs(lib, q.Get("creator"), q.Get("tag"), q.Get("theme"))
		for _, id := range ids {
			if v, ok := lib.Videos[id]; ok {
				cp := *v
				out = append(out, &cp)
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if !out[i].CollectedAt.Equal(out[j].CollectedAt) {
				return out[i].CollectedAt.After(out[j].CollectedAt)
			}
			return out[i].ID < out[j].ID
		})
		if len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"videos": out, "count": len(out)})
}

// filteredIDs resolves the index lookups. With no filters every id
// qualifies; multiple filters intersect.
func filteredIDs(lib *domain.Library, creator, tag, theme string) []string {
	var sets [][]string
	if creator != "" {
		sets = append(sets, lib.ByCreator[domain.IndexKey(creator)])
	}
	if tag != "" {
		sets = append(sets, lib.ByTag[domain.IndexKey(tag)])
	}
	if theme != "" {
		sets = append(sets, lib.ByTheme[domain.IndexKey(theme)])
	}

	if len(sets) == 0 {
		ids := make([]string, 0, len(lib.Videos))
		for id := range lib.Videos {
			ids = append(ids, id)
		}
		return ids
	}

	counts := make(map[string]int)
	for _, set := range sets {
		for _, id := range set {
			counts[id]++
		}
	}
	var ids []string
	for id, n := range counts {
		if n == len(sets) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var video *domain.Video
	err := h.Store.View(func(lib *domain.Library) error {
		if v, ok := lib.Videos[id]; ok {
			cp := *v
			video = &cp
		}
		return nil
	})
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	if video == nil {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", id))
		return
	}
	h.writeJSON(w, http.StatusOK, video)
}

func (h *Handler) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := h.Store.DeleteVideo(id)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	if !removed {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", id))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (h *Handler) ListPlaylists(w http.ResponseWriter, r *http.Request) {
	var out []*domain.Playlist
	err := h.Store.View(func(lib *domain.Library) error {
		for _, pl := range lib.Playlists {
			cp := *pl
			out = append(out, &cp)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
		return nil
	})
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"playlists": out, "count": len(out)})
}

func (h *Handler) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var pl *domain.Playlist
	err := h.Store.View(func(lib *domain.Library) error {
		if p, ok := lib.Playlists[id]; ok {
			cp := *p
			pl = &cp
		}
		return nil
	})
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	if pl == nil {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("playlist %s not found", id))
		return
	}
	h.writeJSON(w, http.StatusOK, pl)
}

func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.Registry.List()
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"sources": sources, "count": len(sources)})
}

func (h *Handler) AddSource(w http.ResponseWriter, r *http.Request) {
	var src domain.Source
	if err := json.NewDecoder(r.Body).Decode(&src); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid source payload: %w", err))
		return
	}
	if err := h.Registry.Add(&src); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError && !errors.Is(err, registry.ErrDuplicate) {
			status = http.StatusBadRequest
		}
		h.writeError(w, status, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, &src)
}

func (h *Handler) UpdateSource(w http.ResponseWriter, r *http.Request) {
	var src domain.Source
	if err := json.NewDecoder(r.Body).Decode(&src); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid source payload: %w", err))
		return
	}
	src.ID = chi.URLParam(r, "id")
	if err := h.Registry.Update(&src); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		h.writeError(w, status, err)
		return
	}
	h.writeJSON(w, http.StatusOK, &src)
}

func (h *Handler) RemoveSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Registry.Remove(id); err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"removed": id})
}

type collectRequest struct {
	SourceIDs []string `json:"source_ids,omitempty"`
	Annotate  bool     `json:"annotate,omitempty"`
}

func (h *Handler) Collect(w http.ResponseWriter, r *http.Request) {
	var req collectRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid collect payload: %w", err))
			return
		}
	}

	sources, err := h.Registry.Enabled()
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	if len(req.SourceIDs) > 0 {
		want := make(map[string]bool, len(req.SourceIDs))
		for _, id := range req.SourceIDs {
			want[id] = true
		}
		filtered := sources[:0]
		for _, src := range sources {
			if want[src.ID] {
				filtered = append(filtered, src)
			}
		}
		sources = filtered
	}
	if len(sources) == 0 {
		h.writeError(w, http.StatusBadRequest, errors.New("no enabled sources to collect"))
		return
	}

	batch, err := h.Collector.CollectMany(r.Context(), sources, collector.Options{Annotate: req.Annotate})
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, batch)
}

type annotateRequest struct {
	Limit int  `json:"limit,omitempty"`
	Force bool `json:"force,omitempty"`
}

func (h *Handler) Annotate(w http.ResponseWriter, r *http.Request) {
	req := annotateRequest{Limit: constants.DefaultAnnotateLimit}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid annotate payload: %w", err))
			return
		}
	}

	sum, err := h.Collector.AnnotatePending(r.Context(), req.Limit, req.Force)
	if err != nil {
		if errors.Is(err, collector.ErrNoAnnotator) {
			h.writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	videos, playlists, err := h.Store.RebuildIndexes()
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"videos": videos, "playlists": playlists})
}

func (h *Handler) ListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := h.Store.ListBackups()
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"backups": backups, "count": len(backups)})
}
