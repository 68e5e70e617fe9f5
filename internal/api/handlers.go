// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/ace2g/internal/contentid"
	"github.com/ManuGH/ace2g/internal/pool"
)

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentID")

	res, err := s.relay.Manifest(r.Context(), contentID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h := w.Header()
	for name, values := range res.Header {
		h[name] = values
	}
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", "application/vnd.apple.mpegurl")
	}
	w.WriteHeader(res.Status)
	_, _ = w.Write(res.Body)
}

type statusResponse struct {
	EngineHealthy bool               `json:"engine_healthy"`
	EngineVersion string             `json:"engine_version,omitempty"`
	MaxSize       int                `json:"max_size"`
	Entries       []pool.EntryStatus `json:"entries"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	entries := s.pool.Entries(r.Context())
	if entries == nil {
		entries = []pool.EntryStatus{}
	}
	writeJSON(w, http.StatusOK, statusResponse{
		EngineHealthy: s.pool.Healthy(),
		EngineVersion: s.pool.EngineVersion(),
		MaxSize:       s.pool.MaxSize(),
		Entries:       entries,
	})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentID")

	removed, err := s.pool.Remove(r.Context(), contentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !removed {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no pool entry for content id"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type qualityResponse struct {
	ContentID     string `json:"content_id"`
	Score         int    `json:"score"`
	HasEverWorked bool   `json:"has_ever_worked"`
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	contentID, err := contentid.Normalize(chi.URLParam(r, "contentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	snap, err := s.quality.Get(contentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, qualityResponse{
		ContentID:     contentID,
		Score:         snap.Score,
		HasEverWorked: snap.HasEverWorked,
	})
}

type healthResponse struct {
	Status        string `json:"status"`
	EngineHealthy bool   `json:"engine_healthy"`
	EngineVersion string `json:"engine_version,omitempty"`
	PoolEntries   int    `json:"pool_entries"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	healthy := s.pool.Healthy()
	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{
		Status:        status,
		EngineHealthy: healthy,
		EngineVersion: s.pool.EngineVersion(),
		PoolEntries:   s.pool.Size(),
	})
}
