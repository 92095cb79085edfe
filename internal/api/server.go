// SPDX-License-Identifier: MIT

// Package api exposes the control-plane HTTP surface: refresh triggers,
// group toggles, rehash, source status and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fluxtv/ingestd/internal/domain"
	ilog "github.com/fluxtv/ingestd/internal/log"
	"github.com/fluxtv/ingestd/internal/refresh"
	"github.com/fluxtv/ingestd/internal/store"
)

// Server wires the HTTP handlers to the orchestrator and store.
type Server struct {
	Store *store.Store
	Orch  *refresh.Orchestrator
	Log   zerolog.Logger

	// RatePerMinute bounds trigger endpoints per client IP; 0 disables.
	RatePerMinute int
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.RatePerMinute > 0 {
			r.Use(httprate.Limit(s.RatePerMinute, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP)))
		}
		r.Post("/refresh", s.handleRefreshAll)
		r.Post("/rehash", s.handleRehash)
		r.Route("/sources/{id}", func(r chi.Router) {
			r.Get("/status", s.handleSourceStatus)
			r.Post("/refresh", s.handleRefreshSource)
			r.Post("/groups/refresh", s.handleRefreshGroups)
			r.Put("/groups/{name}/enabled", s.handleSetGroupEnabled)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSourceStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceID(w, r)
	if !ok {
		return
	}
	src, err := s.Store.GetSource(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           src.ID,
		"name":         src.Name,
		"kind":         src.Kind,
		"status":       src.Status,
		"last_message": src.LastMessage,
		"updated_at":   src.UpdatedAt,
	})
}

// handleRefreshSource enqueues one refresh and returns immediately.
func (s *Server) handleRefreshSource(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceID(w, r)
	if !ok {
		return
	}
	if _, err := s.Store.GetSource(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}
	useCache := r.URL.Query().Get("use_cache") == "true"

	jobID := uuid.NewString()
	go func() {
		ctx := ilog.ContextWithJobID(context.Background(), jobID)
		if _, err := s.Orch.RefreshSource(ctx, id, useCache); err != nil &&
			!errors.Is(err, refresh.ErrLockContended) {
			s.Log.Warn().Err(err).Int64("source_id", id).Str("job_id", jobID).Msg("triggered refresh failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"source_id": id, "job_id": jobID, "enqueued": true,
	})
}

func (s *Server) handleRefreshAll(w http.ResponseWriter, _ *http.Request) {
	jobID := uuid.NewString()
	go func() {
		ctx := ilog.ContextWithJobID(context.Background(), jobID)
		if err := s.Orch.RefreshAllActive(ctx); err != nil {
			s.Log.Warn().Err(err).Str("job_id", jobID).Msg("refresh all failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": jobID, "enqueued": true})
}

func (s *Server) handleRefreshGroups(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceID(w, r)
	if !ok {
		return
	}
	go func() {
		if err := s.Orch.RefreshSourceGroups(context.Background(), id); err != nil &&
			!errors.Is(err, refresh.ErrLockContended) {
			s.Log.Warn().Err(err).Int64("source_id", id).Msg("group refresh failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"source_id": id, "enqueued": true})
}

func (s *Server) handleRehash(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Keys []string `json:"keys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	keys, err := domain.ParseHashKeys(body.Keys)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	go func() {
		if _, err := s.Orch.Rehash(context.Background(), keys); err != nil {
			s.Log.Warn().Err(err).Msg("rehash failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"enqueued": true})
}

func (s *Server) handleSetGroupEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceID(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	err := s.Store.SetMembershipEnabled(r.Context(), id, name, body.Enabled)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "membership not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source_id": id, "group": name, "enabled": body.Enabled,
	})
}

func sourceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid source id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
