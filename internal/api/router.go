// Package api routes the engine's external request surface over HTTP: the
// same New/Resume/Pause/Cancel/settings calls a CLI or GUI shell would
// otherwise make in-process, plus an SSE endpoint streaming internal/events.
// It is what lets a thin client drive a daemon on another machine.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/surge-downloader/surge-core/internal/catalog"
	"github.com/surge-downloader/surge-core/internal/errs"
	"github.com/surge-downloader/surge-core/internal/lifecycle"
)

// Server wires a Manager and its catalog behind an authenticated chi router.
type Server struct {
	mgr     *lifecycle.Manager
	catalog *catalog.Store
	token   string
}

// NewRouter builds the request surface's http.Handler. token is compared
// against each request's Bearer token; an empty token disables auth, for
// tests and loopback-only deployments that rely on OS-level access control
// instead.
func NewRouter(mgr *lifecycle.Manager, store *catalog.Store, token string) http.Handler {
	s := &Server{mgr: mgr, catalog: store, token: token}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.authMiddleware)

	r.Post("/download", s.handleNew)
	r.Post("/resume", s.handleResume)
	r.Post("/pause", s.handlePause)
	r.Post("/cancel", s.handleCancel)
	r.Get("/download", s.handleGet)
	r.Get("/list", s.handleList)
	r.Get("/active", s.handleActiveCount)
	r.Get("/settings", s.handleGetSettings)
	r.Put("/settings", s.handlePutSettings)
	r.Patch("/settings/{key}", s.handlePatchSetting)
	r.Get("/events", s.handleEvents)

	return r
}

// authMiddleware enforces Bearer-token auth: a missing/mismatched token is
// rejected before any handler runs. No-op when the server was configured
// with an empty token.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if s.token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix || auth[len(prefix):] != s.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch err {
	case errs.ErrNotFound:
		status = http.StatusNotFound
	case errs.ErrMaxConcurrent, errs.ErrAlreadyActive:
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type newRequest struct {
	URL      string            `json:"url"`
	Filename string            `json:"filename"`
	Size     int64             `json:"size"`
	Headers  map[string]string `json:"headers"`
}

func (s *Server) handleNew(w http.ResponseWriter, r *http.Request) {
	var req newRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	err := s.mgr.New(r.Context(), []lifecycle.Request{{
		URL:          req.URL,
		FilenameHint: req.Filename,
		SizeHint:     req.Size,
		Headers:      req.Headers,
	}})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type resumeRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.mgr.Resume(r.Context(), req.IDs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "resumed"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if !s.mgr.Pause(id) {
		writeError(w, errs.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	ok := s.mgr.Cancel(id)
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": ok})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	rec, ok, err := s.catalog.GetByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, errs.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	recs, err := s.catalog.ListAll()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleActiveCount(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("id"); id != "" {
		writeJSON(w, http.StatusOK, map[string]bool{"active": s.mgr.IsActive(id)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": s.mgr.ActiveCount()})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.GetSettings())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	settings := s.mgr.GetSettings()
	if err := json.NewDecoder(r.Body).Decode(settings); err != nil {
		http.Error(w, "invalid settings body", http.StatusBadRequest)
		return
	}
	if err := s.mgr.UpdateSettings(settings); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePatchSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var value any
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		http.Error(w, "invalid value body", http.StatusBadRequest)
		return
	}
	if err := s.mgr.UpdateSetting(key, value); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.mgr.GetSettings())
}
