// Package api wires nightshiftd's REST surface (spec.md §6) with
// github.com/go-chi/chi/v5, the router the pack's other agent-
// orchestration repos (kazz187-taskguild, freema-codeforge manifests)
// reach for.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ulfur/nightshift/internal/external"
	"github.com/ulfur/nightshift/internal/promptdomain"
	"github.com/ulfur/nightshift/internal/store"
)

// Canceler is the subset of the Runner/Worker pair the cancel endpoint
// needs.
type Canceler interface {
	Cancel(promptID, summary string) bool
	RequestRestartOnCancel(promptID string, restart bool)
}

// WSHandler serves the /ws upgrade (implemented by *hub.Hub).
type WSHandler interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// Broadcaster is the subset of the Event Hub the REST handlers push
// updates through (spec.md §5 "on submit").
type Broadcaster interface {
	Broadcast(envType string, payload any, targets ...string)
}

// Server holds the collaborators the REST handlers dispatch to.
type Server struct {
	Store    *store.Store
	Canceler Canceler
	Auth     external.Authenticator
	WS       WSHandler
	Hub      Broadcaster
}

// Router builds the chi router for the full endpoint table in spec.md §6.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.authMiddleware)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/prompts", s.handleListPrompts)
	r.Post("/api/prompts", s.handleSubmitPrompt)
	r.Get("/api/prompts/{id}", s.handleGetPrompt)
	r.Put("/api/prompts/{id}", s.handleEditPrompt)
	r.Delete("/api/prompts/{id}", s.handleDeletePrompt)
	r.Post("/api/prompts/{id}/retry", s.handleRetryPrompt)
	r.Post("/api/prompts/{id}/cancel", s.handleCancelPrompt)

	r.Get("/ws", s.WS.ServeHTTP)

	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		token := r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
		if _, err := s.Auth.VerifyToken(token); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
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

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// mapDomainError maps promptdomain's sentinel errors to HTTP status codes
// in the single place spec.md §7 calls for.
func mapDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, promptdomain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, promptdomain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, promptdomain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"pending": s.Store.PendingCount(),
	})
}

func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Store.List())
}

func (s *Server) handleSubmitPrompt(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt    string `json:"prompt"`
		ProjectID string `json:"project_id"`
		ReplyTo   string `json:"reply_to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	p, err := s.Store.Submit(body.Prompt, body.ProjectID, body.ReplyTo)
	if err != nil {
		mapDomainError(w, err)
		return
	}
	s.broadcastSubmit(p)
	writeJSON(w, http.StatusCreated, p)
}

// broadcastSubmit announces a freshly-queued prompt so subscribers don't
// have to wait for the worker to pick it up (spec.md §5 "on submit").
func (s *Server) broadcastSubmit(p promptdomain.Prompt) {
	if s.Hub == nil {
		return
	}
	s.Hub.Broadcast("prompt_update", map[string]any{
		"id":             p.ID,
		"status":         string(p.Status),
		"attempt":        p.Attempt,
		"result_summary": p.ResultSummary,
	})
	s.Hub.Broadcast("queue_snapshot", s.Store.List())
}

func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok := s.Store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "prompt not found")
		return
	}
	attempts, _ := store.ParseAttempts(p.LogPath)
	writeJSON(w, http.StatusOK, map[string]any{"prompt": p, "attempts": attempts})
}

func (s *Server) handleEditPrompt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	p, err := s.Store.Edit(id, body.Text)
	if err != nil {
		mapDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePrompt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.Store.Delete(id)
	if err != nil {
		mapDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRetryPrompt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.Store.Retry(id)
	if err != nil {
		mapDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCancelPrompt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Restart bool `json:"restart"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.Canceler.RequestRestartOnCancel(id, body.Restart)
	ok := s.Canceler.Cancel(id, "Canceled by operator")
	writeJSON(w, http.StatusOK, map[string]bool{"canceled": ok})
}
