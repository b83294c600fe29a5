package handler

import (
	"net/http"

	"github.com/Rrens/agent-bridge/internal/api/response"
	"github.com/Rrens/agent-bridge/internal/service"
	"github.com/go-chi/chi/v5"
)

type SessionHandler struct {
	sessionService *service.SessionService
}

func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// List returns all sessions, most recent first
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessionService.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, sessions)
}

type createSessionRequest struct {
	Title string `json:"title" validate:"max=200"`
}

// Create starts an empty session. The body is optional.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input createSessionRequest
	if r.ContentLength != 0 && !decode(w, r, &input) {
		return
	}

	sess, err := h.sessionService.Create(r.Context(), input.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, sess)
}

// Get returns a session with its message log
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.sessionService.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, detail)
}

type updateSessionRequest struct {
	Title string `json:"title" validate:"required,max=200"`
}

// Update renames a session
func (h *SessionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var input updateSessionRequest
	if !decode(w, r, &input) {
		return
	}

	sess, err := h.sessionService.Rename(r.Context(), chi.URLParam(r, "sessionID"), input.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, sess)
}

// Delete removes a session and its working directory
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.sessionService.Delete(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, r, err)
		return
	}
	response.NoContent(w)
}
