package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/promptforge/promptforge/internal/log"
	"github.com/promptforge/promptforge/internal/session"
)

// sessionsHandler serves the cross-session registry.
type sessionsHandler struct {
	hub    *session.Hub
	logger log.Logger
}

// createRequest is the POST /api/sessions body. Every field is optional;
// an empty body creates an untitled session under a fresh id.
type createRequest struct {
	Title        string `json:"title"`
	SessionID    string `json:"sessionId"`
	FirstMessage string `json:"firstMessage"`
}

// renameRequest is the PUT /api/sessions/{sessionID}/title body.
type renameRequest struct {
	Title string `json:"title"`
}

// list handles GET /api/sessions.
func (h *sessionsHandler) list(w http.ResponseWriter, r *http.Request) {
	infos, err := h.hub.Sessions(r.Context())
	if err != nil {
		h.logger.Error("listing sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if infos == nil {
		infos = []session.Info{}
	}
	writeData(w, http.StatusOK, infos)
}

// create handles POST /api/sessions.
func (h *sessionsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	title := strings.TrimSpace(req.Title)
	if runes := []rune(title); len(runes) > session.TitleMaxLength {
		title = string(runes[:session.TitleMaxLength])
	}

	state, err := h.hub.Create(r.Context(), session.CreateOptions{
		SessionID:    req.SessionID,
		Title:        title,
		FirstMessage: req.FirstMessage,
	})
	if err != nil {
		h.logger.Error("creating session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeData(w, http.StatusCreated, state)
}

// rename handles PUT /api/sessions/{sessionID}/title.
func (h *sessionsHandler) rename(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeError(w, http.StatusBadRequest, "title must not be empty")
		return
	}
	if runes := []rune(title); len(runes) > session.TitleMaxLength {
		title = string(runes[:session.TitleMaxLength])
	}

	if err := h.hub.Rename(r.Context(), sessionID, title); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("renaming session", "sessionId", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to rename session")
		return
	}
	writeData(w, http.StatusOK, map[string]string{"id": sessionID, "title": title})
}

// remove handles DELETE /api/sessions/{sessionID}.
func (h *sessionsHandler) remove(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	if err := h.hub.Delete(r.Context(), sessionID); err != nil {
		h.logger.Error("deleting session", "sessionId", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	writeData(w, http.StatusOK, map[string]string{"id": sessionID})
}
