package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/promptforge/promptforge/internal/log"
	"github.com/promptforge/promptforge/internal/provider"
	"github.com/promptforge/promptforge/internal/session"
)

// processingErrorMessage is the generic failure string for unclassified
// errors. Part of the client contract.
const processingErrorMessage = "Failed to process message. Please try again."

// chatHandler serves the per-session conversation surface.
type chatHandler struct {
	hub    *session.Hub
	logger log.Logger
}

// sendRequest is the POST /chat body.
type sendRequest struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
	Stream  bool   `json:"stream,omitempty"`
}

// configRequest is the POST /config body. A null providerConfig clears the
// session's override.
type configRequest struct {
	ProviderConfig *session.ProviderConfig `json:"providerConfig"`
}

// getMessages handles GET /api/chat/{sessionID}/messages.
func (h *chatHandler) getMessages(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agent(w, r)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, agent.State())
}

// send handles POST /api/chat/{sessionID}/chat.
//
// Non-streaming requests return the full state snapshot once the turn
// completes. Streaming requests return a raw chunked body of assistant
// content; a mid-stream failure is signaled by an embedded [ERROR:<code>]
// sentinel that terminates the body.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agent(w, r)
	if !ok {
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Model != "" {
		agent.SetModel(r.Context(), req.Model)
	}

	if !req.Stream {
		state, err := agent.Send(r.Context(), req.Message)
		if err != nil {
			h.writeTurnError(w, err)
			return
		}
		writeData(w, http.StatusOK, state)
		return
	}

	stream, err := agent.SendStream(r.Context(), req.Message)
	if err != nil {
		h.writeTurnError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	for event := range stream.Events() {
		if event.Done {
			if event.Err != nil {
				fmt.Fprintf(w, "[ERROR:%s]", provider.ErrorCode(event.Err))
			}
			break
		}
		if _, err := w.Write([]byte(event.Chunk)); err != nil {
			// Client went away; the turn still finishes and commits via the
			// session actor. Drain so the producer is not blocked.
			for range stream.Events() { //nolint:revive
			}
			return
		}
		rc.Flush() //nolint:errcheck // flush failure surfaces on the next write
	}
}

// updateConfig handles POST /api/chat/{sessionID}/config.
func (h *chatHandler) updateConfig(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agent(w, r)
	if !ok {
		return
	}

	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	state := agent.SetProviderConfig(r.Context(), req.ProviderConfig)
	writeData(w, http.StatusOK, state)
}

// clear handles DELETE /api/chat/{sessionID}/clear.
func (h *chatHandler) clear(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agent(w, r)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, agent.Clear(r.Context()))
}

func (h *chatHandler) agent(w http.ResponseWriter, r *http.Request) (*session.Agent, bool) {
	sessionID := r.PathValue("sessionID")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return nil, false
	}

	agent, err := h.hub.Agent(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("resolving session agent", "sessionId", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, processingErrorMessage)
		return nil, false
	}
	return agent, true
}

// writeTurnError maps turn failures to the wire. Classified provider codes
// are surfaced verbatim so clients can pattern-match them.
func (h *chatHandler) writeTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrSessionBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrProcessingTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		var pe *provider.Error
		if errors.As(err, &pe) {
			writeError(w, providerStatus(pe.Code), pe.Code)
			return
		}
		h.logger.Error("processing turn", "error", err)
		writeError(w, http.StatusInternalServerError, processingErrorMessage)
	}
}

func providerStatus(code string) int {
	switch code {
	case provider.CodeRateLimited:
		return http.StatusTooManyRequests
	case provider.CodeContextOverflow:
		return http.StatusRequestEntityTooLarge
	case provider.CodeInvalidModel:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
