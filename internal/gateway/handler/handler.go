// Package handler serves the gateway REST endpoints and the /ws socket.
package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"chatwire/internal/gateway/config"
	"chatwire/internal/gateway/repository/artifact"
	"chatwire/internal/gateway/repository/thread"
	"chatwire/internal/gateway/service/assistant"
	"chatwire/internal/gateway/service/conversation"
)

type Handler struct {
	cfg       *config.Config
	hub       *conversation.Hub
	threads   *thread.Store
	files     artifact.Store
	responder assistant.Responder
}

func New(cfg *config.Config, hub *conversation.Hub, threads *thread.Store, files artifact.Store, responder assistant.Responder) *Handler {
	return &Handler{cfg: cfg, hub: hub, threads: threads, files: files, responder: responder}
}

// Register mounts every endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /project/settings", h.HandleSettings)
	mux.HandleFunc("GET /project/translations", h.HandleTranslations)
	mux.HandleFunc("GET /auth/config", h.HandleAuthConfig)
	mux.HandleFunc("POST /completion", h.HandleCompletion)

	mux.HandleFunc("PUT /message/feedback", h.HandleFeedback)
	mux.HandleFunc("POST /project/conversations", h.HandleListThreads)
	mux.HandleFunc("GET /project/conversation/{id}", h.HandleGetThread)
	mux.HandleFunc("POST /project/conversation/{id}", h.HandleRenameThread)
	mux.HandleFunc("DELETE /project/conversation", h.HandleDeleteThread)

	mux.HandleFunc("POST /project/file", h.HandleUpload)
	mux.HandleFunc("GET /project/file/{scope}/{name...}", h.HandleDownload)

	mux.HandleFunc("GET /ws", h.HandleSocket)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("handler: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

const maxJSONBody = 1 << 20

// storeError maps repository errors onto HTTP statuses.
func storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, thread.ErrNotFound), errors.Is(err, artifact.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		log.Printf("handler: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
