package handler

import (
	"net/http"
	"strings"

	"chatwire/internal/types"
)

func (h *Handler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Feedback types.Feedback `json:"feedback"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Feedback.ForID) == "" {
		writeError(w, http.StatusBadRequest, "feedback.forId is required")
		return
	}
	id, err := h.threads.SetFeedback(r.Context(), in.Feedback)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "feedbackId": id})
}

func (h *Handler) HandleListThreads(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Pagination types.Pagination   `json:"pagination"`
		Filter     types.ThreadFilter `json:"filter"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	page, err := h.threads.List(r.Context(), "", in.Pagination, in.Filter)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) HandleGetThread(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.Features.DataPersistence {
		writeError(w, http.StatusNotFound, "data persistence is disabled")
		return
	}
	t, err := h.threads.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) HandleRenameThread(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	t, err := h.threads.Update(r.Context(), r.PathValue("id"), func(t *types.Thread) error {
		t.Name = name
		return nil
	})
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ThreadSummary{ID: t.ID, Name: t.Name, CreatedAt: t.CreatedAt})
}

func (h *Handler) HandleDeleteThread(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ThreadID string `json:"threadId"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := h.threads.Delete(r.Context(), in.ThreadID); err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
