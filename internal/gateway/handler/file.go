package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	limit := int64(h.cfg.Features.UploadMaxSizeMB) << 20
	if limit <= 0 {
		limit = 32 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+(1<<20))

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart body required")
		return
	}
	var (
		id, name, mime string
		data           []byte
	)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		switch part.FormName() {
		case "file":
			name = part.FileName()
			mime = part.Header.Get("Content-Type")
			data, err = io.ReadAll(part)
		case "id":
			var raw []byte
			raw, err = io.ReadAll(io.LimitReader(part, 256))
			id = strings.TrimSpace(string(raw))
		}
		_ = part.Close()
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				writeError(w, http.StatusRequestEntityTooLarge, "file too large")
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if name == "" {
		writeError(w, http.StatusBadRequest, "file part is required")
		return
	}
	if id == "" {
		id = uuid.NewString()
	}
	el, err := h.hub.StoreFile(r.Context(), sessionID, id, name, mime, data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":        el.ID,
		"name":      el.Name,
		"url":       el.URL,
		"objectKey": el.ObjectKey,
	})
}

func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	scope, name := r.PathValue("scope"), r.PathValue("name")
	content, err := h.files.Get(r.Context(), scope, name)
	if err != nil {
		storeError(w, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(content))
	_, _ = w.Write(content)
}
