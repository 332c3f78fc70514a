package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"chatwire/internal/gateway/service/assistant"
	"chatwire/internal/types"
)

const completionTimeout = 60 * time.Second

func (h *Handler) HandleSettings(w http.ResponseWriter, _ *http.Request) {
	f := h.cfg.Features
	writeJSON(w, http.StatusOK, types.ProjectSettings{
		UI: types.UISettings{
			Name: h.cfg.Name,
			CoT:  "hidden",
		},
		Features: types.FeatureSettings{
			SpontaneousFileUpload: types.UploadFeature{
				Enabled:   f.UploadEnabled,
				Accept:    f.UploadAccept,
				MaxFiles:  f.UploadMaxFiles,
				MaxSizeMB: f.UploadMaxSizeMB,
			},
		},
		ThreadResumable: f.ThreadResumable,
		DataPersistence: f.DataPersistence,
	})
}

var translations = map[string]map[string]any{
	"en-US": {
		"chat": map[string]any{
			"input":   map[string]any{"placeholder": "Type your message here..."},
			"history": map[string]any{"empty": "No threads yet"},
			"resume":  map[string]any{"failed": "Could not resume chat"},
		},
	},
	"fr-FR": {
		"chat": map[string]any{
			"input":   map[string]any{"placeholder": "Tapez votre message ici..."},
			"history": map[string]any{"empty": "Aucune conversation"},
			"resume":  map[string]any{"failed": "Impossible de reprendre la conversation"},
		},
	},
}

func (h *Handler) HandleTranslations(w http.ResponseWriter, r *http.Request) {
	lang := strings.TrimSpace(r.URL.Query().Get("language"))
	tr, ok := translations[lang]
	if !ok {
		tr = translations["en-US"]
	}
	writeJSON(w, http.StatusOK, map[string]any{"translation": tr})
}

func (h *Handler) HandleAuthConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, types.AuthConfig{
		RequireLogin:   h.cfg.AuthToken != "",
		HeaderAuth:     h.cfg.AuthToken != "",
		OAuthProviders: []string{},
	})
}

func (h *Handler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	var req types.CompletionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), completionTimeout)
	defer cancel()
	reply, err := h.responder.Stream(ctx, []assistant.Turn{{Role: assistant.RoleUser, Text: req.Prompt}}, func(string) error { return nil })
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, types.CompletionResponse{Completion: reply.Text})
}
