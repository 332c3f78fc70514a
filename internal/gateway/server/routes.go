package server

import (
	"net/http"

	"chatwire/internal/gateway/handler"
	"chatwire/internal/gateway/middleware"
)

// NewMux routes the gateway endpoints behind bearer auth and CORS. origins
// limits credentialed cross-origin access; none means any origin.
func NewMux(h *handler.Handler, authToken string, origins ...string) http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return middleware.CORS(origins...)(middleware.BearerAuth(authToken)(mux))
}
