package handlers

import "net/http"

// WebSocket upgrades the request into a chat session.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	h.hub.Serve(w, r, h.bridge.Handle)
}
