// File: internal/handlers/hub_handler.go
package handlers

import (
	"net/http"

	"github.com/iyunix/internist-hub/internal/realtime"
)

// StatsProvider is satisfied by *realtime.Hub.
type StatsProvider interface {
	Stats() realtime.Stats
}

type HubHandler struct {
	Hub StatsProvider
}

func NewHubHandler(hub StatsProvider) *HubHandler {
	return &HubHandler{Hub: hub}
}

func (h *HubHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.Hub.Stats()
	if stats.Rooms == nil {
		stats.Rooms = map[string]int{}
	}
	writeJSON(w, http.StatusOK, stats)
}

func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
