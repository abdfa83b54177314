// File: internal/handlers/log_handler.go
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/iyunix/internist-hub/internal/middleware"
	"github.com/iyunix/internist-hub/internal/services"
)

const maxClientLogBytes = 16 << 10

// ClientLogPayload is a log line reported by a chat client.
type ClientLogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Context any    `json:"context,omitempty"`
}

type LogHandler struct {
	Logger services.Logger
}

func NewLogHandler(logger services.Logger) *LogHandler {
	return &LogHandler{Logger: logger}
}

// LogClientEvent records a client-side event such as a failed reconnect.
func (h *LogHandler) LogClientEvent(w http.ResponseWriter, r *http.Request) {
	var payload ClientLogPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxClientLogBytes)).Decode(&payload); err != nil || payload.Message == "" {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	userID, _ := middleware.UserIDFromContext(r.Context())
	kv := []interface{}{"source", "client", "user_id", userID, "message", payload.Message}
	if payload.Context != nil {
		kv = append(kv, "context", payload.Context)
	}

	switch strings.ToLower(payload.Level) {
	case "error":
		h.Logger.Error("client event", kv...)
	case "warn", "warning":
		h.Logger.Warn("client event", kv...)
	case "debug":
		h.Logger.Debug("client event", kv...)
	default:
		h.Logger.Info("client event", kv...)
	}

	w.WriteHeader(http.StatusNoContent)
}
