// File: internal/handlers/chat_handler.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/iyunix/internist-hub/internal/domain"
	"github.com/iyunix/internist-hub/internal/middleware"
	"github.com/iyunix/internist-hub/internal/repository/chat"
	"github.com/iyunix/internist-hub/internal/services"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type ChatHandler struct {
	ChatService *services.ChatService
	Logger      services.Logger
}

func NewChatHandler(cs *services.ChatService, logger services.Logger) *ChatHandler {
	return &ChatHandler{
		ChatService: cs,
		Logger:      logger,
	}
}

type createChatRequest struct {
	Title          string   `json:"title"`
	ParticipantIDs []string `json:"participantIds"`
}

type addParticipantRequest struct {
	UserID string `json:"userId"`
}

type messagesResponse struct {
	Messages []domain.Message `json:"messages"`
	Total    int64            `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// CreateChat creates a chat owned by the caller.
func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req createChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Bad Request", http.StatusBadRequest)
		return
	}

	created, err := h.ChatService.CreateChat(r.Context(), userID, req.Title, req.ParticipantIDs)
	if err != nil {
		h.Logger.Error("create chat failed", "user_id", userID, "error", err)
		writeError(w, "Could not create chat", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// AddParticipant adds a user to a chat the caller owns.
func (h *ChatHandler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	chatID := mux.Vars(r)["id"]

	var req addParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, "Bad Request", http.StatusBadRequest)
		return
	}

	err := h.ChatService.AddParticipant(r.Context(), userID, chatID, req.UserID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, chat.ErrChatNotFound):
		writeError(w, "Chat not found", http.StatusNotFound)
	case errors.Is(err, services.ErrNotChatOwner):
		writeError(w, "Forbidden", http.StatusForbidden)
	default:
		h.Logger.Error("add participant failed", "chat_id", chatID, "error", err)
		writeError(w, "Could not add participant", http.StatusInternalServerError)
	}
}

// GetChatMessages returns a page of a chat's history, oldest first.
func (h *ChatHandler) GetChatMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	chatID := mux.Vars(r)["id"]

	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		writeError(w, "Invalid limit", http.StatusBadRequest)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, "Invalid offset", http.StatusBadRequest)
		return
	}

	messages, total, err := h.ChatService.GetChatMessages(r.Context(), userID, chatID, limit, offset)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrChatNotFound):
		writeError(w, "Chat not found", http.StatusNotFound)
		return
	case errors.Is(err, services.ErrForbidden):
		writeError(w, "Forbidden", http.StatusForbidden)
		return
	default:
		h.Logger.Error("list messages failed", "chat_id", chatID, "error", err)
		writeError(w, "Could not retrieve messages", http.StatusInternalServerError)
		return
	}

	if messages == nil {
		messages = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, messagesResponse{Messages: messages, Total: total, Limit: limit, Offset: offset})
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

// writeJSON is a helper for sending JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError is a helper for sending JSON error responses.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
