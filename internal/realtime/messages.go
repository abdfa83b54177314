package realtime

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	MaxContentRunes       = 4000
	MaxClientMessageIDLen = 128
)

// sendMessage persists a user message and echoes it to the whole chat,
// sender included, so the sender can reconcile its optimistic copy. A
// repeated clientMessageId only re-sends the stored message to the sender.
func (h *Hub) sendMessage(ctx context.Context, conn *Connection, payload SendMessagePayload) error {
	chatID := conn.ChatID()
	if chatID == "" {
		return ErrNotInChat
	}

	content := strings.TrimSpace(payload.Content)
	switch {
	case content == "":
		return NewProtocolError(TypeSendMessage, "content is required")
	case utf8.RuneCountInString(content) > MaxContentRunes:
		return NewProtocolError(TypeSendMessage, "content too long")
	}

	clientID := strings.TrimSpace(payload.ClientMessageID)
	switch {
	case clientID == "":
		return NewProtocolError(TypeSendMessage, "clientMessageId is required")
	case utf8.RuneCountInString(clientID) > MaxClientMessageIDLen:
		return NewProtocolError(TypeSendMessage, "clientMessageId too long")
	}

	stored, duplicate, err := h.gateway.SaveMessage(ctx, ChatMessage{
		ChatID:          chatID,
		SenderID:        conn.userID,
		Role:            RoleUser,
		Content:         content,
		ClientMessageID: clientID,
		CreatedAt:       h.cfg.Now(),
	})
	if err != nil {
		return NewStorageError(TypeSendMessage, chatID, err)
	}

	frame := mustFrame(TypeNewMessage, NewMessagePayload{Message: stored})
	if duplicate {
		return h.registry.deliver(conn, frame)
	}

	h.registry.BroadcastToChat(chatID, frame, "")
	h.typing.RemoveUser(ctx, chatID, conn.userID)

	if h.assistant != nil {
		h.startAssistant(chatID, conn.userID)
	}
	return nil
}

// startAssistant generates one reply per chat at a time. A message that
// arrives while a reply is running is covered by that reply's history.
func (h *Hub) startAssistant(chatID, requesterID string) {
	if _, busy := h.replying.LoadOrStore(chatID, struct{}{}); busy {
		h.logger.Debug("Assistant already replying", "chat_id", chatID)
		return
	}

	h.background.Add(1)
	go func() {
		defer h.background.Done()
		defer h.replying.Delete(chatID)
		h.runAssistant(chatID, requesterID)
	}()
}

func (h *Hub) runAssistant(chatID, requesterID string) {
	ctx, cancel := context.WithTimeout(h.ctx, h.cfg.AssistantTimeout)
	defer cancel()

	h.typing.StartTyping(ctx, chatID, AssistantUserID)
	lastRefresh := h.cfg.Now()

	reply, err := h.assistant.Reply(ctx, chatID, func(delta string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		h.registry.BroadcastToChat(chatID, mustFrame(TypeAssistantDelta, AssistantDeltaPayload{ChatID: chatID, Delta: delta}), "")
		if now := h.cfg.Now(); now.Sub(lastRefresh) > h.cfg.TypingTimeout/2 {
			h.typing.StartTyping(ctx, chatID, AssistantUserID)
			lastRefresh = now
		}
		return nil
	})

	cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cleanupCancel()
	h.typing.EndTyping(cleanupCtx, chatID, AssistantUserID)

	if err != nil {
		h.logger.Error("Assistant reply failed", "chat_id", chatID, "requester_id", requesterID, "error", err)
		_ = h.registry.SendTo(requesterID, mustFrame(TypeError, ErrorPayload{Message: "assistant unavailable"}))
		return
	}

	h.registry.BroadcastToChat(chatID, mustFrame(TypeNewMessage, NewMessagePayload{Message: reply}), "")
}
