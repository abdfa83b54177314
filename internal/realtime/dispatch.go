package realtime

import (
	"context"
	"errors"
	"strings"
)

// dispatch handles one inbound frame. Errors become an error frame for
// this connection only; the connection stays open.
func (h *Hub) dispatch(ctx context.Context, conn *Connection, data []byte) {
	if !conn.allowFrame() {
		h.logger.Warn("Frame rate exceeded", "user_id", conn.userID, "connection_id", conn.id)
		h.sendError(conn, "rate limit exceeded")
		return
	}

	frame, err := DecodeFrame(data)
	if err != nil {
		h.logger.Debug("Malformed frame", "user_id", conn.userID, "error", err)
		h.sendError(conn, "invalid frame")
		return
	}

	if err := h.route(ctx, conn, frame); err != nil {
		h.logFrameError(conn, frame.Type, err)
		h.sendError(conn, clientMessage(err))
	}
}

func (h *Hub) route(ctx context.Context, conn *Connection, frame Frame) error {
	switch frame.Type {
	case TypePong:
		return nil

	case TypeJoinChat:
		var payload ChatPayload
		if err := DecodePayload(frame.Payload, &payload); err != nil {
			return NewProtocolError(frame.Type, "invalid frame payload")
		}
		return h.join(ctx, conn, strings.TrimSpace(payload.ChatID))

	case TypeLeaveChat:
		var payload ChatPayload
		if err := DecodePayload(frame.Payload, &payload); err != nil {
			return NewProtocolError(frame.Type, "invalid frame payload")
		}
		current := conn.ChatID()
		if requested := strings.TrimSpace(payload.ChatID); requested != "" && current != "" && requested != current {
			return NewProtocolError(frame.Type, "not in that chat")
		}
		h.rooms.Leave(ctx, conn)
		return nil

	case TypeTypingStart, TypeTypingEnd:
		var payload struct{}
		if err := DecodePayload(frame.Payload, &payload); err != nil {
			return NewProtocolError(frame.Type, "invalid frame payload")
		}
		chatID := conn.ChatID()
		if chatID == "" {
			return ErrNotInChat
		}
		if frame.Type == TypeTypingStart {
			h.typing.StartTyping(ctx, chatID, conn.userID)
		} else {
			h.typing.EndTyping(ctx, chatID, conn.userID)
		}
		return nil

	case TypeMessageDelivered, TypeMessageRead:
		var payload MessageRefPayload
		if err := DecodePayload(frame.Payload, &payload); err != nil {
			return NewProtocolError(frame.Type, "invalid frame payload")
		}
		if frame.Type == TypeMessageRead {
			return h.delivery.MarkRead(ctx, conn, payload.MessageID)
		}
		return h.delivery.MarkDelivered(ctx, conn, payload.MessageID)

	case TypeSendMessage:
		var payload SendMessagePayload
		if err := DecodePayload(frame.Payload, &payload); err != nil {
			return NewProtocolError(frame.Type, "invalid frame payload")
		}
		return h.sendMessage(ctx, conn, payload)

	default:
		return NewProtocolError(frame.Type, "unsupported frame type")
	}
}

// join consults the authorizer before handing off to the room tracker.
func (h *Hub) join(ctx context.Context, conn *Connection, chatID string) error {
	if chatID == "" {
		return NewProtocolError(TypeJoinChat, "chatId is required")
	}

	allowed, err := h.authorizer.CanJoin(ctx, conn.userID, chatID)
	if err != nil {
		if errors.Is(err, ErrChatNotFound) {
			return NewNotFoundError(TypeJoinChat, "chat not found", err)
		}
		return NewStorageError(TypeJoinChat, chatID, err)
	}
	if !allowed {
		return NewForbiddenError(TypeJoinChat, conn.userID, chatID)
	}

	return h.rooms.Join(ctx, conn, chatID)
}

func (h *Hub) sendError(conn *Connection, message string) {
	_ = h.registry.deliver(conn, mustFrame(TypeError, ErrorPayload{Message: message}))
}

func (h *Hub) logFrameError(conn *Connection, frameType string, err error) {
	var hubErr *HubError
	if errors.As(err, &hubErr) && hubErr.Type == ErrTypeStorage {
		h.logger.Error("Frame failed", "user_id", conn.userID, "type", frameType, "error", err)
		return
	}
	h.logger.Debug("Frame rejected", "user_id", conn.userID, "type", frameType, "error", err)
}
