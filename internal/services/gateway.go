// File: internal/services/gateway.go
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/iyunix/internist-hub/internal/domain"
	"github.com/iyunix/internist-hub/internal/realtime"
	"github.com/iyunix/internist-hub/internal/repository/chat"
	"github.com/iyunix/internist-hub/internal/repository/message"
	"github.com/iyunix/internist-hub/internal/repository/typing"
	chatservice "github.com/iyunix/internist-hub/internal/services/chat"
)

// PersistenceGateway is the hub's path to durable state.
type PersistenceGateway struct {
	typing   typing.Repository
	messages message.MessageRepository
	chats    chat.ChatRepository
	logger   Logger
}

var _ realtime.Gateway = (*PersistenceGateway)(nil)

func NewPersistenceGateway(
	typingRepo typing.Repository,
	messageRepo message.MessageRepository,
	chatRepo chat.ChatRepository,
	logger Logger,
) *PersistenceGateway {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &PersistenceGateway{
		typing:   typingRepo,
		messages: messageRepo,
		chats:    chatRepo,
		logger:   logger,
	}
}

func (g *PersistenceGateway) GetTypingUsers(ctx context.Context, chatID string, since time.Time) ([]realtime.TypingRecord, error) {
	records, err := g.typing.ListActive(ctx, chatID, since)
	if err != nil {
		return nil, err
	}
	out := make([]realtime.TypingRecord, 0, len(records))
	for _, r := range records {
		out = append(out, realtime.TypingRecord{UserID: r.UserID, TypedAt: r.TypedAt})
	}
	return out, nil
}

func (g *PersistenceGateway) UpdateTypingStatus(ctx context.Context, chatID, userID string, at time.Time) error {
	return g.typing.Upsert(ctx, chatID, userID, at)
}

func (g *PersistenceGateway) ClearTypingStatus(ctx context.Context, chatID, userID string) error {
	return g.typing.Clear(ctx, chatID, userID)
}

func (g *PersistenceGateway) MessageChat(ctx context.Context, messageID string) (string, error) {
	m, err := g.messages.FindByID(ctx, messageID)
	if err != nil {
		return "", mapMessageError(err)
	}
	return m.ChatID, nil
}

func (g *PersistenceGateway) MarkMessageAsDelivered(ctx context.Context, messageID string, at time.Time) error {
	return mapMessageError(g.messages.MarkDelivered(ctx, messageID, at))
}

func (g *PersistenceGateway) MarkMessageAsRead(ctx context.Context, messageID string, at time.Time) error {
	return mapMessageError(g.messages.MarkRead(ctx, messageID, at))
}

func (g *PersistenceGateway) SaveMessage(ctx context.Context, msg realtime.ChatMessage) (realtime.ChatMessage, bool, error) {
	record := &domain.Message{
		ChatID:   msg.ChatID,
		SenderID: msg.SenderID,
		Role:     msg.Role,
		Content:  msg.Content,
	}
	if id := strings.TrimSpace(msg.ClientMessageID); id != "" {
		record.ClientMessageID = &id
	}

	stored, duplicate, err := g.messages.CreateIdempotent(ctx, record)
	if err != nil {
		return realtime.ChatMessage{}, false, err
	}
	if !duplicate {
		if err := g.chats.TouchUpdatedAt(ctx, msg.ChatID); err != nil {
			g.logger.Warn("failed to touch chat", "chat_id", msg.ChatID, "error", err)
		}
	}
	return chatservice.ToChatMessage(stored), duplicate, nil
}

func mapMessageError(err error) error {
	if errors.Is(err, message.ErrMessageNotFound) {
		return realtime.ErrMessageNotFound
	}
	return err
}
