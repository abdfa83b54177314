// File: internal/services/chat_service.go
package services

import (
	"context"
	"errors"
	"strings"

	"github.com/iyunix/internist-hub/internal/domain"
	"github.com/iyunix/internist-hub/internal/realtime"
	"github.com/iyunix/internist-hub/internal/repository/chat"
	"github.com/iyunix/internist-hub/internal/repository/message"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrNotChatOwner  = errors.New("only the chat owner can add participants")
	ErrInvalidChatID = errors.New("invalid chat ID")
)

const maxTitleRunes = 200

// ChatService backs the HTTP chat endpoints.
type ChatService struct {
	chats    chat.ChatRepository
	messages message.MessageRepository
	access   realtime.Authorizer
	logger   Logger
}

func NewChatService(
	chatRepo chat.ChatRepository,
	messageRepo message.MessageRepository,
	access realtime.Authorizer,
	logger Logger,
) *ChatService {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &ChatService{
		chats:    chatRepo,
		messages: messageRepo,
		access:   access,
		logger:   logger,
	}
}

// CreateChat stores a chat owned by ownerID and adds the given participants.
func (s *ChatService) CreateChat(ctx context.Context, ownerID, title string, participantIDs []string) (*domain.Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New chat"
	}
	if r := []rune(title); len(r) > maxTitleRunes {
		title = string(r[:maxTitleRunes])
	}

	created, err := s.chats.Create(ctx, &domain.Chat{OwnerID: ownerID, Title: title})
	if err != nil {
		return nil, err
	}

	for _, userID := range participantIDs {
		userID = strings.TrimSpace(userID)
		if userID == "" || userID == ownerID {
			continue
		}
		if err := s.chats.AddParticipant(ctx, created.ID, userID); err != nil {
			return nil, err
		}
	}

	s.logger.Info("chat created", "chat_id", created.ID, "owner_id", ownerID, "participants", len(participantIDs))
	return created, nil
}

// AddParticipant lets the owner of chatID add userID.
func (s *ChatService) AddParticipant(ctx context.Context, callerID, chatID, userID string) error {
	c, err := s.chats.FindByID(ctx, chatID)
	if err != nil {
		return err
	}
	if c.OwnerID != callerID {
		return ErrNotChatOwner
	}
	if strings.TrimSpace(userID) == "" {
		return errors.New("user ID is required")
	}
	return s.chats.AddParticipant(ctx, chatID, strings.TrimSpace(userID))
}

// GetChatMessages returns a page of messages, oldest first, to users
// allowed to join the chat.
func (s *ChatService) GetChatMessages(ctx context.Context, callerID, chatID string, limit, offset int) ([]domain.Message, int64, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, 0, ErrInvalidChatID
	}

	ok, err := s.access.CanJoin(ctx, callerID, chatID)
	if err != nil {
		if errors.Is(err, realtime.ErrChatNotFound) {
			return nil, 0, chat.ErrChatNotFound
		}
		return nil, 0, err
	}
	if !ok {
		return nil, 0, ErrForbidden
	}

	return s.messages.FindByChatIDWithPagination(ctx, chatID, limit, offset)
}
