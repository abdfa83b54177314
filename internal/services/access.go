// File: internal/services/access.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/iyunix/internist-hub/internal/realtime"
	"github.com/iyunix/internist-hub/internal/repository/chat"
)

const (
	AccessPolicyParticipants = "participants"
	AccessPolicyOpen         = "open"
)

// ChatAccessService decides who may join a chat.
type ChatAccessService struct {
	chats  chat.ChatRepository
	policy string
	logger Logger
}

var _ realtime.Authorizer = (*ChatAccessService)(nil)

func NewChatAccessService(chatRepo chat.ChatRepository, policy string, logger Logger) (*ChatAccessService, error) {
	switch policy {
	case AccessPolicyParticipants, AccessPolicyOpen:
	default:
		return nil, fmt.Errorf("unknown chat access policy %q", policy)
	}
	if policy == AccessPolicyParticipants && chatRepo == nil {
		return nil, errors.New("chat repository is required")
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &ChatAccessService{chats: chatRepo, policy: policy, logger: logger}, nil
}

// CanJoin allows everyone under the open policy. Otherwise the user must
// own the chat or be a participant; a missing chat is ErrChatNotFound.
func (s *ChatAccessService) CanJoin(ctx context.Context, userID, chatID string) (bool, error) {
	if s.policy == AccessPolicyOpen {
		return true, nil
	}

	ok, err := s.chats.IsMember(ctx, chatID, userID)
	if err != nil {
		if errors.Is(err, chat.ErrChatNotFound) {
			return false, realtime.ErrChatNotFound
		}
		s.logger.Error("membership check failed", "chat_id", chatID, "user_id", userID, "error", err)
		return false, err
	}
	if !ok {
		s.logger.Debug("chat access denied", "chat_id", chatID, "user_id", userID)
	}
	return ok, nil
}
