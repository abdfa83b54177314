package chat

import (
	"context"

	"github.com/iyunix/internist-hub/internal/domain"
)

// ChatRepository handles chat and participant data operations.
type ChatRepository interface {
	Create(ctx context.Context, chat *domain.Chat) (*domain.Chat, error)
	FindByID(ctx context.Context, chatID string) (*domain.Chat, error)
	AddParticipant(ctx context.Context, chatID, userID string) error
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
	ListParticipants(ctx context.Context, chatID string) ([]string, error)
	TouchUpdatedAt(ctx context.Context, chatID string) error
}
