// File: internal/repository/message/interface.go
package message

import (
	"context"
	"time"

	"github.com/iyunix/internist-hub/internal/domain"
)

type MessageRepository interface {
	Create(ctx context.Context, message *domain.Message) (*domain.Message, error)
	// CreateIdempotent stores message unless one with the same chat and client
	// message ID exists, in which case the stored row is returned with duplicate set.
	CreateIdempotent(ctx context.Context, message *domain.Message) (stored *domain.Message, duplicate bool, err error)
	FindByID(ctx context.Context, messageID string) (*domain.Message, error)
	FindByChatIDWithPagination(ctx context.Context, chatID string, limit, offset int) ([]domain.Message, int64, error)
	FindRecentMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error)
	MarkDelivered(ctx context.Context, messageID string, at time.Time) error
	MarkRead(ctx context.Context, messageID string, at time.Time) error
}
