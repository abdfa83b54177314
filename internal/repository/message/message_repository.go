// File: internal/repository/message/message_repository.go
package message

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/iyunix/internist-hub/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	MaxContentRunes       = 4000
	MaxClientMessageIDLen = 128
)

var ErrMessageNotFound = errors.New("message not found")

type gormMessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

func (r *gormMessageRepository) Create(ctx context.Context, message *domain.Message) (*domain.Message, error) {
	if err := r.validateMessageInput(message); err != nil {
		log.Printf("[MessageRepository] Validation failed: %v", err)
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		log.Printf("[MessageRepository] Database error during message creation for chat %s: %v", message.ChatID, err)
		return nil, errors.New("database error creating message")
	}
	return message, nil
}

func (r *gormMessageRepository) CreateIdempotent(ctx context.Context, message *domain.Message) (*domain.Message, bool, error) {
	if err := r.validateMessageInput(message); err != nil {
		return nil, false, fmt.Errorf("validation failed: %w", err)
	}
	if message.ClientMessageID == nil || *message.ClientMessageID == "" {
		message.ClientMessageID = nil
		stored, err := r.Create(ctx, message)
		return stored, false, err
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}, {Name: "client_message_id"}},
			DoNothing: true,
		}).
		Create(message)
	if result.Error != nil {
		log.Printf("[MessageRepository] Database error during idempotent create for chat %s: %v", message.ChatID, result.Error)
		return nil, false, errors.New("database error creating message")
	}
	if result.RowsAffected > 0 {
		return message, false, nil
	}

	var existing domain.Message
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND client_message_id = ?", message.ChatID, *message.ClientMessageID).
		First(&existing).Error
	if err != nil {
		log.Printf("[MessageRepository] Conflict without existing row for chat %s: %v", message.ChatID, err)
		return nil, false, errors.New("database error resolving duplicate message")
	}
	return &existing, true, nil
}

func (r *gormMessageRepository) FindByID(ctx context.Context, messageID string) (*domain.Message, error) {
	if strings.TrimSpace(messageID) == "" {
		return nil, errors.New("invalid message ID")
	}

	var message domain.Message
	err := r.db.WithContext(ctx).Where("id = ?", messageID).First(&message).Error
	return r.handleFindError(err, &message, "FindByID")
}

// FindByChatIDWithPagination returns messages oldest first together with the chat total.
func (r *gormMessageRepository) FindByChatIDWithPagination(ctx context.Context, chatID string, limit, offset int) ([]domain.Message, int64, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, 0, errors.New("invalid chat ID")
	}
	if limit <= 0 || limit > 1000 {
		return nil, 0, errors.New("invalid limit: must be between 1 and 1000")
	}
	if offset < 0 {
		return nil, 0, errors.New("invalid offset: must be >= 0")
	}

	var messages []domain.Message
	var total int64

	if err := r.db.WithContext(ctx).Model(&domain.Message{}).Where("chat_id = ?", chatID).Count(&total).Error; err != nil {
		log.Printf("[MessageRepository] Database error counting messages for chat %s: %v", chatID, err)
		return nil, 0, errors.New("database error counting messages")
	}

	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at asc, id asc").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		log.Printf("[MessageRepository] Database error in paginated query for chat %s: %v", chatID, err)
		return nil, 0, errors.New("database error retrieving paginated messages")
	}

	return messages, total, nil
}

// FindRecentMessages returns the newest limit messages in chronological order.
func (r *gormMessageRepository) FindRecentMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, errors.New("invalid chat ID")
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	var messages []domain.Message
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		log.Printf("[MessageRepository] Database error finding recent messages for chat %s: %v", chatID, err)
		return nil, errors.New("database error finding recent messages")
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *gormMessageRepository) MarkDelivered(ctx context.Context, messageID string, at time.Time) error {
	return r.markTimestamp(ctx, messageID, "delivered_at", at)
}

func (r *gormMessageRepository) MarkRead(ctx context.Context, messageID string, at time.Time) error {
	return r.markTimestamp(ctx, messageID, "read_at", at)
}

// markTimestamp overwrites column, so repeated marks keep the latest time.
func (r *gormMessageRepository) markTimestamp(ctx context.Context, messageID, column string, at time.Time) error {
	if strings.TrimSpace(messageID) == "" {
		return ErrMessageNotFound
	}

	result := r.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ?", messageID).
		Update(column, at)
	if result.Error != nil {
		log.Printf("[MessageRepository] Database error setting %s for message %s: %v", column, messageID, result.Error)
		return errors.New("database error updating message")
	}
	if result.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (r *gormMessageRepository) validateMessageInput(message *domain.Message) error {
	if message == nil {
		return errors.New("message cannot be nil")
	}
	if strings.TrimSpace(message.ChatID) == "" {
		return errors.New("chat ID is required")
	}
	if strings.TrimSpace(message.SenderID) == "" {
		return errors.New("sender ID is required")
	}
	switch message.Role {
	case domain.RoleUser, domain.RoleAssistant:
	default:
		return fmt.Errorf("invalid role %q", message.Role)
	}
	if strings.TrimSpace(message.Content) == "" {
		return errors.New("message content cannot be empty")
	}
	if message.Role == domain.RoleUser && utf8.RuneCountInString(message.Content) > MaxContentRunes {
		return fmt.Errorf("message content too long (max %d characters)", MaxContentRunes)
	}
	if message.ClientMessageID != nil && len(*message.ClientMessageID) > MaxClientMessageIDLen {
		return fmt.Errorf("client message ID too long (max %d bytes)", MaxClientMessageIDLen)
	}
	return nil
}

func (r *gormMessageRepository) handleFindError(err error, message *domain.Message, operation string) (*domain.Message, error) {
	if err == nil {
		return message, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	log.Printf("[MessageRepository] %s database error: %v", operation, err)
	return nil, errors.New("database query failed")
}
