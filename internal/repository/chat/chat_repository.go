// File: internal/repository/chat/chat_repository.go
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/iyunix/internist-hub/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrChatNotFound = errors.New("chat not found")

type gormChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) ChatRepository {
	return &gormChatRepository{db: db}
}

// Create validates and stores a chat; the ID is assigned on insert when empty.
func (r *gormChatRepository) Create(ctx context.Context, chat *domain.Chat) (*domain.Chat, error) {
	if err := r.validateChatInput(chat); err != nil {
		log.Printf("[ChatRepository] Validation failed: %v", err)
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	if err := r.db.WithContext(ctx).Create(chat).Error; err != nil {
		log.Printf("[ChatRepository] Database error during chat creation for owner %s: %v", chat.OwnerID, err)
		return nil, errors.New("database error creating chat")
	}

	log.Printf("[ChatRepository] Chat created with ID: %s for owner: %s", chat.ID, chat.OwnerID)
	return chat, nil
}

func (r *gormChatRepository) FindByID(ctx context.Context, chatID string) (*domain.Chat, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, errors.New("invalid chat ID")
	}

	var chat domain.Chat
	err := r.db.WithContext(ctx).Where("id = ?", chatID).First(&chat).Error
	return r.handleFindError(err, &chat, "FindByID")
}

// AddParticipant is idempotent; adding an existing participant is a no-op.
func (r *gormChatRepository) AddParticipant(ctx context.Context, chatID, userID string) error {
	if strings.TrimSpace(chatID) == "" || strings.TrimSpace(userID) == "" {
		return errors.New("invalid chat ID or user ID")
	}
	if _, err := r.FindByID(ctx, chatID); err != nil {
		return err
	}

	participant := domain.ChatParticipant{ChatID: chatID, UserID: userID, JoinedAt: time.Now()}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&participant).Error
	if err != nil {
		log.Printf("[ChatRepository] Database error adding participant %s to chat %s: %v", userID, chatID, err)
		return errors.New("database error adding participant")
	}
	return nil
}

// IsMember reports whether userID owns chatID or was added as a participant.
// A missing chat yields ErrChatNotFound.
func (r *gormChatRepository) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	chat, err := r.FindByID(ctx, chatID)
	if err != nil {
		return false, err
	}
	if chat.OwnerID == userID {
		return true, nil
	}

	var count int64
	err = r.db.WithContext(ctx).Model(&domain.ChatParticipant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Count(&count).Error
	if err != nil {
		log.Printf("[ChatRepository] Database error checking membership for chat %s: %v", chatID, err)
		return false, errors.New("database error checking membership")
	}
	return count > 0, nil
}

func (r *gormChatRepository) ListParticipants(ctx context.Context, chatID string) ([]string, error) {
	var userIDs []string
	err := r.db.WithContext(ctx).Model(&domain.ChatParticipant{}).
		Where("chat_id = ?", chatID).
		Order("joined_at ASC, user_id ASC").
		Pluck("user_id", &userIDs).Error
	if err != nil {
		log.Printf("[ChatRepository] Database error listing participants for chat %s: %v", chatID, err)
		return nil, errors.New("database error listing participants")
	}
	return userIDs, nil
}

func (r *gormChatRepository) TouchUpdatedAt(ctx context.Context, chatID string) error {
	result := r.db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ?", chatID).
		Update("updated_at", time.Now())
	if result.Error != nil {
		log.Printf("[ChatRepository] Database error updating timestamp for chat %s: %v", chatID, result.Error)
		return errors.New("database error updating chat timestamp")
	}
	if result.RowsAffected == 0 {
		return ErrChatNotFound
	}
	return nil
}

func (r *gormChatRepository) validateChatInput(chat *domain.Chat) error {
	if chat == nil {
		return errors.New("chat cannot be nil")
	}
	if strings.TrimSpace(chat.OwnerID) == "" {
		return errors.New("owner ID is required")
	}
	if len(chat.Title) > 200 {
		return errors.New("title must be 200 characters or less")
	}
	return nil
}

func (r *gormChatRepository) handleFindError(err error, chat *domain.Chat, operation string) (*domain.Chat, error) {
	if err == nil {
		return chat, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatNotFound
	}
	log.Printf("[ChatRepository] %s database error: %v", operation, err)
	return nil, errors.New("database query failed")
}
