// File: internal/repository/typing/gorm_repository.go
package typing

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/iyunix/internist-hub/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormTypingRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) Repository {
	return &gormTypingRepository{db: db}
}

func (r *gormTypingRepository) Upsert(ctx context.Context, chatID, userID string, at time.Time) error {
	status := domain.TypingStatus{ChatID: chatID, UserID: userID, TypedAt: at.UTC()}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"typed_at"}),
		}).
		Create(&status).Error
	if err != nil {
		log.Printf("[TypingRepository] Database error upserting typing status for chat %s: %v", chatID, err)
		return errors.New("database error updating typing status")
	}
	return nil
}

func (r *gormTypingRepository) Clear(ctx context.Context, chatID, userID string) error {
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Delete(&domain.TypingStatus{}).Error
	if err != nil {
		log.Printf("[TypingRepository] Database error clearing typing status for chat %s: %v", chatID, err)
		return errors.New("database error clearing typing status")
	}
	return nil
}

func (r *gormTypingRepository) ListActive(ctx context.Context, chatID string, since time.Time) ([]Record, error) {
	var rows []domain.TypingStatus
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND typed_at >= ?", chatID, since.UTC()).
		Order("user_id ASC").
		Find(&rows).Error
	if err != nil {
		log.Printf("[TypingRepository] Database error listing typing status for chat %s: %v", chatID, err)
		return nil, errors.New("database error listing typing status")
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, Record{UserID: row.UserID, TypedAt: row.TypedAt})
	}
	return records, nil
}
