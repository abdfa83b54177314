// File: internal/domain/chat.go
package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Chat is a conversation room. The owner is always allowed to join.
type Chat struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	OwnerID   string    `json:"ownerId" gorm:"not null;index;size:128"`
	Title     string    `json:"title" gorm:"size:200"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c *Chat) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// ChatParticipant grants a non-owner user access to a chat.
type ChatParticipant struct {
	ChatID   string    `json:"chatId" gorm:"primaryKey;size:36"`
	UserID   string    `json:"userId" gorm:"primaryKey;size:128;index"`
	JoinedAt time.Time `json:"joinedAt"`
}
