// File: internal/domain/message.go
package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a persisted chat message. ClientMessageID makes sends idempotent
// per chat; assistant replies leave it empty and are stored as NULL.
type Message struct {
	ID              string     `json:"id" gorm:"primaryKey;size:36"`
	ChatID          string     `json:"chatId" gorm:"not null;index;size:36;uniqueIndex:idx_chat_client_message,priority:1"`
	SenderID        string     `json:"senderId" gorm:"not null;size:128"`
	Role            string     `json:"role" gorm:"not null;size:16"`
	Content         string     `json:"content" gorm:"not null"`
	ClientMessageID *string    `json:"clientMessageId,omitempty" gorm:"size:128;uniqueIndex:idx_chat_client_message,priority:2"`
	DeliveredAt     *time.Time `json:"deliveredAt,omitempty"`
	ReadAt          *time.Time `json:"readAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt" gorm:"index"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
