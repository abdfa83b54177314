// File: internal/domain/typing_status.go
package domain

import "time"

// TypingStatus is the durable record of a user typing in a chat.
type TypingStatus struct {
	ChatID  string    `gorm:"primaryKey;size:36"`
	UserID  string    `gorm:"primaryKey;size:128"`
	TypedAt time.Time `gorm:"not null;index"`
}
