// File: internal/services/chat/types.go
package chat

import (
	"github.com/iyunix/internist-hub/internal/domain"
	"github.com/iyunix/internist-hub/internal/realtime"
)

// Logger defines the logging interface used across chat services
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}

// ToChatMessage converts a stored message into its wire form.
func ToChatMessage(m *domain.Message) realtime.ChatMessage {
	out := realtime.ChatMessage{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
	if m.ClientMessageID != nil {
		out.ClientMessageID = *m.ClientMessageID
	}
	return out
}
