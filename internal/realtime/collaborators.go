package realtime

import (
	"context"
	"time"
)

// Logger is the logging contract shared with the services package.
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

// TokenVerifier resolves a handshake credential to a user ID.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// TypingRecord is a stored typing signal.
type TypingRecord struct {
	UserID  string
	TypedAt time.Time
}

// Gateway is the hub's only path to durable state.
type Gateway interface {
	GetTypingUsers(ctx context.Context, chatID string, since time.Time) ([]TypingRecord, error)
	UpdateTypingStatus(ctx context.Context, chatID, userID string, at time.Time) error
	ClearTypingStatus(ctx context.Context, chatID, userID string) error

	// MessageChat returns the chat a message belongs to, or ErrMessageNotFound.
	MessageChat(ctx context.Context, messageID string) (string, error)
	MarkMessageAsDelivered(ctx context.Context, messageID string, at time.Time) error
	MarkMessageAsRead(ctx context.Context, messageID string, at time.Time) error

	// SaveMessage is idempotent on (ChatID, ClientMessageID). duplicate is
	// true when an earlier row was returned instead of inserting.
	SaveMessage(ctx context.Context, msg ChatMessage) (stored ChatMessage, duplicate bool, err error)
}

// Authorizer decides whether a user may enter a chat.
type Authorizer interface {
	CanJoin(ctx context.Context, userID, chatID string) (bool, error)
}

type allowAll struct{}

func (allowAll) CanJoin(context.Context, string, string) (bool, error) { return true, nil }

// Assistant produces a reply for the latest state of a chat. onDelta is
// called for every streamed fragment; the returned message has been persisted.
type Assistant interface {
	Reply(ctx context.Context, chatID string, onDelta func(delta string) error) (ChatMessage, error)
}
