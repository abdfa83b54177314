// File: internal/repository/typing/interface.go
package typing

import (
	"context"
	"time"
)

// Record is one user's most recent typing signal in a chat.
type Record struct {
	UserID  string
	TypedAt time.Time
}

// Repository stores typing signals. ListActive returns records with
// TypedAt at or after since, ordered by user ID.
type Repository interface {
	Upsert(ctx context.Context, chatID, userID string, at time.Time) error
	Clear(ctx context.Context, chatID, userID string) error
	ListActive(ctx context.Context, chatID string, since time.Time) ([]Record, error)
}
