// File: internal/services/chat/interface.go
package chat

import (
	"context"

	"github.com/iyunix/internist-hub/internal/services/ai"
)

// StreamProvider streams a model reply for a conversation.
type StreamProvider interface {
	StreamCompletion(ctx context.Context, messages []ai.Message, onDelta func(string) error) error
}

// Renderer turns reply markdown into HTML.
type Renderer interface {
	Render(markdown string) (string, error)
}
