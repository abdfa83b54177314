// File: internal/services/ai/interface.go
package ai

import "context"

// Message is one turn of the conversation sent to the model.
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CompletionProvider handles chat completions.
type CompletionProvider interface {
	GetCompletion(ctx context.Context, messages []Message) (string, error)
	StreamCompletion(ctx context.Context, messages []Message, onDelta func(string) error) error
}
