// File: internal/services/chat/errors.go
package chat

import "fmt"

type ErrorType string

const (
	ErrTypeConfig     ErrorType = "CONFIG"
	ErrTypeValidation ErrorType = "VALIDATION"
	ErrTypeStreaming  ErrorType = "STREAMING"
	ErrTypeContext    ErrorType = "CONTEXT"
	ErrTypeStorage    ErrorType = "STORAGE"
	ErrTypeNotFound   ErrorType = "NOT_FOUND"
)

type ChatError struct {
	Type      ErrorType
	Operation string
	Message   string
	ChatID    string
	Cause     error
}

func (e *ChatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("Chat %s error in %s: %s (caused by: %v)",
			e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("Chat %s error in %s: %s", e.Type, e.Operation, e.Message)
}

func (e *ChatError) Unwrap() error {
	return e.Cause
}

func NewValidationError(operation, msg string) *ChatError {
	return &ChatError{Type: ErrTypeValidation, Operation: operation, Message: msg}
}

func NewStreamingError(chatID, msg string, cause error) *ChatError {
	return &ChatError{Type: ErrTypeStreaming, Operation: "streaming", Message: msg, ChatID: chatID, Cause: cause}
}

func NewContextError(chatID string, cause error) *ChatError {
	return &ChatError{Type: ErrTypeContext, Operation: "history", Message: "failed to load chat history", ChatID: chatID, Cause: cause}
}

func NewStorageError(chatID, msg string, cause error) *ChatError {
	return &ChatError{Type: ErrTypeStorage, Operation: "save", Message: msg, ChatID: chatID, Cause: cause}
}
