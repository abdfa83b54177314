package realtime

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrSendBufferFull     = errors.New("send buffer full")
	ErrNotInChat          = errors.New("not in a chat")
	ErrMessageNotFound    = errors.New("message not found")
	ErrChatNotFound       = errors.New("chat not found")
)

// ErrorType classifies hub failures.
type ErrorType string

const (
	ErrTypeAuth      ErrorType = "auth"
	ErrTypeProtocol  ErrorType = "protocol"
	ErrTypeStorage   ErrorType = "storage"
	ErrTypeNotFound  ErrorType = "not_found"
	ErrTypeForbidden ErrorType = "forbidden"
)

// HubError carries a client-safe Message alongside the internal cause.
type HubError struct {
	Type      ErrorType
	Operation string
	Message   string
	UserID    string
	ChatID    string
	Cause     error
}

func (e *HubError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("hub %s error in %s: %s: %v", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("hub %s error in %s: %s", e.Type, e.Operation, e.Message)
}

func (e *HubError) Unwrap() error {
	return e.Cause
}

func NewProtocolError(operation, message string) *HubError {
	return &HubError{Type: ErrTypeProtocol, Operation: operation, Message: message}
}

func NewAuthError(operation string, cause error) *HubError {
	return &HubError{Type: ErrTypeAuth, Operation: operation, Message: "unauthorized", Cause: cause}
}

func NewForbiddenError(operation, userID, chatID string) *HubError {
	return &HubError{Type: ErrTypeForbidden, Operation: operation, Message: "forbidden", UserID: userID, ChatID: chatID}
}

func NewNotFoundError(operation, message string, cause error) *HubError {
	return &HubError{Type: ErrTypeNotFound, Operation: operation, Message: message, Cause: cause}
}

func NewStorageError(operation, chatID string, cause error) *HubError {
	return &HubError{Type: ErrTypeStorage, Operation: operation, Message: "storage unavailable", ChatID: chatID, Cause: cause}
}

// clientMessage is the text sent in an error frame for err.
func clientMessage(err error) string {
	var hubErr *HubError
	if errors.As(err, &hubErr) && hubErr.Message != "" {
		return hubErr.Message
	}
	if errors.Is(err, ErrNotInChat) {
		return ErrNotInChat.Error()
	}
	return "internal error"
}
