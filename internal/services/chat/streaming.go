// File: internal/services/chat/streaming.go
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iyunix/internist-hub/internal/domain"
	"github.com/iyunix/internist-hub/internal/realtime"
	chatrepo "github.com/iyunix/internist-hub/internal/repository/chat"
	"github.com/iyunix/internist-hub/internal/repository/message"
	"github.com/iyunix/internist-hub/internal/services/ai"
)

const dbSaveTimeout = 5 * time.Second

// AssistantService generates, persists and renders assistant replies.
type AssistantService struct {
	config      *Config
	chatRepo    chatrepo.ChatRepository
	messageRepo message.MessageRepository
	provider    StreamProvider
	renderer    Renderer
	helper      *ContextHelper
	logger      Logger
}

func NewAssistantService(
	config *Config,
	chatRepo chatrepo.ChatRepository,
	messageRepo message.MessageRepository,
	provider StreamProvider,
	logger Logger,
) (*AssistantService, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, NewValidationError("config", err.Error())
	}
	if chatRepo == nil {
		return nil, NewValidationError("constructor", "chat repository is required")
	}
	if messageRepo == nil {
		return nil, NewValidationError("constructor", "message repository is required")
	}
	if provider == nil {
		return nil, NewValidationError("constructor", "stream provider is required")
	}
	if logger == nil {
		logger = nopLogger{}
	}

	s := &AssistantService{
		config:      config,
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		provider:    provider,
		helper:      NewContextHelper(config, logger),
		logger:      logger,
	}
	if config.RenderHTML {
		s.renderer = NewMarkdownRenderer()
	}
	return s, nil
}

// Reply streams a completion for the chat's recent history and stores it.
// A failed attempt is retried only when no fragment reached onDelta.
func (s *AssistantService) Reply(ctx context.Context, chatID string, onDelta func(string) error) (realtime.ChatMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	history, err := s.messageRepo.FindRecentMessages(ctx, chatID, s.config.HistoryLimit)
	if err != nil {
		return realtime.ChatMessage{}, NewContextError(chatID, err)
	}
	conversation := s.helper.BuildConversation(history)
	if len(conversation) == 0 || conversation[len(conversation)-1].Role != ai.RoleUser {
		return realtime.ChatMessage{}, NewValidationError("reply", "no user message to answer")
	}

	s.logger.Info("starting assistant reply", "chat_id", chatID, "history", len(history))

	var reply strings.Builder
	retry := &ai.RetryConfig{MaxAttempts: s.config.MaxRetries, Delay: s.config.RetryDelay}
	err = ai.RetryWithBackoff(ctx, retry, func(ctx context.Context) error {
		streamErr := s.provider.StreamCompletion(ctx, conversation, func(delta string) error {
			reply.WriteString(delta)
			if onDelta != nil {
				return onDelta(delta)
			}
			return nil
		})
		if streamErr != nil && reply.Len() > 0 {
			// %v drops the AIError so RetryWithBackoff stops here.
			return fmt.Errorf("stream interrupted after %d bytes: %v", reply.Len(), streamErr)
		}
		return streamErr
	})
	if err != nil {
		s.logger.Error("assistant stream failed", "chat_id", chatID, "error", err)
		return realtime.ChatMessage{}, NewStreamingError(chatID, "AI streaming failed", err)
	}

	content := strings.TrimSpace(reply.String())
	if content == "" {
		return realtime.ChatMessage{}, NewStreamingError(chatID, "empty reply", nil)
	}

	stored, err := s.save(chatID, content)
	if err != nil {
		return realtime.ChatMessage{}, err
	}

	out := ToChatMessage(stored)
	if s.renderer != nil {
		if html, renderErr := s.renderer.Render(content); renderErr != nil {
			s.logger.Warn("markdown render failed", "chat_id", chatID, "error", renderErr)
		} else {
			out.HTML = html
		}
	}

	s.logger.Info("assistant reply completed", "chat_id", chatID, "message_id", out.ID, "length", len(content))
	return out, nil
}

// save outlives the reply context so a reply streamed right before the
// deadline is still stored.
func (s *AssistantService) save(chatID, content string) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dbSaveTimeout)
	defer cancel()

	stored, err := s.messageRepo.Create(ctx, &domain.Message{
		ChatID:   chatID,
		SenderID: realtime.AssistantUserID,
		Role:     domain.RoleAssistant,
		Content:  content,
	})
	if err != nil {
		s.logger.Error("failed to save assistant message", "chat_id", chatID, "error", err)
		return nil, NewStorageError(chatID, "failed to save assistant message", err)
	}
	if err := s.chatRepo.TouchUpdatedAt(ctx, chatID); err != nil {
		s.logger.Warn("failed to touch chat", "chat_id", chatID, "error", err)
	}
	return stored, nil
}
