// File: internal/services/chat/context.go
package chat

import (
	"strings"
	"unicode/utf8"

	"github.com/iyunix/internist-hub/internal/domain"
	"github.com/iyunix/internist-hub/internal/services/ai"
)

// ContextHelper turns stored chat history into model input.
type ContextHelper struct {
	config *Config
	logger Logger
}

func NewContextHelper(config *Config, logger Logger) *ContextHelper {
	return &ContextHelper{
		config: config,
		logger: logger,
	}
}

// TruncateText safely truncates a UTF-8 string to maxLen runes, preserving character integrity
func (ch *ContextHelper) TruncateText(input string, maxLen int) string {
	if input == "" || maxLen <= 0 {
		return ""
	}

	if utf8.RuneCountInString(input) <= maxLen {
		return input
	}

	var b strings.Builder
	count := 0

	for _, r := range input {
		if count >= maxLen {
			break
		}
		b.WriteRune(r)
		count++
	}

	return b.String()
}

// BuildConversation returns the system prompt followed by history in
// chronological order. User turns are prefixed with the sender so the model
// can tell participants apart.
func (ch *ContextHelper) BuildConversation(history []domain.Message) []ai.Message {
	out := make([]ai.Message, 0, len(history)+1)
	if ch.config.SystemPrompt != "" {
		out = append(out, ai.Message{Role: ai.RoleSystem, Content: ch.config.SystemPrompt})
	}

	truncated := 0
	for _, m := range history {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		if utf8.RuneCountInString(content) > ch.config.MaxHistoryRunes {
			content = ch.TruncateText(content, ch.config.MaxHistoryRunes)
			truncated++
		}

		switch m.Role {
		case domain.RoleAssistant:
			out = append(out, ai.Message{Role: ai.RoleAssistant, Content: content})
		default:
			out = append(out, ai.Message{Role: ai.RoleUser, Content: m.SenderID + ": " + content})
		}
	}

	if truncated > 0 {
		ch.logger.Debug("truncated history messages", "count", truncated)
	}
	return out
}
