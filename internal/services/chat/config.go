// File: internal/services/chat/config.go
package chat

import (
	"fmt"
	"time"
)

type Config struct {
	// Conversation context
	HistoryLimit    int    // Messages loaded as model context
	MaxHistoryRunes int    // Per-message truncation before prompting
	SystemPrompt    string // Prepended to every request

	// Performance
	Timeout    time.Duration // Whole reply, including retries
	MaxRetries int
	RetryDelay time.Duration

	// Output
	RenderHTML bool
}

func (c *Config) Validate() error {
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("history_limit must be positive")
	}
	if c.HistoryLimit > 100 {
		return fmt.Errorf("history_limit cannot exceed 100")
	}
	if c.MaxHistoryRunes <= 0 {
		return fmt.Errorf("max_history_runes must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1")
	}
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		HistoryLimit:    20,
		MaxHistoryRunes: 4000,
		SystemPrompt:    "You are a helpful assistant taking part in a group chat. Answer the latest message concisely. Use Markdown when it helps.",
		Timeout:         90 * time.Second,
		MaxRetries:      3,
		RetryDelay:      time.Second,
		RenderHTML:      true,
	}
}
