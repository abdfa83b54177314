// File: internal/services/ai/openai_provider.go
package ai

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAIProvider struct {
	config *Config
	client *openai.Client
}

func NewOpenAIProvider(config *Config) (*OpenAIProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, NewConfigError(err.Error())
	}

	clientConfig := openai.DefaultConfig(config.LLMKey)
	if config.LLMBaseURL != "" {
		clientConfig.BaseURL = config.LLMBaseURL
	}

	return &OpenAIProvider{
		config: config,
		client: openai.NewClientWithConfig(clientConfig),
	}, nil
}

func (p *OpenAIProvider) request(messages []Message, stream bool) openai.ChatCompletionRequest {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		converted = append(converted, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       p.config.Model,
		Messages:    converted,
		Temperature: p.config.Temperature,
		TopP:        p.config.TopP,
		Stream:      stream,
	}
}

func (p *OpenAIProvider) GetCompletion(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", NewValidationError("completion", "no messages")
	}

	resp, err := p.client.CreateChatCompletion(ctx, p.request(messages, false))
	if err != nil {
		return "", NewProviderError("completion", "failed to create completion", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &AIError{
			Type:      ErrTypeProvider,
			Operation: "completion",
			Model:     p.config.Model,
			Message:   "empty completion response",
		}
	}

	return resp.Choices[0].Message.Content, nil
}

// StreamCompletion calls onDelta for every non-empty content fragment. An
// error returned by onDelta stops the stream and is returned unchanged.
func (p *OpenAIProvider) StreamCompletion(ctx context.Context, messages []Message, onDelta func(string) error) error {
	if len(messages) == 0 {
		return NewValidationError("streaming", "no messages")
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, p.request(messages, true))
	if err != nil {
		return NewProviderError("streaming", "failed to create stream", err)
	}
	defer stream.Close()

	for {
		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return NewProviderError("streaming", "stream receive error", err)
		}

		if len(response.Choices) > 0 {
			delta := response.Choices[0].Delta.Content
			if delta != "" && onDelta != nil {
				if cbErr := onDelta(delta); cbErr != nil {
					return cbErr
				}
			}
		}
	}
}
