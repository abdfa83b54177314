package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := DefaultConfig()
	cfg.LLMKey = "test-key"
	cfg.LLMBaseURL = server.URL + "/v1"
	cfg.Model = "test-model"

	provider, err := NewOpenAIProvider(cfg)
	require.NoError(t, err)
	return provider
}

func TestNewOpenAIProviderValidates(t *testing.T) {
	_, err := NewOpenAIProvider(DefaultConfig())
	require.Error(t, err)

	var aiErr *AIError
	require.True(t, errors.As(err, &aiErr))
	assert.Equal(t, ErrTypeConfig, aiErr.Type)
}

func TestGetCompletion(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"pong"},"finish_reason":"stop"}]}`)
	})

	reply, err := provider.GetCompletion(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "ping"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pong", reply)
}

func TestStreamCompletion(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"Hel", "", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"x\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", delta)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var got []string
	err := provider.StreamCompletion(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, func(delta string) error {
		got = append(got, delta)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, got)
}

func TestStreamCompletionStopsOnCallbackError(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"a\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"b\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	stop := errors.New("stop")
	calls := 0
	err := provider.StreamCompletion(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, func(string) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestProviderErrorIsRetryable(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	})

	_, err := provider.GetCompletion(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	var aiErr *AIError
	require.True(t, errors.As(err, &aiErr))
	assert.True(t, aiErr.Retryable())
	assert.True(t, strings.Contains(err.Error(), "completion"))
}

func TestRetryWithBackoff(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 3, Delay: time.Millisecond}

	attempts := 0
	err := RetryWithBackoff(context.Background(), cfg, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return NewProviderError("completion", "flaky", nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	err = RetryWithBackoff(context.Background(), cfg, func(context.Context) error {
		attempts++
		return NewValidationError("completion", "bad input")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "validation errors are not retried")

	attempts = 0
	err = RetryWithBackoff(context.Background(), cfg, func(context.Context) error {
		attempts++
		return NewProviderError("completion", "down", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryWithBackoff(ctx, &RetryConfig{MaxAttempts: 3, Delay: time.Hour}, func(context.Context) error {
		return NewProviderError("completion", "down", nil)
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRetryReturnsUnderlyingErrors(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 2, Delay: time.Millisecond}

	sentinel := errors.New("stream interrupted")
	err := RetryWithBackoff(context.Background(), cfg, func(context.Context) error {
		return fmt.Errorf("reply: %w", sentinel)
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, "reply: stream interrupted", err.Error(), "permanent errors come back unwrapped")

	err = RetryWithBackoff(context.Background(), cfg, func(context.Context) error {
		return NewProviderError("completion", "down", nil)
	})
	var aiErr *AIError
	require.True(t, errors.As(err, &aiErr))
	assert.Equal(t, "down", aiErr.Message)
}

func TestRetryWaitsConfiguredDelay(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 3, Delay: 20 * time.Millisecond}

	started := time.Now()
	attempts := 0
	err := RetryWithBackoff(context.Background(), cfg, func(context.Context) error {
		attempts++
		return NewProviderError("completion", "down", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.GreaterOrEqual(t, time.Since(started), 40*time.Millisecond, "two fixed waits between three attempts")
}
