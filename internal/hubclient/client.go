// Package hubclient is a reconnecting client for the realtime hub.
package hubclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/iyunix/internist-hub/internal/realtime"
)

var (
	// ErrUnauthorized is returned by Run when the hub rejects the token.
	ErrUnauthorized = errors.New("hubclient: unauthorized")
	// ErrSuperseded is returned by Run when another connection of the same user took over.
	ErrSuperseded = errors.New("hubclient: connection superseded")

	ErrNotConnected = errors.New("hubclient: not connected")
	ErrNoChat       = errors.New("hubclient: no chat joined")
)

const writeWait = 10 * time.Second

type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

type Config struct {
	// URL of the hub's websocket endpoint, e.g. ws://localhost:8080/ws.
	URL   string
	Token string
	// ChatID is joined after every successful connect.
	ChatID string

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// OnFrame receives every frame except ping and echoed duplicates of
	// new_message. It runs on the read goroutine.
	OnFrame func(realtime.Frame)

	Dialer *websocket.Dialer
	Logger Logger
}

// PendingMessage is an optimistic message not yet confirmed by the hub.
type PendingMessage struct {
	ClientMessageID string
	ChatID          string
	Content         string
	QueuedAt        time.Time
}

type Client struct {
	cfg    Config
	logger Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	userID  string
	chatID  string
	pending []PendingMessage
	seen    map[string]struct{}
}

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("hubclient: URL is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("hubclient: token is required")
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		chatID: cfg.ChatID,
		seen:   make(map[string]struct{}),
	}, nil
}

// Run connects and keeps the connection alive until ctx is done or the hub
// closes the session for good (ErrUnauthorized, ErrSuperseded).
func (c *Client) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.InitialBackoff
	policy.MaxInterval = c.cfg.MaxBackoff

	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrSuperseded) {
			return err
		}
		if connected {
			policy.Reset()
		}

		wait := policy.NextBackOff()
		c.logger.Warn("hub connection lost", "error", err, "retry_in", wait.String())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// session runs one connection. connected reports whether the handshake
// completed, which resets the backoff.
func (c *Client) session(ctx context.Context) (connected bool, err error) {
	conn, resp, err := c.cfg.Dialer.DialContext(ctx, c.dialURL(), nil)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial: %s: %w", resp.Status, err)
		}
		return false, fmt.Errorf("dial: %w", err)
	}
	if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
		conn.Close()
		return false, fmt.Errorf("dial: unexpected status %s", resp.Status)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	})
	defer stop()

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, readErr := conn.ReadMessage()
		if readErr != nil {
			return connected, classifyClose(readErr)
		}

		frame, decodeErr := realtime.DecodeFrame(data)
		if decodeErr != nil {
			c.logger.Warn("dropping malformed frame", "error", decodeErr)
			continue
		}

		if frame.Type == realtime.TypeConnectionEstablished {
			connected = true
		}
		if c.handle(frame) && c.cfg.OnFrame != nil {
			c.cfg.OnFrame(frame)
		}
	}
}

// handle applies client-side bookkeeping and reports whether the frame
// should reach OnFrame.
func (c *Client) handle(frame realtime.Frame) bool {
	switch frame.Type {
	case realtime.TypePing:
		if err := c.write(realtime.TypePong, nil); err != nil {
			c.logger.Debug("pong failed", "error", err)
		}
		return false

	case realtime.TypeConnectionEstablished:
		var p realtime.ConnectionEstablishedPayload
		if err := realtime.DecodePayload(frame.Payload, &p); err == nil {
			c.mu.Lock()
			c.userID = p.UserID
			c.mu.Unlock()
		}
		c.resume()
		return true

	case realtime.TypeNewMessage:
		var p realtime.NewMessagePayload
		if err := realtime.DecodePayload(frame.Payload, &p); err != nil {
			return true
		}
		return c.reconcile(p.Message)
	}
	return true
}

// resume re-joins the current chat and resends unconfirmed messages.
func (c *Client) resume() {
	c.mu.Lock()
	chatID := c.chatID
	pending := append([]PendingMessage(nil), c.pending...)
	c.mu.Unlock()

	if chatID == "" {
		return
	}
	if err := c.write(realtime.TypeJoinChat, realtime.ChatPayload{ChatID: chatID}); err != nil {
		c.logger.Warn("rejoin failed", "chat_id", chatID, "error", err)
		return
	}
	for _, p := range pending {
		if p.ChatID != chatID {
			continue
		}
		if err := c.write(realtime.TypeSendMessage, realtime.SendMessagePayload{
			Content: p.Content, ClientMessageID: p.ClientMessageID,
		}); err != nil {
			c.logger.Warn("resend failed", "client_message_id", p.ClientMessageID, "error", err)
			return
		}
	}
}

// reconcile drops the pending copy of an echoed message and reports
// whether msg is new to this client.
func (c *Client) reconcile(msg realtime.ChatMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.ClientMessageID != "" {
		for i, p := range c.pending {
			if p.ClientMessageID == msg.ClientMessageID && p.ChatID == msg.ChatID {
				c.pending = append(c.pending[:i], c.pending[i+1:]...)
				break
			}
		}
	}
	if msg.ID == "" {
		return true
	}
	if _, dup := c.seen[msg.ID]; dup {
		return false
	}
	c.seen[msg.ID] = struct{}{}
	return true
}

// Join switches to chatID. While disconnected the join is sent on the next connect.
func (c *Client) Join(chatID string) error {
	c.mu.Lock()
	c.chatID = chatID
	c.mu.Unlock()
	return ignoreOffline(c.write(realtime.TypeJoinChat, realtime.ChatPayload{ChatID: chatID}))
}

func (c *Client) Leave() error {
	c.mu.Lock()
	chatID := c.chatID
	c.chatID = ""
	c.mu.Unlock()
	if chatID == "" {
		return ErrNoChat
	}
	return ignoreOffline(c.write(realtime.TypeLeaveChat, realtime.ChatPayload{ChatID: chatID}))
}

// ignoreOffline is for frames whose effect a reconnect reproduces.
func ignoreOffline(err error) error {
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

func (c *Client) StartTyping() error {
	return c.chatFrame(realtime.TypeTypingStart)
}

func (c *Client) EndTyping() error {
	return c.chatFrame(realtime.TypeTypingEnd)
}

func (c *Client) MarkDelivered(messageID string) error {
	return c.write(realtime.TypeMessageDelivered, realtime.MessageRefPayload{MessageID: messageID})
}

func (c *Client) MarkRead(messageID string) error {
	return c.write(realtime.TypeMessageRead, realtime.MessageRefPayload{MessageID: messageID})
}

// SendMessage queues content as an optimistic message and sends it when
// connected. The message stays pending until the hub echoes it back, and is
// resent after a reconnect.
func (c *Client) SendMessage(content string) (PendingMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return PendingMessage{}, errors.New("hubclient: content is required")
	}

	c.mu.Lock()
	if c.chatID == "" {
		c.mu.Unlock()
		return PendingMessage{}, ErrNoChat
	}
	p := PendingMessage{
		ClientMessageID: uuid.NewString(),
		ChatID:          c.chatID,
		Content:         content,
		QueuedAt:        time.Now(),
	}
	c.pending = append(c.pending, p)
	c.mu.Unlock()

	err := c.write(realtime.TypeSendMessage, realtime.SendMessagePayload{
		Content: p.Content, ClientMessageID: p.ClientMessageID,
	})
	return p, ignoreOffline(err)
}

// Pending returns unconfirmed messages, oldest first.
func (c *Client) Pending() []PendingMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PendingMessage(nil), c.pending...)
}

func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) ChatID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatID
}

func (c *Client) chatFrame(frameType string) error {
	chatID := c.ChatID()
	if chatID == "" {
		return ErrNoChat
	}
	return c.write(frameType, realtime.ChatPayload{ChatID: chatID})
}

func (c *Client) write(frameType string, payload interface{}) error {
	data, err := realtime.EncodeFrame(frameType, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) dialURL() string {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return c.cfg.URL
	}
	q := u.Query()
	q.Set("token", c.cfg.Token)
	u.RawQuery = q.Encode()
	return u.String()
}

func classifyClose(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.ClosePolicyViolation:
			return fmt.Errorf("%w: %s", ErrUnauthorized, closeErr.Text)
		case realtime.CloseSuperseded:
			return ErrSuperseded
		}
	}
	return err
}
