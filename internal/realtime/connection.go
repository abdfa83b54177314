package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// ConnState is the lifecycle position of a connection.
type ConnState int32

const (
	StateAuthenticating ConnState = iota
	StateIdle
	StateJoined
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateIdle:
		return "idle"
	case StateJoined:
		return "joined"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason is the websocket close code and text sent when the hub ends a connection.
type CloseReason struct {
	Code int
	Text string
}

// CloseSuperseded is sent to a connection replaced by a newer one of the same user.
const CloseSuperseded = 4000

var (
	ReasonSuperseded   = CloseReason{Code: CloseSuperseded, Text: "superseded"}
	ReasonUnauthorized = CloseReason{Code: websocket.ClosePolicyViolation, Text: "unauthorized"}
	ReasonTimeout      = CloseReason{Code: websocket.CloseNormalClosure, Text: "timed out"}
	ReasonBackpressure = CloseReason{Code: websocket.CloseTryAgainLater, Text: "send buffer full"}
	ReasonShutdown     = CloseReason{Code: websocket.CloseGoingAway, Text: "server shutting down"}
	ReasonClientClosed = CloseReason{Code: websocket.CloseNormalClosure}
	ReasonTransport    = CloseReason{Code: websocket.CloseInternalServerErr, Text: "transport error"}
)

// Transport is the subset of *websocket.Conn the write side needs.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Connection is one authenticated client. The registry owns its lifetime;
// only the room tracker changes its chat.
type Connection struct {
	id        string
	userID    string
	addr      string
	transport Transport
	send      chan []byte
	limiter   *rate.Limiter

	lastActivity atomic.Int64

	mu     sync.Mutex
	state  ConnState
	chatID string
	reason CloseReason
}

func newConnection(userID, addr string, transport Transport, bufferSize int, limiter *rate.Limiter) *Connection {
	return &Connection{
		id:        uuid.NewString(),
		userID:    userID,
		addr:      addr,
		transport: transport,
		send:      make(chan []byte, bufferSize),
		limiter:   limiter,
		state:     StateAuthenticating,
	}
}

func (c *Connection) ID() string     { return c.id }
func (c *Connection) UserID() string { return c.userID }
func (c *Connection) Addr() string   { return c.addr }

func (c *Connection) ChatID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatID
}

func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CloseReason is meaningful once the connection is closing.
func (c *Connection) CloseReason() CloseReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *Connection) touch(now time.Time) {
	c.lastActivity.Store(now.UnixNano())
}

func (c *Connection) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastActivity.Load()))
}

// allowFrame applies the per-connection frame budget.
func (c *Connection) allowFrame() bool {
	return c.limiter == nil || c.limiter.Allow()
}

func (c *Connection) markAdmitted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state < StateIdle {
		c.state = StateIdle
	}
}

// enqueue never blocks: a closed connection or a full buffer is reported.
func (c *Connection) enqueue(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state >= StateClosing {
		return ErrConnectionClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *Connection) setChat(chatID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state >= StateClosing {
		return ErrConnectionClosed
	}
	c.chatID = chatID
	c.state = StateJoined
	return nil
}

// takeChat clears and returns the current chat.
func (c *Connection) takeChat() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	chatID := c.chatID
	c.chatID = ""
	if c.state == StateJoined {
		c.state = StateIdle
	}
	return chatID
}

// beginClose moves the connection to Closing exactly once. The first caller
// gets the chat the connection was in and ok=true; the send channel is
// closed so the write pump flushes and sends the close frame.
func (c *Connection) beginClose(reason CloseReason) (chatID string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state >= StateClosing {
		return "", false
	}
	c.state = StateClosing
	c.reason = reason
	chatID = c.chatID
	c.chatID = ""
	close(c.send)
	return chatID, true
}

func (c *Connection) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
}

// writePump drains the send buffer onto the transport and finishes with a
// close frame carrying the close reason.
func (c *Connection) writePump(writeWait time.Duration, logger Logger) {
	defer func() {
		if err := c.transport.Close(); err != nil && !isExpectedCloseError(err) {
			logger.Debug("Error closing transport", "connection_id", c.id, "error", err)
		}
	}()

	for msg := range c.send {
		_ = c.transport.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.transport.WriteMessage(websocket.TextMessage, msg); err != nil {
			if !isExpectedCloseError(err) {
				logger.Warn("Write failed", "connection_id", c.id, "user_id", c.userID, "error", err)
			}
			return
		}
	}

	reason := c.CloseReason()
	_ = c.transport.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.transport.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(reason.Code, reason.Text)); err != nil && !isExpectedCloseError(err) {
		logger.Debug("Close frame not delivered", "connection_id", c.id, "error", err)
	}
}
