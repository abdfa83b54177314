package realtime

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// chatLeaver runs room cleanup for a connection that lost its chat.
type chatLeaver interface {
	leaveChat(ctx context.Context, conn *Connection, chatID string)
}

// Registry maps each user to its single live connection.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	users keyedMutex

	leaver chatLeaver
	logger Logger
	now    func() time.Time

	background sync.WaitGroup
}

func NewRegistry(logger Logger, now func() time.Time) *Registry {
	if logger == nil {
		logger = nopLogger{}
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{
		conns:  make(map[string]*Connection),
		logger: logger,
		now:    now,
	}
}

// Admit registers conn for its user. A previous connection of that user is
// evicted with ReasonSuperseded before Admit returns.
func (r *Registry) Admit(ctx context.Context, conn *Connection) {
	conn.touch(r.now())

	unlock := r.users.lock(conn.userID)
	r.mu.Lock()
	previous := r.conns[conn.userID]
	r.conns[conn.userID] = conn
	r.mu.Unlock()
	conn.markAdmitted()
	unlock()

	if previous != nil && previous != conn {
		r.logger.Info("Connection superseded", "user_id", conn.userID, "old_connection_id", previous.id, "new_connection_id", conn.id)
		r.Evict(ctx, previous, ReasonSuperseded)
	}
}

// Evict is the only path that closes an admitted connection. Room cleanup
// always runs for the chat the connection was in. It reports whether this
// call performed the close. Callers holding only a user id go through Lookup
// first so a stale handle never closes its successor.
func (r *Registry) Evict(ctx context.Context, conn *Connection, reason CloseReason) bool {
	unlock := r.users.lock(conn.userID)
	chatID, first := conn.beginClose(reason)
	if first {
		r.mu.Lock()
		if r.conns[conn.userID] == conn {
			delete(r.conns, conn.userID)
		}
		r.mu.Unlock()
	}
	unlock()

	if !first {
		return false
	}

	if chatID != "" && r.leaver != nil {
		r.leaver.leaveChat(ctx, conn, chatID)
	}
	conn.markClosed()

	r.logger.Info("Connection closed",
		"user_id", conn.userID,
		"connection_id", conn.id,
		"chat_id", chatID,
		"code", reason.Code,
		"reason", reason.Text,
	)
	return true
}

func (r *Registry) Lookup(userID string) (*Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[userID]
	if !ok {
		return nil, ErrConnectionNotFound
	}
	return conn, nil
}

// Touch records inbound activity on conn.
func (r *Registry) Touch(conn *Connection) {
	conn.touch(r.now())
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns the live connections at the time of the call.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	return conns
}

// InChat is the room view of chatID, recomputed on every call.
func (r *Registry) InChat(chatID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var conns []*Connection
	for _, conn := range r.conns {
		if conn.ChatID() == chatID {
			conns = append(conns, conn)
		}
	}
	return conns
}

// Rooms counts connections per joined chat.
func (r *Registry) Rooms() map[string]int {
	rooms := make(map[string]int)
	for _, conn := range r.Snapshot() {
		if chatID := conn.ChatID(); chatID != "" {
			rooms[chatID]++
		}
	}
	return rooms
}

// BroadcastToChat queues msg for every connection in chatID except the
// connection of exceptUserID.
func (r *Registry) BroadcastToChat(chatID string, msg []byte, exceptUserID string) {
	if chatID == "" {
		return
	}
	for _, conn := range r.InChat(chatID) {
		if exceptUserID != "" && conn.userID == exceptUserID {
			continue
		}
		r.deliver(conn, msg)
	}
}

// SendTo queues msg for the user's current connection.
func (r *Registry) SendTo(userID string, msg []byte) error {
	conn, err := r.Lookup(userID)
	if err != nil {
		return err
	}
	return r.deliver(conn, msg)
}

// deliver queues msg without blocking. A peer whose buffer is full is
// evicted asynchronously, since callers may hold a chat lock that the
// eviction's leave cleanup needs.
func (r *Registry) deliver(conn *Connection, msg []byte) error {
	err := conn.enqueue(msg)
	if errors.Is(err, ErrSendBufferFull) {
		r.logger.Warn("Send buffer full, evicting", "user_id", conn.userID, "connection_id", conn.id)
		r.background.Add(1)
		go func() {
			defer r.background.Done()
			r.Evict(context.Background(), conn, ReasonBackpressure)
		}()
	}
	return err
}

// EvictAll closes every connection with reason; used at shutdown.
func (r *Registry) EvictAll(ctx context.Context, reason CloseReason) {
	for _, conn := range r.Snapshot() {
		r.Evict(ctx, conn, reason)
	}
	r.Wait()
}

// Wait blocks until asynchronous evictions have finished.
func (r *Registry) Wait() {
	r.background.Wait()
}

func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}
