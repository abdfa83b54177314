package realtime

import "context"

// RoomTracker moves connections between chats. Membership changes for one
// chat are serialized; broadcasts happen under that chat's lock so every
// member sees joins and leaves in the same order.
type RoomTracker struct {
	registry *Registry
	typing   *TypingCoordinator
	chats    keyedMutex
	logger   Logger
}

func NewRoomTracker(registry *Registry, typing *TypingCoordinator, logger Logger) *RoomTracker {
	if logger == nil {
		logger = nopLogger{}
	}
	rooms := &RoomTracker{registry: registry, typing: typing, logger: logger}
	registry.leaver = rooms
	return rooms
}

// Join puts conn in chatID, leaving its previous chat first. Joining the
// chat the connection is already in only repeats the typing_status reply.
func (r *RoomTracker) Join(ctx context.Context, conn *Connection, chatID string) error {
	current := conn.ChatID()
	if current != chatID {
		if current != "" {
			r.Leave(ctx, conn)
		}

		unlock := r.chats.lock(chatID)
		if err := conn.setChat(chatID); err != nil {
			unlock()
			return err
		}
		r.registry.BroadcastToChat(chatID, mustFrame(TypeUserJoined, MembershipPayload{UserID: conn.userID, ChatID: chatID}), conn.userID)
		unlock()

		r.logger.Debug("User joined chat", "user_id", conn.userID, "chat_id", chatID)
	}

	users := r.typing.GetTypingUsers(ctx, chatID)
	return r.registry.deliver(conn, mustFrame(TypeTypingStatus, TypingStatusPayload{ChatID: chatID, Users: users}))
}

// Leave removes conn from its chat. Without a chat it is a no-op.
func (r *RoomTracker) Leave(ctx context.Context, conn *Connection) {
	chatID := conn.takeChat()
	if chatID == "" {
		return
	}
	r.leaveChat(ctx, conn, chatID)
}

// leaveChat runs after conn's chat has been cleared, either by Leave or by
// eviction.
func (r *RoomTracker) leaveChat(ctx context.Context, conn *Connection, chatID string) {
	unlock := r.chats.lock(chatID)
	r.registry.BroadcastToChat(chatID, mustFrame(TypeUserLeft, MembershipPayload{UserID: conn.userID, ChatID: chatID}), conn.userID)
	unlock()

	r.typing.RemoveUser(ctx, chatID, conn.userID)
	r.logger.Debug("User left chat", "user_id", conn.userID, "chat_id", chatID)
}
