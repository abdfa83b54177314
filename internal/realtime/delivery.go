package realtime

import (
	"context"
	"errors"
	"strings"
	"time"
)

type markerKind int

const (
	markDelivered markerKind = iota
	markRead
)

func (k markerKind) frameType() string {
	if k == markRead {
		return TypeMessageRead
	}
	return TypeMessageDelivered
}

// DeliveryTracker timestamps delivery markers through the gateway and
// relays them to the message's chat. Markers are never cached.
type DeliveryTracker struct {
	gateway    Gateway
	registry   *Registry
	authorizer Authorizer
	now        func() time.Time
	logger     Logger
}

func NewDeliveryTracker(gateway Gateway, registry *Registry, authorizer Authorizer, logger Logger, now func() time.Time) *DeliveryTracker {
	if authorizer == nil {
		authorizer = allowAll{}
	}
	if logger == nil {
		logger = nopLogger{}
	}
	if now == nil {
		now = time.Now
	}
	return &DeliveryTracker{gateway: gateway, registry: registry, authorizer: authorizer, now: now, logger: logger}
}

func (d *DeliveryTracker) MarkDelivered(ctx context.Context, conn *Connection, messageID string) error {
	return d.mark(ctx, conn, messageID, markDelivered)
}

func (d *DeliveryTracker) MarkRead(ctx context.Context, conn *Connection, messageID string) error {
	return d.mark(ctx, conn, messageID, markRead)
}

// mark is idempotent: every call rewrites the timestamp and broadcasts.
func (d *DeliveryTracker) mark(ctx context.Context, conn *Connection, messageID string, kind markerKind) error {
	operation := kind.frameType()
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return NewProtocolError(operation, "messageId is required")
	}

	chatID, err := d.gateway.MessageChat(ctx, messageID)
	if err != nil {
		return d.gatewayError(operation, err)
	}

	// Marking a message outside the current chat needs access to its chat.
	if chatID != conn.ChatID() {
		allowed, err := d.authorizer.CanJoin(ctx, conn.userID, chatID)
		if err != nil {
			return NewStorageError(operation, chatID, err)
		}
		if !allowed {
			return NewForbiddenError(operation, conn.userID, chatID)
		}
	}

	at := d.now()
	if kind == markRead {
		err = d.gateway.MarkMessageAsRead(ctx, messageID, at)
	} else {
		err = d.gateway.MarkMessageAsDelivered(ctx, messageID, at)
	}
	if err != nil {
		return d.gatewayError(operation, err)
	}

	frame := mustFrame(operation, MarkerPayload{MessageID: messageID, UserID: conn.userID})
	d.registry.BroadcastToChat(chatID, frame, "")
	if conn.ChatID() != chatID {
		_ = d.registry.deliver(conn, frame)
	}
	return nil
}

func (d *DeliveryTracker) gatewayError(operation string, err error) error {
	if errors.Is(err, ErrMessageNotFound) {
		return NewNotFoundError(operation, "message not found", err)
	}
	d.logger.Error("Delivery marker failed", "operation", operation, "error", err)
	return NewStorageError(operation, "", err)
}
