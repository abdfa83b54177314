package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Inbound frame types.
const (
	TypeJoinChat         = "join_chat"
	TypeLeaveChat        = "leave_chat"
	TypeTypingStart      = "typing_start"
	TypeTypingEnd        = "typing_end"
	TypeMessageDelivered = "message_delivered"
	TypeMessageRead      = "message_read"
	TypePong             = "pong"
	TypeSendMessage      = "send_message"
)

// Outbound frame types. message_delivered and message_read are shared.
const (
	TypeConnectionEstablished = "connection_established"
	TypeUserJoined            = "user_joined"
	TypeUserLeft              = "user_left"
	TypeTypingStatus          = "typing_status"
	TypeError                 = "error"
	TypePing                  = "ping"
	TypeNewMessage            = "new_message"
	TypeAssistantDelta        = "assistant_delta"
)

// Frame is the envelope of every websocket text message.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type ChatPayload struct {
	ChatID string `json:"chatId"`
}

type MessageRefPayload struct {
	MessageID string `json:"messageId"`
}

type SendMessagePayload struct {
	Content         string `json:"content"`
	ClientMessageID string `json:"clientMessageId"`
}

type ConnectionEstablishedPayload struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

type MembershipPayload struct {
	UserID string `json:"userId"`
	ChatID string `json:"chatId"`
}

type TypingStatusPayload struct {
	ChatID string   `json:"chatId"`
	Users  []string `json:"users"`
}

type MarkerPayload struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type NewMessagePayload struct {
	Message ChatMessage `json:"message"`
}

type AssistantDeltaPayload struct {
	ChatID string `json:"chatId"`
	Delta  string `json:"delta"`
}

// ChatMessage is the wire and gateway shape of a persisted message.
type ChatMessage struct {
	ID              string    `json:"id"`
	ChatID          string    `json:"chatId"`
	SenderID        string    `json:"senderId"`
	Role            string    `json:"role"`
	Content         string    `json:"content"`
	HTML            string    `json:"html,omitempty"`
	ClientMessageID string    `json:"clientMessageId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

var emptyObject = json.RawMessage("{}")

// EncodeFrame marshals payload into a complete frame. A nil payload is sent as {}.
func EncodeFrame(frameType string, payload interface{}) ([]byte, error) {
	raw := emptyObject
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", frameType, err)
		}
		raw = data
	}
	return json.Marshal(Frame{Type: frameType, Payload: raw})
}

// mustFrame is for payload types that cannot fail to marshal.
func mustFrame(frameType string, payload interface{}) []byte {
	data, err := EncodeFrame(frameType, payload)
	if err != nil {
		panic(err)
	}
	return data
}

// DecodeFrame parses an envelope; the type is required.
func DecodeFrame(data []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, err
	}
	if frame.Type == "" {
		return Frame{}, fmt.Errorf("frame type is required")
	}
	return frame, nil
}

// DecodePayload treats a missing or null payload as an empty object.
func DecodePayload(raw json.RawMessage, dst interface{}) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = emptyObject
	}
	return json.Unmarshal(trimmed, dst)
}
