package realtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestUnknownFrameKeepsConnectionOpen(t *testing.T) {
	h := newTestHub(t, nil)
	u1 := h.connect(t, "u1")

	h.send(u1, "dance", nil)

	assert.Equal(t, []string{"unsupported frame type"}, errorMessages(t, drain(t, u1)))
	assert.Equal(t, StateIdle, u1.State())
}

func TestMalformedFrames(t *testing.T) {
	h := newTestHub(t, nil)
	u1 := h.connect(t, "u1")
	ctx := context.Background()

	h.dispatch(ctx, u1, []byte("{not json"))
	h.dispatch(ctx, u1, []byte(`{"payload":{}}`))
	h.dispatch(ctx, u1, []byte(`{"type":"join_chat","payload":"c1"}`))
	h.dispatch(ctx, u1, []byte(`{"type":"typing_start","payload":[1]}`))

	assert.Equal(t, []string{
		"invalid frame",
		"invalid frame",
		"invalid frame payload",
		"invalid frame payload",
	}, errorMessages(t, drain(t, u1)))
	assert.Empty(t, u1.ChatID(), "protocol errors do not mutate state")
}

func TestMissingPayloadIsEmptyObject(t *testing.T) {
	h := newTestHub(t, nil)
	u1 := h.connect(t, "u1")
	h.send(u1, TypeJoinChat, ChatPayload{ChatID: "c1"})
	drain(t, u1)

	h.dispatch(context.Background(), u1, []byte(`{"type":"typing_start"}`))
	h.dispatch(context.Background(), u1, []byte(`{"type":"typing_end","payload":null}`))

	frames := drain(t, u1)
	assert.Empty(t, errorMessages(t, frames))
	assert.Len(t, ofType(frames, TypeTypingStatus), 2)
}

func TestTypingRequiresChat(t *testing.T) {
	h := newTestHub(t, nil)
	u1 := h.connect(t, "u1")

	h.send(u1, TypeTypingStart, nil)
	h.send(u1, TypeSendMessage, SendMessagePayload{Content: "hi", ClientMessageID: "x"})

	assert.Equal(t, []string{"not in a chat", "not in a chat"}, errorMessages(t, drain(t, u1)))
}

func TestJoinAuthorization(t *testing.T) {
	h := newTestHub(t, func(_ *Config, deps *Dependencies) {
		deps.Authorizer = fakeAuthorizer{denied: map[string]bool{"u1/private": true}}
	})
	u1 := h.connect(t, "u1")

	h.send(u1, TypeJoinChat, ChatPayload{ChatID: "private"})
	h.send(u1, TypeJoinChat, ChatPayload{ChatID: "missing"})
	h.send(u1, TypeJoinChat, ChatPayload{ChatID: "  "})

	assert.Equal(t, []string{"forbidden", "chat not found", "chatId is required"}, errorMessages(t, drain(t, u1)))
	assert.Empty(t, u1.ChatID())
	assert.Empty(t, h.registry.InChat("private"))
}

func TestLeaveForOtherChatIsRejected(t *testing.T) {
	h := newTestHub(t, nil)
	u1 := h.connect(t, "u1")
	h.send(u1, TypeJoinChat, ChatPayload{ChatID: "c1"})
	drain(t, u1)

	h.send(u1, TypeLeaveChat, ChatPayload{ChatID: "c2"})

	assert.Equal(t, []string{"not in that chat"}, errorMessages(t, drain(t, u1)))
	assert.Equal(t, "c1", u1.ChatID())
}

func TestFrameRateLimit(t *testing.T) {
	h := newTestHub(t, nil)
	conn := newConnection("u1", "test", nil, 16, rate.NewLimiter(rate.Limit(0.001), 2))
	h.registry.Admit(context.Background(), conn)

	for i := 0; i < 3; i++ {
		h.send(conn, TypePong, nil)
	}

	assert.Equal(t, []string{"rate limit exceeded"}, errorMessages(t, drain(t, conn)))
}

func TestClientMessage(t *testing.T) {
	assert.Equal(t, "forbidden", clientMessage(NewForbiddenError("join_chat", "u1", "c1")))
	assert.Equal(t, "not in a chat", clientMessage(ErrNotInChat))
	assert.Equal(t, "internal error", clientMessage(assert.AnError))

	err := NewStorageError("send_message", "c1", assert.AnError)
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "send_message")
}
