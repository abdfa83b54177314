package hubclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyunix/internist-hub/internal/realtime"
)

// scriptedHub accepts websocket connections and hands each one to script.
type scriptedHub struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions int
	tokens   []string
	script   func(session int, conn *websocket.Conn)
}

func newScriptedHub(t *testing.T, script func(session int, conn *websocket.Conn)) *scriptedHub {
	h := &scriptedHub{t: t, script: script}
	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		h.mu.Lock()
		h.sessions++
		session := h.sessions
		h.tokens = append(h.tokens, r.URL.Query().Get("token"))
		h.mu.Unlock()

		h.script(session, conn)
	}))
	t.Cleanup(h.server.Close)
	return h
}

func (h *scriptedHub) url() string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
}

func (h *scriptedHub) sessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions
}

func writeFrame(t *testing.T, conn *websocket.Conn, frameType string, payload interface{}) {
	t.Helper()
	data, err := realtime.EncodeFrame(frameType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readFrame(t *testing.T, conn *websocket.Conn) realtime.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	frame, err := realtime.DecodeFrame(data)
	require.NoError(t, err)
	return frame
}

func establish(t *testing.T, conn *websocket.Conn) {
	writeFrame(t, conn, realtime.TypeConnectionEstablished, realtime.ConnectionEstablishedPayload{UserID: "u1", ConnectionID: "conn"})
}

type frameLog struct {
	mu     sync.Mutex
	frames []realtime.Frame
}

func (l *frameLog) add(f realtime.Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, f)
}

func (l *frameLog) count(frameType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, f := range l.frames {
		if f.Type == frameType {
			n++
		}
	}
	return n
}

func newTestClient(t *testing.T, hub *scriptedHub, log *frameLog) *Client {
	t.Helper()
	client, err := New(Config{
		URL:            hub.url(),
		Token:          "t1",
		ChatID:         "c1",
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		OnFrame:        log.add,
	})
	require.NoError(t, err)
	return client
}

func TestClientJoinsAndAnswersPing(t *testing.T) {
	done := make(chan struct{})
	hub := newScriptedHub(t, func(session int, conn *websocket.Conn) {
		establish(t, conn)

		join := readFrame(t, conn)
		assert.Equal(t, realtime.TypeJoinChat, join.Type)
		var p realtime.ChatPayload
		require.NoError(t, realtime.DecodePayload(join.Payload, &p))
		assert.Equal(t, "c1", p.ChatID)

		writeFrame(t, conn, realtime.TypePing, nil)
		assert.Equal(t, realtime.TypePong, readFrame(t, conn).Type)
		close(done)

		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "stop"))
	})

	log := &frameLog{}
	client := newTestClient(t, hub, log)

	err := client.Run(t.Context())
	require.ErrorIs(t, err, ErrUnauthorized)
	<-done

	assert.Equal(t, "u1", client.UserID())
	assert.Equal(t, 0, log.count(realtime.TypePing), "pings are answered, not surfaced")
	assert.Equal(t, 1, log.count(realtime.TypeConnectionEstablished))
	assert.Equal(t, []string{"t1"}, hub.tokens)
}

func TestClientStopsWhenSuperseded(t *testing.T) {
	hub := newScriptedHub(t, func(session int, conn *websocket.Conn) {
		establish(t, conn)
		readFrame(t, conn)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(realtime.CloseSuperseded, "superseded"))
	})

	client := newTestClient(t, hub, &frameLog{})
	require.ErrorIs(t, client.Run(t.Context()), ErrSuperseded)
	assert.Equal(t, 1, hub.sessionCount())
}

func TestClientReconnectsAndResendsPending(t *testing.T) {
	var client *Client
	resent := make(chan realtime.SendMessagePayload, 1)

	hub := newScriptedHub(t, func(session int, conn *websocket.Conn) {
		establish(t, conn)
		assert.Equal(t, realtime.TypeJoinChat, readFrame(t, conn).Type)

		if session == 1 {
			_, err := client.SendMessage("hello")
			require.NoError(t, err)
			assert.Equal(t, realtime.TypeSendMessage, readFrame(t, conn).Type)
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
			return
		}

		frame := readFrame(t, conn)
		require.Equal(t, realtime.TypeSendMessage, frame.Type)
		var p realtime.SendMessagePayload
		require.NoError(t, realtime.DecodePayload(frame.Payload, &p))
		resent <- p

		echo := realtime.NewMessagePayload{Message: realtime.ChatMessage{
			ID: "m1", ChatID: "c1", SenderID: "u1", Role: "user", Content: p.Content, ClientMessageID: p.ClientMessageID,
		}}
		writeFrame(t, conn, realtime.TypeNewMessage, echo)
		writeFrame(t, conn, realtime.TypeNewMessage, echo)
		writeFrame(t, conn, realtime.TypeUserJoined, realtime.MembershipPayload{UserID: "u2", ChatID: "c1"})
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "done"))
	})

	log := &frameLog{}
	client = newTestClient(t, hub, log)

	err := client.Run(t.Context())
	require.ErrorIs(t, err, ErrUnauthorized)

	p := <-resent
	assert.Equal(t, "hello", p.Content)
	assert.NotEmpty(t, p.ClientMessageID)
	assert.Equal(t, 2, hub.sessionCount())
	assert.Equal(t, 1, log.count(realtime.TypeNewMessage), "echo is de-duplicated")
	assert.Equal(t, 1, log.count(realtime.TypeUserJoined))
	assert.Empty(t, client.Pending())
}

func TestClientRunStopsOnCancel(t *testing.T) {
	hub := newScriptedHub(t, func(session int, conn *websocket.Conn) {
		establish(t, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	client := newTestClient(t, hub, &frameLog{})
	ctx, cancel := context.WithCancel(t.Context())
	errc := make(chan error, 1)
	go func() { errc <- client.Run(ctx) }()

	require.Eventually(t, func() bool { return client.UserID() == "u1" }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSendMessageWhileDisconnectedStaysPending(t *testing.T) {
	client, err := New(Config{URL: "ws://127.0.0.1:1/ws", Token: "t1", ChatID: "c1"})
	require.NoError(t, err)

	p, err := client.SendMessage("  queued  ")
	require.NoError(t, err)
	assert.Equal(t, "queued", p.Content)
	assert.Equal(t, "c1", p.ChatID)
	assert.Len(t, client.Pending(), 1)

	require.NoError(t, client.Leave())
	_, err = client.SendMessage("x")
	assert.ErrorIs(t, err, ErrNoChat)
	assert.ErrorIs(t, client.StartTyping(), ErrNoChat)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{Token: "t"})
	assert.Error(t, err)
	_, err = New(Config{URL: "ws://x"})
	assert.Error(t, err)
}
