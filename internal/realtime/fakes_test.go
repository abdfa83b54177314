package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeVerifier struct {
	tokens map[string]string
}

func (v fakeVerifier) Verify(_ context.Context, token string) (string, error) {
	userID, ok := v.tokens[token]
	if !ok {
		return "", errors.New("invalid token")
	}
	return userID, nil
}

type markCall struct {
	messageID string
	at        time.Time
}

type fakeGateway struct {
	mu sync.Mutex

	typing       map[string]map[string]time.Time
	failUpdates  bool
	failReads    bool
	failClears   bool
	updateCalls  int
	clearCalls   int
	messageChats map[string]string
	delivered    []markCall
	read         []markCall
	messages     []ChatMessage
	seq          int

	// clearDeadlines records whether each clear carried a deadline.
	clearDeadlines []bool
	// afterRead runs once a typing read has its result, outside the lock.
	afterRead func()
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		typing:       make(map[string]map[string]time.Time),
		messageChats: make(map[string]string),
	}
}

func (g *fakeGateway) GetTypingUsers(_ context.Context, chatID string, since time.Time) ([]TypingRecord, error) {
	g.mu.Lock()
	if g.failReads {
		g.mu.Unlock()
		return nil, errors.New("gateway down")
	}
	var records []TypingRecord
	for userID, at := range g.typing[chatID] {
		if !at.Before(since) {
			records = append(records, TypingRecord{UserID: userID, TypedAt: at})
		}
	}
	hook := g.afterRead
	g.afterRead = nil
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	sort.Slice(records, func(i, j int) bool { return records[i].UserID < records[j].UserID })
	return records, nil
}

func (g *fakeGateway) UpdateTypingStatus(_ context.Context, chatID, userID string, at time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updateCalls++
	if g.failUpdates {
		return errors.New("gateway down")
	}
	if g.typing[chatID] == nil {
		g.typing[chatID] = make(map[string]time.Time)
	}
	g.typing[chatID][userID] = at
	return nil
}

func (g *fakeGateway) ClearTypingStatus(ctx context.Context, chatID, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clearCalls++
	_, hasDeadline := ctx.Deadline()
	g.clearDeadlines = append(g.clearDeadlines, hasDeadline)
	if g.failClears {
		return errors.New("gateway down")
	}
	delete(g.typing[chatID], userID)
	return nil
}

func (g *fakeGateway) storedTyping(chatID string) map[string]time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]time.Time)
	for k, v := range g.typing[chatID] {
		out[k] = v
	}
	return out
}

func (g *fakeGateway) addMessage(messageID, chatID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messageChats[messageID] = chatID
}

func (g *fakeGateway) MessageChat(_ context.Context, messageID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	chatID, ok := g.messageChats[messageID]
	if !ok {
		return "", ErrMessageNotFound
	}
	return chatID, nil
}

func (g *fakeGateway) MarkMessageAsDelivered(_ context.Context, messageID string, at time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delivered = append(g.delivered, markCall{messageID: messageID, at: at})
	return nil
}

func (g *fakeGateway) MarkMessageAsRead(_ context.Context, messageID string, at time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.read = append(g.read, markCall{messageID: messageID, at: at})
	return nil
}

func (g *fakeGateway) SaveMessage(_ context.Context, msg ChatMessage) (ChatMessage, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, existing := range g.messages {
		if msg.ClientMessageID != "" && existing.ChatID == msg.ChatID && existing.ClientMessageID == msg.ClientMessageID {
			return existing, true, nil
		}
	}
	g.seq++
	msg.ID = fmt.Sprintf("m%d", g.seq)
	g.messages = append(g.messages, msg)
	g.messageChats[msg.ID] = msg.ChatID
	return msg, false, nil
}

type fakeAuthorizer struct {
	denied map[string]bool // userID + "/" + chatID
}

func (a fakeAuthorizer) CanJoin(_ context.Context, userID, chatID string) (bool, error) {
	if chatID == "missing" {
		return false, ErrChatNotFound
	}
	return !a.denied[userID+"/"+chatID], nil
}

type fakeAssistant struct {
	gateway *fakeGateway
	deltas  []string
	err     error
}

func (a *fakeAssistant) Reply(ctx context.Context, chatID string, onDelta func(string) error) (ChatMessage, error) {
	content := ""
	for _, delta := range a.deltas {
		if err := onDelta(delta); err != nil {
			return ChatMessage{}, err
		}
		content += delta
	}
	if a.err != nil {
		return ChatMessage{}, a.err
	}
	stored, _, err := a.gateway.SaveMessage(ctx, ChatMessage{
		ChatID:   chatID,
		SenderID: AssistantUserID,
		Role:     RoleAssistant,
		Content:  content,
		HTML:     "<p>" + content + "</p>",
	})
	return stored, err
}

type testHub struct {
	*Hub
	clock   *fakeClock
	gateway *fakeGateway
}

func newTestHub(t *testing.T, mutate func(*Config, *Dependencies)) *testHub {
	t.Helper()
	clock := newFakeClock()
	gateway := newFakeGateway()

	cfg := DefaultConfig()
	cfg.Now = clock.Now
	deps := Dependencies{
		Verifier:   fakeVerifier{tokens: map[string]string{"t1": "u1", "t2": "u2", "t3": "u3"}},
		Gateway:    gateway,
		Authorizer: fakeAuthorizer{},
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	hub, err := NewHub(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
	})
	return &testHub{Hub: hub, clock: clock, gateway: gateway}
}

// connect admits an in-memory connection without a transport; frames are
// read straight from its send buffer.
func (h *testHub) connect(t *testing.T, userID string) *Connection {
	t.Helper()
	conn := newConnection(userID, "test", nil, h.cfg.SendBufferSize, nil)
	h.registry.Admit(context.Background(), conn)
	return conn
}

func (h *testHub) send(conn *Connection, frameType string, payload interface{}) {
	data, err := EncodeFrame(frameType, payload)
	if err != nil {
		panic(err)
	}
	h.dispatch(context.Background(), conn, data)
}

// drain returns every frame queued for conn so far.
func drain(t *testing.T, conn *Connection) []Frame {
	t.Helper()
	var frames []Frame
	for {
		select {
		case data, ok := <-conn.send:
			if !ok {
				return frames
			}
			frame, err := DecodeFrame(data)
			require.NoError(t, err)
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

func ofType(frames []Frame, frameType string) []Frame {
	var out []Frame
	for _, f := range frames {
		if f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

func typingUsers(t *testing.T, frame Frame) []string {
	t.Helper()
	var payload TypingStatusPayload
	require.NoError(t, DecodePayload(frame.Payload, &payload))
	return payload.Users
}

func lastTyping(t *testing.T, frames []Frame) []string {
	t.Helper()
	typing := ofType(frames, TypeTypingStatus)
	require.NotEmpty(t, typing, "expected a typing_status frame")
	return typingUsers(t, typing[len(typing)-1])
}

func errorMessages(t *testing.T, frames []Frame) []string {
	t.Helper()
	var out []string
	for _, f := range ofType(frames, TypeError) {
		var payload ErrorPayload
		require.NoError(t, DecodePayload(f.Payload, &payload))
		out = append(out, payload.Message)
	}
	return out
}
