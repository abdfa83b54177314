package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypingExpiresAfterTimeout(t *testing.T) {
	h := newTestHub(t, nil)
	ctx := t.Context()

	h.typing.StartTyping(ctx, "c1", "u1")
	h.typing.Wait()
	assert.Equal(t, []string{"u1"}, h.typing.GetTypingUsers(ctx, "c1"))

	h.clock.Advance(10 * time.Second)
	assert.Equal(t, []string{"u1"}, h.typing.GetTypingUsers(ctx, "c1"), "an entry exactly at the timeout is still active")

	h.clock.Advance(time.Nanosecond)
	assert.Equal(t, []string{}, h.typing.GetTypingUsers(ctx, "c1"))
}

func TestTypingRefreshExtendsWindow(t *testing.T) {
	h := newTestHub(t, nil)
	ctx := t.Context()

	h.typing.StartTyping(ctx, "c1", "u1")
	h.clock.Advance(8 * time.Second)
	h.typing.StartTyping(ctx, "c1", "u1")
	h.clock.Advance(8 * time.Second)
	h.typing.Wait()

	assert.Equal(t, []string{"u1"}, h.typing.GetTypingUsers(ctx, "c1"))
	assert.Equal(t, h.clock.Now().Add(-8*time.Second), h.gateway.storedTyping("c1")["u1"])
}

func TestTypingUsersAreSorted(t *testing.T) {
	h := newTestHub(t, nil)
	ctx := t.Context()

	for _, user := range []string{"zoe", "amy", "kim"} {
		h.typing.StartTyping(ctx, "c1", user)
	}
	assert.Equal(t, []string{"amy", "kim", "zoe"}, h.typing.GetTypingUsers(ctx, "c1"))
}

func TestMirrorFailureRollsBack(t *testing.T) {
	h := newTestHub(t, nil)
	ctx := t.Context()
	h.gateway.failUpdates = true

	u1 := h.connect(t, "u1")
	h.send(u1, TypeJoinChat, ChatPayload{ChatID: "c1"})
	drain(t, u1)

	h.send(u1, TypeTypingStart, nil)
	h.typing.Wait()

	frames := drain(t, u1)
	assert.Empty(t, errorMessages(t, frames), "storage failures are never surfaced")
	typing := ofType(frames, TypeTypingStatus)
	require.Len(t, typing, 2)
	assert.Equal(t, []string{"u1"}, typingUsers(t, typing[0]))
	assert.Equal(t, []string{}, typingUsers(t, typing[1]), "rollback is rebroadcast")
	assert.Equal(t, []string{}, h.typing.GetTypingUsers(ctx, "c1"))
}

func TestCacheMissLoadsFromGateway(t *testing.T) {
	h := newTestHub(t, nil)
	ctx := t.Context()
	now := h.clock.Now()

	require.NoError(t, h.gateway.UpdateTypingStatus(ctx, "c9", "fresh", now.Add(-3*time.Second)))
	require.NoError(t, h.gateway.UpdateTypingStatus(ctx, "c9", "stale", now.Add(-30*time.Second)))

	assert.Equal(t, []string{"fresh"}, h.typing.GetTypingUsers(ctx, "c9"))

	// The loaded entry now lives in the cache and expires there.
	h.gateway.failReads = true
	assert.Equal(t, []string{"fresh"}, h.typing.GetTypingUsers(ctx, "c9"))
	h.clock.Advance(8 * time.Second)
	assert.Equal(t, []string{}, h.typing.GetTypingUsers(ctx, "c9"))
}

func TestGatewayReadFailureYieldsEmptySet(t *testing.T) {
	h := newTestHub(t, nil)
	h.gateway.failReads = true

	users := h.typing.GetTypingUsers(t.Context(), "c1")
	require.NotNil(t, users)
	assert.Empty(t, users)
}

func TestEndTypingClearsAndRebroadcasts(t *testing.T) {
	h := newTestHub(t, nil)

	u1 := h.connect(t, "u1")
	u2 := h.connect(t, "u2")
	h.send(u1, TypeJoinChat, ChatPayload{ChatID: "c1"})
	h.send(u2, TypeJoinChat, ChatPayload{ChatID: "c1"})
	h.send(u1, TypeTypingStart, nil)
	h.typing.Wait()
	drain(t, u2)

	h.send(u1, TypeTypingEnd, nil)

	assert.Equal(t, []string{}, lastTyping(t, drain(t, u2)))
	assert.NotContains(t, h.gateway.storedTyping("c1"), "u1")

	h.send(u1, TypeTypingEnd, nil)
	assert.Equal(t, []string{}, lastTyping(t, drain(t, u2)), "ending twice still rebroadcasts")
}

func TestSweepRebroadcastsExpiredChats(t *testing.T) {
	h := newTestHub(t, nil)

	u1 := h.connect(t, "u1")
	u2 := h.connect(t, "u2")
	h.send(u1, TypeJoinChat, ChatPayload{ChatID: "c1"})
	h.send(u2, TypeJoinChat, ChatPayload{ChatID: "c1"})
	h.send(u1, TypeTypingStart, nil)
	h.typing.Wait()
	drain(t, u2)

	h.clock.Advance(5 * time.Second)
	h.typing.Sweep(t.Context())
	assert.Empty(t, drain(t, u2), "nothing expired yet")

	h.clock.Advance(6 * time.Second)
	h.typing.Sweep(t.Context())
	assert.Equal(t, []string{}, lastTyping(t, drain(t, u2)))
}

func TestFailedClearDoesNotResurrectTyping(t *testing.T) {
	h := newTestHub(t, nil)
	ctx := t.Context()
	h.gateway.failClears = true

	h.typing.StartTyping(ctx, "c1", "u1")
	h.typing.Wait()
	h.typing.EndTyping(ctx, "c1", "u1")
	assert.Equal(t, []string{}, h.typing.GetTypingUsers(ctx, "c1"))
	require.Contains(t, h.gateway.storedTyping("c1"), "u1", "the gateway row survived the failed clear")

	// Sweep drops the empty cache bucket so the next read reloads the chat.
	h.clock.Advance(2 * time.Second)
	h.typing.Sweep(ctx)
	assert.Equal(t, []string{}, h.typing.GetTypingUsers(ctx, "c1"))
}

func TestReloadRacingRemovalSkipsStaleRecord(t *testing.T) {
	h := newTestHub(t, nil)
	ctx := t.Context()
	require.NoError(t, h.gateway.UpdateTypingStatus(ctx, "c1", "u1", h.clock.Now().Add(-time.Second)))

	h.gateway.mu.Lock()
	h.gateway.afterRead = func() { h.typing.RemoveUser(ctx, "c1", "u1") }
	h.gateway.mu.Unlock()

	assert.Equal(t, []string{}, h.typing.GetTypingUsers(ctx, "c1"))
	assert.NotContains(t, h.gateway.storedTyping("c1"), "u1")
}

func TestTypingAgainAfterRemovalIsVisible(t *testing.T) {
	h := newTestHub(t, nil)
	ctx := t.Context()
	h.gateway.failClears = true

	h.typing.StartTyping(ctx, "c1", "u1")
	h.typing.Wait()
	h.typing.EndTyping(ctx, "c1", "u1")

	h.clock.Advance(time.Second)
	h.typing.StartTyping(ctx, "c1", "u1")
	h.typing.Wait()
	assert.Equal(t, []string{"u1"}, h.typing.GetTypingUsers(ctx, "c1"))

	// A reload after the restart keeps the newer record.
	h.clock.Advance(time.Second)
	h.typing.mu.Lock()
	delete(h.typing.entries, "c1")
	h.typing.mu.Unlock()
	assert.Equal(t, []string{"u1"}, h.typing.GetTypingUsers(ctx, "c1"))
}

func TestClearTypingStatusHasDeadline(t *testing.T) {
	h := newTestHub(t, nil)
	ctx := t.Context()

	h.typing.StartTyping(ctx, "c1", "u1")
	h.typing.Wait()
	h.typing.EndTyping(ctx, "c1", "u1")

	h.gateway.mu.Lock()
	defer h.gateway.mu.Unlock()
	require.Len(t, h.gateway.clearDeadlines, 1)
	assert.True(t, h.gateway.clearDeadlines[0], "the clear runs under the mirror timeout")
}
