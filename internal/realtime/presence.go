package realtime

import (
	"context"
	"sort"
	"sync"
	"time"
)

// AssistantUserID is the typing identity used while an assistant reply is generated.
const AssistantUserID = "assistant"

type typingEntry struct {
	at      time.Time
	version uint64
}

// TypingCoordinator is a write-through cache of typing entries keyed by
// chat. The cache answers reads; the gateway mirror is best effort and a
// failed mirror write rolls the cache entry back.
type TypingCoordinator struct {
	mu      sync.Mutex
	entries map[string]map[string]typingEntry
	version uint64

	// removed holds the time of each (chat, user) removal. Gateway records
	// typed at or before it are stale, either because the clear failed or
	// because the read raced the removal.
	removed map[string]map[string]time.Time

	// writes orders gateway writes per (chat, user).
	writes keyedMutex

	gateway       Gateway
	registry      *Registry
	timeout       time.Duration
	mirrorTimeout time.Duration
	now           func() time.Time
	logger        Logger

	mirrors sync.WaitGroup
}

func NewTypingCoordinator(gateway Gateway, registry *Registry, timeout time.Duration, logger Logger, now func() time.Time) *TypingCoordinator {
	if logger == nil {
		logger = nopLogger{}
	}
	if now == nil {
		now = time.Now
	}
	return &TypingCoordinator{
		entries:       make(map[string]map[string]typingEntry),
		removed:       make(map[string]map[string]time.Time),
		gateway:       gateway,
		registry:      registry,
		timeout:       timeout,
		mirrorTimeout: 5 * time.Second,
		now:           now,
		logger:        logger,
	}
}

func writeKey(chatID, userID string) string {
	return chatID + "\x00" + userID
}

// StartTyping refreshes the entry, broadcasts the chat's typing set and
// mirrors the entry to the gateway asynchronously.
func (t *TypingCoordinator) StartTyping(ctx context.Context, chatID, userID string) {
	at := t.now()

	t.mu.Lock()
	t.version++
	version := t.version
	t.bucket(chatID)[userID] = typingEntry{at: at, version: version}
	t.forgetRemovalLocked(chatID, userID)
	t.mu.Unlock()

	// Broadcast first so a rollback broadcast can never overtake it.
	t.broadcast(ctx, chatID)

	t.mirrors.Add(1)
	go func() {
		defer t.mirrors.Done()
		t.mirror(chatID, userID, at, version)
	}()
}

func (t *TypingCoordinator) mirror(chatID, userID string, at time.Time, version uint64) {
	unlock := t.writes.lock(writeKey(chatID, userID))
	defer unlock()

	if !t.isCurrent(chatID, userID, version) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.mirrorTimeout)
	defer cancel()

	err := t.gateway.UpdateTypingStatus(ctx, chatID, userID, at)
	if err == nil {
		return
	}

	t.logger.Warn("Typing status mirror failed, rolling back",
		"chat_id", chatID,
		"user_id", userID,
		"error", err,
	)
	if t.rollback(chatID, userID, version) {
		t.broadcast(context.Background(), chatID)
	}
}

func (t *TypingCoordinator) isCurrent(chatID, userID string, version uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[chatID][userID]
	return ok && entry.version == version
}

// rollback removes the entry only if no newer write replaced it.
func (t *TypingCoordinator) rollback(chatID, userID string, version uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	bucket := t.entries[chatID]
	entry, ok := bucket[userID]
	if !ok || entry.version != version {
		return false
	}
	delete(bucket, userID)
	return true
}

// EndTyping removes the entry from cache and gateway and always rebroadcasts.
func (t *TypingCoordinator) EndTyping(ctx context.Context, chatID, userID string) {
	t.remove(ctx, chatID, userID)
	t.broadcast(ctx, chatID)
}

// RemoveUser is the leave path: the entry is cleared and the chat only
// hears about it if the user was typing.
func (t *TypingCoordinator) RemoveUser(ctx context.Context, chatID, userID string) {
	if t.remove(ctx, chatID, userID) {
		t.broadcast(ctx, chatID)
	}
}

func (t *TypingCoordinator) remove(ctx context.Context, chatID, userID string) bool {
	t.mu.Lock()
	bucket := t.entries[chatID]
	_, existed := bucket[userID]
	delete(bucket, userID)
	removals, ok := t.removed[chatID]
	if !ok {
		removals = make(map[string]time.Time)
		t.removed[chatID] = removals
	}
	removals[userID] = t.now()
	t.mu.Unlock()

	unlock := t.writes.lock(writeKey(chatID, userID))
	clearCtx, cancel := context.WithTimeout(ctx, t.mirrorTimeout)
	err := t.gateway.ClearTypingStatus(clearCtx, chatID, userID)
	cancel()
	unlock()
	if err != nil {
		t.logger.Warn("Failed to clear typing status", "chat_id", chatID, "user_id", userID, "error", err)
	}
	return existed
}

func (t *TypingCoordinator) forgetRemovalLocked(chatID, userID string) {
	removals, ok := t.removed[chatID]
	if !ok {
		return
	}
	delete(removals, userID)
	if len(removals) == 0 {
		delete(t.removed, chatID)
	}
}

// GetTypingUsers returns the sorted users whose entry is at most the typing
// timeout old. On a cache miss the chat is loaded from the gateway.
func (t *TypingCoordinator) GetTypingUsers(ctx context.Context, chatID string) []string {
	now := t.now()

	t.mu.Lock()
	if bucket, ok := t.entries[chatID]; ok {
		users := t.activeLocked(bucket, now)
		t.mu.Unlock()
		return users
	}
	t.mu.Unlock()

	records, err := t.gateway.GetTypingUsers(ctx, chatID, now.Add(-t.timeout))
	if err != nil {
		t.logger.Warn("Failed to load typing status", "chat_id", chatID, "error", err)
		return []string{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	bucket := t.bucket(chatID)
	removals := t.removed[chatID]
	for _, record := range records {
		if removedAt, ok := removals[record.UserID]; ok && !record.TypedAt.After(removedAt) {
			continue
		}
		if existing, ok := bucket[record.UserID]; ok && !existing.at.Before(record.TypedAt) {
			continue
		}
		t.version++
		bucket[record.UserID] = typingEntry{at: record.TypedAt, version: t.version}
	}
	return t.activeLocked(bucket, now)
}

// Sweep drops expired entries and rebroadcasts every chat that lost one.
func (t *TypingCoordinator) Sweep(ctx context.Context) {
	now := t.now()
	var changed []string

	t.mu.Lock()
	for chatID, bucket := range t.entries {
		before := len(bucket)
		t.pruneLocked(bucket, now)
		if len(bucket) != before {
			changed = append(changed, chatID)
		}
		if len(bucket) == 0 {
			delete(t.entries, chatID)
		}
	}
	// A removal older than the timeout can only shadow records that are
	// expired anyway.
	for chatID, removals := range t.removed {
		for userID, removedAt := range removals {
			if now.Sub(removedAt) > t.timeout {
				delete(removals, userID)
			}
		}
		if len(removals) == 0 {
			delete(t.removed, chatID)
		}
	}
	t.mu.Unlock()

	sort.Strings(changed)
	for _, chatID := range changed {
		t.broadcast(ctx, chatID)
	}
}

// Wait blocks until in-flight gateway mirrors finish.
func (t *TypingCoordinator) Wait() {
	t.mirrors.Wait()
}

func (t *TypingCoordinator) broadcast(ctx context.Context, chatID string) {
	users := t.GetTypingUsers(ctx, chatID)
	t.registry.BroadcastToChat(chatID, mustFrame(TypeTypingStatus, TypingStatusPayload{ChatID: chatID, Users: users}), "")
}

func (t *TypingCoordinator) bucket(chatID string) map[string]typingEntry {
	bucket, ok := t.entries[chatID]
	if !ok {
		bucket = make(map[string]typingEntry)
		t.entries[chatID] = bucket
	}
	return bucket
}

func (t *TypingCoordinator) expired(entry typingEntry, now time.Time) bool {
	return now.Sub(entry.at) > t.timeout
}

func (t *TypingCoordinator) pruneLocked(bucket map[string]typingEntry, now time.Time) {
	for userID, entry := range bucket {
		if t.expired(entry, now) {
			delete(bucket, userID)
		}
	}
}

// activeLocked filters without pruning so Sweep can tell which chats changed.
func (t *TypingCoordinator) activeLocked(bucket map[string]typingEntry, now time.Time) []string {
	users := make([]string, 0, len(bucket))
	for userID, entry := range bucket {
		if !t.expired(entry, now) {
			users = append(users, userID)
		}
	}
	sort.Strings(users)
	return users
}
