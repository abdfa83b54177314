package typing

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyunix/internist-hub/internal/database"
)

// exerciseRepository runs the shared contract against one implementation.
func exerciseRepository(t *testing.T, repo Repository, chatID string) {
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	require.NoError(t, repo.Upsert(ctx, chatID, "bob", now.Add(-2*time.Second)))
	require.NoError(t, repo.Upsert(ctx, chatID, "alice", now.Add(-20*time.Second)))
	require.NoError(t, repo.Upsert(ctx, chatID, "alice", now))

	records, err := repo.ListActive(ctx, chatID, now.Add(-10*time.Second))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "alice", records[0].UserID)
	assert.True(t, records[0].TypedAt.Equal(now), "upsert refreshes the timestamp")
	assert.Equal(t, "bob", records[1].UserID)

	records, err = repo.ListActive(ctx, chatID, now.Add(-time.Second))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "alice", records[0].UserID)

	require.NoError(t, repo.Clear(ctx, chatID, "alice"))
	require.NoError(t, repo.Clear(ctx, chatID, "nobody"))

	records, err = repo.ListActive(ctx, chatID, now.Add(-10*time.Second))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "bob", records[0].UserID)

	records, err = repo.ListActive(ctx, chatID+"-other", now.Add(-10*time.Second))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestGormRepository(t *testing.T) {
	db, err := database.Open(":memory:")
	require.NoError(t, err)

	exerciseRepository(t, NewGormRepository(db), "chat-1")
}

func TestRedisRepository(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}

	prefix := "test:typing:"
	chatID := "chat-" + time.Now().Format("150405.000000")
	defer client.Del(ctx, prefix+chatID, prefix+chatID+"-other")

	exerciseRepository(t, NewRedisRepository(client, prefix, time.Minute), chatID)
}
