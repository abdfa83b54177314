// File: internal/repository/typing/redis_repository.go
package typing

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepository keeps one sorted set per chat: members are user IDs and
// scores are typing timestamps in unix milliseconds.
type RedisRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisRepository creates a repository whose keys expire ttl after the
// last write, so abandoned chats do not accumulate.
func NewRedisRepository(client *redis.Client, prefix string, ttl time.Duration) *RedisRepository {
	if prefix == "" {
		prefix = "typing:"
	}
	return &RedisRepository{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisRepository) key(chatID string) string {
	return r.prefix + chatID
}

func (r *RedisRepository) Upsert(ctx context.Context, chatID, userID string, at time.Time) error {
	key := r.key(chatID)
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: userID})
	if r.ttl > 0 {
		pipe.PExpire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis upsert typing status: %w", err)
	}
	return nil
}

func (r *RedisRepository) Clear(ctx context.Context, chatID, userID string) error {
	if err := r.client.ZRem(ctx, r.key(chatID), userID).Err(); err != nil {
		return fmt.Errorf("redis clear typing status: %w", err)
	}
	return nil
}

func (r *RedisRepository) ListActive(ctx context.Context, chatID string, since time.Time) ([]Record, error) {
	key := r.key(chatID)
	min := strconv.FormatInt(since.UnixMilli(), 10)

	// Housekeeping only; a failure here does not affect the result.
	r.client.ZRemRangeByScore(ctx, key, "-inf", "("+min)

	entries, err := r.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: min, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list typing status: %w", err)
	}

	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		userID, ok := entry.Member.(string)
		if !ok {
			continue
		}
		records = append(records, Record{UserID: userID, TypedAt: time.UnixMilli(int64(entry.Score))})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].UserID < records[j].UserID })
	return records, nil
}
