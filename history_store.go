package authguard

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const historyKeyPrefix = "agh"

// passwordHistoryStore keeps the most recent password hashes per user in a
// Redis list, newest first. The list is trimmed on every push so it never
// grows past the configured history depth.
type passwordHistoryStore struct {
	redis *redis.Client
}

func newPasswordHistoryStore(redisClient *redis.Client) *passwordHistoryStore {
	return &passwordHistoryStore{redis: redisClient}
}

func (s *passwordHistoryStore) key(userID string) string {
	return historyKeyPrefix + ":" + userID
}

func (s *passwordHistoryStore) Push(ctx context.Context, userID, hash string, keep int) error {
	if keep <= 0 {
		return nil
	}
	key := s.key(userID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, hash)
		pipe.LTrim(ctx, key, 0, int64(keep-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("password history store: %v", err)
	}
	return nil
}

// Recent returns up to limit hashes, most recent first.
func (s *passwordHistoryStore) Recent(ctx context.Context, userID string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	hashes, err := s.redis.LRange(ctx, s.key(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("password history store: %v", err)
	}
	return hashes, nil
}
