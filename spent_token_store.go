package authguard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const spentTokenKeyPrefix = "agr"

// spentTokenStore makes reset tokens single use. Spend marks a token ID
// taken via SETNX, so two concurrent redemptions of the same token resolve
// to exactly one winner. The marker lives only as long as the token itself
// could remain valid.
type spentTokenStore struct {
	redis *redis.Client
}

func newSpentTokenStore(redisClient *redis.Client) *spentTokenStore {
	return &spentTokenStore{redis: redisClient}
}

func (s *spentTokenStore) key(tokenID string) string {
	return spentTokenKeyPrefix + ":" + tokenID
}

// Spend returns false when the token ID was already used.
func (s *spentTokenStore) Spend(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	ok, err := s.redis.SetNX(ctx, s.key(tokenID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("spent token store: %v", err)
	}
	return ok, nil
}

// Release gives the token ID back after a redemption that won the marker
// but failed before the password actually changed.
func (s *spentTokenStore) Release(ctx context.Context, tokenID string) error {
	if err := s.redis.Del(ctx, s.key(tokenID)).Err(); err != nil {
		return fmt.Errorf("spent token store: %v", err)
	}
	return nil
}
