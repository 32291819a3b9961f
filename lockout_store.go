package authguard

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockoutKeyPrefix      = "agl"
	lockoutRecordVersion1 = 1

	// lockPermanent marks a block with no expiry. Only an operator can
	// clear it, by resetting the account or the record.
	lockPermanent = int64(-1)

	// failureCounterTTL bounds how long a partial failure count survives
	// without further activity.
	failureCounterTTL = 24 * time.Hour
)

type lockoutRecord struct {
	Attempts     uint16
	BlockedUntil int64 // unix seconds, 0 none, lockPermanent forever
}

// lockoutTracker throttles credential guessing per username. The username
// is keyed as submitted, so unknown names accumulate state too and an
// attacker cannot distinguish real accounts from the lockout behavior.
type lockoutTracker struct {
	redis *redis.Client
	now   func() time.Time
}

func newLockoutTracker(redisClient *redis.Client) *lockoutTracker {
	return &lockoutTracker{redis: redisClient, now: time.Now}
}

func (t *lockoutTracker) key(username string) string {
	return lockoutKeyPrefix + ":" + username
}

// Status reports whether the account is currently blocked. An expired block
// clears the record, so the failure count restarts from zero.
func (t *lockoutTracker) Status(ctx context.Context, username string) (bool, string, error) {
	data, err := t.redis.Get(ctx, t.key(username)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	record, err := decodeLockoutRecord(data)
	if err != nil {
		return false, "", err
	}

	switch {
	case record.BlockedUntil == lockPermanent:
		return true, "Account locked due to too many failed attempts. Contact an administrator.", nil
	case record.BlockedUntil == 0:
		return false, "", nil
	case t.now().Unix() >= record.BlockedUntil:
		_, _ = t.redis.Del(ctx, t.key(username)).Result()
		return false, "", nil
	default:
		remaining := time.Unix(record.BlockedUntil, 0).Sub(t.now())
		minutes := int(remaining.Minutes())
		if remaining > time.Duration(minutes)*time.Minute {
			minutes++
		}
		return true, fmt.Sprintf("Account locked due to too many failed attempts. Try again in %d minutes.", minutes), nil
	}
}

// RecordFailure counts one failed attempt and reports whether this failure
// tripped the threshold. durationMinutes 0 blocks the account permanently.
func (t *lockoutTracker) RecordFailure(
	ctx context.Context,
	username string,
	threshold int,
	durationMinutes int,
) (bool, error) {
	const maxRetries = 4
	key := t.key(username)

	for i := 0; i < maxRetries; i++ {
		var locked bool
		err := t.redis.Watch(ctx, func(tx *redis.Tx) error {
			record := &lockoutRecord{}
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil {
				record, err = decodeLockoutRecord(data)
				if err != nil {
					return err
				}
			}

			if record.BlockedUntil != 0 &&
				record.BlockedUntil != lockPermanent &&
				t.now().Unix() >= record.BlockedUntil {
				record = &lockoutRecord{}
			}

			record.Attempts++
			ttl := failureCounterTTL
			if int(record.Attempts) >= threshold {
				locked = true
				if durationMinutes <= 0 {
					record.BlockedUntil = lockPermanent
					ttl = 0
				} else {
					block := time.Duration(durationMinutes) * time.Minute
					record.BlockedUntil = t.now().Add(block).Unix()
					ttl = block
				}
			}

			encoded, err := encodeLockoutRecord(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
		return locked, nil
	}

	return false, fmt.Errorf("%w: concurrent update retries exhausted", ErrLockoutUnavailable)
}

// RecordSuccess clears the failure count after a correct password, unless a
// block is currently in force.
func (t *lockoutTracker) RecordSuccess(ctx context.Context, username string) error {
	if _, err := t.redis.Del(ctx, t.key(username)).Result(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

func encodeLockoutRecord(record *lockoutRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(lockoutRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.BlockedUntil); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeLockoutRecord(data []byte) (*lockoutRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != lockoutRecordVersion1 {
		return nil, errors.New("invalid lockout record version")
	}

	record := &lockoutRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.BlockedUntil); err != nil {
		return nil, err
	}

	return record, nil
}
