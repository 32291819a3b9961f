package authguard

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	challengeKeyPrefix      = "agc"
	challengeRecordVersion1 = 1
)

// secondFactorChallenge is the pending-code record for one user. Issuing a
// new challenge overwrites any previous one, so a user can have at most one
// code in flight.
type secondFactorChallenge struct {
	Code        string
	Method      Method
	Destination string
	ExpiresAt   int64
	Attempts    uint16
}

type challengeStore struct {
	redis *redis.Client
	now   func() time.Time
}

func newChallengeStore(redisClient *redis.Client) *challengeStore {
	return &challengeStore{redis: redisClient, now: time.Now}
}

func (s *challengeStore) key(userID string) string {
	return challengeKeyPrefix + ":" + userID
}

func (s *challengeStore) Save(
	ctx context.Context,
	userID string,
	record *secondFactorChallenge,
	ttl time.Duration,
) error {
	encoded, err := encodeSecondFactorChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(userID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}
	return nil
}

func (s *challengeStore) Get(ctx context.Context, userID string) (*secondFactorChallenge, error) {
	data, err := s.redis.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}

	record, err := decodeSecondFactorChallenge(data)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(userID)).Result()
		return nil, ErrChallengeExpired
	}
	return record, nil
}

func (s *challengeStore) Delete(ctx context.Context, userID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}
	return n > 0, nil
}

// Verify checks a submitted code against the pending challenge. A correct
// code consumes the challenge. A wrong code counts one attempt; once the
// attempt cap is hit the challenge is destroyed so the remaining window
// cannot be brute forced.
func (s *challengeStore) Verify(
	ctx context.Context,
	userID string,
	code string,
	maxAttempts int,
) error {
	record, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}

	if subtle.ConstantTimeCompare([]byte(record.Code), []byte(code)) == 1 {
		if _, err := s.Delete(ctx, userID); err != nil {
			return err
		}
		return nil
	}

	exceeded, err := s.recordFailure(ctx, userID, maxAttempts)
	if err != nil {
		return err
	}
	if exceeded {
		return ErrChallengeAttemptsExceeded
	}
	return ErrChallengeMismatch
}

func (s *challengeStore) recordFailure(
	ctx context.Context,
	userID string,
	maxAttempts int,
) (bool, error) {
	const maxRetries = 4
	key := s.key(userID)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeSecondFactorChallenge(data)
			if err != nil {
				return err
			}
			if s.now().Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrChallengeExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return nil
			}

			ttl := time.Unix(record.ExpiresAt, 0).Sub(s.now())
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrChallengeExpired
			}

			updated, err := encodeSecondFactorChallenge(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrChallengeNotFound
			}
			if errors.Is(err, ErrChallengeExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
		}
		return exceeded, nil
	}

	return false, ErrChallengeNotFound
}

func encodeSecondFactorChallenge(record *secondFactorChallenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)
	buf.WriteByte(byte(record.Method))

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.Code) > 65535 || len(record.Destination) > 65535 {
		return nil, errors.New("challenge field length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Code))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Code)
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Destination))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Destination)

	return buf.Bytes(), nil
}

func decodeSecondFactorChallenge(data []byte) (*secondFactorChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion1 {
		return nil, errors.New("invalid challenge record version")
	}

	method, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &secondFactorChallenge{Method: Method(method)}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var codeLen uint16
	if err := binary.Read(reader, binary.BigEndian, &codeLen); err != nil {
		return nil, err
	}
	code := make([]byte, codeLen)
	if _, err := io.ReadFull(reader, code); err != nil {
		return nil, err
	}
	record.Code = string(code)

	var destLen uint16
	if err := binary.Read(reader, binary.BigEndian, &destLen); err != nil {
		return nil, err
	}
	dest := make([]byte, destLen)
	if _, err := io.ReadFull(reader, dest); err != nil {
		return nil, err
	}
	record.Destination = string(dest)

	return record, nil
}
