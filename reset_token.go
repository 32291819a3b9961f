package authguard

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// resetTokenPayload is the signed claim set inside a password reset token.
type resetTokenPayload struct {
	UserID   string `json:"user_id"`
	IssuedAt int64  `json:"iat"`
	Expires  int64  `json:"exp"`
	TokenID  string `json:"jti"`
}

// resetTokenCodec issues and verifies password reset tokens of the form
//
//	base64url(payload JSON) "." hex(HMAC-SHA256(payload))
//
// The token ID inside the payload is what the spent-token store keys on.
type resetTokenCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func newResetTokenCodec(secret []byte, ttl time.Duration) *resetTokenCodec {
	return &resetTokenCodec{secret: secret, ttl: ttl, now: time.Now}
}

func (c *resetTokenCodec) Issue(userID string) (string, error) {
	now := c.now()
	payload := resetTokenPayload{
		UserID:   userID,
		IssuedAt: now.Unix(),
		Expires:  now.Add(c.ttl).Unix(),
		TokenID:  uuid.NewString(),
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("reset token encode: %v", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return encoded + "." + c.sign(encoded), nil
}

// Verify checks the signature before touching the payload, so a tampered
// token never reaches the JSON decoder. Expiry is reported only for tokens
// with a valid signature.
func (c *resetTokenCodec) Verify(token string) (*resetTokenPayload, error) {
	encoded, signature, found := strings.Cut(token, ".")
	if !found || encoded == "" || signature == "" {
		return nil, ErrTokenTampered
	}

	expected := c.sign(encoded)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, ErrTokenTampered
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrTokenTampered
	}

	var payload resetTokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, ErrTokenTampered
	}
	if payload.UserID == "" || payload.TokenID == "" {
		return nil, ErrTokenTampered
	}
	if c.now().Unix() > payload.Expires {
		return nil, ErrTokenExpired
	}

	return &payload, nil
}

// remainingTTL bounds the spent-token marker to the token's own lifetime.
func (c *resetTokenCodec) remainingTTL(payload *resetTokenPayload) time.Duration {
	return time.Unix(payload.Expires, 0).Sub(c.now())
}

func (c *resetTokenCodec) sign(encoded string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}
