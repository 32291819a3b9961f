package authguard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/packlab/authguard/password"
	"github.com/packlab/authguard/session"
	"github.com/packlab/authguard/sessiontoken"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type mockCredentialStore struct {
	mu     sync.Mutex
	hasher *password.Hasher
	users  map[string]UserRecord
	byName map[string]string
	byMail map[string]string

	findByUsernameCalls int
	updateHashCalls     int
	failUpdate          bool
}

func newMockCredentialStore(hasher *password.Hasher) *mockCredentialStore {
	return &mockCredentialStore{
		hasher: hasher,
		users:  make(map[string]UserRecord),
		byName: make(map[string]string),
		byMail: make(map[string]string),
	}
}

func (m *mockCredentialStore) put(u UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.UserID] = u
	m.byName[u.Username] = u.UserID
	if u.Email != "" {
		m.byMail[u.Email] = u.UserID
	}
}

func (m *mockCredentialStore) FindByUsername(_ context.Context, username string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findByUsernameCalls++
	id, ok := m.byName[username]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return m.users[id], nil
}

func (m *mockCredentialStore) FindByEmail(_ context.Context, email string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byMail[email]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return m.users[id], nil
}

func (m *mockCredentialStore) FindByID(_ context.Context, userID string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (m *mockCredentialStore) VerifyPassword(_ context.Context, record UserRecord, plaintext string) (bool, error) {
	return m.hasher.Verify(plaintext, record.PasswordHash)
}

func (m *mockCredentialStore) UpdatePasswordHash(_ context.Context, userID, newHash string, changedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateHashCalls++
	if m.failUpdate {
		return errUpdateTest
	}
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = newHash
	u.LastPasswordChange = changedAt
	m.users[userID] = u
	return nil
}

type mockConfigStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newMockConfigStore(seed map[string]string) *mockConfigStore {
	values := make(map[string]string, len(seed))
	for k, v := range seed {
		values[k] = v
	}
	return &mockConfigStore{values: values}
}

func (m *mockConfigStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *mockConfigStore) Set(_ context.Context, key, value, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

type mockMailer struct {
	mu    sync.Mutex
	sent  []string
	to    []string
	fail  bool
	calls int
}

func (m *mockMailer) SendEmail(_ context.Context, to, _, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.fail {
		return errDeliveryTest
	}
	m.to = append(m.to, to)
	m.sent = append(m.sent, body)
	return nil
}

// lastCode pulls the numeric code out of the most recent challenge mail.
func (m *mockMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no mail sent")
	}
	return codeFromBody(t, m.sent[len(m.sent)-1])
}

// codeFromBody pulls the numeric code out of a challenge message body.
func codeFromBody(t *testing.T, body string) string {
	t.Helper()
	for _, field := range strings.Fields(body) {
		trimmed := strings.TrimSuffix(field, ".")
		if len(trimmed) == 6 && strings.Trim(trimmed, "0123456789") == "" {
			return trimmed
		}
	}
	t.Fatalf("no code found in body %q", body)
	return ""
}

type mockSMS struct {
	mu   sync.Mutex
	sent []string
	to   []string
}

func (m *mockSMS) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.to = append(m.to, to)
	m.sent = append(m.sent, body)
	return nil
}

func smsCode(t *testing.T, sms *mockSMS) string {
	t.Helper()
	sms.mu.Lock()
	defer sms.mu.Unlock()
	if len(sms.sent) == 0 {
		t.Fatal("no SMS sent")
	}
	return codeFromBody(t, sms.sent[len(sms.sent)-1])
}

// deadlineMailer records whether the delivery context carried a deadline.
type deadlineMailer struct {
	sawDeadline bool
	deadline    time.Time
}

func (m *deadlineMailer) SendEmail(ctx context.Context, _, _, _ string) error {
	m.deadline, m.sawDeadline = ctx.Deadline()
	return nil
}

var (
	errDeliveryTest = errors.New("smtp unreachable")
	errUpdateTest   = errors.New("credential backend write failed")
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestHasher(t *testing.T) *password.Hasher {
	t.Helper()

	h, err := password.NewHasher(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	})
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	return h
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func newTestEngine(
	t *testing.T,
	rdb *redis.Client,
	creds CredentialStore,
	configStore ConfigStore,
	clock *testClock,
) *Engine {
	t.Helper()

	cfg := defaultConfig()
	cfg.Token.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Token.SessionSecret = []byte("fedcba9876543210fedcba9876543210")
	cfg.Metrics.Enabled = true

	hasher, err := password.NewHasher(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	})
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}

	tokens, err := sessiontoken.NewManager(sessiontoken.Config{
		Key: cfg.Token.SessionSecret,
		TTL: cfg.Session.TokenTTL,
	})
	if err != nil {
		t.Fatalf("sessiontoken.NewManager failed: %v", err)
	}

	engine := &Engine{
		config:       cfg,
		credentials:  creds,
		configStore:  configStore,
		sessionStore: session.NewStore(rdb, cfg.Session.RedisPrefix),
		tokens:       tokens,
		lockouts:     newLockoutTracker(rdb),
		challenges:   newChallengeStore(rdb),
		history:      newPasswordHistoryStore(rdb),
		spentTokens:  newSpentTokenStore(rdb),
		resetTokens:  newResetTokenCodec(cfg.Token.Secret, cfg.Token.ResetTTL),
		totp:         newTOTPProvisioner(cfg.TOTP, configStore),
		hasher:       hasher,
		metrics:      NewMetrics(cfg.Metrics),
		nowFn:        time.Now,
	}

	if clock != nil {
		engine.nowFn = clock.Now
		engine.lockouts.now = clock.Now
		engine.challenges.now = clock.Now
		engine.resetTokens.now = clock.Now
		engine.totp.now = clock.Now
	}
	return engine
}
