package sessiontoken

import (
	"errors"
	"testing"
	"time"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()

	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(Config{Key: []byte("short"), TTL: time.Hour}); err == nil {
		t.Error("short key should be rejected")
	}
	if _, err := NewManager(Config{Key: testKey, TTL: 0}); err == nil {
		t.Error("zero TTL should be rejected")
	}
	if _, err := NewManager(Config{Key: testKey, TTL: time.Hour, Leeway: 5 * time.Minute}); err == nil {
		t.Error("oversized leeway should be rejected")
	}
}

func TestIssueParseRoundtrip(t *testing.T) {
	m := newTestManager(t, Config{Key: testKey, TTL: time.Hour, Issuer: "authguard"})

	token, err := m.Issue("sess-123", 0)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	sid, err := m.Parse(token)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if sid != "sess-123" {
		t.Fatalf("got session ID %q, want sess-123", sid)
	}
}

func TestIssueEmptySessionID(t *testing.T) {
	m := newTestManager(t, Config{Key: testKey, TTL: time.Hour})

	if _, err := m.Issue("", 0); err == nil {
		t.Fatal("empty session ID should be rejected")
	}
}

func TestParseExpiredToken(t *testing.T) {
	m := newTestManager(t, Config{Key: testKey, TTL: time.Hour})

	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	token, err := m.Issue("sess-123", time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	current = current.Add(2 * time.Hour)
	if _, err := m.Parse(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestParseWrongKey(t *testing.T) {
	m := newTestManager(t, Config{Key: testKey, TTL: time.Hour})
	other := newTestManager(t, Config{Key: []byte("ffffffffffffffffffffffffffffffff"), TTL: time.Hour})

	token, err := m.Issue("sess-123", 0)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if _, err := other.Parse(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestParseWrongIssuer(t *testing.T) {
	issuing := newTestManager(t, Config{Key: testKey, TTL: time.Hour, Issuer: "someone-else"})
	verifying := newTestManager(t, Config{Key: testKey, TTL: time.Hour, Issuer: "authguard"})

	token, err := issuing.Issue("sess-123", 0)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if _, err := verifying.Parse(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestParseGarbage(t *testing.T) {
	m := newTestManager(t, Config{Key: testKey, TTL: time.Hour})

	for _, token := range []string{"", "abc", "a.b.c"} {
		if _, err := m.Parse(token); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("Parse(%q): expected ErrTokenInvalid, got %v", token, err)
		}
	}
}
