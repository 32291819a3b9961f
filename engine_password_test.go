package authguard

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestChangePassword(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	clock := newTestClock()
	creds := newMockCredentialStore(newTestHasher(t))
	seedUser(t, creds, clock, "u1", "alice", "alice@example.com", "user")

	engine := newTestEngine(t, rdb, creds, newMockConfigStore(nil), clock)

	if err := engine.ChangePassword(ctx, "u1", "not the password", "N3w$ecret!!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	if err := engine.ChangePassword(ctx, "u1", testPassword, "short"); !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("expected ErrPolicyViolation, got %v", err)
	}

	if err := engine.ChangePassword(ctx, "u1", testPassword, testPassword); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse, got %v", err)
	}

	if err := engine.ChangePassword(ctx, "u1", testPassword, "N3w$ecret!!"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	// The old password no longer works, the new one does.
	result, err := engine.Login(ctx, "alice", testPassword, false)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.State != LoginRejected {
		t.Fatalf("old password should be rejected, got %v", result.State)
	}
	result, err = engine.Login(ctx, "alice", "N3w$ecret!!", false)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.State != LoginAuthenticated {
		t.Fatalf("new password should work, got %v", result.State)
	}

	user, err := creds.FindByID(ctx, "u1")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if !user.LastPasswordChange.Equal(clock.Now()) {
		t.Fatalf("LastPasswordChange not updated: %v", user.LastPasswordChange)
	}
}

func TestChangePasswordHistoryReuse(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	clock := newTestClock()
	creds := newMockCredentialStore(newTestHasher(t))
	seedUser(t, creds, clock, "u1", "alice", "alice@example.com", "user")

	engine := newTestEngine(t, rdb, creds, newMockConfigStore(nil), clock)

	if err := engine.ChangePassword(ctx, "u1", testPassword, "F1rst$wap!!"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if err := engine.ChangePassword(ctx, "u1", "F1rst$wap!!", "S3cond$wap!!"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	// Rotating back to a recorded password is refused.
	if err := engine.ChangePassword(ctx, "u1", "S3cond$wap!!", "F1rst$wap!!"); !errors.Is(err, ErrPasswordRecentlyUsed) {
		t.Fatalf("expected ErrPasswordRecentlyUsed, got %v", err)
	}
}

func TestChangePasswordAdminPolicy(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	clock := newTestClock()
	creds := newMockCredentialStore(newTestHasher(t))
	seedUser(t, creds, clock, "a1", "root", "root@example.com", RoleAdmin)

	engine := newTestEngine(t, rdb, creds, newMockConfigStore(nil), clock)

	// Passes the general policy but is too short for an administrator.
	if err := engine.ChangePassword(ctx, "a1", testPassword, "Abc123!@"); !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("expected ErrPolicyViolation for short admin password, got %v", err)
	}

	if err := engine.ChangePassword(ctx, "a1", testPassword, "Tr0ub4dor!&Three"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
}

func TestRequestPasswordResetUnknownEmail(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	clock := newTestClock()
	engine := newTestEngine(t, rdb, newMockCredentialStore(newTestHasher(t)), newMockConfigStore(nil), clock)

	// Unknown addresses produce no token and no error.
	token, err := engine.RequestPasswordReset(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty token, got %q", token)
	}
}

func TestPasswordResetRoundtrip(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	clock := newTestClock()
	creds := newMockCredentialStore(newTestHasher(t))
	seedUser(t, creds, clock, "u1", "alice", "alice@example.com", "user")

	engine := newTestEngine(t, rdb, creds, newMockConfigStore(nil), clock)

	// An active session that the reset must revoke.
	login, err := engine.Login(ctx, "alice", testPassword, false)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	token, err := engine.RequestPasswordReset(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected a reset token")
	}

	if err := engine.CompletePasswordReset(ctx, token, "N3w$ecret!!"); err != nil {
		t.Fatalf("CompletePasswordReset failed: %v", err)
	}

	result, err := engine.Login(ctx, "alice", "N3w$ecret!!", false)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.State != LoginAuthenticated {
		t.Fatalf("reset password should work, got %v", result.State)
	}

	// The pre-reset session is gone.
	if _, err := engine.Session(ctx, login.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for revoked session, got %v", err)
	}

	// A token works exactly once.
	if err := engine.CompletePasswordReset(ctx, token, "An0ther$ecret!!"); !errors.Is(err, ErrTokenSpent) {
		t.Fatalf("expected ErrTokenSpent, got %v", err)
	}
}

func TestPasswordResetUpdateFailureKeepsToken(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	clock := newTestClock()
	creds := newMockCredentialStore(newTestHasher(t))
	seedUser(t, creds, clock, "u1", "alice", "alice@example.com", "user")

	engine := newTestEngine(t, rdb, creds, newMockConfigStore(nil), clock)

	token, err := engine.RequestPasswordReset(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}

	// The backend write fails after the token won the single-use marker.
	// The password did not change, so the same link must still work.
	creds.failUpdate = true
	if err := engine.CompletePasswordReset(ctx, token, "N3w$ecret!!"); !errors.Is(err, errUpdateTest) {
		t.Fatalf("expected the backend error, got %v", err)
	}

	creds.failUpdate = false
	if err := engine.CompletePasswordReset(ctx, token, "N3w$ecret!!"); err != nil {
		t.Fatalf("retry with the same token failed: %v", err)
	}

	result, err := engine.Login(ctx, "alice", "N3w$ecret!!", false)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.State != LoginAuthenticated {
		t.Fatalf("reset password should work, got %v", result.State)
	}
}

func TestPasswordResetPolicyRejectionKeepsToken(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	clock := newTestClock()
	creds := newMockCredentialStore(newTestHasher(t))
	seedUser(t, creds, clock, "u1", "alice", "alice@example.com", "user")

	engine := newTestEngine(t, rdb, creds, newMockConfigStore(nil), clock)

	token, err := engine.RequestPasswordReset(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}

	if err := engine.CompletePasswordReset(ctx, token, "short"); !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("expected ErrPolicyViolation, got %v", err)
	}

	// A policy rejection must not consume the token.
	if err := engine.CompletePasswordReset(ctx, token, "N3w$ecret!!"); err != nil {
		t.Fatalf("CompletePasswordReset after rejection failed: %v", err)
	}
}

func TestPasswordResetTokenExpiryAndTamper(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	clock := newTestClock()
	creds := newMockCredentialStore(newTestHasher(t))
	seedUser(t, creds, clock, "u1", "alice", "alice@example.com", "user")

	engine := newTestEngine(t, rdb, creds, newMockConfigStore(nil), clock)

	token, err := engine.RequestPasswordReset(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}

	if err := engine.CompletePasswordReset(ctx, token+"x", "N3w$ecret!!"); !errors.Is(err, ErrTokenTampered) {
		t.Fatalf("expected ErrTokenTampered, got %v", err)
	}

	clock.Advance(61 * time.Minute)
	if err := engine.CompletePasswordReset(ctx, token, "N3w$ecret!!"); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}
