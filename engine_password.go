package authguard

import (
	"context"
	"errors"
	"strings"
)

// RequestPasswordReset issues a signed, single-use reset token for the
// account behind an email address. Unknown addresses return an empty token
// with no error, so the caller's response cannot reveal which addresses
// have accounts.
//
// RequestPasswordReset may return an error when input validation, dependency calls, or security checks fail.
// RequestPasswordReset does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	email = strings.TrimSpace(email)

	user, err := e.credentials.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.auditEmit(ctx, AuditEvent{
				Action:  auditActionPasswordReset,
				Module:  "request",
				Success: false,
				Error:   "unknown email",
			})
			return "", nil
		}
		return "", err
	}

	token, err := e.resetTokens.Issue(user.UserID)
	if err != nil {
		return "", err
	}

	e.metricInc(MetricResetRequested)
	e.auditEmit(ctx, AuditEvent{
		Action:  auditActionPasswordReset,
		Module:  "request",
		UserID:  user.UserID,
		Success: true,
	})
	return token, nil
}

// CompletePasswordReset redeems a reset token and installs the new
// password. Each token works exactly once; concurrent redemptions of the
// same token resolve to one winner. All of the user's sessions are revoked
// on success.
//
// CompletePasswordReset may return an error when input validation, dependency calls, or security checks fail.
// CompletePasswordReset does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	payload, err := e.resetTokens.Verify(token)
	if err != nil {
		e.metricInc(MetricResetRejected)
		e.auditEmit(ctx, AuditEvent{
			Action:  auditActionPasswordReset,
			Module:  "complete",
			Success: false,
			Error:   err.Error(),
		})
		return err
	}

	user, err := e.credentials.FindByID(ctx, payload.UserID)
	if err != nil {
		return err
	}

	settings := e.currentSettings(ctx)
	if err := e.checkNewPassword(ctx, user, newPassword, settings); err != nil {
		e.metricInc(MetricResetRejected)
		return err
	}

	// The spent marker is claimed only after the new password passes
	// policy, so a rejected attempt does not burn the token.
	ok, err := e.spentTokens.Spend(ctx, payload.TokenID, e.resetTokens.remainingTTL(payload))
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricResetRejected)
		return ErrTokenSpent
	}

	if err := e.installPassword(ctx, user, newPassword, settings); err != nil {
		// The password did not change, so the link must stay usable.
		_ = e.spentTokens.Release(ctx, payload.TokenID)
		return err
	}

	if err := e.sessionStore.DeleteAllForUser(ctx, user.UserID); err != nil {
		return err
	}

	e.metricInc(MetricResetCompleted)
	e.auditEmit(ctx, AuditEvent{
		Action:  auditActionPasswordReset,
		Module:  "complete",
		UserID:  user.UserID,
		Success: true,
	})
	return nil
}

// ChangePassword replaces the password for an authenticated user after
// re-verifying the current one.
//
// ChangePassword may return an error when input validation, dependency calls, or security checks fail.
// ChangePassword does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	user, err := e.credentials.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := e.credentials.VerifyPassword(ctx, user, currentPassword)
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricPasswordChangeRejected)
		e.auditEmit(ctx, AuditEvent{
			Action:  auditActionPasswordChange,
			UserID:  userID,
			Success: false,
			Error:   "current password incorrect",
		})
		return ErrInvalidCredentials
	}

	settings := e.currentSettings(ctx)
	if err := e.checkNewPassword(ctx, user, newPassword, settings); err != nil {
		e.metricInc(MetricPasswordChangeRejected)
		return err
	}

	if err := e.installPassword(ctx, user, newPassword, settings); err != nil {
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.auditEmit(ctx, AuditEvent{
		Action:  auditActionPasswordChange,
		UserID:  userID,
		Success: true,
	})
	return nil
}

// checkNewPassword applies complexity policy and reuse rules to a candidate
// password. History entries are checked by verifying the plaintext against
// each stored hash, never by comparing hash strings.
func (e *Engine) checkNewPassword(
	ctx context.Context,
	user UserRecord,
	newPassword string,
	settings SecuritySettings,
) error {
	if settings.PasswordComplexity {
		if err := CheckComplexity(newPassword); err != nil {
			return err
		}
	}
	if user.IsAdmin() {
		if err := CheckAdminComplexity(newPassword); err != nil {
			return err
		}
	}

	same, err := e.credentials.VerifyPassword(ctx, user, newPassword)
	if err != nil {
		return err
	}
	if same {
		return ErrPasswordReuse
	}

	if settings.PasswordHistoryEnabled {
		hashes, err := e.history.Recent(ctx, user.UserID, settings.PasswordHistoryCount)
		if err != nil {
			return err
		}
		for _, hash := range hashes {
			match, err := e.hasher.Verify(newPassword, hash)
			if err != nil {
				continue
			}
			if match {
				return ErrPasswordRecentlyUsed
			}
		}
	}

	return nil
}

func (e *Engine) installPassword(
	ctx context.Context,
	user UserRecord,
	newPassword string,
	settings SecuritySettings,
) error {
	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := e.credentials.UpdatePasswordHash(ctx, user.UserID, newHash, e.now()); err != nil {
		return err
	}

	if settings.PasswordHistoryEnabled {
		if err := e.history.Push(ctx, user.UserID, newHash, settings.PasswordHistoryCount); err != nil {
			return err
		}
	}
	return nil
}
