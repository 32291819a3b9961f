package authguard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/packlab/authguard/internal"
	"github.com/packlab/authguard/session"
)

// ResolveSecondFactor issues the challenge for a login parked in the
// second-factor state. A zero method uses the configured default channel;
// an explicit method lets the user pick a different one. For email and SMS
// a fresh code is generated, stored, and delivered; issuing again overwrites
// the previous code. For TOTP no delivery happens and the caller simply
// prompts for an authenticator code.
//
// When the default channel is not usable for this user, no challenge is
// issued and the returned info carries [StepSelectMethod] plus the channels
// the user may choose from.
//
// ResolveSecondFactor may return an error when input validation, dependency calls, or security checks fail.
// ResolveSecondFactor does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ResolveSecondFactor(ctx context.Context, sessionID string, method Method) (*ChallengeInfo, error) {
	_, user, err := e.pendingSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	settings := e.currentSettings(ctx)

	resolved, destination, err := e.resolveMethod(user, settings, method)
	if err != nil {
		return nil, err
	}
	if resolved == MethodNone {
		available := e.availableMethods(user)
		if len(available) == 0 {
			return nil, fmt.Errorf("%w: no usable second factor channel", ErrConfigurationIncomplete)
		}
		return &ChallengeInfo{NextStep: StepSelectMethod, Available: available}, nil
	}

	if resolved == MethodTOTP {
		// Any delivered code still in flight is superseded by the
		// authenticator, otherwise code submission would race it.
		_, _ = e.challenges.Delete(ctx, user.UserID)

		enrolled, err := e.totp.Enrolled(ctx, user.UserID)
		if err != nil {
			return nil, err
		}
		step := StepEnterCode
		if !enrolled {
			step = StepEnrollTOTP
		}
		return &ChallengeInfo{Method: MethodTOTP, NextStep: step}, nil
	}

	code, err := internal.NewOTP(e.config.Challenge.CodeDigits)
	if err != nil {
		return nil, err
	}

	expiresAt := e.now().Add(e.config.Challenge.TTL)
	record := &secondFactorChallenge{
		Code:        code,
		Method:      resolved,
		Destination: destination,
		ExpiresAt:   expiresAt.Unix(),
	}
	if err := e.challenges.Save(ctx, user.UserID, record, e.config.Challenge.TTL); err != nil {
		return nil, err
	}

	if err := e.deliverCode(ctx, resolved, destination, code); err != nil {
		// The challenge must not outlive a failed delivery, otherwise the
		// user is stuck behind a code that never arrived.
		_, _ = e.challenges.Delete(ctx, user.UserID)
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	e.metricInc(MetricChallengeIssued)
	e.auditEmit(ctx, AuditEvent{
		Action:  auditActionSecondFactor,
		Module:  "challenge",
		UserID:  user.UserID,
		Success: true,
		Details: map[string]string{"method": resolved.String()},
	})

	return &ChallengeInfo{
		Method:      resolved,
		Destination: maskDestination(resolved, destination),
		ExpiresAt:   expiresAt,
		NextStep:    StepEnterCode,
	}, nil
}

// ResendSecondFactorCode issues a replacement code over the channel the
// pending challenge was issued on. Without a pending challenge it behaves
// like [Engine.ResolveSecondFactor] with the default channel.
//
// ResendSecondFactorCode may return an error when input validation, dependency calls, or security checks fail.
// ResendSecondFactorCode does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ResendSecondFactorCode(ctx context.Context, sessionID string) (*ChallengeInfo, error) {
	_, user, err := e.pendingSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	method := MethodNone
	if record, err := e.challenges.Get(ctx, user.UserID); err == nil {
		method = record.Method
	}
	return e.ResolveSecondFactor(ctx, sessionID, method)
}

// SubmitSecondFactorCode completes a parked login with a delivered code or
// an authenticator code, upgrading the session to fully verified. A pending
// delivered code is always checked against the channel it was issued on;
// only when none is in flight does an enrolled authenticator apply.
//
// SubmitSecondFactorCode may return an error when input validation, dependency calls, or security checks fail.
// SubmitSecondFactorCode does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) SubmitSecondFactorCode(ctx context.Context, sessionID, code string) (*LoginResult, error) {
	sess, user, err := e.pendingSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	settings := e.currentSettings(ctx)

	_, err = e.challenges.Get(ctx, user.UserID)
	switch {
	case err == nil:
		if err := e.challenges.Verify(ctx, user.UserID, strings.TrimSpace(code), e.config.Challenge.MaxAttempts); err != nil {
			switch {
			case errors.Is(err, ErrChallengeAttemptsExceeded):
				e.metricInc(MetricChallengeExceeded)
			case errors.Is(err, ErrChallengeMismatch):
				e.metricInc(MetricChallengeFailed)
			}
			e.auditEmit(ctx, AuditEvent{
				Action:  auditActionSecondFactor,
				Module:  "challenge",
				UserID:  user.UserID,
				Success: false,
				Error:   err.Error(),
			})
			return nil, err
		}
		e.metricInc(MetricChallengeVerified)

	case errors.Is(err, ErrChallengeNotFound):
		enrolled, terr := e.totp.Enrolled(ctx, user.UserID)
		if terr != nil {
			return nil, terr
		}
		if !enrolled {
			return nil, err
		}

		secret, terr := e.totp.SecretFor(ctx, user.UserID)
		if terr != nil {
			return nil, terr
		}
		if !e.totp.Validate(code, secret) {
			e.metricInc(MetricTOTPFailure)
			e.auditEmit(ctx, AuditEvent{
				Action:  auditActionSecondFactor,
				Module:  "totp",
				UserID:  user.UserID,
				Success: false,
				Error:   "invalid code",
			})
			return nil, ErrTOTPInvalid
		}
		e.metricInc(MetricTOTPSuccess)

	default:
		return nil, err
	}

	return e.completeSecondFactor(ctx, sess, user, settings)
}

// BeginTOTPEnrollment generates provisioning material for a user who must
// enroll an authenticator. Nothing is persisted; the secret binds to the
// account only via [Engine.ConfirmTOTPEnrollment].
//
// BeginTOTPEnrollment may return an error when input validation, dependency calls, or security checks fail.
// BeginTOTPEnrollment does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) BeginTOTPEnrollment(ctx context.Context, sessionID string) (*TOTPEnrollment, error) {
	_, user, err := e.pendingSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	account := user.Email
	if account == "" {
		account = user.Username
	}
	return e.totp.Enroll(account)
}

// ConfirmTOTPEnrollment verifies the user's first authenticator code against
// the provisional secret, commits the secret, and completes the login.
//
// ConfirmTOTPEnrollment may return an error when input validation, dependency calls, or security checks fail.
// ConfirmTOTPEnrollment does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ConfirmTOTPEnrollment(ctx context.Context, sessionID, secret, code string) (*LoginResult, error) {
	sess, user, err := e.pendingSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, ErrTOTPInvalid
	}

	if !e.totp.Validate(code, secret) {
		e.metricInc(MetricTOTPFailure)
		return nil, ErrTOTPInvalid
	}

	if err := e.totp.Commit(ctx, user.UserID, secret); err != nil {
		return nil, err
	}

	e.metricInc(MetricTOTPEnrolled)
	e.auditEmit(ctx, AuditEvent{
		Action:  auditActionTOTPEnroll,
		UserID:  user.UserID,
		Success: true,
	})

	settings := e.currentSettings(ctx)
	return e.completeSecondFactor(ctx, sess, user, settings)
}

func (e *Engine) pendingSession(ctx context.Context, sessionID string) (*session.Session, UserRecord, error) {
	sess, err := e.Session(ctx, sessionID)
	if err != nil {
		return nil, UserRecord{}, err
	}
	if sess.TwoFactorVerified {
		return nil, UserRecord{}, ErrChallengeNotFound
	}

	user, err := e.credentials.FindByID(ctx, sess.UserID)
	if err != nil {
		return nil, UserRecord{}, err
	}
	return sess, user, nil
}

// resolveMethod picks the channel for a challenge. An explicitly requested
// method must be usable for this user; [MethodNone] means the configured
// default. A default that is not usable resolves to [MethodNone] with no
// error, which tells the caller the user has to pick a channel.
func (e *Engine) resolveMethod(user UserRecord, settings SecuritySettings, requested Method) (Method, string, error) {
	method := requested
	if method == MethodNone {
		method = settings.TwoFactorMethod
	}

	switch method {
	case MethodTOTP:
		return MethodTOTP, "", nil
	case MethodSMS:
		if e.sms != nil && user.Phone != "" {
			return MethodSMS, user.Phone, nil
		}
	case MethodEmail:
		if e.email != nil && user.Email != "" {
			return MethodEmail, user.Email, nil
		}
	default:
		return MethodNone, "", ErrSecondFactorMethodInvalid
	}

	if requested != MethodNone {
		return MethodNone, "", fmt.Errorf("%w: %s channel not usable for this user", ErrConfigurationIncomplete, method)
	}
	return MethodNone, "", nil
}

// availableMethods lists the channels this user could complete a challenge
// on. TOTP is always offered; the enrollment flow covers users without a
// committed secret.
func (e *Engine) availableMethods(user UserRecord) []Method {
	var methods []Method
	if e.email != nil && user.Email != "" {
		methods = append(methods, MethodEmail)
	}
	if e.sms != nil && user.Phone != "" {
		methods = append(methods, MethodSMS)
	}
	if e.totp != nil {
		methods = append(methods, MethodTOTP)
	}
	return methods
}

func (e *Engine) deliverCode(ctx context.Context, method Method, destination, code string) error {
	minutes := int(e.config.Challenge.TTL / time.Minute)
	body := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, minutes)

	// A stuck provider must not hold the login flow open past the
	// configured delivery window.
	if timeout := e.config.Challenge.DeliveryTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	switch method {
	case MethodEmail:
		return e.email.SendEmail(ctx, destination, "Your verification code", body)
	case MethodSMS:
		return e.sms.SendSMS(ctx, destination, body)
	default:
		return ErrSecondFactorMethodInvalid
	}
}

func (e *Engine) completeSecondFactor(
	ctx context.Context,
	sess *session.Session,
	user UserRecord,
	settings SecuritySettings,
) (*LoginResult, error) {
	sess.TwoFactorVerified = true
	sess.LastActivityAt = e.now().Unix()
	if err := e.sessionStore.Touch(ctx, sess, e.sessionTTL(settings, sess.Remember)); err != nil {
		return nil, err
	}

	state := LoginAuthenticated
	if settings.PasswordExpirationEnabled &&
		passwordExpired(user.LastPasswordChange, settings.PasswordExpirationDays, e.now()) {
		state = LoginPasswordExpired
	}

	e.metricInc(MetricLoginSuccess)
	e.auditEmit(ctx, AuditEvent{
		Action:  auditActionSecondFactor,
		UserID:  user.UserID,
		Success: true,
	})

	result := &LoginResult{
		State:     state,
		UserID:    user.UserID,
		SessionID: sess.SessionID,
	}
	if state == LoginPasswordExpired {
		result.Message = "Your password has expired and must be changed."
	}
	return result, nil
}

// maskDestination hides most of the address in user-facing challenge info.
func maskDestination(method Method, destination string) string {
	switch method {
	case MethodEmail:
		at := strings.IndexByte(destination, '@')
		if at <= 1 {
			return destination
		}
		return destination[:1] + strings.Repeat("*", at-1) + destination[at:]
	case MethodSMS:
		if len(destination) <= 4 {
			return destination
		}
		return strings.Repeat("*", len(destination)-4) + destination[len(destination)-4:]
	default:
		return destination
	}
}
