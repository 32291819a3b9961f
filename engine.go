package authguard

import (
	"context"
	"errors"
	"time"

	"github.com/packlab/authguard/internal"
	"github.com/packlab/authguard/password"
	"github.com/packlab/authguard/session"
	"github.com/packlab/authguard/sessiontoken"
)

// Engine defines a public type used by authguard APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config       Config
	credentials  CredentialStore
	configStore  ConfigStore
	email        EmailSender
	sms          SMSSender
	sessionStore *session.Store
	tokens       *sessiontoken.Manager
	lockouts     *lockoutTracker
	challenges   *challengeStore
	history      *passwordHistoryStore
	spentTokens  *spentTokenStore
	resetTokens  *resetTokenCodec
	totp         *totpProvisioner
	hasher       *password.Hasher
	audit        *auditDispatcher
	metrics      *Metrics
	nowFn        func() time.Time
}

// Close describes the close operation and its observable behavior.
//
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) auditEmit(ctx context.Context, event AuditEvent) {
	if e == nil || e.audit == nil {
		return
	}
	e.audit.Emit(ctx, event)
}

// currentSettings reads security.* keys on demand. A config store outage
// falls back to the shipped defaults so authentication stays available.
func (e *Engine) currentSettings(ctx context.Context) SecuritySettings {
	settings, err := loadSecuritySettings(ctx, e.configStore)
	if err != nil {
		return defaultSecuritySettings()
	}
	return settings
}

func (e *Engine) now() time.Time {
	return e.nowFn()
}

// Login verifies credentials against the lockout throttle and the credential
// store, then either establishes a session or parks the login behind a
// second-factor requirement.
//
// Login may return an error when input validation, dependency calls, or security checks fail.
// Login does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Login(ctx context.Context, username, plaintext string, remember bool) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	settings := e.currentSettings(ctx)

	if settings.AccountLockoutEnabled {
		locked, message, err := e.lockouts.Status(ctx, username)
		if err != nil {
			return nil, err
		}
		if locked {
			e.metricInc(MetricLoginLocked)
			e.auditEmit(ctx, AuditEvent{
				Action:   auditActionLogin,
				Module:   "lockout",
				Username: username,
				Success:  false,
				Error:    "account locked",
			})
			return &LoginResult{State: LoginLocked, Message: message}, nil
		}
	}

	user, err := e.credentials.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return e.loginFailure(ctx, username, settings)
		}
		return nil, err
	}

	ok, err := e.credentials.VerifyPassword(ctx, user, plaintext)
	if err != nil {
		return nil, err
	}
	if !ok {
		return e.loginFailure(ctx, username, settings)
	}

	if settings.AccountLockoutEnabled {
		if err := e.lockouts.RecordSuccess(ctx, username); err != nil {
			return nil, err
		}
	}

	if settings.TwoFactorEnabled && user.IsAdmin() {
		return e.loginSecondFactorPending(ctx, user, remember, settings)
	}

	return e.loginAuthenticated(ctx, user, remember, true, settings)
}

func (e *Engine) loginFailure(ctx context.Context, username string, settings SecuritySettings) (*LoginResult, error) {
	e.metricInc(MetricLoginFailure)
	e.auditEmit(ctx, AuditEvent{
		Action:   auditActionLogin,
		Module:   "credentials",
		Username: username,
		Success:  false,
		Error:    "invalid credentials",
	})

	if settings.AccountLockoutEnabled {
		tripped, err := e.lockouts.RecordFailure(
			ctx,
			username,
			settings.AccountLockoutAttempts,
			settings.AccountLockoutDuration,
		)
		if err != nil {
			return nil, err
		}
		if tripped {
			e.metricInc(MetricLoginLocked)
			_, message, err := e.lockouts.Status(ctx, username)
			if err != nil {
				return nil, err
			}
			return &LoginResult{State: LoginLocked, Message: message}, nil
		}
	}

	return &LoginResult{State: LoginRejected, Message: "Invalid username or password."}, nil
}

func (e *Engine) loginSecondFactorPending(
	ctx context.Context,
	user UserRecord,
	remember bool,
	settings SecuritySettings,
) (*LoginResult, error) {
	sessionID, token, err := e.createSession(ctx, user, remember, false, settings)
	if err != nil {
		return nil, err
	}

	method, _, err := e.resolveMethod(user, settings, MethodNone)
	if err != nil {
		return nil, err
	}
	step := StepEnterCode
	switch method {
	case MethodNone:
		// The configured channel cannot reach this user; they pick one
		// via ResolveSecondFactor instead.
		step = StepSelectMethod
	case MethodTOTP:
		enrolled, err := e.totp.Enrolled(ctx, user.UserID)
		if err != nil {
			return nil, err
		}
		if !enrolled {
			step = StepEnrollTOTP
		}
	}

	e.auditEmit(ctx, AuditEvent{
		Action:  auditActionLogin,
		Module:  "second_factor",
		UserID:  user.UserID,
		Success: true,
		Details: map[string]string{"method": method.String()},
	})

	return &LoginResult{
		State:        LoginSecondFactorRequired,
		UserID:       user.UserID,
		SessionID:    sessionID,
		SessionToken: token,
		Method:       method,
		NextStep:     step,
	}, nil
}

func (e *Engine) loginAuthenticated(
	ctx context.Context,
	user UserRecord,
	remember bool,
	verified bool,
	settings SecuritySettings,
) (*LoginResult, error) {
	sessionID, token, err := e.createSession(ctx, user, remember, verified, settings)
	if err != nil {
		return nil, err
	}

	state := LoginAuthenticated
	if settings.PasswordExpirationEnabled &&
		passwordExpired(user.LastPasswordChange, settings.PasswordExpirationDays, e.now()) {
		state = LoginPasswordExpired
	}

	e.metricInc(MetricLoginSuccess)
	e.auditEmit(ctx, AuditEvent{
		Action:  auditActionLogin,
		UserID:  user.UserID,
		Success: true,
	})

	result := &LoginResult{
		State:        state,
		UserID:       user.UserID,
		SessionID:    sessionID,
		SessionToken: token,
	}
	if state == LoginPasswordExpired {
		result.Message = "Your password has expired and must be changed."
	}
	return result, nil
}

func (e *Engine) createSession(
	ctx context.Context,
	user UserRecord,
	remember bool,
	verified bool,
	settings SecuritySettings,
) (string, string, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return "", "", err
	}

	now := e.now().Unix()
	sess := &session.Session{
		SessionID:         sid.String(),
		UserID:            user.UserID,
		Role:              user.Role,
		TwoFactorVerified: verified,
		Remember:          remember,
		CreatedAt:         now,
		LastActivityAt:    now,
	}

	if err := e.sessionStore.Save(ctx, sess, e.sessionTTL(settings, remember)); err != nil {
		return "", "", err
	}

	tokenTTL := e.config.Session.TokenTTL
	if remember {
		tokenTTL = e.config.Session.RememberTTL
	}
	token, err := e.tokens.Issue(sess.SessionID, tokenTTL)
	if err != nil {
		return "", "", err
	}

	e.metricInc(MetricSessionCreated)
	return sess.SessionID, token, nil
}

// sessionTTL is the Redis expiry, a backstop behind the idle timeout that
// GuardRequest enforces. Remembered sessions survive browser restarts up to
// the remember window.
func (e *Engine) sessionTTL(settings SecuritySettings, remember bool) time.Duration {
	idle := time.Duration(settings.SessionTimeoutMinutes) * time.Minute
	if idle <= 0 {
		idle = time.Hour
	}
	if remember && e.config.Session.RememberTTL > idle {
		return e.config.Session.RememberTTL
	}
	if e.config.Session.TokenTTL > idle {
		return e.config.Session.TokenTTL
	}
	return idle
}

// ParseSessionToken maps a signed web token back to its session ID.
//
// ParseSessionToken may return an error when input validation, dependency calls, or security checks fail.
// ParseSessionToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ParseSessionToken(token string) (string, error) {
	return e.tokens.Parse(token)
}

// Session returns the stored session record for middleware that needs the
// authenticated identity after a [GuardAllow] decision. A session past the
// idle window is destroyed and reported as [ErrSessionExpired].
func (e *Engine) Session(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := e.sessionStore.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if sessionIdleExpired(sess, e.currentSettings(ctx), e.now()) {
		_ = e.sessionStore.Delete(ctx, sess.UserID, sessionID)
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// Logout destroys the session. Unknown session IDs are not an error.
//
// Logout may return an error when input validation, dependency calls, or security checks fail.
// Logout does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	sess, err := e.sessionStore.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil
		}
		return err
	}

	if err := e.sessionStore.Delete(ctx, sess.UserID, sessionID); err != nil {
		return err
	}

	e.metricInc(MetricLogout)
	e.auditEmit(ctx, AuditEvent{
		Action:  auditActionLogout,
		UserID:  sess.UserID,
		Success: true,
	})
	return nil
}
