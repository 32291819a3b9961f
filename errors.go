package authguard

import "errors"

var (
	// ErrInvalidCredentials is an exported constant or variable used by the authentication engine.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrUserNotFound is an exported constant or variable used by the authentication engine.
	ErrUserNotFound = errors.New("user not found")
	// ErrPolicyViolation is an exported constant or variable used by the authentication engine.
	ErrPolicyViolation = errors.New("password policy violation")
	// ErrPasswordReuse is an exported constant or variable used by the authentication engine.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrPasswordRecentlyUsed is an exported constant or variable used by the authentication engine.
	ErrPasswordRecentlyUsed = errors.New("password was used recently")
	// ErrTokenExpired is an exported constant or variable used by the authentication engine.
	ErrTokenExpired = errors.New("reset token expired")
	// ErrTokenTampered is an exported constant or variable used by the authentication engine.
	ErrTokenTampered = errors.New("reset token signature mismatch")
	// ErrTokenSpent is an exported constant or variable used by the authentication engine.
	ErrTokenSpent = errors.New("reset token already used")
	// ErrChallengeNotFound is an exported constant or variable used by the authentication engine.
	ErrChallengeNotFound = errors.New("no pending challenge")
	// ErrChallengeExpired is an exported constant or variable used by the authentication engine.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrChallengeMismatch is an exported constant or variable used by the authentication engine.
	ErrChallengeMismatch = errors.New("challenge code mismatch")
	// ErrChallengeAttemptsExceeded is an exported constant or variable used by the authentication engine.
	ErrChallengeAttemptsExceeded = errors.New("challenge attempts exceeded")
	// ErrChallengeUnavailable is an exported constant or variable used by the authentication engine.
	ErrChallengeUnavailable = errors.New("challenge backend unavailable")
	// ErrDeliveryFailed is an exported constant or variable used by the authentication engine.
	ErrDeliveryFailed = errors.New("verification code delivery failed")
	// ErrConfigurationIncomplete is an exported constant or variable used by the authentication engine.
	ErrConfigurationIncomplete = errors.New("delivery channel configuration incomplete")
	// ErrSecondFactorMethodInvalid is an exported constant or variable used by the authentication engine.
	ErrSecondFactorMethodInvalid = errors.New("invalid second factor method")
	// ErrTOTPNotEnrolled is an exported constant or variable used by the authentication engine.
	ErrTOTPNotEnrolled = errors.New("totp not enrolled")
	// ErrTOTPInvalid is an exported constant or variable used by the authentication engine.
	ErrTOTPInvalid = errors.New("invalid totp code")
	// ErrLockoutUnavailable is an exported constant or variable used by the authentication engine.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
	// ErrSessionNotFound is an exported constant or variable used by the authentication engine.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is an exported constant or variable used by the authentication engine.
	//
	// Returned by [Engine.Session] when the record outlived the idle
	// window and was destroyed.
	ErrSessionExpired = errors.New("session expired")
	// ErrEngineNotReady is an exported constant or variable used by the authentication engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
