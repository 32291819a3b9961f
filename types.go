package authguard

import (
	"context"
	"strings"
	"time"
)

// RoleAdmin is an exported constant or variable used by the authentication engine.
//
// Accounts carrying this role are subject to the stricter password policy,
// password expiration, and the second-factor requirement.
const RoleAdmin = "admin"

// Method identifies a second-factor channel.
//
//	Docs: docs/second_factor.md
type Method uint8

const (
	// MethodNone is an exported constant or variable used by the authentication engine.
	MethodNone Method = iota
	// MethodEmail is an exported constant or variable used by the authentication engine.
	MethodEmail
	// MethodSMS is an exported constant or variable used by the authentication engine.
	MethodSMS
	// MethodTOTP is an exported constant or variable used by the authentication engine.
	MethodTOTP
)

// String describes the string operation and its observable behavior.
//
// String does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m Method) String() string {
	switch m {
	case MethodEmail:
		return "email"
	case MethodSMS:
		return "sms"
	case MethodTOTP:
		return "totp"
	default:
		return "none"
	}
}

// ParseMethod maps a configuration string onto a [Method]. Unknown values
// return [MethodNone] and false.
func ParseMethod(value string) (Method, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "email":
		return MethodEmail, true
	case "sms":
		return MethodSMS, true
	case "totp":
		return MethodTOTP, true
	default:
		return MethodNone, false
	}
}

// UserRecord is the account record returned by [CredentialStore]. It carries
// the identity fields and password metadata the engine needs; the host
// application owns everything else about the user.
type UserRecord struct {
	UserID             string
	Username           string
	Email              string
	Phone              string
	PasswordHash       string
	Role               string
	LastPasswordChange time.Time // zero value means never changed
}

// IsAdmin describes the isadmin operation and its observable behavior.
//
// IsAdmin does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (u UserRecord) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CredentialStore is the interface that callers must implement to integrate
// authguard with their user database. It covers lookup, password
// verification, and password updates; the engine never sees plaintext
// passwords outside of the verification and hashing calls.
//
//	Docs: docs/engine.md
type CredentialStore interface {
	FindByUsername(ctx context.Context, username string) (UserRecord, error)
	FindByEmail(ctx context.Context, email string) (UserRecord, error)
	FindByID(ctx context.Context, userID string) (UserRecord, error)
	VerifyPassword(ctx context.Context, record UserRecord, plaintext string) (bool, error)
	UpdatePasswordHash(ctx context.Context, userID, newHash string, changedAt time.Time) error
}

// ConfigStore is a namespaced key-value store. The engine reads
// [SecuritySettings] from security.* keys on every call and persists TOTP
// secrets under totp.<userID>.
type ConfigStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value, updatedBy string) error
}

// EmailSender delivers outbound mail. [Engine] treats a non-nil error as
// delivery failure and rolls back any challenge created for the message.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender delivers outbound text messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// LoginState is the terminal classification of a login attempt.
type LoginState uint8

const (
	// LoginRejected is an exported constant or variable used by the authentication engine.
	LoginRejected LoginState = iota
	// LoginLocked is an exported constant or variable used by the authentication engine.
	LoginLocked
	// LoginSecondFactorRequired is an exported constant or variable used by the authentication engine.
	LoginSecondFactorRequired
	// LoginAuthenticated is an exported constant or variable used by the authentication engine.
	LoginAuthenticated
	// LoginPasswordExpired is an exported constant or variable used by the authentication engine.
	//
	// The session is established, but the caller must route the user to a
	// mandatory password change before any other admin action.
	LoginPasswordExpired
)

// NextStep tells the web layer what to render after a login that did not
// fully authenticate.
type NextStep uint8

const (
	// StepNone is an exported constant or variable used by the authentication engine.
	StepNone NextStep = iota
	// StepSelectMethod is an exported constant or variable used by the authentication engine.
	StepSelectMethod
	// StepEnrollTOTP is an exported constant or variable used by the authentication engine.
	StepEnrollTOTP
	// StepEnterCode is an exported constant or variable used by the authentication engine.
	StepEnterCode
)

// LoginResult is returned by [Engine.Login] and
// [Engine.SubmitSecondFactorCode]. SessionID and SessionToken are set only
// when State is [LoginAuthenticated] or [LoginPasswordExpired].
type LoginResult struct {
	State        LoginState
	UserID       string
	SessionID    string
	SessionToken string
	Method       Method
	NextStep     NextStep
	Message      string
}

// ChallengeInfo describes a pending second-factor challenge issued by
// [Engine.ResolveSecondFactor]. When NextStep is [StepSelectMethod] no
// challenge was issued yet and Available lists the channels the user can
// pick from.
type ChallengeInfo struct {
	Method      Method
	Destination string
	ExpiresAt   time.Time
	NextStep    NextStep
	Available   []Method
}

// TOTPEnrollment holds the provisioning material returned by
// [Engine.BeginTOTPEnrollment]. Nothing is persisted until the caller
// confirms a first code via [Engine.ConfirmTOTPEnrollment].
type TOTPEnrollment struct {
	Secret string
	URI    string
	QRPNG  []byte
}

// GuardDecision is returned by [Engine.GuardRequest] for each protected
// request.
type GuardDecision uint8

const (
	// GuardAllow is an exported constant or variable used by the authentication engine.
	GuardAllow GuardDecision = iota
	// GuardRequireLogin is an exported constant or variable used by the authentication engine.
	GuardRequireLogin
	// GuardRequireSecondFactor is an exported constant or variable used by the authentication engine.
	GuardRequireSecondFactor
	// GuardDeny is an exported constant or variable used by the authentication engine.
	//
	// The caller's address failed the IP allow-list; re-authenticating
	// does not help.
	GuardDeny
)
