package session

// Session defines a public type used by authguard APIs.
//
// Session instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Session struct {
	SessionID string
	UserID    string
	Role      string

	// TwoFactorVerified is false for the interim session created between
	// password verification and second-factor completion.
	TwoFactorVerified bool
	Remember          bool

	CreatedAt      int64
	LastActivityAt int64
}
