package authguard

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
)

const policySymbols = `!@#$%^&*(),.?":{}|<>`

const (
	minPasswordLength      = 8
	minAdminPasswordLength = 10
	minAdminEntropyBits    = 50
)

// CheckComplexity applies the baseline password rules: at least eight
// characters with an uppercase letter, a lowercase letter, a digit, and a
// symbol. Rules are checked in order and the first violation is reported.
//
// CheckComplexity may return an error when input validation, dependency calls, or security checks fail.
// CheckComplexity does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func CheckComplexity(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters long", ErrPolicyViolation, minPasswordLength)
	}
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(policySymbols, r):
			hasSymbol = true
		}
	}
	if !hasUpper {
		return fmt.Errorf("%w: password must contain at least one uppercase letter", ErrPolicyViolation)
	}
	if !hasLower {
		return fmt.Errorf("%w: password must contain at least one lowercase letter", ErrPolicyViolation)
	}
	if !hasDigit {
		return fmt.Errorf("%w: password must contain at least one number", ErrPolicyViolation)
	}
	if !hasSymbol {
		return fmt.Errorf("%w: password must contain at least one special character", ErrPolicyViolation)
	}
	return nil
}

// CheckAdminComplexity applies the stricter rules for administrative
// accounts: everything [CheckComplexity] requires, a minimum of ten
// characters, and an estimated entropy of at least 50 bits.
//
// CheckAdminComplexity may return an error when input validation, dependency calls, or security checks fail.
// CheckAdminComplexity does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func CheckAdminComplexity(password string) error {
	if err := CheckComplexity(password); err != nil {
		return err
	}
	if len(password) < minAdminPasswordLength {
		return fmt.Errorf("%w: administrator passwords must be at least %d characters long", ErrPolicyViolation, minAdminPasswordLength)
	}
	if EstimateEntropyBits(password) < minAdminEntropyBits {
		return fmt.Errorf("%w: password is too predictable, use a longer or more varied password", ErrPolicyViolation)
	}
	return nil
}

// EstimateEntropyBits returns length * log2(pool), where the pool counts
// the character classes actually present: 26 for lowercase, 26 for
// uppercase, 10 for digits, and 30 for symbols.
func EstimateEntropyBits(password string) float64 {
	var hasUpper, hasLower, hasDigit, hasOther bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasOther = true
		}
	}
	pool := 0
	if hasLower {
		pool += 26
	}
	if hasUpper {
		pool += 26
	}
	if hasDigit {
		pool += 10
	}
	if hasOther {
		pool += 30
	}
	if pool == 0 {
		return 0
	}
	return float64(len(password)) * math.Log2(float64(pool))
}

// passwordExpired reports whether the account's password is past its
// expiration window. A zero lastChanged counts as expired, forcing a change
// on first login after the policy is enabled.
func passwordExpired(lastChanged time.Time, days int, now time.Time) bool {
	if days <= 0 {
		return false
	}
	if lastChanged.IsZero() {
		return true
	}
	return now.After(lastChanged.Add(time.Duration(days) * 24 * time.Hour))
}
