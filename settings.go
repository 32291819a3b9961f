package authguard

import (
	"context"
	"strconv"
	"strings"
)

const securityKeyPrefix = "security."

// SecuritySettings is the dynamic policy state read from the [ConfigStore]
// under security.* keys. The engine reloads it on every operation so that
// an administrator's change takes effect without a restart.
//
//	Docs: docs/settings.md
type SecuritySettings struct {
	PasswordComplexity        bool
	PasswordExpirationEnabled bool
	PasswordExpirationDays    int
	PasswordHistoryEnabled    bool
	PasswordHistoryCount      int
	AccountLockoutEnabled     bool
	AccountLockoutAttempts    int
	AccountLockoutDuration    int // minutes, 0 means permanent
	SessionTimeoutMinutes     int
	IPRestrictionEnabled      bool
	AllowedIPs                []string
	TwoFactorEnabled          bool
	TwoFactorMethod           Method
}

func defaultSecuritySettings() SecuritySettings {
	return SecuritySettings{
		PasswordComplexity:        true,
		PasswordExpirationEnabled: true,
		PasswordExpirationDays:    90,
		PasswordHistoryEnabled:    true,
		PasswordHistoryCount:      5,
		AccountLockoutEnabled:     true,
		AccountLockoutAttempts:    5,
		AccountLockoutDuration:    30,
		SessionTimeoutMinutes:     60,
		IPRestrictionEnabled:      false,
		AllowedIPs:                nil,
		TwoFactorEnabled:          false,
		TwoFactorMethod:           MethodEmail,
	}
}

// loadSecuritySettings overlays stored values on the defaults. A missing or
// malformed key falls back to its default rather than failing the caller's
// operation; only a store error propagates.
func loadSecuritySettings(ctx context.Context, store ConfigStore) (SecuritySettings, error) {
	s := defaultSecuritySettings()
	if store == nil {
		return s, nil
	}

	var readErr error
	getBool := func(key string, dst *bool) {
		raw, ok, err := store.Get(ctx, securityKeyPrefix+key)
		if err != nil {
			readErr = err
			return
		}
		if !ok {
			return
		}
		if v, err := strconv.ParseBool(strings.TrimSpace(raw)); err == nil {
			*dst = v
		}
	}
	getInt := func(key string, dst *int) {
		raw, ok, err := store.Get(ctx, securityKeyPrefix+key)
		if err != nil {
			readErr = err
			return
		}
		if !ok {
			return
		}
		if v, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && v >= 0 {
			*dst = v
		}
	}

	getBool("password_complexity", &s.PasswordComplexity)
	getBool("password_expiration_enabled", &s.PasswordExpirationEnabled)
	getInt("password_expiration_days", &s.PasswordExpirationDays)
	getBool("password_history_enabled", &s.PasswordHistoryEnabled)
	getInt("password_history_count", &s.PasswordHistoryCount)
	getBool("account_lockout_enabled", &s.AccountLockoutEnabled)
	getInt("account_lockout_attempts", &s.AccountLockoutAttempts)
	getInt("account_lockout_duration", &s.AccountLockoutDuration)
	getInt("session_timeout", &s.SessionTimeoutMinutes)
	getBool("ip_restriction_enabled", &s.IPRestrictionEnabled)
	getBool("two_factor_enabled", &s.TwoFactorEnabled)

	if raw, ok, err := store.Get(ctx, securityKeyPrefix+"allowed_ips"); err != nil {
		readErr = err
	} else if ok {
		s.AllowedIPs = splitAllowedIPs(raw)
	}

	if raw, ok, err := store.Get(ctx, securityKeyPrefix+"two_factor_method"); err != nil {
		readErr = err
	} else if ok {
		if m, valid := ParseMethod(raw); valid {
			s.TwoFactorMethod = m
		}
	}

	if readErr != nil {
		return defaultSecuritySettings(), readErr
	}
	return s, nil
}

// splitAllowedIPs accepts newline or comma separated entries, each either a
// literal address or a CIDR block.
func splitAllowedIPs(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\n' || r == '\r' || r == ','
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
