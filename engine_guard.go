package authguard

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"time"

	"github.com/packlab/authguard/session"
)

// GuardRequest evaluates one protected request: IP allow-list first, then
// session existence, then the idle timeout, then second-factor completion.
// An allowed request refreshes the session's activity timestamp.
//
// GuardRequest may return an error when input validation, dependency calls, or security checks fail.
// GuardRequest does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) GuardRequest(ctx context.Context, sessionID, clientIP string) (GuardDecision, error) {
	if e == nil {
		return GuardRequireLogin, ErrEngineNotReady
	}
	settings := e.currentSettings(ctx)

	if clientIP == "" {
		clientIP = clientIPFromContext(ctx)
	}

	if settings.IPRestrictionEnabled {
		if !ipAllowed(clientIP, settings.AllowedIPs) {
			e.metricInc(MetricGuardDenied)
			e.auditEmit(ctx, AuditEvent{
				Action:  auditActionGuard,
				Module:  "ip_restriction",
				IP:      clientIP,
				Success: false,
				Error:   "address not in allow-list",
			})
			return GuardDeny, nil
		}
	}

	if sessionID == "" {
		return GuardRequireLogin, nil
	}

	sess, err := e.sessionStore.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrSessionCorrupt) {
			return GuardRequireLogin, nil
		}
		return GuardRequireLogin, err
	}

	if sessionIdleExpired(sess, settings, e.now()) {
		_ = e.sessionStore.Delete(ctx, sess.UserID, sessionID)
		e.metricInc(MetricSessionExpired)
		e.auditEmit(ctx, AuditEvent{
			Action:  auditActionGuard,
			Module:  "idle_timeout",
			UserID:  sess.UserID,
			Success: false,
			Error:   "session idle timeout",
		})
		return GuardRequireLogin, nil
	}

	if settings.TwoFactorEnabled && !sess.TwoFactorVerified {
		return GuardRequireSecondFactor, nil
	}

	sess.LastActivityAt = e.now().Unix()
	if err := e.sessionStore.Touch(ctx, sess, e.sessionTTL(settings, sess.Remember)); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return GuardRequireLogin, nil
		}
		return GuardRequireLogin, err
	}

	return GuardAllow, nil
}

// sessionIdleExpired reports whether the session sat unused past the
// session_timeout window. A zero timeout disables the idle check.
func sessionIdleExpired(sess *session.Session, settings SecuritySettings, now time.Time) bool {
	idle := time.Duration(settings.SessionTimeoutMinutes) * time.Minute
	return idle > 0 && now.Sub(time.Unix(sess.LastActivityAt, 0)) > idle
}

// ipAllowed matches the client address against allow-list entries, each a
// literal address or a CIDR block. An unparseable client address never
// matches.
func ipAllowed(clientIP string, allowed []string) bool {
	if len(allowed) == 0 {
		return false
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(clientIP))
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.ContainsRune(entry, '/') {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				continue
			}
			if prefix.Contains(addr) {
				return true
			}
			continue
		}
		if allowedAddr, err := netip.ParseAddr(entry); err == nil && allowedAddr.Unmap() == addr {
			return true
		}
	}
	return false
}
