package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	authguard "github.com/packlab/authguard"
	"github.com/packlab/authguard/session"
)

// SessionCookie is the cookie the guard reads the session token from when
// no Authorization header is present.
const SessionCookie = "ag_session"

type sessionContextKey struct{}

func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(*session.Session)
	return sess, ok
}

// Options control how guard rejections are rendered. Zero values produce
// plain 401/403 responses; redirect targets turn them into redirects for
// browser-facing handlers.
type Options struct {
	LoginURL        string
	SecondFactorURL string
}

// Guard returns middleware that authenticates each request through
// [authguard.Engine.GuardRequest] and injects the session into the request
// context on success.
func Guard(engine *authguard.Engine, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			clientIP := remoteIP(r)
			ctx := authguard.WithClientIP(r.Context(), clientIP)
			ctx = authguard.WithUserAgent(ctx, r.UserAgent())

			sessionID := ""
			if token, ok := requestToken(r); ok {
				if sid, err := engine.ParseSessionToken(token); err == nil {
					sessionID = sid
				}
			}

			decision, err := engine.GuardRequest(ctx, sessionID, clientIP)
			if err != nil {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}

			switch decision {
			case authguard.GuardAllow:
				sess, err := engine.Session(ctx, sessionID)
				if err != nil {
					reject(w, r, http.StatusUnauthorized, opts.LoginURL)
					return
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, sessionContextKey{}, sess)))
			case authguard.GuardRequireSecondFactor:
				reject(w, r, http.StatusUnauthorized, opts.SecondFactorURL)
			case authguard.GuardDeny:
				reject(w, r, http.StatusForbidden, "")
			default:
				reject(w, r, http.StatusUnauthorized, opts.LoginURL)
			}
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, status int, redirectURL string) {
	if redirectURL != "" {
		http.Redirect(w, r, redirectURL, http.StatusSeeOther)
		return
	}
	if status == http.StatusForbidden {
		http.Error(w, "forbidden", status)
		return
	}
	http.Error(w, "unauthorized", status)
}

func requestToken(r *http.Request) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	return "", false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func remoteIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
