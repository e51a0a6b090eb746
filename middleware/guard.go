// Package middleware provides net/http wrappers around the engine's
// authorization gate for services that do not use the fiber transport.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/feastbook/authcore"
)

const (
	msgNoToken      = "No token provided"
	msgTokenExpired = "Token expired"
	msgTokenInvalid = "Invalid token"
	msgForbidden    = "Forbidden"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the verified result installed by Guard.
func AuthResultFromContext(ctx context.Context) (*authcore.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*authcore.AuthResult)
	return res, ok
}

// PrincipalFromContext is a shortcut for the reloaded principal.
func PrincipalFromContext(ctx context.Context) (*authcore.Principal, bool) {
	res, ok := AuthResultFromContext(ctx)
	if !ok || res.Principal == nil {
		return nil, false
	}
	return res.Principal, true
}

// Guard authenticates every request with a bearer session token. The three
// rejection messages are distinct so clients can tell a missing header from
// an expired session from a forged token.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeMessage(w, http.StatusUnauthorized, msgTokenInvalid)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeMessage(w, http.StatusUnauthorized, msgNoToken)
				return
			}

			ctx := authcore.WithClientIP(r.Context(), clientIP(r))
			ctx = authcore.WithUserAgent(ctx, r.UserAgent())

			res, err := engine.Authorize(ctx, token)
			if err != nil {
				switch {
				case errors.Is(err, authcore.ErrTokenExpired):
					writeMessage(w, http.StatusUnauthorized, msgTokenExpired)
				default:
					writeMessage(w, http.StatusUnauthorized, msgTokenInvalid)
				}
				return
			}

			ctx = context.WithValue(ctx, authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects principals without the admin role. Must run inside
// Guard.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, ok := AuthResultFromContext(r.Context())
		if !ok || !res.IsAdmin() {
			writeMessage(w, http.StatusForbidden, msgForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSystemAdmin rejects everyone but admin-role accounts. Admin members
// do not pass. Must run inside Guard.
func RequireSystemAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, ok := AuthResultFromContext(r.Context())
		if !ok || !res.IsSystemAdmin() {
			writeMessage(w, http.StatusForbidden, msgForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
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

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if i := strings.IndexByte(forwarded, ','); i >= 0 {
			return strings.TrimSpace(forwarded[:i])
		}
		return strings.TrimSpace(forwarded)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
