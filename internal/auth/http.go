// ABOUTME: HTTP middleware for JWT authentication on API and websocket endpoints
// ABOUTME: Extracts the token from the Authorization header or the access_token cookie

package auth

import (
	"net/http"
	"strings"
)

// TokenCookieName is the cookie the login handler sets and the websocket
// endpoints read. Browser WebSocket clients cannot set request headers, so
// the cookie is the primary credential for live connections.
const TokenCookieName = "access_token"

// extractToken pulls a token from the Authorization header or, failing that,
// the access_token cookie. Returns the token and an error message (empty if
// successful).
func extractToken(r *http.Request) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return "", "invalid authorization header format"
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			return "", "empty token"
		}
		return token, ""
	}

	cookie, err := r.Cookie(TokenCookieName)
	if err != nil || cookie.Value == "" {
		return "", "missing credentials"
	}
	return cookie.Value, ""
}

// HTTPMiddleware creates an HTTP middleware that extracts and validates
// tokens and attaches the verified Identity to the request context.
func HTTPMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractToken(r)
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			identity, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
