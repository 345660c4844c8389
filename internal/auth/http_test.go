// ABOUTME: Tests for the HTTP auth middleware and token extraction
// ABOUTME: Covers Bearer headers, the access_token cookie, and rejection paths

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relayhq/livedesk/internal/store"
)

func newAuthedHandler(t *testing.T, verifier TokenVerifier) (http.Handler, *Identity) {
	t.Helper()

	var captured Identity
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := FromContext(r.Context())
		if id == nil {
			t.Error("identity missing from request context")
			return
		}
		captured = *id
		w.WriteHeader(http.StatusOK)
	})

	return HTTPMiddleware(verifier)(inner), &captured
}

func TestHTTPMiddleware_BearerHeader(t *testing.T) {
	verifier := NewJWTVerifier([]byte("test-secret"))
	token, err := verifier.Generate(&Identity{Username: "alice", Role: store.RoleCustomer}, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	handler, captured := newAuthedHandler(t, verifier)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if captured.Username != "alice" || captured.Role != store.RoleCustomer {
		t.Errorf("identity mismatch: %+v", captured)
	}
}

func TestHTTPMiddleware_Cookie(t *testing.T) {
	verifier := NewJWTVerifier([]byte("test-secret"))
	token, err := verifier.Generate(&Identity{Username: "dana", Role: store.RoleAgent}, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	handler, captured := newAuthedHandler(t, verifier)

	req := httptest.NewRequest(http.MethodGet, "/ws/conversations/conv-1", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: token})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if captured.Username != "dana" || captured.Role != store.RoleAgent {
		t.Errorf("identity mismatch: %+v", captured)
	}
}

func TestHTTPMiddleware_HeaderTakesPriorityOverCookie(t *testing.T) {
	verifier := NewJWTVerifier([]byte("test-secret"))
	headerToken, _ := verifier.Generate(&Identity{Username: "alice", Role: store.RoleCustomer}, time.Hour)
	cookieToken, _ := verifier.Generate(&Identity{Username: "dana", Role: store.RoleAgent}, time.Hour)

	handler, captured := newAuthedHandler(t, verifier)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+headerToken)
	req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: cookieToken})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if captured.Username != "alice" {
		t.Errorf("expected header identity to win, got %q", captured.Username)
	}
}

func TestHTTPMiddleware_Rejections(t *testing.T) {
	verifier := NewJWTVerifier([]byte("test-secret"))
	handler, _ := newAuthedHandler(t, verifier)

	tests := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{
			name:  "no credentials",
			setup: func(r *http.Request) {},
		},
		{
			name: "malformed authorization header",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
			},
		},
		{
			name: "empty bearer token",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer ")
			},
		},
		{
			name: "garbage cookie",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: TokenCookieName, Value: "garbage"})
			},
		},
		{
			name: "expired token",
			setup: func(r *http.Request) {
				token, _ := verifier.Generate(&Identity{Username: "alice", Role: store.RoleCustomer}, -time.Hour)
				r.Header.Set("Authorization", "Bearer "+token)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}
