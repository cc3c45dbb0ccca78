// ABOUTME: Tests for credential resolution and HTTP bearer middleware
// ABOUTME: Covers API key lookup, session JWT fallback, and context injection

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tetherlabs/tether/internal/store"
)

// fakeUserStore resolves exactly one credential.
type fakeUserStore struct {
	credential string
	userID     string
}

func (f *fakeUserStore) LookupUserByCredential(_ context.Context, credential string) (*store.User, error) {
	if credential == f.credential {
		return &store.User{UserID: f.userID, CreatedAt: time.Now()}, nil
	}
	return nil, store.ErrNotFound
}

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	return NewAuthenticator(
		&fakeUserStore{credential: "tether_valid-key", userID: "user-api"},
		newTestVerifier(t),
	)
}

func TestAuthenticate_APIKey(t *testing.T) {
	a := newTestAuthenticator(t)

	userID, err := a.Authenticate(context.Background(), "tether_valid-key")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if userID != "user-api" {
		t.Errorf("Authenticate() = %q, want %q", userID, "user-api")
	}
}

func TestAuthenticate_SessionJWT(t *testing.T) {
	a := newTestAuthenticator(t)

	token, err := a.verifier.Generate("user-jwt", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	userID, err := a.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if userID != "user-jwt" {
		t.Errorf("Authenticate() = %q, want %q", userID, "user-jwt")
	}
}

func TestAuthenticate_Invalid(t *testing.T) {
	a := newTestAuthenticator(t)

	for _, credential := range []string{"", "tether_wrong-key", "bogus"} {
		if _, err := a.Authenticate(context.Background(), credential); err == nil {
			t.Errorf("Authenticate(%q) expected error", credential)
		}
	}
}

func TestMiddleware_InjectsUser(t *testing.T) {
	a := newTestAuthenticator(t)

	var gotUser string
	handler := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer tether_valid-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotUser != "user-api" {
		t.Errorf("UserFromContext() = %q, want %q", gotUser, "user-api")
	}
}

func TestMiddleware_RejectsMissingHeader(t *testing.T) {
	a := newTestAuthenticator(t)

	handler := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"empty token", "Bearer "},
		{"unknown credential", "Bearer tether_wrong-key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestCredentialFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws/client?token=query-token", nil)
	if got := CredentialFromRequest(req, "token"); got != "query-token" {
		t.Errorf("CredentialFromRequest() = %q, want %q", got, "query-token")
	}

	req.Header.Set("Authorization", "Bearer header-token")
	if got := CredentialFromRequest(req, "token"); got != "header-token" {
		t.Errorf("CredentialFromRequest() = %q, want header to win, got %q", got, "header-token")
	}
}

func TestUserFromContext_Absent(t *testing.T) {
	if got := UserFromContext(context.Background()); got != "" {
		t.Errorf("UserFromContext() = %q, want empty", got)
	}
}
