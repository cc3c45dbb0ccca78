// ABOUTME: Credential resolution and HTTP bearer middleware
// ABOUTME: Accepts session JWTs or stored API keys and injects the user id into context

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/tetherlabs/tether/internal/store"
)

// ErrInvalidCredential is returned when a credential matches neither a
// session token nor a stored API key.
var ErrInvalidCredential = errors.New("invalid credential")

// UserStore is the subset of store.Store the authenticator needs.
type UserStore interface {
	LookupUserByCredential(ctx context.Context, credential string) (*store.User, error)
}

// Authenticator resolves a raw credential to a user id. Session JWTs are
// verified locally; anything else is looked up as an API key hash.
type Authenticator struct {
	store    UserStore
	verifier *JWTVerifier
}

// NewAuthenticator creates an Authenticator backed by the given store and verifier.
func NewAuthenticator(s UserStore, verifier *JWTVerifier) *Authenticator {
	return &Authenticator{store: s, verifier: verifier}
}

// Authenticate resolves a credential to a user id.
// Returns ErrInvalidCredential for anything it cannot resolve.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (string, error) {
	if credential == "" {
		return "", ErrInvalidCredential
	}

	// Session tokens verify locally without touching the store.
	if userID, err := a.verifier.Verify(credential); err == nil {
		return userID, nil
	}

	user, err := a.store.LookupUserByCredential(ctx, credential)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidCredential
		}
		return "", err
	}
	return user.UserID, nil
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Middleware creates an HTTP middleware that resolves the bearer credential
// and adds the user id to the request context via WithUser.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			userID, err := a.Authenticate(r.Context(), token)
			if err != nil {
				http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
		})
	}
}

// CredentialFromRequest pulls a credential from either the Authorization
// header or a query parameter. Websocket dials from browsers cannot set
// headers, so ?token= / ?api_key= are accepted there.
func CredentialFromRequest(r *http.Request, queryParam string) string {
	if token, errMsg := extractBearerToken(r.Header.Get("Authorization")); errMsg == "" {
		return token
	}
	return r.URL.Query().Get(queryParam)
}
