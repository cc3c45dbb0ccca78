// Package auth provides authentication for the tether relay.
//
// # Authentication Methods
//
// Two credential kinds resolve to a user:
//
//   - API keys: long-lived credentials handed out at account creation
//     ("tether_" prefix + 32 random bytes, base64url). Only the SHA-256
//     hash is stored; lookup goes through the store.
//
//   - Session JWTs: short-lived tokens minted when a pairing code is
//     redeemed. Signed with HS256 using the configured jwt_secret and
//     verified locally without a store round-trip.
//
// The Authenticator tries both in that order behind a single
// Authenticate(ctx, credential) entry point. HTTP handlers use
// Authenticator.Middleware, which injects the resolved user id into the
// request context (UserFromContext). Websocket endpoints, which cannot
// always send headers, extract credentials with CredentialFromRequest.
//
// # Token Management
//
//	verifier, err := auth.NewJWTVerifier([]byte(secret))
//	token, err := verifier.Generate(userID, 30*24*time.Hour)
//	userID, err := verifier.Verify(token)
//
// Verify rejects tokens signed with an unexpected method and maps expiry
// to ErrExpiredToken.
package auth
