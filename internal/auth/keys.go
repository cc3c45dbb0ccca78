// ABOUTME: API key generation and credential hashing
// ABOUTME: Raw keys exist only in the response that minted them; only hashes persist

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// apiKeyBytes is the entropy of a generated key before encoding.
const apiKeyBytes = 32

// GenerateAPIKey creates a new random API key with the given prefix,
// e.g. "tether_dGhpcyBpcyBub3QgYSByZWFsIGtleQ".
func GenerateAPIKey(prefix string) (string, error) {
	buf := make([]byte, apiKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashCredential reduces a raw credential to the hex SHA-256 digest stored
// at rest. Lookup happens by comparing digests, never raw key material.
func HashCredential(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}
