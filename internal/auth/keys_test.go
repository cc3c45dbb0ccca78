// ABOUTME: Tests for API key generation and credential hashing

package auth

import (
	"strings"
	"testing"
)

func TestGenerateAPIKey(t *testing.T) {
	key, err := GenerateAPIKey("tether_")
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}

	if !strings.HasPrefix(key, "tether_") {
		t.Errorf("key %q missing prefix", key)
	}
	// 32 bytes of entropy base64url-encoded is 43 chars
	if len(key) < len("tether_")+40 {
		t.Errorf("key %q shorter than expected", key)
	}

	other, err := GenerateAPIKey("tether_")
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}
	if key == other {
		t.Error("two generated keys are identical")
	}
}

func TestHashCredential(t *testing.T) {
	h := HashCredential("tether_some-key")

	if len(h) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(h))
	}
	if h != HashCredential("tether_some-key") {
		t.Error("hashing is not deterministic")
	}
	if h == HashCredential("tether_other-key") {
		t.Error("distinct credentials hash identically")
	}
}
