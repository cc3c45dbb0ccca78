// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

auth:
  jwt_secret: "`+testSecret+`"
  api_key_prefix: "tether_"
  session_ttl: "720h"

pairing:
  code_ttl: "5m"

sockets:
  write_wait: "10s"
  pong_wait: "60s"
  register_wait: "30s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, testSecret)
	}

	// Verify duration parsing
	if cfg.Auth.SessionTTL != 720*time.Hour {
		t.Errorf("Auth.SessionTTL = %v, want %v", cfg.Auth.SessionTTL, 720*time.Hour)
	}
	if cfg.Pairing.CodeTTL != 5*time.Minute {
		t.Errorf("Pairing.CodeTTL = %v, want %v", cfg.Pairing.CodeTTL, 5*time.Minute)
	}
	if cfg.Sockets.WriteWait != 10*time.Second {
		t.Errorf("Sockets.WriteWait = %v, want %v", cfg.Sockets.WriteWait, 10*time.Second)
	}
	if cfg.Sockets.PongWait != 60*time.Second {
		t.Errorf("Sockets.PongWait = %v, want %v", cfg.Sockets.PongWait, 60*time.Second)
	}
	if cfg.Sockets.RegisterWait != 30*time.Second {
		t.Errorf("Sockets.RegisterWait = %v, want %v", cfg.Sockets.RegisterWait, 30*time.Second)
	}

	// Verify logging config
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"

database:
  path: "./test.db"

auth:
  jwt_secret: "`+testSecret+`"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.SessionTTL != DefaultSessionTTL {
		t.Errorf("Auth.SessionTTL = %v, want default %v", cfg.Auth.SessionTTL, DefaultSessionTTL)
	}
	if cfg.Auth.APIKeyPrefix != DefaultAPIKeyPrefix {
		t.Errorf("Auth.APIKeyPrefix = %q, want default %q", cfg.Auth.APIKeyPrefix, DefaultAPIKeyPrefix)
	}
	if cfg.Pairing.CodeTTL != DefaultCodeTTL {
		t.Errorf("Pairing.CodeTTL = %v, want default %v", cfg.Pairing.CodeTTL, DefaultCodeTTL)
	}
	if cfg.Sockets.PongWait != DefaultPongWait {
		t.Errorf("Sockets.PongWait = %v, want default %v", cfg.Sockets.PongWait, DefaultPongWait)
	}
	if cfg.Sockets.PingPeriod() >= cfg.Sockets.PongWait {
		t.Errorf("PingPeriod() = %v, must be shorter than PongWait %v", cfg.Sockets.PingPeriod(), cfg.Sockets.PongWait)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_TETHER_SECRET", testSecret)
	t.Setenv("TEST_TETHER_DB", "/tmp/env-test.db")

	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"

database:
  path: "${TEST_TETHER_DB}"

auth:
  jwt_secret: "${TEST_TETHER_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.JWTSecret != testSecret {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, testSecret)
	}
	if cfg.Database.Path != "/tmp/env-test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/env-test.db")
	}
}

func TestLoad_UnsetEnvVarExpandsEmpty(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"

database:
  path: "${TETHER_TEST_DEFINITELY_UNSET}"

auth:
  jwt_secret: "` + testSecret + `"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for empty database path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("error = %v, want mention of database.path", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"

database:
  path: "./test.db"

auth:
  jwt_secret: "`+testSecret+`"

pairing:
  code_ttl: "five minutes"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "code_ttl") {
		t.Errorf("error = %v, want mention of code_ttl", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestValidate_TailscaleRequiresHostname(t *testing.T) {
	configPath := writeConfig(t, `
tailscale:
  enabled: true

database:
  path: "./test.db"

auth:
  jwt_secret: "` + testSecret + `"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for tailscale without hostname")
	}
	if !strings.Contains(err.Error(), "tailscale.hostname") {
		t.Errorf("error = %v, want mention of tailscale.hostname", err)
	}
}

func TestValidate_TailscaleReplacesHTTPAddr(t *testing.T) {
	configPath := writeConfig(t, `
tailscale:
  enabled: true
  hostname: "tether-relay"

database:
  path: "./test.db"

auth:
  jwt_secret: "` + testSecret + `"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Tailscale.Enabled {
		t.Error("Tailscale.Enabled = false, want true")
	}
}

func TestValidate_MissingJWTSecret(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"

database:
  path: "./test.db"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for missing jwt_secret")
	}
	if !strings.Contains(err.Error(), "jwt_secret") {
		t.Errorf("error = %v, want mention of jwt_secret", err)
	}
}
