// ABOUTME: Configuration loading and parsing for tether-relay
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete tether-relay configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Pairing   PairingConfig   `yaml:"pairing"`
	Sockets   SocketsConfig   `yaml:"sockets"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // Serve with Tailscale-provisioned certs
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret"`
	APIKeyPrefix string `yaml:"api_key_prefix"`

	SessionTTL time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	SessionTTLRaw string `yaml:"session_ttl"`
}

// PairingConfig holds pairing code issuance configuration
type PairingConfig struct {
	CodeTTL time.Duration `yaml:"-"`

	CodeTTLRaw string `yaml:"code_ttl"`
}

// SocketsConfig holds websocket timing configuration
type SocketsConfig struct {
	WriteWait    time.Duration `yaml:"-"`
	PongWait     time.Duration `yaml:"-"`
	RegisterWait time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	WriteWaitRaw    string `yaml:"write_wait"`
	PongWaitRaw     string `yaml:"pong_wait"`
	RegisterWaitRaw string `yaml:"register_wait"`
}

// PingPeriod derives the server ping interval from the pong wait.
// Pings must fire more often than the read deadline they extend.
func (s SocketsConfig) PingPeriod() time.Duration {
	return s.PongWait * 9 / 10
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the YAML leaves a field unset.
const (
	DefaultSessionTTL   = 30 * 24 * time.Hour
	DefaultCodeTTL      = 5 * time.Minute
	DefaultWriteWait    = 10 * time.Second
	DefaultPongWait     = 60 * time.Second
	DefaultRegisterWait = 30 * time.Second
	DefaultAPIKeyPrefix = "tether_"
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in zero-valued fields after parsing.
func (c *Config) applyDefaults() {
	if c.Auth.SessionTTL == 0 {
		c.Auth.SessionTTL = DefaultSessionTTL
	}
	if c.Auth.APIKeyPrefix == "" {
		c.Auth.APIKeyPrefix = DefaultAPIKeyPrefix
	}
	if c.Pairing.CodeTTL == 0 {
		c.Pairing.CodeTTL = DefaultCodeTTL
	}
	if c.Sockets.WriteWait == 0 {
		c.Sockets.WriteWait = DefaultWriteWait
	}
	if c.Sockets.PongWait == 0 {
		c.Sockets.PongWait = DefaultPongWait
	}
	if c.Sockets.RegisterWait == 0 {
		c.Sockets.RegisterWait = DefaultRegisterWait
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// A server address is required unless Tailscale provides the listener
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Auth.SessionTTLRaw, &cfg.Auth.SessionTTL, "session_ttl"},
		{cfg.Pairing.CodeTTLRaw, &cfg.Pairing.CodeTTL, "code_ttl"},
		{cfg.Sockets.WriteWaitRaw, &cfg.Sockets.WriteWait, "write_wait"},
		{cfg.Sockets.PongWaitRaw, &cfg.Sockets.PongWait, "pong_wait"},
		{cfg.Sockets.RegisterWaitRaw, &cfg.Sockets.RegisterWait, "register_wait"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
