// Package config handles configuration loading for tether-relay.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TETHER_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/tether/relay.yaml
//  3. ~/.config/tether/relay.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${TETHER_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	pairing:
//	  code_ttl: "5m"
//	sockets:
//	  pong_wait: "60s"
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # REST API and websockets
//
// Database:
//
//	database:
//	  path: "/var/lib/tether/relay.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${TETHER_JWT_SECRET}"  # Required, 32+ bytes
//	  session_ttl: "720h"                 # Session token lifetime
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "tether-relay"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
