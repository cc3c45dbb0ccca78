// Package relay implements the tether-relay server.
//
// # Overview
//
// The relay pairs one desktop agent with one control client per user and
// forwards JSON frames between them over websockets. It never interprets
// operation payloads: frames are sniffed for their type and request_id and
// passed through byte-for-byte.
//
// # Relay Struct
//
// The Relay struct is the main entry point:
//
//	type Relay struct {
//	    cfg      *config.Config
//	    store    store.Store
//	    registry *Registry
//	    authn    *auth.Authenticator
//	    verifier *auth.JWTVerifier
//	    // ... HTTP and tsnet servers
//	}
//
// # Websocket Endpoints
//
//   - /ws/agent - Desktop agents. The first frame must be a register
//     message carrying the agent's pairing code. Agents authenticate with
//     an API key, redeem a server-issued code, or wait as pending until a
//     user submits their code via POST /api/pair-agent.
//   - /ws/client - Control clients. Authenticated by bearer token (API key
//     or session JWT). A new client replaces any existing one; the old
//     socket is closed with code 4000.
//
// # HTTP API
//
//   - POST /api/register - Create a user and API key
//   - POST /api/pairing-code - Issue a short-lived server pairing code (auth)
//   - POST /api/pair - Exchange a server code for a session token
//   - POST /api/pair-agent - Claim a pending agent by its code (auth)
//   - GET /api/status - Agent and client connection state (auth)
//   - GET /api/me - Caller's account info (auth)
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (503 until an agent connects)
//
// # Registry
//
// The Registry tracks pending agents by pairing code and paired agents and
// clients by user ID. Promote consumes a code atomically: a code admits at
// most one pairing, and pairing a second agent for a user evicts and closes
// the first.
//
// # Lifecycle
//
//	rl, err := relay.New(cfg, logger)
//	err = rl.Run(ctx) // blocks until ctx is canceled
//
// # Key Files
//
//   - relay.go: Relay struct, listeners, Run/Shutdown
//   - registry.go: Connection registry and pairing state
//   - agent_socket.go: /ws/agent handler and forwarding loop
//   - client_socket.go: /ws/client handler and forwarding loop
//   - api.go: REST handlers
//   - conn.go: Buffered websocket writer with ping keepalive
package relay
