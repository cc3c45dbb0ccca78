// ABOUTME: Websocket endpoint for desktop agents at /ws/agent
// ABOUTME: Handles registration, immediate pairing paths, and raw forwarding to the attached client

package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tetherlabs/tether/internal/auth"
	"github.com/tetherlabs/tether/internal/protocol"
)

var pongFrame = []byte(`{"type":"pong"}`)

// Admission failures reported to the agent before closing.
var (
	errRegisterExpected    = errors.New("first message must be register")
	errPairingCodeRequired = errors.New("pairing_code is required")
	errInvalidAPIKey       = errors.New("invalid API key")
)

// handleAgentWS services one agent connection for its whole lifetime.
//
// The first frame must be a register message. Three outcomes:
//
//  1. The dial carried a valid credential (Authorization header or
//     ?api_key=): bind to that user immediately, reply "paired".
//  2. The pairing code redeems a server-issued pairing record: same.
//  3. Otherwise park the agent as pending under its code, reply
//     "registered", and wait for a control client to redeem the code
//     via POST /api/pair-agent.
func (rl *Relay) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	ws, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rl.logger.Warn("agent ws upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	reg, err := rl.readRegister(ws)
	if err != nil {
		rl.logger.Warn("agent ws rejected", "remote", r.RemoteAddr, "error", err)
		_ = ws.WriteMessage(websocket.TextMessage, protocol.MustEncode(protocol.NewError(err.Error())))
		_ = ws.Close()
		return
	}

	agent := &AgentConn{
		conn:        newConn(ws, rl.cfg.Sockets.WriteWait, rl.cfg.Sockets.PingPeriod()),
		AgentID:     reg.AgentID,
		PairingCode: strings.ToUpper(strings.TrimSpace(reg.PairingCode)),
		SystemInfo:  reg.SystemInfo,
		ConnectedAt: time.Now(),
	}
	defer agent.Close()

	if err := rl.admitAgent(r, agent); err != nil {
		_ = agent.SendMessage(protocol.NewError(err.Error()))
		return
	}
	defer rl.cleanupAgent(agent)

	rl.agentReadLoop(agent)
}

// readRegister enforces that the first frame is a well-formed register
// message, within the register deadline.
func (rl *Relay) readRegister(ws *websocket.Conn) (*protocol.Register, error) {
	_ = ws.SetReadDeadline(time.Now().Add(rl.cfg.Sockets.RegisterWait))

	_, raw, err := ws.ReadMessage()
	if err != nil {
		return nil, errRegisterExpected
	}

	var reg protocol.Register
	if err := json.Unmarshal(raw, &reg); err != nil || reg.Type != protocol.TypeRegister {
		return nil, errRegisterExpected
	}
	if reg.PairingCode == "" {
		return nil, errPairingCodeRequired
	}
	return &reg, nil
}

// admitAgent runs the three-way admission decision and sends the matching
// registered/paired reply.
func (rl *Relay) admitAgent(r *http.Request, agent *AgentConn) error {
	ctx := r.Context()

	// Credentialed dial: re-attach silently, no pairing code exchange.
	if credential := auth.CredentialFromRequest(r, "api_key"); credential != "" {
		userID, err := rl.authn.Authenticate(ctx, credential)
		if err != nil {
			return errInvalidAPIKey
		}
		rl.registry.RegisterPaired(userID, agent)
		return agent.SendMessage(protocol.Paired{
			Type:    protocol.TypePaired,
			UserID:  userID,
			Message: "Successfully paired with user",
		})
	}

	// Server-issued code: redeem pairs in the same message.
	if rec, err := rl.store.RedeemPairingRecord(ctx, agent.PairingCode, time.Now()); err == nil {
		rl.registry.RegisterPaired(rec.UserID, agent)
		return agent.SendMessage(protocol.Paired{
			Type:    protocol.TypePaired,
			UserID:  rec.UserID,
			Message: "Successfully paired with user",
		})
	}

	// Agent-generated code: park pending until a client redeems it.
	if err := rl.registry.RegisterPending(agent.PairingCode, agent); err != nil {
		return err
	}
	return agent.SendMessage(protocol.Registered{
		Type:    protocol.TypeRegistered,
		Message: "Waiting for user to enter pairing code...",
	})
}

// agentReadLoop pumps frames off the agent socket until it drops.
// Control frames (ping) are answered here; everything else is forwarded
// raw to the attached control client, or dropped when none is attached.
func (rl *Relay) agentReadLoop(agent *AgentConn) {
	ws := agent.ws
	_ = ws.SetReadDeadline(time.Now().Add(rl.cfg.Sockets.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(rl.cfg.Sockets.PongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(rl.cfg.Sockets.PongWait))

		frame, err := protocol.Sniff(raw)
		if err != nil {
			rl.logger.Debug("ignoring malformed agent frame", "agent_id", agent.AgentID, "error", err)
			continue
		}

		switch frame.Type {
		case protocol.TypePing:
			_ = agent.Send(pongFrame)
		case protocol.TypePong:
			// JSON-level liveness reply, nothing to route
		default:
			if agent.UserID == "" {
				continue
			}
			client := rl.registry.LookupClient(agent.UserID)
			if client == nil {
				// No attachment: agent traffic is dropped, never queued
				continue
			}
			if err := client.Send(raw); err != nil {
				rl.logger.Debug("forward to client failed", "user_id", agent.UserID, "error", err)
			}
		}
	}
}

// cleanupAgent evicts the registry entry and tells the attached client,
// best effort, that its agent is gone.
func (rl *Relay) cleanupAgent(agent *AgentConn) {
	rl.registry.Unregister(agent)
	if agent.UserID == "" {
		return
	}
	if client := rl.registry.LookupClient(agent.UserID); client != nil {
		_ = client.SendMessage(protocol.NewError("Agent disconnected"))
	}
}
