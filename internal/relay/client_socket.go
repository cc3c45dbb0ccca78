// ABOUTME: Websocket endpoint for control clients at /ws/client
// ABOUTME: Authenticates the token, attaches to the user's agent, forwards frames raw

package relay

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tetherlabs/tether/internal/auth"
	"github.com/tetherlabs/tether/internal/protocol"
)

var (
	clientConnectedFrame    = []byte(`{"type":"client_connected"}`)
	clientDisconnectedFrame = []byte(`{"type":"client_disconnected"}`)
)

// handleClientWS services one control-client connection for its whole
// lifetime. The credential comes from the Authorization header or ?token=;
// an invalid one closes the socket with code 4001 after the handshake so
// browser clients can read the close code.
func (rl *Relay) handleClientWS(w http.ResponseWriter, r *http.Request) {
	ws, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rl.logger.Warn("client ws upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	token := auth.CredentialFromRequest(r, "token")
	userID, err := rl.authn.Authenticate(r.Context(), token)
	if err != nil {
		rl.logger.Warn("client ws unauthorized", "remote", r.RemoteAddr)
		_ = ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(protocol.CloseInvalidToken, "invalid token"),
			time.Now().Add(rl.cfg.Sockets.WriteWait),
		)
		_ = ws.Close()
		return
	}

	client := &ClientConn{
		conn:        newConn(ws, rl.cfg.Sockets.WriteWait, rl.cfg.Sockets.PingPeriod()),
		UserID:      userID,
		ConnectedAt: time.Now(),
	}
	defer client.Close()

	rl.registry.AttachClient(userID, client)
	defer rl.cleanupClient(client)

	if agent := rl.registry.LookupByUser(userID); agent != nil {
		_ = agent.Send(clientConnectedFrame)
	}

	rl.clientReadLoop(client)
}

// clientReadLoop pumps frames off the client socket. Frames are forwarded
// raw to the paired agent; when no agent is connected, operation requests
// are answered directly with a synthesized failure result instead of being
// dropped silently.
func (rl *Relay) clientReadLoop(client *ClientConn) {
	ws := client.ws
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
			_ = client.SendMessage(protocol.NewError("invalid message"))
			continue
		}

		switch frame.Type {
		case protocol.TypePing:
			_ = client.Send(pongFrame)
			continue
		case protocol.TypePong:
			continue
		}

		agent := rl.registry.LookupByUser(client.UserID)
		if agent == nil {
			if protocol.IsOperation(frame.Type) {
				_ = client.SendMessage(protocol.NewFailureResult(frame.Type, frame.RequestID, "Agent not connected"))
			} else {
				_ = client.SendMessage(protocol.NewError("Agent not connected"))
			}
			continue
		}

		if err := agent.Send(raw); err != nil {
			rl.logger.Debug("forward to agent failed", "user_id", client.UserID, "error", err)
			if protocol.IsOperation(frame.Type) {
				_ = client.SendMessage(protocol.NewFailureResult(frame.Type, frame.RequestID, "Agent not connected"))
			}
		}
	}
}

// cleanupClient detaches the attachment and tells the agent, best effort.
func (rl *Relay) cleanupClient(client *ClientConn) {
	rl.registry.DetachClient(client.UserID, client)
	if agent := rl.registry.LookupByUser(client.UserID); agent != nil {
		_ = agent.Send(clientDisconnectedFrame)
	}
}
