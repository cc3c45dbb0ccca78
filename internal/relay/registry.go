// ABOUTME: Process-wide table of live agent and client connections
// ABOUTME: Pairing codes map to pending agents, user ids to paired agents and attached clients

package relay

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tetherlabs/tether/internal/protocol"
)

// ErrDuplicateCode indicates a pairing code is already registered to a live connection.
var ErrDuplicateCode = errors.New("pairing code already registered")

// ErrUnknownCode indicates no pending agent holds the pairing code. This
// covers never-registered, already-promoted, and disconnected agents alike.
var ErrUnknownCode = errors.New("unknown pairing code")

// Registry tracks every live connection. A pairing code maps to at most one
// pending agent; a user has at most one paired agent and at most one
// attached control client. All mutations take the single mutex so pairing,
// promotion, and disconnect races resolve deterministically.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*AgentConn  // pairing code -> agent awaiting promotion
	paired  map[string]*AgentConn  // user id -> paired agent
	clients map[string]*ClientConn // user id -> attached control client
	logger  *slog.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		pending: make(map[string]*AgentConn),
		paired:  make(map[string]*AgentConn),
		clients: make(map[string]*ClientConn),
		logger:  logger,
	}
}

// RegisterPending parks an unauthenticated agent under its pairing code.
// Returns ErrDuplicateCode if another live connection already holds the code.
func (r *Registry) RegisterPending(code string, agent *AgentConn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pending[code]; exists {
		return ErrDuplicateCode
	}

	r.pending[code] = agent
	r.logger.Info("=== AGENT REGISTERED ===",
		"agent_id", agent.AgentID,
		"pairing_code", code,
		"pending_agents", len(r.pending),
	)
	return nil
}

// Promote consumes a pairing code, binding its pending agent to a user.
// Exactly one Promote per code can succeed; losers get ErrUnknownCode
// because the winner deleted the code. A previously paired agent for the
// same user is evicted and its socket closed.
func (r *Registry) Promote(code, userID string) (*AgentConn, error) {
	r.mu.Lock()
	agent, ok := r.pending[code]
	if !ok {
		r.mu.Unlock()
		return nil, ErrUnknownCode
	}
	delete(r.pending, code)

	evicted := r.bindLocked(userID, agent)
	r.mu.Unlock()

	if evicted != nil {
		evicted.Close()
	}
	r.logger.Info("=== AGENT PAIRED ===",
		"agent_id", agent.AgentID,
		"pairing_code", code,
		"user_id", userID,
		"evicted", evicted != nil,
	)
	return agent, nil
}

// RegisterPaired binds an already-authenticated agent directly to a user,
// skipping the pending table. Used when the dial carried a valid credential
// or the pairing code redeemed a server-issued record.
func (r *Registry) RegisterPaired(userID string, agent *AgentConn) {
	r.mu.Lock()
	evicted := r.bindLocked(userID, agent)
	r.mu.Unlock()

	if evicted != nil {
		evicted.Close()
	}
	r.logger.Info("=== AGENT PAIRED ===",
		"agent_id", agent.AgentID,
		"user_id", userID,
		"credentialed", true,
		"evicted", evicted != nil,
	)
}

// bindLocked inserts agent into the paired table, returning any evicted
// predecessor. Caller holds the lock and closes the evicted conn after
// releasing it.
func (r *Registry) bindLocked(userID string, agent *AgentConn) *AgentConn {
	prev := r.paired[userID]
	if prev == agent {
		prev = nil
	}
	agent.UserID = userID
	r.paired[userID] = agent
	return prev
}

// LookupByUser returns the paired agent for a user, or nil.
func (r *Registry) LookupByUser(userID string) *AgentConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paired[userID]
}

// LookupClient returns the attached control client for a user, or nil.
func (r *Registry) LookupClient(userID string) *ClientConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[userID]
}

// AttachClient attaches a control client, replacing any previous one.
// The replaced socket is closed with the replaced close code so the old
// client knows it was superseded rather than dropped.
func (r *Registry) AttachClient(userID string, client *ClientConn) {
	r.mu.Lock()
	prev := r.clients[userID]
	if prev == client {
		prev = nil
	}
	r.clients[userID] = client
	r.mu.Unlock()

	if prev != nil {
		prev.CloseWithCode(protocol.CloseReplaced, "replaced by newer connection")
	}
	r.logger.Info("client attached", "user_id", userID, "replaced", prev != nil)
}

// DetachClient removes the client only if it is still the current one,
// so a stale disconnect cannot detach a newer attachment.
func (r *Registry) DetachClient(userID string, client *ClientConn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clients[userID] == client {
		delete(r.clients, userID)
		r.logger.Info("client detached", "user_id", userID)
	}
}

// Unregister removes whichever entries point at exactly this connection.
// Identity comparison guards the reconnect race: cleanup for an old socket
// must not remove a newer registration under the same code or user.
// Idempotent.
func (r *Registry) Unregister(agent *AgentConn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if agent.PairingCode != "" && r.pending[agent.PairingCode] == agent {
		delete(r.pending, agent.PairingCode)
		r.logger.Info("=== AGENT DISCONNECTED ===",
			"agent_id", agent.AgentID,
			"pairing_code", agent.PairingCode,
			"paired", false,
		)
		return
	}
	if agent.UserID != "" && r.paired[agent.UserID] == agent {
		delete(r.paired, agent.UserID)
		r.logger.Info("=== AGENT DISCONNECTED ===",
			"agent_id", agent.AgentID,
			"user_id", agent.UserID,
			"paired", true,
		)
	}
}

// AgentCount returns the number of live agent connections, pending and paired.
func (r *Registry) AgentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending) + len(r.paired)
}

// AgentStatus is a point-in-time view of one user's agent for /api/status.
type AgentStatus struct {
	AgentID     string
	ConnectedAt time.Time
	SystemInfo  protocol.SystemInfo
}

// Snapshot reports the agent and client attachment state for one user.
func (r *Registry) Snapshot(userID string) (agent *AgentStatus, clientAttached bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a := r.paired[userID]; a != nil {
		agent = &AgentStatus{
			AgentID:     a.AgentID,
			ConnectedAt: a.ConnectedAt,
			SystemInfo:  a.SystemInfo,
		}
	}
	_, clientAttached = r.clients[userID]
	return agent, clientAttached
}
