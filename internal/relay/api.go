// ABOUTME: REST API handlers for account creation, pairing, and status
// ABOUTME: JSON request/response; bearer auth enforced by middleware where required

package relay

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tetherlabs/tether/internal/auth"
	"github.com/tetherlabs/tether/internal/protocol"
	"github.com/tetherlabs/tether/internal/store"
)

// RegisterResponse is the JSON response for POST /api/register.
// The api_key appears only here; the store keeps its hash.
type RegisterResponse struct {
	UserID string `json:"user_id"`
	APIKey string `json:"api_key"`
}

// PairingCodeResponse is the JSON response for POST /api/pairing-code.
type PairingCodeResponse struct {
	PairingCode string `json:"pairing_code"`
	ExpiresIn   int    `json:"expires_in"`
}

// PairRequest is the JSON request body for POST /api/pair and /api/pair-agent.
type PairRequest struct {
	Code string `json:"code"`
}

// PairResponse is the JSON response for POST /api/pair.
type PairResponse struct {
	SessionToken string `json:"session_token"`
	UserID       string `json:"user_id"`
}

// PairAgentResponse is the JSON response for POST /api/pair-agent.
type PairAgentResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StatusResponse is the JSON response for GET /api/status.
type StatusResponse struct {
	AgentConnected  bool         `json:"agent_connected"`
	ConnectedSince  *time.Time   `json:"connected_since,omitempty"`
	ClientConnected bool         `json:"client_connected"`
	Agent           *StatusAgent `json:"agent,omitempty"`
}

// StatusAgent describes the connected agent in a StatusResponse.
type StatusAgent struct {
	AgentID    string              `json:"agent_id"`
	SystemInfo protocol.SystemInfo `json:"system_info"`
}

// MeResponse is the JSON response for GET /api/me.
type MeResponse struct {
	UserID    string `json:"user_id"`
	CreatedAt string `json:"created_at"`
}

// writeJSON encodes a JSON response body with the right content type.
func (rl *Relay) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rl.logger.Error("encoding response", "error", err)
	}
}

// sendJSONError writes a JSON error body with the given status.
func (rl *Relay) sendJSONError(w http.ResponseWriter, status int, msg string) {
	rl.writeJSON(w, status, map[string]string{"error": msg})
}

// handleRegister handles POST /api/register.
// Creates a user and their long-lived API key. Unauthenticated: this is
// account creation.
func (rl *Relay) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := uuid.New().String()
	apiKey, err := auth.GenerateAPIKey(rl.cfg.Auth.APIKeyPrefix)
	if err != nil {
		rl.sendJSONError(w, http.StatusInternalServerError, "key generation failed")
		return
	}

	user := &store.User{UserID: userID, CreatedAt: time.Now().UTC()}
	if err := rl.store.CreateUser(r.Context(), user); err != nil {
		rl.logger.Error("creating user", "error", err)
		rl.sendJSONError(w, http.StatusInternalServerError, "user creation failed")
		return
	}
	if err := rl.store.CreateAPIKey(r.Context(), userID, apiKey, store.KeyKindAgent); err != nil {
		rl.logger.Error("storing api key", "error", err)
		rl.sendJSONError(w, http.StatusInternalServerError, "user creation failed")
		return
	}

	rl.logger.Info("user registered", "user_id", userID)
	rl.writeJSON(w, http.StatusOK, RegisterResponse{UserID: userID, APIKey: apiKey})
}

// generatePairingCode returns a 6-digit numeric code.
func generatePairingCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generating pairing code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// handlePairingCode handles POST /api/pairing-code (auth).
// Issues a short-lived server pairing record for the caller.
func (rl *Relay) handlePairingCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := auth.UserFromContext(r.Context())

	// Code collisions are possible in six digits; retry a few times.
	for attempt := 0; attempt < 5; attempt++ {
		code, err := generatePairingCode()
		if err != nil {
			rl.sendJSONError(w, http.StatusInternalServerError, "code generation failed")
			return
		}

		rec := &store.PairingRecord{
			Code:      code,
			UserID:    userID,
			CreatedAt: time.Now().UTC(),
			ExpiresAt: time.Now().UTC().Add(rl.cfg.Pairing.CodeTTL),
		}
		err = rl.store.CreatePairingRecord(r.Context(), rec)
		if errors.Is(err, store.ErrDuplicateCode) {
			continue
		}
		if err != nil {
			rl.logger.Error("creating pairing record", "error", err)
			rl.sendJSONError(w, http.StatusInternalServerError, "pairing code creation failed")
			return
		}

		rl.writeJSON(w, http.StatusOK, PairingCodeResponse{
			PairingCode: code,
			ExpiresIn:   int(rl.cfg.Pairing.CodeTTL.Seconds()),
		})
		return
	}

	rl.sendJSONError(w, http.StatusInternalServerError, "pairing code creation failed")
}

// handlePair handles POST /api/pair.
// Exchanges a server-issued pairing code for a session token. Unauthenticated:
// the code is the credential.
func (rl *Relay) handlePair(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req PairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		rl.sendJSONError(w, http.StatusBadRequest, "Pairing code required")
		return
	}

	rec, err := rl.store.RedeemPairingRecord(r.Context(), strings.TrimSpace(req.Code), time.Now())
	if err != nil {
		rl.sendJSONError(w, http.StatusBadRequest, "Invalid or expired pairing code")
		return
	}

	token, err := rl.verifier.Generate(rec.UserID, rl.cfg.Auth.SessionTTL)
	if err != nil {
		rl.logger.Error("minting session token", "error", err)
		rl.sendJSONError(w, http.StatusInternalServerError, "token generation failed")
		return
	}

	rl.logger.Info("pairing code redeemed", "user_id", rec.UserID)
	rl.writeJSON(w, http.StatusOK, PairResponse{SessionToken: token, UserID: rec.UserID})
}

// handlePairAgent handles POST /api/pair-agent (auth).
// Promotes the pending agent holding the submitted code to the caller's user.
func (rl *Relay) handlePairAgent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := auth.UserFromContext(r.Context())

	var req PairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rl.sendJSONError(w, http.StatusBadRequest, "Pairing code required")
		return
	}
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		rl.sendJSONError(w, http.StatusBadRequest, "Pairing code required")
		return
	}

	agent, err := rl.registry.Promote(code, userID)
	if err != nil {
		rl.sendJSONError(w, http.StatusNotFound, "No agent found with this code. Make sure the agent is running.")
		return
	}

	// Best effort: the agent learns it is paired, or finds out when the
	// next operation arrives.
	_ = agent.SendMessage(protocol.Paired{
		Type:    protocol.TypePaired,
		UserID:  userID,
		Message: "Successfully paired with user",
	})

	rl.writeJSON(w, http.StatusOK, PairAgentResponse{Success: true, Message: "Agent paired successfully"})
}

// handleStatus handles GET /api/status (auth).
func (rl *Relay) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := auth.UserFromContext(r.Context())

	agent, clientAttached := rl.registry.Snapshot(userID)
	resp := StatusResponse{
		AgentConnected:  agent != nil,
		ClientConnected: clientAttached,
	}
	if agent != nil {
		resp.ConnectedSince = &agent.ConnectedAt
		resp.Agent = &StatusAgent{AgentID: agent.AgentID, SystemInfo: agent.SystemInfo}
	}
	rl.writeJSON(w, http.StatusOK, resp)
}

// handleMe handles GET /api/me (auth).
func (rl *Relay) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := auth.UserFromContext(r.Context())

	user, err := rl.store.GetUser(r.Context(), userID)
	if err != nil {
		rl.sendJSONError(w, http.StatusNotFound, "user not found")
		return
	}

	rl.writeJSON(w, http.StatusOK, MeResponse{
		UserID:    user.UserID,
		CreatedAt: user.CreatedAt.UTC().Format(time.RFC3339),
	})
}
