// ABOUTME: Persisted agent identity: id, pairing code, and working directory
// ABOUTME: Stored as JSON under ~/.tether-agent so restarts keep the same pairing

package agent

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

const (
	stateDirName  = ".tether-agent"
	stateFileName = "config.json"

	pairingCodeLen = 6
)

// pairingCodeChars omits 0/O and 1/I, which read ambiguously when a user
// types the code off another screen.
const pairingCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// State is the agent's durable identity. The pairing code survives
// restarts so a reconnecting agent re-registers under the same code.
type State struct {
	mu   sync.Mutex
	path string

	AgentID     string `json:"agent_id"`
	PairingCode string `json:"pairing_code"`
	Cwd         string `json:"cwd,omitempty"`
}

// DefaultStatePath returns ~/.tether-agent/config.json.
func DefaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, stateDirName, stateFileName), nil
}

// LoadState reads persisted state. A missing file yields a fresh empty
// state; a corrupt one yields a fresh state plus the parse error so the
// caller can log it and carry on.
func LoadState(path string) (*State, error) {
	s := &State{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("reading state file: %w", err)
	}
	if err := json.Unmarshal(data, s); err != nil {
		return &State{path: path}, fmt.Errorf("parsing state file: %w", err)
	}
	return s, nil
}

// EnsureIdentity fills in a missing agent id or pairing code, reporting
// whether anything changed and needs saving.
func (s *State) EnsureIdentity() (changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.AgentID == "" {
		s.AgentID = uuid.New().String()
		changed = true
	}
	if s.PairingCode == "" {
		code, err := GeneratePairingCode()
		if err != nil {
			return changed, err
		}
		s.PairingCode = code
		changed = true
	}
	return changed, nil
}

// Save writes the state atomically with owner-only permissions.
func (s *State) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *State) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// SetCwd records a new working directory and persists immediately, so a
// restart resumes where the last cd left the agent.
func (s *State) SetCwd(cwd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cwd = cwd
	return s.saveLocked()
}

// Reset removes the state file, forcing a new identity and pairing code on
// the next start.
func Reset(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing state file: %w", err)
	}
	return nil
}

// GeneratePairingCode returns a 6-character code from the unambiguous
// alphabet.
func GeneratePairingCode() (string, error) {
	code := make([]byte, pairingCodeLen)
	max := big.NewInt(int64(len(pairingCodeChars)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating pairing code: %w", err)
		}
		code[i] = pairingCodeChars[n.Int64()]
	}
	return string(code), nil
}
