// ABOUTME: Desktop agent supervisor: dials the relay, re-registers, dispatches operations
// ABOUTME: Reconnects forever with doubling backoff; each request runs in its own goroutine

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tetherlabs/tether/internal/executor"
	"github.com/tetherlabs/tether/internal/protocol"
)

const (
	initialBackoff   = time.Second
	maxBackoff       = 30 * time.Second
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
)

var errNotConnected = errors.New("not connected to relay")

// Options configures a Supervisor.
type Options struct {
	RelayURL  string
	APIKey    string // optional; skips the pairing-code exchange when valid
	StatePath string // defaults to ~/.tether-agent/config.json
	Cwd       string // optional working directory override

	AutoApprove  bool
	TrustSession bool

	Logger *slog.Logger
}

// Supervisor owns the agent's connection to the relay. It keeps one live
// websocket, re-registering after every reconnect, and fans incoming
// operation requests out to per-request goroutines so a slow bash command
// never blocks an approval response.
type Supervisor struct {
	relayURL string
	apiKey   string

	state    *State
	exec     *executor.Executor
	approver *Approver
	logger   *slog.Logger

	connMu  sync.Mutex
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// New builds a supervisor, loading or creating the persisted identity.
func New(opts Options) (*Supervisor, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	statePath := opts.StatePath
	if statePath == "" {
		var err error
		statePath, err = DefaultStatePath()
		if err != nil {
			return nil, err
		}
	}

	state, err := LoadState(statePath)
	if err != nil {
		logger.Warn("state file unreadable, starting fresh", "path", statePath, "error", err)
	}
	changed, err := state.EnsureIdentity()
	if err != nil {
		return nil, err
	}
	if opts.Cwd != "" {
		state.Cwd = opts.Cwd
		changed = true
	}
	if changed {
		if err := state.Save(); err != nil {
			return nil, err
		}
	}

	relayURL, err := normalizeRelayURL(opts.RelayURL)
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		relayURL: relayURL,
		apiKey:   opts.APIKey,
		state:    state,
		approver: NewApprover(opts.AutoApprove, opts.TrustSession, logger.With("component", "approver")),
		logger:   logger.With("component", "supervisor"),
	}
	s.exec = executor.New(state.Cwd, logger.With("component", "executor"))
	s.exec.OnCwdChange(func(cwd string) {
		if err := s.state.SetCwd(cwd); err != nil {
			s.logger.Warn("persisting working directory", "error", err)
		}
	})
	return s, nil
}

// State exposes the persisted identity, for the startup banner.
func (s *Supervisor) State() *State { return s.state }

// Cwd returns the executor's current working directory.
func (s *Supervisor) Cwd() string { return s.exec.Cwd() }

// Trusted reports whether dangerous operations currently skip approval.
func (s *Supervisor) Trusted() bool { return s.approver.Trusted() }

// normalizeRelayURL accepts ws, wss, http, or https URLs and ensures the
// agent endpoint path.
func normalizeRelayURL(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("relay URL required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing relay URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported relay URL scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws/agent"
	}
	return u.String(), nil
}

// Run connects and reconnects until the context is canceled. The backoff
// doubles from one second to the thirty-second cap and resets after any
// successful connection.
func (s *Supervisor) Run(ctx context.Context) error {
	backoff := initialBackoff

	for {
		if ctx.Err() != nil {
			return nil
		}

		s.logger.Info("connecting to relay", "url", s.relayURL)
		connected, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			s.logger.Warn("relay connection lost", "error", err)
		}
		if connected {
			backoff = initialBackoff
		}

		s.logger.Info("reconnecting", "delay", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// runOnce dials, registers, and pumps messages until the socket drops.
// The first return value reports whether the dial succeeded, which resets
// the caller's backoff.
func (s *Supervisor) runOnce(ctx context.Context) (bool, error) {
	header := http.Header{}
	header.Set("X-Agent-ID", s.state.AgentID)
	header.Set("X-Pairing-Code", s.state.PairingCode)
	if s.apiKey != "" {
		header.Set("Authorization", "Bearer "+s.apiKey)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, s.relayURL, header)
	if err != nil {
		return false, err
	}
	defer ws.Close()

	s.connMu.Lock()
	s.ws = ws
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		s.ws = nil
		s.connMu.Unlock()
	}()

	// Close the socket when ctx ends so the read loop unblocks.
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-dialCtx.Done()
		_ = ws.Close()
	}()

	// Registration repeats on every connect; the relay holds no state for
	// a socket until it sees this frame.
	err = s.sendMessage(protocol.Register{
		Type:        protocol.TypeRegister,
		AgentID:     s.state.AgentID,
		PairingCode: s.state.PairingCode,
		SystemInfo:  collectSystemInfo(s.exec.Cwd()),
	})
	if err != nil {
		return true, err
	}
	s.logger.Info("registered with relay", "agent_id", s.state.AgentID, "pairing_code", s.state.PairingCode)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return true, err
		}

		var msg map[string]any
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warn("invalid message from relay", "error", err)
			continue
		}
		s.handleMessage(ctx, msg)
	}
}

// sendRaw writes one frame under the write lock. gorilla websockets allow
// a single concurrent writer, and results arrive from many goroutines.
func (s *Supervisor) sendRaw(raw []byte) error {
	s.connMu.Lock()
	ws := s.ws
	s.connMu.Unlock()
	if ws == nil {
		return errNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, raw)
}

func (s *Supervisor) sendMessage(v any) error {
	return s.sendRaw(protocol.MustEncode(v))
}

// handleMessage routes one inbound frame. Operations get their own
// goroutine; everything else is handled inline.
func (s *Supervisor) handleMessage(ctx context.Context, msg map[string]any) {
	msgType := strField(msg, "type")

	switch msgType {
	case protocol.TypeRegistered:
		s.logger.Info("waiting for user to enter pairing code")
	case protocol.TypePaired:
		s.logger.Info("paired with user", "user_id", strField(msg, "user_id"))
		if err := s.state.Save(); err != nil {
			s.logger.Warn("persisting state", "error", err)
		}
	case protocol.TypePing:
		_ = s.sendRaw([]byte(`{"type":"pong"}`))
	case protocol.TypePong:
		// liveness reply, nothing to do
	case protocol.TypeClientConnected:
		s.logger.Info("control client connected")
	case protocol.TypeClientDisconnected:
		s.logger.Info("control client disconnected")
	case protocol.TypeError:
		s.logger.Warn("relay error", "message", strField(msg, "message"))
	case protocol.TypeApprovalResponse:
		s.approver.Resolve(
			strField(msg, "approval_id"),
			boolField(msg, "approved"),
			boolField(msg, "trust"),
		)
	default:
		if protocol.IsOperation(msgType) {
			go s.handleOperation(ctx, msgType, msg)
			return
		}
		s.logger.Debug("unknown message type", "type", msgType)
	}
}

// handleOperation runs one operation request end to end: approval gate,
// execution, result frame. Every request is answered exactly once.
func (s *Supervisor) handleOperation(ctx context.Context, opType string, msg map[string]any) {
	requestID := strField(msg, "request_id")
	s.logger.Info("operation received", "type", opType, "request_id", requestID)

	if protocol.IsDangerous(opType) {
		summary := operationSummary(opType, msg, s.exec.Cwd())
		if !s.approver.Request(ctx, s, requestID, summary) {
			s.sendResult(opType, requestID, deniedResult(opType))
			return
		}
	}

	s.sendResult(opType, requestID, s.execute(ctx, opType, msg))
}

// execute dispatches to the executor with the request's parameters.
func (s *Supervisor) execute(ctx context.Context, opType string, msg map[string]any) map[string]any {
	switch opType {
	case protocol.OpReadFile:
		return s.exec.ReadFile(strField(msg, "path"), intField(msg, "offset"), intField(msg, "limit"))
	case protocol.OpWriteFile:
		return s.exec.WriteFile(strField(msg, "path"), strField(msg, "content"))
	case protocol.OpEditFile:
		return s.exec.EditFile(
			strField(msg, "path"),
			strField(msg, "old_string"),
			strField(msg, "new_string"),
			boolField(msg, "replace_all"),
		)
	case protocol.OpDeleteFile:
		return s.exec.DeleteFile(strField(msg, "path"))
	case protocol.OpListDir:
		return s.exec.ListDir(strFieldDefault(msg, "path", "."))
	case protocol.OpGlob:
		return s.exec.Glob(strFieldDefault(msg, "pattern", "*"), strFieldDefault(msg, "path", "."))
	case protocol.OpGrep:
		return s.exec.Grep(
			strField(msg, "pattern"),
			strFieldDefault(msg, "path", "."),
			strFieldDefault(msg, "file_pattern", "*"),
		)
	case protocol.OpChangeDir:
		return s.exec.ChangeDir(strField(msg, "path"))
	case protocol.OpBash:
		return s.exec.Bash(ctx, strField(msg, "command"), intField(msg, "timeout"))
	case protocol.OpExecute:
		return s.exec.Execute(ctx,
			strField(msg, "code"),
			strFieldDefault(msg, "language", "python"),
			intField(msg, "timeout"),
		)
	default:
		return map[string]any{"success": false, "error": "unknown operation: " + opType}
	}
}

// sendResult wraps an operation outcome in its result frame.
func (s *Supervisor) sendResult(opType, requestID string, result map[string]any) {
	err := s.sendMessage(protocol.Result{
		Type:      protocol.ResultType(opType),
		RequestID: requestID,
		Result:    result,
	})
	if err != nil {
		s.logger.Warn("result not delivered", "type", opType, "request_id", requestID, "error", err)
	}
}

// deniedResult is the answer for an operation the user rejected. Execute
// results always carry the stream fields.
func deniedResult(opType string) map[string]any {
	result := map[string]any{"success": false, "error": "Operation denied by user"}
	if opType == protocol.OpExecute {
		result["stdout"] = ""
		result["stderr"] = "Operation denied by user"
		result["exit_code"] = -1
	}
	return result
}

// Field extraction for loosely typed request frames. JSON numbers decode
// as float64.

func strField(msg map[string]any, key string) string {
	v, _ := msg[key].(string)
	return v
}

func strFieldDefault(msg map[string]any, key, def string) string {
	if v, ok := msg[key].(string); ok && v != "" {
		return v
	}
	return def
}

func intField(msg map[string]any, key string) int {
	if v, ok := msg[key].(float64); ok {
		return int(v)
	}
	return 0
}

func boolField(msg map[string]any, key string) bool {
	v, _ := msg[key].(bool)
	return v
}
