// ABOUTME: Wire message vocabulary shared by the relay and the desktop agent
// ABOUTME: Flat JSON frames with a "type" discriminator; routing never rewrites frames

package protocol

import (
	"encoding/json"
	"fmt"
)

// Control message types exchanged between agent, relay, and client.
const (
	TypeRegister           = "register"
	TypeRegistered         = "registered"
	TypePaired             = "paired"
	TypePing               = "ping"
	TypePong               = "pong"
	TypeClientConnected    = "client_connected"
	TypeClientDisconnected = "client_disconnected"
	TypeError              = "error"
	TypeApprovalRequest    = "approval_request"
	TypeApprovalResponse   = "approval_response"
)

// Operation request types sent by a control client to an agent.
const (
	OpReadFile   = "read_file"
	OpWriteFile  = "write_file"
	OpEditFile   = "edit_file"
	OpDeleteFile = "delete_file"
	OpListDir    = "list_dir"
	OpGlob       = "glob"
	OpGrep       = "grep"
	OpChangeDir  = "cd"
	OpBash       = "bash"
	OpExecute    = "execute"
)

// WebSocket close codes in the private range.
const (
	CloseReplaced     = 4000 // superseded by a newer connection for the same user
	CloseInvalidToken = 4001
)

// operations is the full request vocabulary an agent understands.
var operations = map[string]bool{
	OpReadFile:   true,
	OpWriteFile:  true,
	OpEditFile:   true,
	OpDeleteFile: true,
	OpListDir:    true,
	OpGlob:       true,
	OpGrep:       true,
	OpChangeDir:  true,
	OpBash:       true,
	OpExecute:    true,
}

// DangerousOperations maps mutating operation types to the human-readable
// names shown in approval prompts. Operations absent from this map run
// without approval.
var DangerousOperations = map[string]string{
	OpWriteFile:  "Write file",
	OpEditFile:   "Edit file",
	OpDeleteFile: "Delete file",
	OpBash:       "Run command",
	OpExecute:    "Execute code",
}

// IsOperation reports whether msgType is an operation request.
func IsOperation(msgType string) bool {
	return operations[msgType]
}

// IsDangerous reports whether msgType requires user approval before running.
func IsDangerous(msgType string) bool {
	_, ok := DangerousOperations[msgType]
	return ok
}

// ResultType returns the wire type carrying the result for an operation.
// Most operations answer with "<op>_result"; execute answers with
// "execution_result".
func ResultType(op string) string {
	if op == OpExecute {
		return "execution_result"
	}
	return op + "_result"
}

// Frame is the sniffed prefix of any wire message. Routing decisions need
// only the type and correlation id; the raw bytes are forwarded untouched.
type Frame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

// Sniff decodes just enough of a raw frame to route it.
func Sniff(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("decoding frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("frame missing type")
	}
	return f, nil
}

// SystemInfo describes the machine an agent runs on, sent at registration.
type SystemInfo struct {
	OS           string   `json:"os"`
	OSVersion    string   `json:"os_version"`
	Machine      string   `json:"machine"`
	Hostname     string   `json:"hostname"`
	Runtime      string   `json:"runtime"`
	Cwd          string   `json:"cwd"`
	Capabilities []string `json:"capabilities"`
}

// Register is the first frame an agent sends after dialing.
type Register struct {
	Type        string     `json:"type"`
	AgentID     string     `json:"agent_id"`
	PairingCode string     `json:"pairing_code"`
	SystemInfo  SystemInfo `json:"system_info"`
}

// Registered parks a pending agent until a user enters its pairing code.
type Registered struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Paired tells an agent which user it now belongs to.
type Paired struct {
	Type    string `json:"type"`
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// ErrorMessage reports a protocol-level problem to either side.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ApprovalRequest asks the control client to confirm a dangerous operation.
type ApprovalRequest struct {
	Type       string         `json:"type"`
	ApprovalID string         `json:"approval_id"`
	RequestID  string         `json:"request_id"`
	Details    map[string]any `json:"details"`
}

// ApprovalResponse carries the user's decision. Trust implies approval and
// elevates the agent session so later operations skip the prompt.
type ApprovalResponse struct {
	Type       string `json:"type"`
	ApprovalID string `json:"approval_id"`
	Approved   bool   `json:"approved"`
	Trust      bool   `json:"trust"`
}

// Result is an operation outcome flowing agent → relay → client.
type Result struct {
	Type      string         `json:"type"`
	RequestID string         `json:"request_id"`
	Result    map[string]any `json:"result"`
}

// NewError builds an error frame ready to marshal.
func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

// NewFailureResult synthesizes a failed operation result. The relay uses it
// to answer a client directly when no agent is connected.
func NewFailureResult(op, requestID, errMsg string) Result {
	result := map[string]any{"success": false, "error": errMsg}
	if op == OpExecute {
		result["stdout"] = ""
		result["stderr"] = errMsg
		result["exit_code"] = -1
	}
	return Result{Type: ResultType(op), RequestID: requestID, Result: result}
}

// MustEncode marshals a message built from plain fields, where failure is
// unreachable.
func MustEncode(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("protocol: marshal %T: %v", v, err))
	}
	return raw
}
