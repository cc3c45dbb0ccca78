// ABOUTME: End-to-end tests for the relay over real HTTP and websocket connections
// ABOUTME: Covers account creation, all three pairing paths, and raw frame forwarding

package relay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherlabs/tether/internal/config"
	"github.com/tetherlabs/tether/internal/protocol"
)

const testJWTSecret = "test-secret-0123456789abcdef0123456789"

func newTestRelay(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = ":memory:"
	cfg.Auth.JWTSecret = testJWTSecret
	cfg.Auth.APIKeyPrefix = config.DefaultAPIKeyPrefix
	cfg.Auth.SessionTTL = time.Hour
	cfg.Pairing.CodeTTL = 5 * time.Minute
	cfg.Sockets.WriteWait = 5 * time.Second
	cfg.Sockets.PongWait = time.Hour
	cfg.Sockets.RegisterWait = 5 * time.Second

	rl, err := New(cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rl.store.Close() })

	srv := httptest.NewServer(rl.httpServer.Handler)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, srv *httptest.Server, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func getJSON(t *testing.T, srv *httptest.Server, path, token string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

// registerUser creates an account via the API and returns its id and key.
func registerUser(t *testing.T, srv *httptest.Server) (userID, apiKey string) {
	t.Helper()

	resp, body := postJSON(t, srv, "/api/register", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	userID, _ = body["user_id"].(string)
	apiKey, _ = body["api_key"].(string)
	require.NotEmpty(t, userID)
	require.NotEmpty(t, apiKey)
	return userID, apiKey
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

// dialAgent connects to /ws/agent and sends the register frame.
func dialAgent(t *testing.T, srv *httptest.Server, code string, header http.Header) *websocket.Conn {
	t.Helper()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/agent"), header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	reg := protocol.Register{
		Type:        protocol.TypeRegister,
		AgentID:     "agent-" + code,
		PairingCode: code,
		SystemInfo:  protocol.SystemInfo{OS: "linux", Hostname: "devbox"},
	}
	require.NoError(t, ws.WriteJSON(reg))
	return ws
}

func dialClient(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()

	header := http.Header{"Authorization": {"Bearer " + token}}
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/client"), header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// readFrame reads one frame with a deadline so a missing message fails
// fast instead of hanging the test.
func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestRegisterCreatesUsableKey(t *testing.T) {
	srv := newTestRelay(t)
	userID, apiKey := registerUser(t, srv)

	resp, body := getJSON(t, srv, "/api/me", apiKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, userID, body["user_id"])
	assert.NotEmpty(t, body["created_at"])

	resp, body = getJSON(t, srv, "/api/status", apiKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["agent_connected"])
	assert.Equal(t, false, body["client_connected"])
}

func TestAPIRequiresAuth(t *testing.T) {
	srv := newTestRelay(t)

	resp, _ := getJSON(t, srv, "/api/status", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = postJSON(t, srv, "/api/pairing-code", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = getJSON(t, srv, "/api/me", "not-a-real-key")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPairingCodeSessionFlow(t *testing.T) {
	srv := newTestRelay(t)
	userID, apiKey := registerUser(t, srv)

	resp, body := postJSON(t, srv, "/api/pairing-code", apiKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	code, _ := body["pairing_code"].(string)
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), code)
	assert.Equal(t, float64(300), body["expires_in"])

	resp, body = postJSON(t, srv, "/api/pair", "", map[string]string{"code": code})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	session, _ := body["session_token"].(string)
	require.NotEmpty(t, session)
	assert.Equal(t, userID, body["user_id"])

	// The session token works as a bearer credential
	resp, body = getJSON(t, srv, "/api/me", session)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, userID, body["user_id"])

	// Codes are single-use
	resp, _ = postJSON(t, srv, "/api/pair", "", map[string]string{"code": code})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAgentPendingThenPairAgent(t *testing.T) {
	srv := newTestRelay(t)
	userID, apiKey := registerUser(t, srv)

	ws := dialAgent(t, srv, "AB3X9K", nil)
	msg := readFrame(t, ws)
	assert.Equal(t, "registered", msg["type"])
	assert.Equal(t, "Waiting for user to enter pairing code...", msg["message"])

	// Wrong code first
	resp, body := postJSON(t, srv, "/api/pair-agent", apiKey, map[string]string{"code": "ZZZZZZ"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "No agent found with this code. Make sure the agent is running.", body["error"])

	// Codes are matched case-insensitively
	resp, body = postJSON(t, srv, "/api/pair-agent", apiKey, map[string]string{"code": "ab3x9k"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	msg = readFrame(t, ws)
	assert.Equal(t, "paired", msg["type"])
	assert.Equal(t, userID, msg["user_id"])

	resp, body = getJSON(t, srv, "/api/status", apiKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["agent_connected"])
	agent, _ := body["agent"].(map[string]any)
	require.NotNil(t, agent)
	assert.Equal(t, "agent-AB3X9K", agent["agent_id"])

	// The code was consumed by the successful pairing
	resp, _ = postJSON(t, srv, "/api/pair-agent", apiKey, map[string]string{"code": "AB3X9K"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAgentCredentialedDial(t *testing.T) {
	srv := newTestRelay(t)
	userID, apiKey := registerUser(t, srv)

	header := http.Header{"Authorization": {"Bearer " + apiKey}}
	ws := dialAgent(t, srv, "AB3X9K", header)

	msg := readFrame(t, ws)
	assert.Equal(t, "paired", msg["type"])
	assert.Equal(t, userID, msg["user_id"])
}

func TestAgentRedeemsServerCode(t *testing.T) {
	srv := newTestRelay(t)
	userID, apiKey := registerUser(t, srv)

	resp, body := postJSON(t, srv, "/api/pairing-code", apiKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	code := body["pairing_code"].(string)

	ws := dialAgent(t, srv, code, nil)
	msg := readFrame(t, ws)
	assert.Equal(t, "paired", msg["type"])
	assert.Equal(t, userID, msg["user_id"])
}

func TestAgentFirstFrameMustBeRegister(t *testing.T) {
	srv := newTestRelay(t)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/agent"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	msg := readFrame(t, ws)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "first message must be register", msg["message"])
}

func TestClientInvalidTokenClose(t *testing.T) {
	srv := newTestRelay(t)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/client?token=bogus"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, protocol.CloseInvalidToken), "expected close %d, got %v", protocol.CloseInvalidToken, err)
}

func TestClientSynthesizedFailureWithoutAgent(t *testing.T) {
	srv := newTestRelay(t)
	_, apiKey := registerUser(t, srv)

	ws := dialClient(t, srv, apiKey)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"read_file","request_id":"req-1","path":"/etc/hosts"}`)))

	msg := readFrame(t, ws)
	assert.Equal(t, "read_file_result", msg["type"])
	assert.Equal(t, "req-1", msg["request_id"])
	result, _ := msg["result"].(map[string]any)
	require.NotNil(t, result)
	assert.Equal(t, false, result["success"])
	assert.Equal(t, "Agent not connected", result["error"])
}

func TestClientSynthesizedExecutionFailure(t *testing.T) {
	srv := newTestRelay(t)
	_, apiKey := registerUser(t, srv)

	ws := dialClient(t, srv, apiKey)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"execute","request_id":"req-2","code":"print(1)","language":"python"}`)))

	msg := readFrame(t, ws)
	assert.Equal(t, "execution_result", msg["type"])
	result, _ := msg["result"].(map[string]any)
	require.NotNil(t, result)
	assert.Equal(t, false, result["success"])
	assert.Equal(t, float64(-1), result["exit_code"])
}

func TestEndToEndForwarding(t *testing.T) {
	srv := newTestRelay(t)
	_, apiKey := registerUser(t, srv)

	header := http.Header{"Authorization": {"Bearer " + apiKey}}
	agentWS := dialAgent(t, srv, "AB3X9K", header)
	require.Equal(t, "paired", readFrame(t, agentWS)["type"])

	clientWS := dialClient(t, srv, apiKey)

	// Agent learns a client attached
	assert.Equal(t, "client_connected", readFrame(t, agentWS)["type"])

	// Operation request passes through byte-for-byte, unknown fields intact
	opFrame := `{"type":"bash","request_id":"req-7","command":"ls","custom_field":42}`
	require.NoError(t, clientWS.WriteMessage(websocket.TextMessage, []byte(opFrame)))

	require.NoError(t, agentWS.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := agentWS.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, opFrame, string(raw))

	// Result passes back the same way
	resultFrame := `{"type":"bash_result","request_id":"req-7","result":{"success":true,"stdout":"a.txt\n","stderr":"","exit_code":0}}`
	require.NoError(t, agentWS.WriteMessage(websocket.TextMessage, []byte(resultFrame)))

	require.NoError(t, clientWS.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err = clientWS.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, resultFrame, string(raw))

	// Client drop is announced to the agent
	require.NoError(t, clientWS.Close())
	assert.Equal(t, "client_disconnected", readFrame(t, agentWS)["type"])
}

func TestAgentDisconnectNotifiesClient(t *testing.T) {
	srv := newTestRelay(t)
	_, apiKey := registerUser(t, srv)

	header := http.Header{"Authorization": {"Bearer " + apiKey}}
	agentWS := dialAgent(t, srv, "AB3X9K", header)
	require.Equal(t, "paired", readFrame(t, agentWS)["type"])

	clientWS := dialClient(t, srv, apiKey)
	require.Equal(t, "client_connected", readFrame(t, agentWS)["type"])

	require.NoError(t, agentWS.Close())

	msg := readFrame(t, clientWS)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "Agent disconnected", msg["message"])

	// Subsequent operations get synthesized failures
	require.NoError(t, clientWS.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"list_dir","request_id":"req-9","path":"."}`)))
	msg = readFrame(t, clientWS)
	assert.Equal(t, "list_dir_result", msg["type"])
}

func TestSecondClientReplacesFirst(t *testing.T) {
	srv := newTestRelay(t)
	_, apiKey := registerUser(t, srv)

	first := dialClient(t, srv, apiKey)
	second := dialClient(t, srv, apiKey)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := first.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, protocol.CloseReplaced), "expected close %d, got %v", protocol.CloseReplaced, err)

	// The second client is live
	require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	assert.Equal(t, "pong", readFrame(t, second)["type"])
}

func TestJSONPingPong(t *testing.T) {
	srv := newTestRelay(t)
	_, apiKey := registerUser(t, srv)

	header := http.Header{"Authorization": {"Bearer " + apiKey}}
	agentWS := dialAgent(t, srv, "AB3X9K", header)
	require.Equal(t, "paired", readFrame(t, agentWS)["type"])

	require.NoError(t, agentWS.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	assert.Equal(t, "pong", readFrame(t, agentWS)["type"])
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestRelay(t)

	resp, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = srv.Client().Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// Any connected agent flips readiness, pending included
	ws := dialAgent(t, srv, "AB3X9K", nil)
	require.Equal(t, "registered", readFrame(t, ws)["type"])

	resp, err = srv.Client().Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
