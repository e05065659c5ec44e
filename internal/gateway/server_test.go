package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/loom/internal/compile"
	"github.com/soyeahso/loom/internal/config"
	"github.com/soyeahso/loom/internal/domain"
	"github.com/soyeahso/loom/internal/logging"
	"github.com/soyeahso/loom/internal/registry"
	"github.com/soyeahso/loom/internal/resolve"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Gateway.Auth.Mode = "token"
	cfg.Gateway.Auth.Token = "test-token-123"

	log := logging.New(nil, "silent")
	raw := map[string]any{
		"gateway": map[string]any{
			"port": 18990,
			"mode": "local",
		},
	}

	srv := New(cfg, log, WithConfigRaw(raw))

	mux := http.NewServeMux()
	srv.registerHTTPRoutes(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	// Public endpoint only returns status; no version or client count
	assert.Empty(t, health.Version)
}

func TestNotFoundEndpoint(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/nonexistent")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketHandshakeSuccess(t *testing.T) {
	srv, ts := testServer(t)
	_ = srv

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	// Read challenge event
	var challenge Frame
	err = conn.ReadJSON(&challenge)
	require.NoError(t, err)
	assert.Equal(t, FrameTypeEvent, challenge.Type)
	assert.Equal(t, "connect.challenge", challenge.Event)

	// Send connect request
	connectReq, err := NewRequest("req-1", "connect", ConnectParams{
		MinProtocol: 1,
		MaxProtocol: 1,
		Client: ClientInfo{
			ID:       "test-client",
			Version:  "1.0.0",
			Platform: "linux",
			Mode:     "app",
		},
		Auth: &ConnectAuth{Token: "test-token-123"},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(connectReq))

	// Read hello-ok response
	var helloResp Frame
	err = conn.ReadJSON(&helloResp)
	require.NoError(t, err)
	assert.Equal(t, FrameTypeResponse, helloResp.Type)
	assert.Equal(t, "req-1", helloResp.ID)
	require.NotNil(t, helloResp.OK)
	assert.True(t, *helloResp.OK)

	// Parse hello payload
	var hello HelloOK
	require.NoError(t, json.Unmarshal(helloResp.Payload, &hello))
	assert.Equal(t, ProtocolVersion, hello.Protocol)
	assert.NotEmpty(t, hello.Server.ConnID)
	assert.NotEmpty(t, hello.Features.Methods)
	assert.Contains(t, hello.Features.Events, "workflow.step")
	assert.Greater(t, hello.Policy.MaxPayload, 0)
}

func TestWebSocketHandshakeWrongToken(t *testing.T) {
	_, ts := testServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Read challenge
	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))

	// Send connect with wrong token
	connectReq, _ := NewRequest("req-1", "connect", ConnectParams{
		MinProtocol: 1,
		MaxProtocol: 1,
		Client: ClientInfo{
			ID:       "test-client",
			Version:  "1.0.0",
			Platform: "linux",
			Mode:     "app",
		},
		Auth: &ConnectAuth{Token: "wrong-token"},
	})
	require.NoError(t, conn.WriteJSON(connectReq))

	// Should get error response
	var errResp Frame
	err = conn.ReadJSON(&errResp)
	require.NoError(t, err)
	assert.Equal(t, FrameTypeResponse, errResp.Type)
	require.NotNil(t, errResp.OK)
	assert.False(t, *errResp.OK)
	require.NotNil(t, errResp.Error)
	assert.Equal(t, "unauthorized", errResp.Error.Code)
}

func TestWebSocketRPCHealth(t *testing.T) {
	conn := authenticatedConn(t)
	defer conn.Close()

	req, _ := NewRequest("req-2", "health", nil)
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, FrameTypeResponse, resp.Type)
	assert.Equal(t, "req-2", resp.ID)
	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(resp.Payload, &health))
	assert.Equal(t, "ok", health.Status)
}

func TestWebSocketRPCConfigGet(t *testing.T) {
	conn := authenticatedConn(t)
	defer conn.Close()

	req, _ := NewRequest("req-3", "config.get", configGetParams{Key: "gateway.port"})
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)

	var result map[string]any
	require.NoError(t, json.Unmarshal(resp.Payload, &result))
	assert.Equal(t, "gateway.port", result["key"])
	assert.Equal(t, float64(18990), result["value"])
}

func TestWebSocketRPCConfigSet(t *testing.T) {
	conn := authenticatedConn(t)
	defer conn.Close()

	req, _ := NewRequest("req-4", "config.set", configSetParams{Key: "gateway.mode", Value: "remote"})
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)

	// Verify with get
	req2, _ := NewRequest("req-5", "config.get", configGetParams{Key: "gateway.mode"})
	require.NoError(t, conn.WriteJSON(req2))

	var resp2 Frame
	require.NoError(t, conn.ReadJSON(&resp2))
	require.NotNil(t, resp2.OK)
	assert.True(t, *resp2.OK)

	var result map[string]any
	require.NoError(t, json.Unmarshal(resp2.Payload, &result))
	assert.Equal(t, "remote", result["value"])
}

func TestWebSocketRPCUnknownMethod(t *testing.T) {
	conn := authenticatedConn(t)
	defer conn.Close()

	req, _ := NewRequest("req-6", "nonexistent.method", nil)
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "method_not_found", resp.Error.Code)
}

func TestResolveBindAddr(t *testing.T) {
	tests := []struct {
		bind string
		port int
		want string
	}{
		{"loopback", 18990, "127.0.0.1:18990"},
		{"lan", 9999, "0.0.0.0:9999"},
		{"auto", 8080, "0.0.0.0:8080"},
		{"custom", 3000, "0.0.0.0:3000"},
		{"unknown", 5000, "127.0.0.1:5000"},
	}

	for _, tt := range tests {
		t.Run(tt.bind, func(t *testing.T) {
			addr := resolveBindAddr(config.GatewayConfig{Bind: tt.bind, Port: tt.port})
			assert.Equal(t, tt.want, addr)
		})
	}
}

func TestServerStart(t *testing.T) {
	cfg := config.Defaults()
	cfg.Gateway.Port = 0 // let OS pick a port
	cfg.Gateway.Auth.Mode = "token"
	cfg.Gateway.Auth.Token = "test-token"

	log := logging.New(nil, "silent")
	srv := New(cfg, log)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// Give it a moment to start
	time.Sleep(100 * time.Millisecond)

	// Stop it
	cancel()

	err := <-errCh
	assert.NoError(t, err)
}

// testServerWithWorkflow wires a full front-end behind the gateway: a JSON
// registry with one defined agent, one temporary agent, and an echo dispatcher.
func testServerWithWorkflow(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Gateway.Auth.Mode = "token"
	cfg.Gateway.Auth.Token = "test-token-123"

	log := logging.New(nil, "silent")

	dir := t.TempDir()
	agentsDir := filepath.Join(dir, "agents")
	tempDir := filepath.Join(dir, "temp-agents")
	require.NoError(t, os.MkdirAll(agentsDir, 0o700))
	require.NoError(t, os.MkdirAll(tempDir, 0o700))

	store := registry.NewJSONStore(filepath.Join(dir, "registry.json"))
	scannerFile := filepath.Join(agentsDir, "scanner.md")
	require.NoError(t, os.WriteFile(scannerFile, []byte("# scanner\n"), 0o600))
	require.NoError(t, store.Put(domain.RegistryEntry{
		AgentName:   "scanner",
		FilePath:    scannerFile,
		Description: "scans things",
		Created:     time.Now().UTC(),
	}))
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "drafter.md"), []byte("# drafter\n"), 0o600))

	resolver := resolve.New(store, tempDir, log)
	compiler := compile.New(resolver, log)
	manager := registry.NewManager(store, agentsDir, tempDir, log)

	echo := compile.DispatchFunc(func(ctx context.Context, step compile.Step, instruction string) (string, error) {
		return "<" + step.Descriptor.Name + ": " + instruction + ">", nil
	})

	srv := New(cfg, log,
		WithConfigRaw(map[string]any{}),
		WithCompiler(compiler),
		WithDispatcher(echo),
		WithResolver(resolver),
		WithAgents(manager),
	)

	mux := http.NewServeMux()
	srv.registerHTTPRoutes(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts
}

func workflowConn(t *testing.T) *websocket.Conn {
	t.Helper()
	_, ts := testServerWithWorkflow(t)
	return dialAndConnect(t, ts)
}

func TestCompileRunRPC(t *testing.T) {
	conn := workflowConn(t)
	defer conn.Close()

	req, _ := NewRequest("c-1", "compile.run", compileParams{
		Source: "explore:\"survey the codebase\":notes\ngeneral-purpose:\"act on {notes}\"",
	})
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)

	var result struct {
		Plan compile.Plan `json:"plan"`
	}
	require.NoError(t, json.Unmarshal(resp.Payload, &result))
	require.Len(t, result.Plan.Steps, 2)
	assert.Equal(t, "explore", result.Plan.Steps[0].Invocation.AgentName)
	assert.Equal(t, "notes", result.Plan.Steps[0].Invocation.OutputVar)
}

func TestCompileRunRPC_CompileError(t *testing.T) {
	conn := workflowConn(t)
	defer conn.Close()

	req, _ := NewRequest("c-2", "compile.run", compileParams{
		Source: "no-such-agent:\"do something\"",
	})
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "compile_error", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "unknown agent")
}

func TestWorkflowRunRPC_StreamsSteps(t *testing.T) {
	conn := workflowConn(t)
	defer conn.Close()

	req, _ := NewRequest("w-1", "workflow.run", workflowRunParams{
		Source: "explore:\"survey\":notes\ngeneral-purpose:\"act on {notes}\"",
	})
	require.NoError(t, conn.WriteJSON(req))

	// Two workflow.step events arrive before the final response.
	var events []Frame
	var resp Frame
	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == FrameTypeEvent {
			events = append(events, f)
			continue
		}
		resp = f
		break
	}

	require.Len(t, events, 2)
	assert.Equal(t, "workflow.step", events[0].Event)

	var evt struct {
		RequestID string             `json:"requestId"`
		Step      compile.StepResult `json:"step"`
	}
	require.NoError(t, json.Unmarshal(events[0].Payload, &evt))
	assert.Equal(t, "w-1", evt.RequestID)
	assert.Equal(t, "explore", evt.Step.AgentName)
	assert.Equal(t, "<explore: survey>", evt.Step.Output)

	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)

	var result struct {
		Results []compile.StepResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(resp.Payload, &result))
	require.Len(t, result.Results, 2)
	assert.Equal(t, "<general-purpose: act on <explore: survey>>", result.Results[1].Output)
}

func TestWorkflowRunRPC_NotConfigured(t *testing.T) {
	conn := authenticatedConn(t) // bare server, no compiler or dispatcher
	defer conn.Close()

	req, _ := NewRequest("w-2", "workflow.run", workflowRunParams{Source: "explore:\"x\""})
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	assert.Equal(t, "unavailable", resp.Error.Code)
}

func TestAgentListRPC(t *testing.T) {
	conn := workflowConn(t)
	defer conn.Close()

	req, _ := NewRequest("a-1", "agent.list", nil)
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)

	var result struct {
		Agents []struct {
			Name   string `json:"name"`
			Source string `json:"source"`
		} `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(resp.Payload, &result))

	names := map[string]string{}
	for _, a := range result.Agents {
		names[a.Name] = a.Source
	}
	assert.Equal(t, "builtin", names["explore"])
	assert.Equal(t, "defined", names["scanner"])
	assert.Equal(t, "temporary", names["drafter"])
}

func TestAgentResolveRPC(t *testing.T) {
	conn := workflowConn(t)
	defer conn.Close()

	req, _ := NewRequest("a-2", "agent.resolve", agentNameParams{Name: "scanner"})
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)

	var result struct {
		Agent struct {
			Name   string `json:"name"`
			Source string `json:"source"`
		} `json:"agent"`
	}
	require.NoError(t, json.Unmarshal(resp.Payload, &result))
	assert.Equal(t, "scanner", result.Agent.Name)
	assert.Equal(t, "defined", result.Agent.Source)
}

func TestAgentResolveRPC_Unknown(t *testing.T) {
	conn := workflowConn(t)
	defer conn.Close()

	req, _ := NewRequest("a-3", "agent.resolve", agentNameParams{Name: "ghost"})
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	assert.Equal(t, "not_found", resp.Error.Code)
}

func TestAgentPromoteRPC(t *testing.T) {
	conn := workflowConn(t)
	defer conn.Close()

	req, _ := NewRequest("a-4", "agent.promote", agentPromoteParams{
		Name:        "drafter",
		Description: "drafts text",
	})
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)

	// The promoted agent now resolves as defined.
	req2, _ := NewRequest("a-5", "agent.resolve", agentNameParams{Name: "drafter"})
	require.NoError(t, conn.WriteJSON(req2))

	var resp2 Frame
	require.NoError(t, conn.ReadJSON(&resp2))
	require.NotNil(t, resp2.OK)
	assert.True(t, *resp2.OK)

	var result struct {
		Agent struct {
			Source string `json:"source"`
		} `json:"agent"`
	}
	require.NoError(t, json.Unmarshal(resp2.Payload, &result))
	assert.Equal(t, "defined", result.Agent.Source)
}

func TestAgentPromoteRPC_MissingTemp(t *testing.T) {
	conn := workflowConn(t)
	defer conn.Close()

	req, _ := NewRequest("a-6", "agent.promote", agentPromoteParams{Name: "ghost"})
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	assert.Equal(t, "not_found", resp.Error.Code)
}

func TestAgentDeleteRPC(t *testing.T) {
	conn := workflowConn(t)
	defer conn.Close()

	req, _ := NewRequest("a-7", "agent.delete", agentDeleteParams{Name: "scanner"})
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)

	// Deleting again reports not found.
	req2, _ := NewRequest("a-8", "agent.delete", agentDeleteParams{Name: "scanner"})
	require.NoError(t, conn.WriteJSON(req2))

	var resp2 Frame
	require.NoError(t, conn.ReadJSON(&resp2))
	require.NotNil(t, resp2.OK)
	assert.False(t, *resp2.OK)
	assert.Equal(t, "not_found", resp2.Error.Code)
}

func TestAgentDeleteRPC_Temporary(t *testing.T) {
	conn := workflowConn(t)
	defer conn.Close()

	req, _ := NewRequest("a-9", "agent.delete", agentDeleteParams{Name: "drafter", Temporary: true})
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)
}

func TestAgentDeleteRPC_TraversalNameRejected(t *testing.T) {
	conn := workflowConn(t)
	defer conn.Close()

	// Names arrive unparsed over RPC; one with path separators must be
	// rejected before it is joined into an agent-directory path.
	req, _ := NewRequest("a-10", "agent.delete", agentDeleteParams{Name: "../config", Temporary: true})
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	require.False(t, *resp.OK)
	assert.Equal(t, "invalid_params", resp.Error.Code)
}

func TestAgentPromoteRPC_TraversalNameRejected(t *testing.T) {
	conn := workflowConn(t)
	defer conn.Close()

	req, _ := NewRequest("a-11", "agent.promote", agentPromoteParams{Name: "drafter", NewName: "../evil"})
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	require.False(t, *resp.OK)
	assert.Equal(t, "invalid_params", resp.Error.Code)
}

// authenticatedConn returns a WebSocket connection to a bare test server that
// has completed the handshake.
func authenticatedConn(t *testing.T) *websocket.Conn {
	t.Helper()
	_, ts := testServer(t)
	return dialAndConnect(t, ts)
}

func dialAndConnect(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	// Read challenge
	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))

	// Send connect
	connectReq, _ := NewRequest("auth-req", "connect", ConnectParams{
		MinProtocol: 1,
		MaxProtocol: 1,
		Client: ClientInfo{
			ID:       "test-client",
			Version:  "1.0.0",
			Platform: "linux",
			Mode:     "app",
		},
		Auth: &ConnectAuth{Token: "test-token-123"},
	})
	require.NoError(t, conn.WriteJSON(connectReq))

	// Read hello-ok
	var helloResp Frame
	require.NoError(t, conn.ReadJSON(&helloResp))
	require.NotNil(t, helloResp.OK)
	require.True(t, *helloResp.OK, "handshake should succeed")

	t.Cleanup(func() { conn.Close() })
	return conn
}
