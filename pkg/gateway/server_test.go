package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jtjenkins/Together-sub000/pkg/protocol"
)

// authFunc authenticates any non-empty token as the user ID it names.
type authFunc func(ctx context.Context, token string) (string, error)

func (f authFunc) Authenticate(ctx context.Context, token string) (string, error) {
	return f(ctx, token)
}

func tokenIsUserID(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrAuthFailure
	}
	return token, nil
}

type presenceFunc func(ctx context.Context, userID string, payload json.RawMessage) ([]string, error)

func (f presenceFunc) OnPresenceUpdate(ctx context.Context, userID string, payload json.RawMessage) ([]string, error) {
	return f(ctx, userID, payload)
}

type testGateway struct {
	srv      *Server
	registry *Registry
	dispatch *Dispatcher
	httpSrv  *httptest.Server
}

func newTestGateway(t *testing.T, presence PresenceHandler) *testGateway {
	t.Helper()
	return newTestGatewayConfig(t, presence, nil)
}

func newTestGatewayConfig(t *testing.T, presence PresenceHandler, config *Config) *testGateway {
	t.Helper()

	registry := NewRegistry(nil, nil)
	dispatch := NewDispatcher(registry, nil, nil, nil)

	srv := NewServer(ServerOptions{
		Registry:      registry,
		Dispatcher:    dispatch,
		Authenticator: authFunc(tokenIsUserID),
		Presence:      presence,
		Config:        config,
	})

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Shutdown()
		httpSrv.Close()
	})

	return &testGateway{
		srv:      srv,
		registry: registry,
		dispatch: dispatch,
		httpSrv:  httpSrv,
	}
}

func (g *testGateway) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(g.httpSrv.URL, "http") + "/gateway?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) *protocol.Message {
	t.Helper()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("Decode(%s) error = %v", data, err)
	}
	return msg
}

func writeMessage(t *testing.T, ws *websocket.Conn, msg *protocol.Message) {
	t.Helper()

	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
}

// waitConnected polls until the user has a registered session. The
// upgrade response arrives before Register runs on the server side, so
// tests that touch the registry directly need this.
func waitConnected(t *testing.T, r *Registry, userID string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.IsConnected(userID) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("user %s never connected", userID)
}

func TestHandleGatewayRejectsBadToken(t *testing.T) {
	g := newTestGateway(t, nil)

	resp, err := http.Get(g.httpSrv.URL + "/gateway")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestReadyIsFirstMessage(t *testing.T) {
	g := newTestGateway(t, nil)
	ws := g.dial(t, "alice")

	msg := readMessage(t, ws)
	if msg.Op != protocol.OpDispatch || msg.T != protocol.EventReady {
		t.Fatalf("first message op=%v t=%q, want DISPATCH READY", msg.Op, msg.T)
	}

	var payload struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(msg.D, &payload); err != nil {
		t.Fatalf("Unmarshal READY payload: %v", err)
	}
	if payload.UserID != "alice" {
		t.Errorf("user_id = %q, want alice", payload.UserID)
	}
}

func TestHeartbeatGetsACK(t *testing.T) {
	g := newTestGateway(t, nil)
	ws := g.dial(t, "alice")
	readMessage(t, ws) // READY

	writeMessage(t, ws, protocol.NewHeartbeat())

	msg := readMessage(t, ws)
	if msg.Op != protocol.OpHeartbeatACK {
		t.Errorf("reply op = %v, want HEARTBEAT_ACK", msg.Op)
	}
}

func TestDispatchReachesClient(t *testing.T) {
	g := newTestGateway(t, nil)
	ws := g.dial(t, "alice")
	readMessage(t, ws) // READY
	waitConnected(t, g.registry, "alice")

	g.dispatch.BroadcastToUser(context.Background(), "alice",
		protocol.EventMessageCreate, map[string]string{"id": "m1"})

	msg := readMessage(t, ws)
	if msg.T != protocol.EventMessageCreate {
		t.Errorf("T = %q, want %q", msg.T, protocol.EventMessageCreate)
	}
	if string(msg.D) != `{"id":"m1"}` {
		t.Errorf("D = %s, want {\"id\":\"m1\"}", msg.D)
	}
}

func TestReconnectSupersedesOldConnection(t *testing.T) {
	g := newTestGateway(t, nil)

	first := g.dial(t, "alice")
	readMessage(t, first) // READY
	waitConnected(t, g.registry, "alice")

	second := g.dial(t, "alice")
	readMessage(t, second) // READY on the new connection

	// The old connection is closed by the server. Keep reading until
	// the close error surfaces.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
				t.Errorf("old connection closed with %v, want going away", err)
			}
			break
		}
	}

	// The user stays connected through the new session.
	if !g.registry.IsConnected("alice") {
		t.Error("user not connected after reconnect")
	}
	if g.registry.Count() != 1 {
		t.Errorf("Count() = %d, want 1", g.registry.Count())
	}

	// The new connection still works.
	writeMessage(t, second, protocol.NewHeartbeat())
	if msg := readMessage(t, second); msg.Op != protocol.OpHeartbeatACK {
		t.Errorf("new connection reply op = %v, want HEARTBEAT_ACK", msg.Op)
	}
}

func TestMalformedFrameClosesWithPolicyViolation(t *testing.T) {
	g := newTestGateway(t, nil)
	ws := g.dial(t, "alice")
	readMessage(t, ws) // READY
	waitConnected(t, g.registry, "alice")

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				t.Errorf("closed with %v, want policy violation", err)
			}
			break
		}
	}
}

func TestClientSendingDispatchIsViolation(t *testing.T) {
	g := newTestGateway(t, nil)
	ws := g.dial(t, "alice")
	readMessage(t, ws) // READY

	msg, err := protocol.NewDispatch(protocol.EventMessageCreate, map[string]string{"id": "forged"})
	if err != nil {
		t.Fatalf("NewDispatch() error = %v", err)
	}
	writeMessage(t, ws, msg)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				t.Errorf("closed with %v, want policy violation", err)
			}
			break
		}
	}
}

func TestDisconnectDeregisters(t *testing.T) {
	g := newTestGateway(t, nil)
	ws := g.dial(t, "alice")
	readMessage(t, ws) // READY
	waitConnected(t, g.registry, "alice")

	ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !g.registry.IsConnected("alice") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("user still connected after disconnect")
}

func TestPresenceUpdateFlowsToAudience(t *testing.T) {
	presence := presenceFunc(func(ctx context.Context, userID string, payload json.RawMessage) ([]string, error) {
		if userID != "alice" {
			return nil, errors.New("unexpected user")
		}
		return []string{"bob"}, nil
	})
	g := newTestGateway(t, presence)

	alice := g.dial(t, "alice")
	readMessage(t, alice) // READY
	bob := g.dial(t, "bob")
	readMessage(t, bob) // READY
	waitConnected(t, g.registry, "alice")
	waitConnected(t, g.registry, "bob")

	writeMessage(t, alice, protocol.NewPresenceUpdate(json.RawMessage(`{"status":"idle"}`)))

	msg := readMessage(t, bob)
	if msg.Op != protocol.OpDispatch || msg.T != protocol.EventPresenceUpdate {
		t.Fatalf("bob got op=%v t=%q, want DISPATCH PRESENCE_UPDATE", msg.Op, msg.T)
	}
	if string(msg.D) != `{"status":"idle"}` {
		t.Errorf("D = %s, want {\"status\":\"idle\"}", msg.D)
	}
}

func TestSilentClientDisconnectedByHeartbeatTimeout(t *testing.T) {
	config := DefaultConfig()
	config.HeartbeatTimeout = 300 * time.Millisecond

	g := newTestGatewayConfig(t, nil, config)
	ws := g.dial(t, "alice")
	readMessage(t, ws) // READY
	waitConnected(t, g.registry, "alice")

	// Send nothing. The server must give up on the connection once the
	// heartbeat timeout elapses.
	start := time.Now()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("connection survived %v of silence, want close after ~300ms", elapsed)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !g.registry.IsConnected("alice") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("user still registered after heartbeat timeout")
}

func TestHeartbeatsKeepConnectionAlive(t *testing.T) {
	config := DefaultConfig()
	config.HeartbeatTimeout = 300 * time.Millisecond

	g := newTestGatewayConfig(t, nil, config)
	ws := g.dial(t, "alice")
	readMessage(t, ws) // READY
	waitConnected(t, g.registry, "alice")

	// Outlive several timeout windows by heartbeating through them.
	for i := 0; i < 5; i++ {
		time.Sleep(100 * time.Millisecond)
		writeMessage(t, ws, protocol.NewHeartbeat())
		if msg := readMessage(t, ws); msg.Op != protocol.OpHeartbeatACK {
			t.Fatalf("reply op = %v, want HEARTBEAT_ACK", msg.Op)
		}
	}

	if !g.registry.IsConnected("alice") {
		t.Error("heartbeating client was disconnected")
	}
}

func TestShutdownClosesConnections(t *testing.T) {
	g := newTestGateway(t, nil)
	ws := g.dial(t, "alice")
	readMessage(t, ws) // READY
	waitConnected(t, g.registry, "alice")

	g.srv.Shutdown()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	if g.registry.Count() != 0 {
		t.Errorf("Count() = %d after shutdown, want 0", g.registry.Count())
	}
}

func TestHandleGatewayAfterShutdown(t *testing.T) {
	g := newTestGateway(t, nil)
	g.srv.Shutdown()

	resp, err := http.Get(g.httpSrv.URL + "/gateway?token=alice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}
