package hub

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/theaaf/blackmagic-c2/internal/infrastructure/config"
	"github.com/theaaf/blackmagic-c2/internal/infrastructure/monitoring"
	"github.com/theaaf/blackmagic-c2/internal/infrastructure/tracing"
	"github.com/theaaf/blackmagic-c2/internal/protocol"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestHub(t *testing.T, cfg config.HubConfig) (*Hub, *httptest.Server) {
	t.Helper()
	metrics := monitoring.NewMetrics()
	tracer := tracing.New("hub-test", zap.NewNop())
	h := New(cfg, metrics, zap.NewNop())
	handlers := NewHandlers(h, tracer, metrics, zap.NewNop())

	router := gin.New()
	router.GET("/agent", handlers.AgentSocket)
	router.GET("/shell", handlers.ShellSocket)
	router.GET("/health", handlers.Health)
	router.GET("/api/agents", handlers.ListAgents)
	router.GET("/api/agents/:id", handlers.GetAgent)
	router.POST("/api/hyperdeck/command", handlers.HyperDeckCommand)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
		tracer.Close()
	})
	return h, srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

type fakeAgent struct {
	t    *testing.T
	conn *websocket.Conn
	in   chan protocol.Message
	done chan struct{}
	err  error
}

func dialAgent(t *testing.T, srv *httptest.Server) *fakeAgent {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/agent"), nil)
	require.NoError(t, err)
	a := &fakeAgent{t: t, conn: conn, in: make(chan protocol.Message, 16), done: make(chan struct{})}
	t.Cleanup(func() { conn.Close() })
	return a
}

// read starts consuming hub messages, which also answers pings.
func (a *fakeAgent) read() *fakeAgent {
	go func() {
		defer close(a.done)
		for {
			_, data, err := a.conn.ReadMessage()
			if err != nil {
				a.err = err
				return
			}
			msg, err := protocol.Decode(data)
			if err != nil {
				continue
			}
			a.in <- msg
		}
	}()
	return a
}

func (a *fakeAgent) send(msg protocol.Message) {
	a.t.Helper()
	data, err := protocol.Encode(msg)
	require.NoError(a.t, err)
	require.NoError(a.t, a.conn.WriteMessage(websocket.BinaryMessage, data))
}

func (a *fakeAgent) recv() protocol.Message {
	a.t.Helper()
	select {
	case msg := <-a.in:
		return msg
	case <-time.After(5 * time.Second):
		a.t.Fatal("no message from hub")
		return protocol.Message{}
	}
}

func (a *fakeAgent) waitClosed() error {
	a.t.Helper()
	select {
	case <-a.done:
		return a.err
	case <-time.After(5 * time.Second):
		a.t.Fatal("hub never closed the agent")
		return nil
	}
}

var studioState = protocol.AgentState{
	NetworkDevices: []protocol.NetworkDevice{{
		IPAddress:  "10.0.0.20",
		MACAddress: "7c:2e:0d:01:02:03",
		Details: &protocol.NetworkDeviceDetails{HyperDeck: &protocol.HyperDeckDetails{
			ModelName: "HyperDeck Studio Mini", ProtocolVersion: "1.11", UniqueID: "abc",
		}},
	}},
}

func register(t *testing.T, h *Hub, srv *httptest.Server, agentID string) *fakeAgent {
	t.Helper()
	a := dialAgent(t, srv).read()
	a.send(protocol.AgentStateMessage(agentID, studioState))
	require.Eventually(t, func() bool {
		_, _, ok := h.Agent(agentID)
		return ok
	}, 5*time.Second, 5*time.Millisecond)
	return a
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, sonic.Unmarshal(body, v))
	return resp.StatusCode
}

func postCommand(t *testing.T, srv *httptest.Server, body string) (int, []byte) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/hyperdeck/command", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func errorOf(t *testing.T, data []byte) string {
	t.Helper()
	var e protocol.ErrorResponse
	require.NoError(t, sonic.Unmarshal(data, &e))
	return e.Error
}

const command = `{"agentId":"studio-a","ipAddress":"10.0.0.20","command":"transport info"}`

func TestAgentRegistration(t *testing.T) {
	h, srv := newTestHub(t, config.HubConfig{})
	register(t, h, srv, "studio-a")

	var agents []protocol.AgentInfo
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/agents", &agents))
	require.Len(t, agents, 1)
	assert.Equal(t, "studio-a", agents[0].ID)
	assert.Equal(t, studioState, agents[0].State)
	assert.False(t, agents[0].ConnectedAt.IsZero())

	var info protocol.AgentInfo
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/agents/studio-a", &info))
	assert.True(t, info.State.NetworkDevices[0].Commandable())

	var e protocol.ErrorResponse
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/agents/studio-b", &e))
	assert.Equal(t, "The agent with that id is not connected.", e.Error)
}

func TestStateUpdatesReplaceState(t *testing.T) {
	h, srv := newTestHub(t, config.HubConfig{})
	a := register(t, h, srv, "studio-a")

	a.send(protocol.AgentStateMessage("studio-a", protocol.AgentState{}))
	require.Eventually(t, func() bool {
		info, _, _ := h.Agent("studio-a")
		return len(info.State.NetworkDevices) == 0
	}, 5*time.Second, 5*time.Millisecond)
}

func TestAgentRemovedOnDisconnect(t *testing.T) {
	h, srv := newTestHub(t, config.HubConfig{})
	a := register(t, h, srv, "studio-a")

	a.conn.Close()

	require.Eventually(t, func() bool { return h.Registry().AgentCount() == 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestDuplicateAgentIDReplacesConnection(t *testing.T) {
	h, srv := newTestHub(t, config.HubConfig{})
	first := register(t, h, srv, "studio-a")
	_, firstConn, _ := h.Agent("studio-a")

	second := dialAgent(t, srv).read()
	second.send(protocol.AgentStateMessage("studio-a", studioState))

	first.waitClosed()
	require.Eventually(t, func() bool {
		_, conn, ok := h.Agent("studio-a")
		return ok && conn != firstConn
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.Registry().AgentCount())
}

func TestInvalidAgentIDRejected(t *testing.T) {
	for _, agentID := range []string{"", "bad id/../x", strings.Repeat("a", 129)} {
		h, srv := newTestHub(t, config.HubConfig{})
		a := dialAgent(t, srv).read()
		a.send(protocol.AgentStateMessage(agentID, studioState))

		err := a.waitClosed()
		var closeErr *websocket.CloseError
		require.True(t, errors.As(err, &closeErr), "id %q: got %v", agentID, err)
		assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
		assert.Equal(t, 0, h.Registry().AgentCount())

		var agents []protocol.AgentInfo
		getJSON(t, srv.URL+"/api/agents", &agents)
		assert.Empty(t, agents)
	}
}

func TestIdleAgentDisconnected(t *testing.T) {
	h, srv := newTestHub(t, config.HubConfig{
		PingInterval: 20 * time.Millisecond,
		IdleTimeout:  300 * time.Millisecond,
	})
	// Never reads, so never answers pings.
	a := dialAgent(t, srv)
	a.send(protocol.AgentStateMessage("studio-a", studioState))

	require.Eventually(t, func() bool {
		_, _, ok := h.Agent("studio-a")
		return ok
	}, 5*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.Registry().AgentCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestHyperDeckCommandRoundTrip(t *testing.T) {
	h, srv := newTestHub(t, config.HubConfig{})
	a := register(t, h, srv, "studio-a")

	go func() {
		msg := a.recv()
		payload := "status: stopped\n"
		a.send(protocol.HyperDeckCommandResponse(msg.ID, protocol.CommandResponse{
			Code: 208, Text: "transport info:", Payload: &payload,
		}))
	}()

	status, body := postCommand(t, srv, command)
	require.Equal(t, http.StatusOK, status, string(body))

	var resp protocol.CommandResponse
	require.NoError(t, sonic.Unmarshal(body, &resp))
	assert.Equal(t, 208, resp.Code)
	assert.Equal(t, "transport info:", resp.Text)
	require.NotNil(t, resp.Payload)
	assert.Equal(t, "status: stopped\n", *resp.Payload)
}

func TestHyperDeckCommandIsForwardedVerbatim(t *testing.T) {
	h, srv := newTestHub(t, config.HubConfig{})
	a := register(t, h, srv, "studio-a")

	got := make(chan protocol.Message, 1)
	go func() {
		msg := a.recv()
		got <- msg
		a.send(protocol.HyperDeckCommandResponse(msg.ID, protocol.CommandResponse{Code: 200, Text: "ok"}))
	}()

	status, _ := postCommand(t, srv, command)
	require.Equal(t, http.StatusOK, status)

	msg := <-got
	assert.Equal(t, protocol.KindHyperDeckCommand, msg.Kind)
	assert.Equal(t, "10.0.0.20", msg.IPAddress)
	assert.Equal(t, "transport info", msg.Command)
	assert.NotEmpty(t, msg.ID)
	assert.NotEmpty(t, msg.TraceID)
}

func TestHyperDeckCommandFailures(t *testing.T) {
	tests := []struct {
		name   string
		agent  func(a *fakeAgent)
		status int
		error  string
	}{
		{
			name: "device error",
			agent: func(a *fakeAgent) {
				msg := a.recv()
				a.send(protocol.HyperDeckCommandError(msg.ID, "dial tcp 10.0.0.20:9993: connection refused"))
			},
			status: http.StatusBadGateway,
			error:  "dial tcp 10.0.0.20:9993: connection refused",
		},
		{
			name:   "timeout",
			agent:  func(a *fakeAgent) { a.recv() },
			status: http.StatusGatewayTimeout,
			error:  "Timed out sending command to agent.",
		},
		{
			name: "agent disconnects",
			agent: func(a *fakeAgent) {
				a.recv()
				a.conn.Close()
			},
			status: http.StatusBadGateway,
			error:  "The agent with that id has disconnected.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, srv := newTestHub(t, config.HubConfig{CommandTimeout: 200 * time.Millisecond})
			a := register(t, h, srv, "studio-a")
			go tt.agent(a)

			status, body := postCommand(t, srv, command)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.error, errorOf(t, body))
		})
	}
}

func TestHyperDeckCommandAgentNotConnected(t *testing.T) {
	_, srv := newTestHub(t, config.HubConfig{})

	status, body := postCommand(t, srv, command)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "The agent with that id is not connected.", errorOf(t, body))
}

func TestHyperDeckCommandInvalidBody(t *testing.T) {
	_, srv := newTestHub(t, config.HubConfig{})

	for _, body := range []string{
		`not json`,
		`{"agentId":"studio-a"}`,
		`{"agentId":"studio-a","ipAddress":"10.0.0.20","command":"stop\nplay"}`,
	} {
		status, data := postCommand(t, srv, body)
		assert.Equal(t, http.StatusBadRequest, status, body)
		assert.NotEmpty(t, errorOf(t, data))
	}
}

func TestIdenticalCommandsAreNotMerged(t *testing.T) {
	h, srv := newTestHub(t, config.HubConfig{})
	a := register(t, h, srv, "studio-a")

	const n = 3
	ids := make(chan string, n)
	go func() {
		for i := 0; i < n; i++ {
			msg := a.recv()
			ids <- msg.ID
			a.send(protocol.HyperDeckCommandResponse(msg.ID, protocol.CommandResponse{Code: 200, Text: "ok"}))
		}
	}()

	var wg sync.WaitGroup
	statuses := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			statuses[i], _ = postCommand(t, srv, command)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, []int{200, 200, 200}, statuses)
	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		seen[<-ids] = true
	}
	assert.Len(t, seen, n)
}

func TestShellUnknownAgent(t *testing.T) {
	_, srv := newTestHub(t, config.HubConfig{})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/shell?agent=studio-b"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func dialShell(t *testing.T, srv *httptest.Server, agentID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/shell?agent="+agentID), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestShellBridge(t *testing.T) {
	h, srv := newTestHub(t, config.HubConfig{})
	a := register(t, h, srv, "studio-a")

	client := dialShell(t, srv, "studio-a")

	opened := a.recv()
	require.Equal(t, protocol.KindShellInit, opened.Kind)
	require.NotEmpty(t, opened.ID)
	require.Eventually(t, func() bool { return h.Registry().ShellCount() == 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("ls\n")))
	in := a.recv()
	assert.Equal(t, protocol.KindShellInput, in.Kind)
	assert.Equal(t, opened.ID, in.ID)
	assert.Equal(t, "ls\n", string(in.Bytes))

	a.send(protocol.ShellOutput(opened.ID, []byte("bin etc\n")))
	typ, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, typ)
	assert.Equal(t, "bin etc\n", string(data))

	// Output for some other shell is not delivered here.
	a.send(protocol.ShellOutput("shell_other", []byte("nope")))

	client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	closeMsg := a.recv()
	assert.Equal(t, protocol.KindShellClose, closeMsg.Kind)
	assert.Equal(t, opened.ID, closeMsg.ID)
	require.Eventually(t, func() bool { return h.Registry().ShellCount() == 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestShellClosedWhenAgentDisconnects(t *testing.T) {
	h, srv := newTestHub(t, config.HubConfig{})
	a := register(t, h, srv, "studio-a")

	client := dialShell(t, srv, "studio-a")
	a.recv()

	a.conn.Close()

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := client.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "got %v", err)
	assert.Equal(t, websocket.CloseInternalServerErr, closeErr.Code)
}

func TestHealth(t *testing.T) {
	h, srv := newTestHub(t, config.HubConfig{})
	register(t, h, srv, "studio-a")

	var body map[string]interface{}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/health", &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["agents"])
}
