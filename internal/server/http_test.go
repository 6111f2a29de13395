package server

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/groupchat/internal/directory"
	"github.com/Tyrowin/groupchat/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHTTPTestServer(t *testing.T, origins ...string) (*Server, *httptest.Server) {
	t.Helper()

	cfg := defaultConfig()
	if len(origins) > 0 {
		cfg.AllowedOrigins = origins
	}
	srv, err := New(cfg, directory.Default(), discardLogger())
	require.NoError(t, err)
	srv.Start()

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		assert.NoError(t, srv.Shutdown(testTimeout))
	})
	return srv, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func TestHealthHandler(t *testing.T) {
	_, ts := newHTTPTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "GoChat server is running!", string(body))
}

func TestWebSocketHandlerRejectsNonGet(t *testing.T) {
	_, ts := newHTTPTestServer(t)

	resp, err := http.Post(ts.URL+"/ws", "application/octet-stream", bytes.NewReader(nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, ts := newHTTPTestServer(t)
	srv.metrics.login("ok")

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `groupchat_logins_total{result="ok"} 1`)
	assert.Contains(t, string(body), "groupchat_group_members 1")
}

// TestWebSocketSession runs the login and text flow over binary WebSocket messages.
func TestWebSocketSession(t *testing.T) {
	_, ts := newHTTPTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer conn.Close()

	send := func(msg protocol.Message) {
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, msg.Encode()))
	}
	recv := func() protocol.Message {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))
		mt, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.BinaryMessage, mt)
		msg, err := protocol.Decode(data)
		require.NoError(t, err)
		return msg
	}

	send(protocol.LoginRequest{Name: "A"})
	assert.Equal(t, protocol.LoginResult{OK: true, ID: 0, Member: true}, recv())

	send(protocol.ClientCommand{Sub: protocol.CommandText, Text: []byte("over websocket")})
	msg := recv()
	ev, ok := msg.(protocol.ServerEvent)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, protocol.EventText, ev.Sub)
	assert.Equal(t, "over websocket", string(ev.Text))
}

func TestWebSocketTextMessageIsProtocolViolation(t *testing.T) {
	_, ts := newHTTPTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestWebSocketOriginPolicy(t *testing.T) {
	_, ts := newHTTPTestServer(t, "http://chat.example")

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "HTTP://Chat.Example")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{" http://a.example ", "not a url", ""}, discardLogger())

	request := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, policy.allows(request("")), "non-browser clients send no origin")
	assert.True(t, policy.allows(request("http://A.example")))
	assert.False(t, policy.allows(request("http://b.example")))
	assert.False(t, policy.allows(request("::bad")))

	all := newOriginPolicy([]string{"*"}, discardLogger())
	assert.True(t, all.allows(request("http://anything.example")))
}
