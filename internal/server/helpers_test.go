package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/Tyrowin/groupchat/internal/directory"
	"github.com/Tyrowin/groupchat/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startTestServer runs a server with the default A..D roster on a loopback
// listener and returns it with its address.
func startTestServer(t *testing.T, mutate func(*Config)) (*Server, string) {
	t.Helper()

	cfg := defaultConfig()
	cfg.HTTPAddr = ""
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := New(cfg, directory.Default(), discardLogger())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	t.Cleanup(func() {
		assert.NoError(t, srv.Shutdown(testTimeout))
		assert.NoError(t, <-served)
	})
	return srv, ln.Addr().String()
}

// testClient speaks the framed protocol to a test server.
type testClient struct {
	t    *testing.T
	conn net.Conn
}

func dialClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, testTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(msg protocol.Message) {
	c.t.Helper()
	require.NoError(c.t, protocol.WriteFrame(c.conn, msg.Encode()))
}

func (c *testClient) sendRaw(payload []byte) {
	c.t.Helper()
	require.NoError(c.t, protocol.WriteFrame(c.conn, payload))
}

func (c *testClient) next() protocol.Message {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(testTimeout)))
	payload, err := protocol.ReadFrame(c.conn, protocol.DefaultMaxFrameSize)
	require.NoError(c.t, err)
	msg, err := protocol.Decode(payload)
	require.NoError(c.t, err)
	return msg
}

func (c *testClient) expectEvent(sub protocol.EventSub, from int32) protocol.ServerEvent {
	c.t.Helper()
	msg := c.next()
	ev, ok := msg.(protocol.ServerEvent)
	require.True(c.t, ok, "expected ServerEvent, got %T", msg)
	assert.Equal(c.t, sub, ev.Sub)
	assert.Equal(c.t, from, ev.From)
	return ev
}

func (c *testClient) expectText(from int32, text string) {
	c.t.Helper()
	ev := c.expectEvent(protocol.EventText, from)
	assert.Equal(c.t, text, string(ev.Text))
}

func (c *testClient) login(name string) protocol.LoginResult {
	c.t.Helper()
	c.send(protocol.LoginRequest{Name: name})
	msg := c.next()
	res, ok := msg.(protocol.LoginResult)
	require.True(c.t, ok, "expected LoginResult, got %T", msg)
	return res
}

func (c *testClient) text(s string) {
	c.t.Helper()
	c.send(protocol.ClientCommand{Sub: protocol.CommandText, Text: []byte(s)})
}

// expectClosed waits for the server to close the connection.
func (c *testClient) expectClosed() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(testTimeout)))
	for {
		_, err := protocol.ReadFrame(c.conn, protocol.DefaultMaxFrameSize)
		if err == nil {
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			c.t.Fatalf("connection still open after %s", testTimeout)
		}
		return
	}
}

// expectSilence asserts that nothing arrives within a short window.
func (c *testClient) expectSilence() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	payload, err := protocol.ReadFrame(c.conn, protocol.DefaultMaxFrameSize)
	if err == nil {
		msg, _ := protocol.Decode(payload)
		c.t.Fatalf("unexpected frame: %#v", msg)
	}
	var ne net.Error
	require.True(c.t, errors.As(err, &ne) && ne.Timeout(), "unexpected read error: %v", err)
}
