package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Tyrowin/groupchat/internal/protocol"
	tea "github.com/charmbracelet/bubbletea"
)

// ErrNotConnected is returned when sending after Close.
var ErrNotConnected = errors.New("not connected")

// frameMsg carries one decoded server message into the UI loop.
type frameMsg struct {
	msg protocol.Message
}

// disconnectedMsg reports that the server closed the connection.
type disconnectedMsg struct{}

type errMsg error

// Network owns the framed connection to the chat server. Reads happen on the
// tea.Cmd goroutine returned by WaitForFrame and writes on Send's, so input
// and inbound traffic never wait on each other.
type Network struct {
	mu           sync.Mutex
	writeMu      sync.Mutex
	conn         net.Conn
	maxFrameSize int
}

// NewNetwork wraps an established connection.
func NewNetwork(conn net.Conn) *Network {
	return &Network{conn: conn, maxFrameSize: protocol.DefaultMaxFrameSize}
}

// Dial connects to host:port.
func Dial(addr string, timeout time.Duration) (*Network, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return NewNetwork(conn), nil
}

func (n *Network) current() net.Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conn
}

// Close drops the connection. It is safe to call more than once.
func (n *Network) Close() error {
	n.mu.Lock()
	conn := n.conn
	n.conn = nil
	n.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// WaitForFrame is a tea.Cmd that blocks for the next server message.
func (n *Network) WaitForFrame() tea.Msg {
	conn := n.current()
	if conn == nil {
		return disconnectedMsg{}
	}

	payload, err := protocol.ReadFrame(conn, n.maxFrameSize)
	if err != nil {
		if protocol.IsDisconnect(err) || errors.Is(err, net.ErrClosed) {
			return disconnectedMsg{}
		}
		return errMsg(err)
	}

	msg, err := protocol.Decode(payload)
	if err != nil {
		return errMsg(fmt.Errorf("decode server message: %w", err))
	}
	return frameMsg{msg: msg}
}

// Send returns a tea.Cmd that writes msg to the server.
func (n *Network) Send(msg protocol.Message) tea.Cmd {
	return func() tea.Msg {
		conn := n.current()
		if conn == nil {
			return errMsg(ErrNotConnected)
		}
		n.writeMu.Lock()
		err := protocol.WriteFrame(conn, msg.Encode())
		n.writeMu.Unlock()
		if err != nil {
			return errMsg(fmt.Errorf("send %s: %w", msg.Kind(), err))
		}
		return nil
	}
}
