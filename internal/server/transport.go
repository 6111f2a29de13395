package server

import (
	"net"
	"sync"
	"time"

	"github.com/Tyrowin/groupchat/internal/protocol"
)

// streamTransport frames a raw byte stream such as a TCP connection.
type streamTransport struct {
	conn         net.Conn
	addr         string
	maxFrameSize int

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newStreamTransport(conn net.Conn, maxFrameSize int) *streamTransport {
	addr := "unknown"
	if remote := conn.RemoteAddr(); remote != nil {
		addr = remote.String()
	}
	return &streamTransport{
		conn:         conn,
		addr:         addr,
		maxFrameSize: maxFrameSize,
	}
}

func (t *streamTransport) ReadFrame() ([]byte, error) {
	return protocol.ReadFrame(t.conn, t.maxFrameSize)
}

func (t *streamTransport) WriteFrame(payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	// A timed-out write may leave a partial frame behind; the hub closes the
	// connection on any write error.
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return protocol.WriteFrame(t.conn, payload)
}

func (t *streamTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

func (t *streamTransport) RemoteAddr() string {
	return t.addr
}
