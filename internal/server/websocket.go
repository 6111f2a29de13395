// Package server carries protocol frames over WebSocket binary messages, with
// the keepalive and deadline handling browsers and proxies expect.
package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/groupchat/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ErrUnexpectedMessageType is returned when a WebSocket peer sends text instead of a binary frame.
var ErrUnexpectedMessageType = errors.New("websocket: expected binary message")

// wsTransport maps one binary WebSocket message to one frame payload.
type wsTransport struct {
	conn         *websocket.Conn
	addr         string
	maxFrameSize int
	logger       *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newWebSocketTransport(conn *websocket.Conn, addr string, maxFrameSize int, logger *slog.Logger) *wsTransport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &wsTransport{
		conn:         conn,
		addr:         addr,
		maxFrameSize: maxFrameSize,
		logger:       logger,
		done:         make(chan struct{}),
	}
	conn.SetReadLimit(int64(maxFrameSize))
	t.setupReadConnection()
	go t.keepalive()
	return t
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (t *wsTransport) setupReadConnection() {
	if err := t.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		t.logger.Warn("Error setting initial read deadline", "addr", t.addr, "err", err)
	}
	t.conn.SetPongHandler(func(string) error {
		if err := t.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			t.logger.Warn("Error setting read deadline in pong handler", "addr", t.addr, "err", err)
		}
		return nil
	})
}

func (t *wsTransport) ReadFrame() ([]byte, error) {
	messageType, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, t.classifyReadError(err)
	}
	if messageType != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: got type %d", ErrUnexpectedMessageType, messageType)
	}
	return data, nil
}

// classifyReadError maps close and size errors onto the stream transport's
// vocabulary so sessions treat both transports alike.
func (t *wsTransport) classifyReadError(err error) error {
	if errors.Is(err, websocket.ErrReadLimit) {
		return fmt.Errorf("%w: limit %d", protocol.ErrFrameTooLarge, t.maxFrameSize)
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		return io.EOF
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}

func (t *wsTransport) WriteFrame(payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.BinaryMessage, payload)
}

// keepalive sends a ping every pingPeriod until the transport is closed.
func (t *wsTransport) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				if !isExpectedCloseError(err) {
					t.logger.Warn("Error writing ping message", "addr", t.addr, "err", err)
				}
				return
			}
		}
	}
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); werr != nil && !isExpectedCloseError(werr) {
			t.logger.Debug("Error writing close message", "addr", t.addr, "err", werr)
		}
		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) RemoteAddr() string {
	return t.addr
}
