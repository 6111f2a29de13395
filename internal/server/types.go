// Package server defines the session states, the transport contract and the
// error helpers shared by the hub and the sessions.
package server

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// SessionState is the position of a connection in the login → decision →
// active protocol.
type SessionState int

// Session states.
const (
	StateAwaitingLogin SessionState = iota
	StateAwaitingGroupDecision
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateAwaitingLogin:
		return "awaiting-login"
	case StateAwaitingGroupDecision:
		return "awaiting-group-decision"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport carries whole frames for one connection. WriteFrame must be safe
// to call concurrently with ReadFrame and with itself; Close must be
// idempotent and unblock pending reads and writes.
type Transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame(payload []byte) error
	Close() error
	RemoteAddr() string
}

var (
	// ErrProtocolViolation marks a frame that is malformed or not valid in
	// the session's current state.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrTransport wraps read and write failures of the underlying connection.
	ErrTransport = errors.New("transport failure")
	// ErrLoginAttemptsExceeded closes a connection that keeps sending unknown names.
	ErrLoginAttemptsExceeded = errors.New("too many failed login attempts")
	// ErrUnknownIdentity is returned for ids outside the hub's registry.
	ErrUnknownIdentity = errors.New("unknown identity")
	// ErrNotInvited is returned when an identity accepts without a pending invitation.
	ErrNotInvited = errors.New("no pending invitation")
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
