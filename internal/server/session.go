// Package server drives one connection through login, the group decision and
// active messaging, handing every outbound event to the Hub.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Tyrowin/groupchat/internal/directory"
	"github.com/Tyrowin/groupchat/internal/protocol"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Tyrowin/groupchat/internal/server"

// errSessionEnded is returned by handlers after a deliberate Leave or Exit.
var errSessionEnded = errors.New("session ended by client")

// SessionOptions tunes a session. Zero values disable the corresponding limit.
type SessionOptions struct {
	MaxLoginAttempts    int
	RateLimit           RateLimitConfig
	AnnounceDisconnects bool
	Logger              *slog.Logger
	Metrics             *Metrics
}

// Session is the state machine for one connection.
type Session struct {
	id        string
	transport Transport
	hub       *Hub
	dir       directory.Directory
	opts      SessionOptions
	logger    *slog.Logger
	tracer    trace.Tracer
	limiter   *rateLimiter

	state    SessionState
	identity int
	attempts int
}

// NewSession binds a fresh session to t. It starts in StateAwaitingLogin.
func NewSession(t Transport, hub *Hub, dir directory.Directory, opts SessionOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()

	var limiter *rateLimiter
	if opts.RateLimit.Burst > 0 {
		limiter = newRateLimiter(opts.RateLimit)
	}

	return &Session{
		id:        id,
		transport: t,
		hub:       hub,
		dir:       dir,
		opts:      opts,
		logger:    logger.With("conn", id, "addr", t.RemoteAddr()),
		tracer:    otel.Tracer(tracerName),
		limiter:   limiter,
		state:     StateAwaitingLogin,
		identity:  -1,
	}
}

// ID is the unique connection id used in logs.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state. It is only meaningful from the goroutine
// running Serve or after Serve returned.
func (s *Session) State() SessionState {
	return s.state
}

// Serve runs the decode loop until the session closes. Cancelling ctx closes
// the transport, which ends the loop. The returned error is nil for a
// deliberate Leave or Exit and for a peer disconnect.
func (s *Session) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = s.transport.Close()
	})
	defer stop()

	s.logger.Info("Client connected")

	var err error
	for err == nil {
		err = s.step(ctx)
	}
	return s.close(ctx, err)
}

// step reads, decodes and handles one frame.
func (s *Session) step(ctx context.Context) error {
	payload, err := s.transport.ReadFrame()
	if err != nil {
		if errors.Is(err, protocol.ErrFrameTooLarge) || errors.Is(err, protocol.ErrNegativeLength) ||
			errors.Is(err, ErrUnexpectedMessageType) {
			return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
		}
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	msg, err := protocol.Decode(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}

	switch s.state {
	case StateAwaitingLogin:
		if req, ok := msg.(protocol.LoginRequest); ok {
			return s.handleLogin(ctx, req)
		}
	case StateAwaitingGroupDecision:
		if decision, ok := msg.(protocol.GroupDecision); ok {
			return s.handleDecision(ctx, decision)
		}
	case StateActive:
		if cmd, ok := msg.(protocol.ClientCommand); ok {
			return s.handleCommand(ctx, cmd)
		}
	}
	return fmt.Errorf("%w: %s not allowed in state %s", ErrProtocolViolation, msg.Kind(), s.state)
}

func (s *Session) handleLogin(ctx context.Context, req protocol.LoginRequest) error {
	_, span := s.tracer.Start(ctx, "session.login", trace.WithAttributes(attribute.String("chat.name", req.Name)))
	defer span.End()

	id, ok := s.dir.Lookup(req.Name)
	if !ok {
		s.attempts++
		s.opts.Metrics.login("unknown_name")
		s.logger.Info("Login failed: unknown name", "name", req.Name, "attempt", s.attempts)
		span.SetStatus(codes.Error, "unknown name")

		if err := s.transport.WriteFrame(protocol.LoginResult{OK: false}.Encode()); err != nil {
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
		if s.opts.MaxLoginAttempts > 0 && s.attempts >= s.opts.MaxLoginAttempts {
			return ErrLoginAttemptsExceeded
		}
		return nil
	}

	member := s.hub.IsMember(id)

	// The reply goes out before the identity is attached so it precedes any
	// event the hub has queued for this identity.
	if err := s.transport.WriteFrame(protocol.LoginResult{OK: true, ID: int32(id), Member: member}.Encode()); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	prev, err := s.hub.Attach(id, s.transport)
	if err != nil {
		return err
	}
	s.identity = id
	s.logger = s.logger.With("identity", id, "name", req.Name)

	if prev != nil {
		s.logger.Warn("Identity logged in again; invalidating previous connection", "previous", prev.RemoteAddr())
		_ = prev.Close()
	}

	s.opts.Metrics.login("ok")
	span.SetAttributes(attribute.Int("chat.identity", id), attribute.Bool("chat.member", member))

	if member {
		s.state = StateActive
	} else {
		s.state = StateAwaitingGroupDecision
	}
	s.logger.Info("Client registered", "member", member, "state", s.state.String())
	return nil
}

func (s *Session) handleDecision(ctx context.Context, decision protocol.GroupDecision) error {
	_, span := s.tracer.Start(ctx, "session.group_decision",
		trace.WithAttributes(attribute.Int("chat.identity", s.identity), attribute.Bool("chat.accept", decision.Accept)))
	defer span.End()

	if !decision.Accept {
		if !s.hub.Decline(s.identity) {
			span.SetStatus(codes.Error, "not invited")
			return fmt.Errorf("%w: reject: %w", ErrProtocolViolation, ErrNotInvited)
		}
		s.hub.Broadcast(s.event(protocol.EventRejectBroadcast))
		s.logger.Info("Invitation rejected")
		return nil
	}

	if err := s.hub.Accept(s.identity); err != nil {
		span.SetStatus(codes.Error, "not invited")
		return fmt.Errorf("%w: accept: %w", ErrProtocolViolation, err)
	}
	s.hub.Broadcast(s.event(protocol.EventAcceptBroadcast))
	s.state = StateActive
	s.logger.Info("Invitation accepted; joined group")
	return nil
}

func (s *Session) handleCommand(ctx context.Context, cmd protocol.ClientCommand) error {
	_, span := s.tracer.Start(ctx, "session.command",
		trace.WithAttributes(attribute.Int("chat.identity", s.identity), attribute.String("chat.command", cmd.Sub.String())))
	defer span.End()
	s.opts.Metrics.command(cmd.Sub.String())

	switch cmd.Sub {
	case protocol.CommandText:
		if !s.limiter.allow() {
			s.logger.Warn("Rate limit exceeded; discarding text",
				"burst", s.opts.RateLimit.Burst, "interval", s.opts.RateLimit.RefillInterval)
			return s.reject(protocol.CommandText, protocol.ReasonRateLimited)
		}
		s.hub.Broadcast(protocol.ServerEvent{Sub: protocol.EventText, From: int32(s.identity), Text: cmd.Text}.Encode())
		return nil

	case protocol.CommandInvite:
		target, ok := s.dir.Lookup(cmd.Target)
		if !ok {
			s.logger.Info("Invite rejected: unknown target", "target", cmd.Target)
			return s.reject(protocol.CommandInvite, protocol.ReasonUnknownTarget)
		}
		s.hub.Broadcast(protocol.ServerEvent{
			Sub:    protocol.EventInviteBroadcast,
			From:   int32(s.identity),
			Target: int32(target),
		}.Encode())
		pending, err := s.hub.Invite(target, protocol.GroupInviteNotice{}.Encode())
		if err != nil {
			return err
		}
		s.logger.Info("Invited identity", "target", target, "pending", pending)
		return nil

	case protocol.CommandLeave:
		discarded := s.hub.Leave(s.identity)
		s.hub.Broadcast(s.event(protocol.EventLeaveBroadcast))
		s.logger.Info("Left group", "discarded", discarded)
		return errSessionEnded

	case protocol.CommandExit:
		// The identity stays a member, so skip it or its next login would
		// start with its own exit.
		s.hub.BroadcastExcept(s.event(protocol.EventExitBroadcast), s.identity)
		s.logger.Info("Exited")
		return errSessionEnded
	}

	span.SetStatus(codes.Error, "unknown command")
	return fmt.Errorf("%w: command %d", ErrProtocolViolation, cmd.Sub)
}

// reject queues a typed negative reply behind the events already owed to this identity.
func (s *Session) reject(sub protocol.CommandSub, reason protocol.RejectReason) error {
	return s.hub.DirectedSend(s.identity, protocol.CommandRejected{Sub: sub, Reason: reason}.Encode())
}

func (s *Session) event(sub protocol.EventSub) []byte {
	return protocol.ServerEvent{Sub: sub, From: int32(s.identity)}.Encode()
}

// close is the single teardown path. It deregisters the identity, announces
// an unplanned departure of an active member when configured, and closes the
// transport.
func (s *Session) close(ctx context.Context, cause error) error {
	reason, result := s.classify(ctx, cause)

	if s.identity >= 0 {
		owned := s.hub.Detach(s.identity, s.transport)
		announce := owned && s.opts.AnnounceDisconnects && s.state == StateActive &&
			reason != "ended" && reason != "shutdown" && s.hub.IsMember(s.identity)
		if announce {
			s.hub.BroadcastExcept(s.event(protocol.EventExitBroadcast), s.identity)
		}
	}

	prevState := s.state
	s.state = StateClosed
	if err := s.transport.Close(); err != nil && !isExpectedCloseError(err) {
		s.logger.Warn("Error closing connection", "err", err)
	}

	s.opts.Metrics.sessionClosed(reason)
	if result != nil {
		s.logger.Warn("Client unregistered", "reason", reason, "state", prevState.String(), "err", cause)
	} else {
		s.logger.Info("Client unregistered", "reason", reason, "state", prevState.String())
	}
	return result
}

// classify names the termination cause and decides what Serve returns.
func (s *Session) classify(ctx context.Context, cause error) (string, error) {
	switch {
	case errors.Is(cause, errSessionEnded):
		return "ended", nil
	case ctx.Err() != nil:
		return "shutdown", nil
	case errors.Is(cause, ErrProtocolViolation):
		return "protocol", cause
	case errors.Is(cause, ErrLoginAttemptsExceeded):
		return "login_attempts", cause
	case errors.Is(cause, ErrTransport) && isExpectedCloseError(cause):
		return "disconnect", nil
	default:
		return "transport", cause
	}
}
