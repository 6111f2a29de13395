package protocol

import (
	"errors"
	"fmt"
)

// Kind is the first integer of every payload.
type Kind int32

// Message kinds.
const (
	KindLoginRequest      Kind = 0
	KindLoginResult       Kind = 1
	KindGroupInviteNotice Kind = 2
	KindGroupDecision     Kind = 3
	KindClientCommand     Kind = 4
	KindServerEvent       Kind = 5
	KindCommandRejected   Kind = 6
)

func (k Kind) String() string {
	switch k {
	case KindLoginRequest:
		return "LoginRequest"
	case KindLoginResult:
		return "LoginResult"
	case KindGroupInviteNotice:
		return "GroupInviteNotice"
	case KindGroupDecision:
		return "GroupDecision"
	case KindClientCommand:
		return "ClientCommand"
	case KindServerEvent:
		return "ServerEvent"
	case KindCommandRejected:
		return "CommandRejected"
	default:
		return fmt.Sprintf("Kind(%d)", int32(k))
	}
}

// CommandSub selects the ClientCommand variant.
type CommandSub int32

// ClientCommand variants.
const (
	CommandText   CommandSub = 0
	CommandInvite CommandSub = 1
	CommandLeave  CommandSub = 2
	CommandExit   CommandSub = 3
)

func (c CommandSub) String() string {
	switch c {
	case CommandText:
		return "text"
	case CommandInvite:
		return "invite"
	case CommandLeave:
		return "leave"
	case CommandExit:
		return "exit"
	default:
		return fmt.Sprintf("command %d", int32(c))
	}
}

// EventSub selects the ServerEvent variant.
type EventSub int32

// ServerEvent variants.
const (
	EventText            EventSub = 0
	EventInviteBroadcast EventSub = 1
	EventLeaveBroadcast  EventSub = 2
	EventExitBroadcast   EventSub = 3
	EventAcceptBroadcast EventSub = 4
	EventRejectBroadcast EventSub = 5
)

// RejectReason explains a CommandRejected reply.
type RejectReason int32

// Rejection reasons.
const (
	ReasonUnknownTarget RejectReason = 1
	ReasonRateLimited   RejectReason = 2
)

func (r RejectReason) String() string {
	switch r {
	case ReasonUnknownTarget:
		return "unknown target"
	case ReasonRateLimited:
		return "rate limited"
	default:
		return fmt.Sprintf("reason %d", int32(r))
	}
}

const (
	statusOK   int32 = 0
	statusFail int32 = 1
)

var (
	// ErrUnknownKind is returned for a payload whose kind is not in the vocabulary.
	ErrUnknownKind = errors.New("protocol: unknown message kind")
	// ErrUnknownSub is returned for an unknown command or event variant.
	ErrUnknownSub = errors.New("protocol: unknown message variant")
	// ErrBadStatus is returned for a status field outside its defined values.
	ErrBadStatus = errors.New("protocol: invalid status")
)

// Message is any decoded payload.
type Message interface {
	Kind() Kind
	Encode() []byte
}

// LoginRequest asks to bind the connection to the named identity.
type LoginRequest struct {
	Name string
}

// LoginResult answers a LoginRequest. ID and Member are meaningful only when OK.
type LoginResult struct {
	OK     bool
	ID     int32
	Member bool
}

// GroupInviteNotice tells a non-member it has been invited.
type GroupInviteNotice struct{}

// GroupDecision answers an invitation.
type GroupDecision struct {
	Accept bool
}

// ClientCommand is sent by an active session.
type ClientCommand struct {
	Sub    CommandSub
	Text   []byte
	Target string
}

// ServerEvent is fanned out by the dispatch engine.
type ServerEvent struct {
	Sub    EventSub
	From   int32
	Target int32
	Text   []byte
}

// CommandRejected is the typed negative reply to a ClientCommand.
type CommandRejected struct {
	Sub    CommandSub
	Reason RejectReason
}

func (LoginRequest) Kind() Kind      { return KindLoginRequest }
func (LoginResult) Kind() Kind       { return KindLoginResult }
func (GroupInviteNotice) Kind() Kind { return KindGroupInviteNotice }
func (GroupDecision) Kind() Kind     { return KindGroupDecision }
func (ClientCommand) Kind() Kind     { return KindClientCommand }
func (ServerEvent) Kind() Kind       { return KindServerEvent }
func (CommandRejected) Kind() Kind   { return KindCommandRejected }

func (m LoginRequest) Encode() []byte {
	return NewEncoder(8 + len(m.Name)).Int(int32(KindLoginRequest)).Block([]byte(m.Name)).Bytes()
}

func (m LoginResult) Encode() []byte {
	e := NewEncoder(16).Int(int32(KindLoginResult))
	if !m.OK {
		return e.Int(statusFail).Bytes()
	}
	return e.Int(statusOK).Int(m.ID).Int(boolInt(m.Member)).Bytes()
}

func (GroupInviteNotice) Encode() []byte {
	return NewEncoder(4).Int(int32(KindGroupInviteNotice)).Bytes()
}

func (m GroupDecision) Encode() []byte {
	status := statusFail
	if m.Accept {
		status = statusOK
	}
	return NewEncoder(8).Int(int32(KindGroupDecision)).Int(status).Bytes()
}

func (m ClientCommand) Encode() []byte {
	e := NewEncoder(12 + len(m.Text) + len(m.Target)).Int(int32(KindClientCommand)).Int(int32(m.Sub))
	switch m.Sub {
	case CommandText:
		e.Block(m.Text)
	case CommandInvite:
		e.Block([]byte(m.Target))
	}
	return e.Bytes()
}

func (m ServerEvent) Encode() []byte {
	e := NewEncoder(16 + len(m.Text)).Int(int32(KindServerEvent)).Int(int32(m.Sub))
	switch m.Sub {
	case EventText:
		e.Int(m.From).Block(m.Text)
	case EventInviteBroadcast:
		e.Int(m.From).Int(m.Target)
	default:
		e.Int(m.From)
	}
	return e.Bytes()
}

func (m CommandRejected) Encode() []byte {
	return NewEncoder(12).Int(int32(KindCommandRejected)).Int(int32(m.Sub)).Int(int32(m.Reason)).Bytes()
}

// Decode parses a frame payload into its typed message.
func Decode(payload []byte) (Message, error) {
	d := NewDecoder(payload)
	raw, err := d.Int()
	if err != nil {
		return nil, err
	}

	var msg Message
	switch kind := Kind(raw); kind {
	case KindLoginRequest:
		msg, err = decodeLoginRequest(d)
	case KindLoginResult:
		msg, err = decodeLoginResult(d)
	case KindGroupInviteNotice:
		msg = GroupInviteNotice{}
	case KindGroupDecision:
		msg, err = decodeGroupDecision(d)
	case KindClientCommand:
		msg, err = decodeClientCommand(d)
	case KindServerEvent:
		msg, err = decodeServerEvent(d)
	case KindCommandRejected:
		msg, err = decodeCommandRejected(d)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, raw)
	}
	if err != nil {
		return nil, err
	}
	if err := d.Done(); err != nil {
		return nil, err
	}
	return msg, nil
}

func decodeLoginRequest(d *Decoder) (Message, error) {
	name, err := d.Block()
	if err != nil {
		return nil, err
	}
	return LoginRequest{Name: string(name)}, nil
}

func decodeLoginResult(d *Decoder) (Message, error) {
	status, err := d.Int()
	if err != nil {
		return nil, err
	}
	switch status {
	case statusFail:
		return LoginResult{}, nil
	case statusOK:
	default:
		return nil, fmt.Errorf("%w: login status %d", ErrBadStatus, status)
	}

	id, err := d.Int()
	if err != nil {
		return nil, err
	}
	member, err := d.Int()
	if err != nil {
		return nil, err
	}
	return LoginResult{OK: true, ID: id, Member: member != 0}, nil
}

func decodeGroupDecision(d *Decoder) (Message, error) {
	status, err := d.Int()
	if err != nil {
		return nil, err
	}
	switch status {
	case statusOK:
		return GroupDecision{Accept: true}, nil
	case statusFail:
		return GroupDecision{Accept: false}, nil
	default:
		return nil, fmt.Errorf("%w: decision status %d", ErrBadStatus, status)
	}
}

func decodeClientCommand(d *Decoder) (Message, error) {
	sub, err := d.Int()
	if err != nil {
		return nil, err
	}

	cmd := ClientCommand{Sub: CommandSub(sub)}
	switch cmd.Sub {
	case CommandText:
		if cmd.Text, err = d.Block(); err != nil {
			return nil, err
		}
	case CommandInvite:
		target, err := d.Block()
		if err != nil {
			return nil, err
		}
		cmd.Target = string(target)
	case CommandLeave, CommandExit:
	default:
		return nil, fmt.Errorf("%w: command %d", ErrUnknownSub, sub)
	}
	return cmd, nil
}

func decodeServerEvent(d *Decoder) (Message, error) {
	sub, err := d.Int()
	if err != nil {
		return nil, err
	}

	ev := ServerEvent{Sub: EventSub(sub)}
	switch ev.Sub {
	case EventText:
		if ev.From, err = d.Int(); err != nil {
			return nil, err
		}
		if ev.Text, err = d.Block(); err != nil {
			return nil, err
		}
	case EventInviteBroadcast:
		if ev.From, err = d.Int(); err != nil {
			return nil, err
		}
		if ev.Target, err = d.Int(); err != nil {
			return nil, err
		}
	case EventLeaveBroadcast, EventExitBroadcast, EventAcceptBroadcast, EventRejectBroadcast:
		if ev.From, err = d.Int(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: event %d", ErrUnknownSub, sub)
	}
	return ev, nil
}

func decodeCommandRejected(d *Decoder) (Message, error) {
	sub, err := d.Int()
	if err != nil {
		return nil, err
	}
	reason, err := d.Int()
	if err != nil {
		return nil, err
	}
	return CommandRejected{Sub: CommandSub(sub), Reason: RejectReason(reason)}, nil
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
