// Package client is the terminal front end for the group chat server.
package client

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Tyrowin/groupchat/internal/protocol"
)

// Phase mirrors the server-side session state for this connection.
type Phase int

// Client phases.
const (
	PhaseLogin Phase = iota
	PhaseWaiting  // logged in, not a member, no invitation to answer
	PhaseDeciding // an invitation arrived
	PhaseActive
	PhaseClosed
)

var (
	// ErrEmptyInput is returned for a blank line.
	ErrEmptyInput = errors.New("empty input")
	// ErrUnknownCommand is returned for a slash command the client does not know.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrNotAllowed is returned for input that is not valid in the current phase.
	ErrNotAllowed = errors.New("not allowed now")
)

// parseInput turns one line typed by the user into the message to send.
// Plain text in the active phase is sent verbatim; a leading "//" escapes a
// literal slash.
func parseInput(phase Phase, line string) (protocol.Message, error) {
	trimmed := strings.TrimSpace(line)

	switch phase {
	case PhaseLogin:
		if trimmed == "" {
			return nil, ErrEmptyInput
		}
		return protocol.LoginRequest{Name: trimmed}, nil

	case PhaseWaiting:
		if trimmed == "" {
			return nil, ErrEmptyInput
		}
		return nil, fmt.Errorf("%w: waiting for an invitation", ErrNotAllowed)

	case PhaseDeciding:
		switch strings.ToLower(trimmed) {
		case "/accept", "y", "yes":
			return protocol.GroupDecision{Accept: true}, nil
		case "/reject", "n", "no":
			return protocol.GroupDecision{Accept: false}, nil
		case "":
			return nil, ErrEmptyInput
		}
		return nil, fmt.Errorf("%w: answer /accept or /reject", ErrNotAllowed)

	case PhaseActive:
		return parseCommand(line)
	}
	return nil, fmt.Errorf("%w: connection closed", ErrNotAllowed)
}

func parseCommand(line string) (protocol.Message, error) {
	if strings.TrimSpace(line) == "" {
		return nil, ErrEmptyInput
	}
	if strings.HasPrefix(line, "//") {
		return protocol.ClientCommand{Sub: protocol.CommandText, Text: []byte(line[1:])}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return protocol.ClientCommand{Sub: protocol.CommandText, Text: []byte(line)}, nil
	}

	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "/invite":
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: usage /invite <name>", ErrNotAllowed)
		}
		return protocol.ClientCommand{Sub: protocol.CommandInvite, Target: fields[1]}, nil
	case "/leave":
		return protocol.ClientCommand{Sub: protocol.CommandLeave}, nil
	case "/exit", "/quit":
		return protocol.ClientCommand{Sub: protocol.CommandExit}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
}

// ends reports whether sending msg terminates the session.
func ends(msg protocol.Message) bool {
	cmd, ok := msg.(protocol.ClientCommand)
	return ok && (cmd.Sub == protocol.CommandLeave || cmd.Sub == protocol.CommandExit)
}
