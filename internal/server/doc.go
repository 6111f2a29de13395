// Package server implements the group chat service.
//
// A Session runs the per-connection protocol (login, group decision, active
// commands) over any Transport: framed TCP streams or binary WebSocket
// messages. Every event a session produces is handed to the Hub, which owns
// one FIFO queue per identity and a single dispatch worker that drains the
// queues round-robin so a slow recipient cannot starve the others.
package server
