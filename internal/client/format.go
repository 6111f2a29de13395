package client

import (
	"fmt"

	"github.com/Tyrowin/groupchat/internal/protocol"
)

// lineKind selects the style a transcript line is rendered with.
type lineKind int

const (
	lineChat lineKind = iota
	lineOwnChat
	lineNotice
	lineError
)

type line struct {
	kind lineKind
	text string
}

// namer resolves an identity to its display name.
type namer func(id int) string

// formatEvent renders a server event relative to the local identity self.
func formatEvent(ev protocol.ServerEvent, self int32, name namer) line {
	who := func(id int32) string {
		if id == self {
			return "you"
		}
		return name(int(id))
	}

	switch ev.Sub {
	case protocol.EventText:
		kind := lineChat
		if ev.From == self {
			kind = lineOwnChat
		}
		return line{kind: kind, text: fmt.Sprintf("%s: %s", name(int(ev.From)), ev.Text)}
	case protocol.EventInviteBroadcast:
		return line{kind: lineNotice, text: fmt.Sprintf("* %s invited %s", who(ev.From), who(ev.Target))}
	case protocol.EventAcceptBroadcast:
		return line{kind: lineNotice, text: fmt.Sprintf("* %s joined the group", who(ev.From))}
	case protocol.EventRejectBroadcast:
		return line{kind: lineNotice, text: fmt.Sprintf("* %s declined the invitation", who(ev.From))}
	case protocol.EventLeaveBroadcast:
		return line{kind: lineNotice, text: fmt.Sprintf("* %s left the group", who(ev.From))}
	case protocol.EventExitBroadcast:
		return line{kind: lineNotice, text: fmt.Sprintf("* %s went offline", who(ev.From))}
	}
	return line{kind: lineError, text: fmt.Sprintf("unknown event %d", ev.Sub)}
}

func formatRejection(r protocol.CommandRejected) line {
	switch r.Sub {
	case protocol.CommandInvite:
		return line{kind: lineError, text: fmt.Sprintf("invite failed: %s", r.Reason)}
	case protocol.CommandText:
		return line{kind: lineError, text: fmt.Sprintf("message not sent: %s", r.Reason)}
	}
	return line{kind: lineError, text: fmt.Sprintf("command %s rejected: %s", r.Sub, r.Reason)}
}
