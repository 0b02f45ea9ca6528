package ws

import (
	"time"

	"github.com/Chino66/Command-Tool-Develop/internal/domain/session"
	"github.com/Chino66/Command-Tool-Develop/internal/shell"
)

// Server message types not carried over from session events.
const (
	TypeConnected = "connected"
	TypeAccepted  = "accepted"
	TypePong      = "pong"
	TypeError     = "error"
)

// Client message types.
const (
	TypeRun   = "run"
	TypeExec  = "exec"
	TypeDebug = "debug"
	TypePing  = "ping"
)

// ClientMessage is a request sent by the client.
type ClientMessage struct {
	Type      string `json:"type"`
	Command   string `json:"command,omitempty"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
	Enabled   bool   `json:"enabled,omitempty"`
}

func (m ClientMessage) timeout() time.Duration {
	if m.TimeoutMS <= 0 {
		return 0
	}
	return time.Duration(m.TimeoutMS) * time.Millisecond
}

// Message is sent to the client.
type Message struct {
	Type      string        `json:"type"`
	SessionID string        `json:"session_id,omitempty"`
	Line      string        `json:"line,omitempty"`
	Kind      string        `json:"kind,omitempty"`
	Result    *shell.Result `json:"result,omitempty"`
	Command   string        `json:"command,omitempty"`
	Message   string        `json:"message,omitempty"`
	Timestamp int64         `json:"timestamp"`
}

func fromEvent(ev session.Event) Message {
	return Message{
		Type:      string(ev.Type),
		SessionID: ev.SessionID,
		Line:      ev.Line,
		Kind:      ev.Kind,
		Result:    ev.Result,
		Timestamp: time.Now().UnixMilli(),
	}
}

func errorMessage(sessionID, msg string) Message {
	return Message{
		Type:      TypeError,
		SessionID: sessionID,
		Message:   msg,
		Timestamp: time.Now().UnixMilli(),
	}
}
