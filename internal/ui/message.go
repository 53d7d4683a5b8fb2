package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/ytplay/internal/models"
	"github.com/desertthunder/ytplay/internal/playback"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var _ tea.Msg = Msg{}

const (
	MsgStatus MsgKind = iota
	MsgQueue
	MsgCommandFailed
	MsgStopped
)

// statusMsg is the constructor for [MsgStatus]
func statusMsg(st playback.Status) Msg {
	return Msg{kind: MsgStatus, data: st}
}

// queueMsg is the constructor for [MsgQueue]
func queueMsg(items []models.Track) Msg {
	return Msg{kind: MsgQueue, data: items}
}

// commandFailedMsg is the constructor for [MsgCommandFailed]
func commandFailedMsg(err error) Msg {
	return Msg{kind: MsgCommandFailed, data: err}
}

// stoppedMsg is the constructor for [MsgStopped]
func stoppedMsg() Msg {
	return Msg{kind: MsgStopped}
}
