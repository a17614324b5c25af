package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/crate/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgProgressUpdate MsgKind = iota
	MsgReviewReady
	MsgBuildComplete
)

// buildOutcome is the payload of [MsgBuildComplete].
type buildOutcome struct {
	result *tasks.BuildResult
	err    error
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}

// reviewReadyMsg is the constructor for [MsgReviewReady]
func reviewReadyMsg(res *tasks.BuildResult) Msg {
	return Msg{kind: MsgReviewReady, data: res}
}

// buildCompleteMsg is the constructor for [MsgBuildComplete]
func buildCompleteMsg(result *tasks.BuildResult, err error) Msg {
	return Msg{kind: MsgBuildComplete, data: buildOutcome{result: result, err: err}}
}
