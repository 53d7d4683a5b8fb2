// Package ui implements the interactive terminal player using bubbletea's Elm architecture.
//
// The TUI has two views:
//  1. [NowPlayingView] : current track, progress, volume and playback modes
//  2. [QueueView] : the queue in play order; enter jumps to the selected item
//
// The [Model] never touches playback state directly. Keys become [Controller] calls run as
// [tea.Cmd]s and status documents arrive from [Controller.Subscribe] as messages, so the
// view always renders the engine's own state.
//
// Keyboard bindings: space play/pause, n/p next/previous, ←/→ seek, +/- volume, s shuffle,
// r repeat, R radio, tab switch view, q quit. Contextual help is rendered with
// charmbracelet/bubbles/help.
package ui
