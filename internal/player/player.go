// Package player renders decoded audio and reports its transitions on a channel.
//
// The [Player] interface is what the playback supervisor drives. [PCMPlayer] implements it with an
// ffmpeg decoder feeding a github.com/gopxl/beep/v2 streamer chain (gain, silence skip) that is
// written to an output sink such as `aplay`.
package player

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrDecode marks failures of the decoder or the render pipeline, as opposed to data source errors.
var ErrDecode = errors.New("audio decode failed")

// EventKind identifies a player transition.
type EventKind int

const (
	// EventReady fires once media is prepared and the first samples are buffered.
	EventReady EventKind = iota
	// EventEnded fires when the current media played to its end.
	EventEnded
	// EventError fires when opening, decoding or rendering fails.
	EventError
	// EventPlayingChanged fires when the play-when-ready flag flips.
	EventPlayingChanged
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	case EventPlayingChanged:
		return "playing_changed"
	default:
		return "unknown"
	}
}

// Event is a single transition of the player.
type Event struct {
	Kind     EventKind
	MediaID  string
	Playing  bool
	Position time.Duration
	Err      error
}

// MediaItem is a track handed to the player. Open is called again on every seek.
type MediaItem struct {
	ID   string
	Open func(ctx context.Context) (io.ReadCloser, error)
}

// Player is the opaque audio collaborator.
type Player interface {
	// Events returns the transition channel. It is closed by Close.
	Events() <-chan Event
	// SetMedia replaces the current media and prepares it at start without changing the play flag.
	SetMedia(item MediaItem, start time.Duration)
	Play()
	Pause()
	// Playing reports the play-when-ready flag.
	Playing() bool
	Seek(pos time.Duration)
	Position() time.Duration
	// SetGain sets the linear output gain (normalization multiplied by volume).
	SetGain(gain float64)
	SetSkipSilence(on bool)
	SetOffload(on bool)
	// Stop drops the current media.
	Stop()
	Close() error
}
