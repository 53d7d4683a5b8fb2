package playback

import (
	"time"

	"github.com/desertthunder/ytplay/internal/models"
	"github.com/desertthunder/ytplay/internal/queue"
)

// Status is what front-ends render. It is a copy and safe to keep.
type Status struct {
	Track          *models.Track    `json:"track,omitempty"`
	Index          int              `json:"index"`
	Length         int              `json:"length"`
	Title          string           `json:"title,omitempty"`
	Playing        bool             `json:"playing"`
	Buffering      bool             `json:"buffering"`
	Ended          bool             `json:"ended"`
	PositionMillis int64            `json:"position_millis"`
	DurationMillis int64            `json:"duration_millis"`
	Volume         float64          `json:"volume"`
	Gain           float64          `json:"gain"`
	Muted          bool             `json:"muted"`
	Shuffle        bool             `json:"shuffle"`
	Repeat         queue.RepeatMode `json:"repeat"`
	HasMore        bool             `json:"has_more"`
	Error          MessageKey       `json:"error,omitempty"`
	ErrorDetail    string           `json:"error_detail,omitempty"`
}

func (s Status) Position() time.Duration {
	return time.Duration(s.PositionMillis) * time.Millisecond
}

// Duration is negative when the track length is unknown.
func (s Status) Duration() time.Duration {
	return time.Duration(s.DurationMillis) * time.Millisecond
}
