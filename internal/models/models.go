package models

import (
	"fmt"
	"strings"
	"time"
)

// LocalIDPrefix marks track ids that refer to files on disk.
const LocalIDPrefix = "LA"

// UnknownDuration is the duration of a track whose length has not been discovered.
const UnknownDuration = -1

// IsLocalID reports whether id belongs to the local file namespace.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// Artist is a named performer reference.
type Artist struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// AlbumRef is a lightweight album reference attached to a track.
type AlbumRef struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title"`
}

// Track is a single playable audio item.
type Track struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Artists      []Artist  `json:"artists,omitempty"`
	Album        *AlbumRef `json:"album,omitempty"`
	Duration     int       `json:"duration"` // seconds, -1 when unknown
	Explicit     bool      `json:"explicit,omitempty"`
	LocalPath    string    `json:"local_path,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
}

// IsLocal reports whether the track is served from the filesystem.
func (t Track) IsLocal() bool {
	return IsLocalID(t.ID)
}

// ArtistNames joins artist names with ", ".
func (t Track) ArtistNames() string {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}
	return strings.Join(names, ", ")
}

// DurationMillis returns the duration in milliseconds, or -1 when unknown.
func (t Track) DurationMillis() int64 {
	if t.Duration < 0 {
		return UnknownDuration
	}
	return int64(t.Duration) * 1000
}

// Validate checks the fields required to persist a track.
func (t Track) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("track id is required")
	}
	if t.Duration < UnknownDuration {
		return fmt.Errorf("track %s has invalid duration %d", t.ID, t.Duration)
	}
	return nil
}

// String renders "Artist - Title" for logs and listings.
func (t Track) String() string {
	if artists := t.ArtistNames(); artists != "" {
		return artists + " - " + t.Title
	}
	if t.Title != "" {
		return t.Title
	}
	return t.ID
}

// StreamFormat is the resolved encoding metadata recorded for a track.
type StreamFormat struct {
	TrackID             string
	Itag                int
	MimeType            string
	Codecs              string
	Bitrate             int
	SampleRate          int
	ContentLength       int64
	LoudnessDB          *float64
	PlaybackTrackingURL string
	UpdatedAt           time.Time
}

// Container returns the mime type without codec parameters, e.g. "audio/webm".
func (f StreamFormat) Container() string {
	c, _, _ := strings.Cut(f.MimeType, ";")
	return strings.TrimSpace(c)
}

// PlaybackEvent is one qualifying listen.
type PlaybackEvent struct {
	ID        string
	TrackID   string
	Timestamp time.Time
	PlayTime  int64 // milliseconds
}
