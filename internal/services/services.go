package services

import (
	"context"
	"strings"

	"github.com/desertthunder/ytplay/internal/models"
)

// StatusOK is the playability status of a streamable track.
const StatusOK = "OK"

// Provider is the remote catalog and stream provider consumed by the engine.
type Provider interface {
	// Name returns the provider name (e.g. "YouTube Music")
	Name() string

	// GetPlaybackOptions returns the playability status and available encodings of a track.
	GetPlaybackOptions(ctx context.Context, trackID string) (*PlaybackOptions, error)

	// GetRelated returns the continuation token of the radio seeded by trackID.
	GetRelated(ctx context.Context, trackID string) (string, error)

	// GetPlaylist returns the first page of a remote playlist.
	GetPlaylist(ctx context.Context, playlistID string) (*Page, error)

	// GetPage fetches the page addressed by a continuation token.
	GetPage(ctx context.Context, continuation string) (*Page, error)

	// RegisterPlayback reports a listen to the upstream history via its tracking URL.
	RegisterPlayback(ctx context.Context, trackingURL string) error
}

// Encoding is one downloadable representation of a track.
type Encoding struct {
	Itag          int
	MimeType      string
	Bitrate       int
	SampleRate    int
	ContentLength int64
	URL           string
}

// IsAudioOnly reports whether the encoding carries no video stream.
func (e Encoding) IsAudioOnly() bool {
	return strings.HasPrefix(e.MimeType, "audio/")
}

// Codecs extracts the codecs parameter of the mime type, e.g. "opus".
func (e Encoding) Codecs() string {
	_, params, ok := strings.Cut(e.MimeType, "codecs=")
	if !ok {
		return ""
	}
	return strings.Trim(strings.TrimSpace(params), `"`)
}

// PlaybackOptions is the provider's answer for a single track.
type PlaybackOptions struct {
	Status           string
	Reason           string
	Encodings        []Encoding
	LoudnessDB       *float64
	TrackingURL      string
	ExpiresInSeconds int64
	// Details carries track metadata discovered during resolution, if any.
	Details *models.Track
}

// Playable reports whether the provider considers the track streamable.
func (p *PlaybackOptions) Playable() bool {
	return p != nil && p.Status == StatusOK
}

// Page is one batch of queue items with an optional continuation.
type Page struct {
	Title        string
	Tracks       []models.Track
	Continuation string
}

// HasMore reports whether another page can be fetched.
func (p *Page) HasMore() bool {
	return p != nil && p.Continuation != ""
}
