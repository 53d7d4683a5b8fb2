package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/ytplay/internal/models"
	"github.com/desertthunder/ytplay/internal/shared"
	"github.com/kkdai/youtube/v2"
	"golang.org/x/time/rate"
)

// mixPrefix turns a video id into the id of its auto-generated mix playlist.
const mixPrefix = "RD"

// VideoService implements [Provider] by talking to YouTube directly through [youtube.Client].
type VideoService struct {
	client     youtube.Client
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewVideoService creates a direct resolver. A nil client uses [http.DefaultClient].
func NewVideoService(httpClient *http.Client, rps float64) *VideoService {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &VideoService{
		client:     youtube.Client{HTTPClient: httpClient},
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		now:        time.Now,
	}
}

// Name returns the service name.
func (v *VideoService) Name() string {
	return "YouTube"
}

// GetPlaybackOptions lists the audio encodings of a video with deciphered URLs.
//
// Playability failures reported by the library are returned as a non-OK status rather than an error.
func (v *VideoService) GetPlaybackOptions(ctx context.Context, trackID string) (*PlaybackOptions, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	video, err := v.client.GetVideoContext(ctx, trackID)
	if err != nil {
		if opts, ok := playabilityFromError(err); ok {
			return opts, nil
		}
		return nil, fmt.Errorf("failed to fetch video %s: %w", trackID, err)
	}

	opts := &PlaybackOptions{Status: StatusOK, Details: videoDetails(video)}
	for _, f := range video.Formats.Type("audio") {
		format := f
		streamURL := format.URL
		if streamURL == "" {
			streamURL, err = v.client.GetStreamURLContext(ctx, video, &format)
			if err != nil {
				return nil, fmt.Errorf("failed to decipher stream url for itag %d: %w", format.ItagNo, err)
			}
		}

		enc := Encoding{
			Itag:          format.ItagNo,
			MimeType:      format.MimeType,
			Bitrate:       format.Bitrate,
			ContentLength: format.ContentLength,
			URL:           streamURL,
		}
		enc.SampleRate, _ = strconv.Atoi(format.AudioSampleRate)
		opts.Encodings = append(opts.Encodings, enc)

		if expires := v.expiresIn(streamURL); expires > 0 && (opts.ExpiresInSeconds == 0 || expires < opts.ExpiresInSeconds) {
			opts.ExpiresInSeconds = expires
		}
	}

	if len(opts.Encodings) == 0 {
		opts.Status = "UNPLAYABLE"
		opts.Reason = "no audio formats available"
	}
	return opts, nil
}

// expiresIn reads the "expire" unix timestamp of a signed googlevideo URL.
func (v *VideoService) expiresIn(streamURL string) int64 {
	u, err := url.Parse(streamURL)
	if err != nil {
		return 0
	}
	expire, err := strconv.ParseInt(u.Query().Get("expire"), 10, 64)
	if err != nil {
		return 0
	}
	return expire - v.now().Unix()
}

func playabilityFromError(err error) (*PlaybackOptions, bool) {
	var status youtube.ErrPlayabiltyStatus
	if errors.As(err, &status) {
		return &PlaybackOptions{Status: status.Status, Reason: status.Reason}, true
	}
	var statusPtr *youtube.ErrPlayabiltyStatus
	if errors.As(err, &statusPtr) && statusPtr != nil {
		return &PlaybackOptions{Status: statusPtr.Status, Reason: statusPtr.Reason}, true
	}

	switch {
	case errors.Is(err, youtube.ErrLoginRequired):
		return &PlaybackOptions{Status: "LOGIN_REQUIRED", Reason: err.Error()}, true
	case errors.Is(err, youtube.ErrVideoPrivate):
		return &PlaybackOptions{Status: "UNPLAYABLE", Reason: err.Error()}, true
	}
	return nil, false
}

func videoDetails(video *youtube.Video) *models.Track {
	track := &models.Track{
		ID:       video.ID,
		Title:    video.Title,
		Duration: models.UnknownDuration,
	}
	if video.Duration > 0 {
		track.Duration = int(video.Duration.Seconds())
	}
	if video.Author != "" {
		track.Artists = []models.Artist{{ID: video.ChannelID, Name: video.Author}}
	}
	if n := len(video.Thumbnails); n > 0 {
		track.ThumbnailURL = video.Thumbnails[n-1].URL
	}
	return track
}

// GetRelated returns the id of the mix playlist seeded by trackID.
func (v *VideoService) GetRelated(_ context.Context, trackID string) (string, error) {
	if trackID == "" || models.IsLocalID(trackID) {
		return "", fmt.Errorf("%w: cannot seed radio from %q", shared.ErrInvalidArgument, trackID)
	}
	return mixPrefix + trackID, nil
}

// GetPlaylist fetches a playlist; the library returns every entry at once so there is no continuation.
func (v *VideoService) GetPlaylist(ctx context.Context, playlistID string) (*Page, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	playlist, err := v.client.GetPlaylistContext(ctx, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch playlist %s: %w", playlistID, err)
	}

	page := &Page{Title: playlist.Title}
	for _, entry := range playlist.Videos {
		if entry == nil || entry.ID == "" {
			continue
		}
		track := models.Track{ID: entry.ID, Title: entry.Title, Duration: models.UnknownDuration}
		if entry.Duration > 0 {
			track.Duration = int(entry.Duration.Seconds())
		}
		if entry.Author != "" {
			track.Artists = []models.Artist{{Name: entry.Author}}
		}
		if n := len(entry.Thumbnails); n > 0 {
			track.ThumbnailURL = entry.Thumbnails[n-1].URL
		}
		page.Tracks = append(page.Tracks, track)
	}
	return page, nil
}

// GetPage treats the continuation as a playlist id, which is what [VideoService.GetRelated] hands out.
func (v *VideoService) GetPage(ctx context.Context, continuation string) (*Page, error) {
	page, err := v.GetPlaylist(ctx, continuation)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(continuation, mixPrefix) && page.Title == "" {
		page.Title = "Radio"
	}
	return page, nil
}

// RegisterPlayback pings the tracking URL directly.
func (v *VideoService) RegisterPlayback(ctx context.Context, trackingURL string) error {
	if trackingURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trackingURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: tracking request returned status %d", shared.ErrRemote, resp.StatusCode)
	}
	return nil
}
