// YouTube Music proxy [Provider] implementation
//
// Communicates with the FastAPI proxy server (music/) running on port 8080.
// The proxy wraps ytmusicapi and exposes the player, watch and history endpoints.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/desertthunder/ytplay/internal/models"
	"github.com/desertthunder/ytplay/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const defaultYTBaseURL string = "http://localhost:8080"

// YouTubeImage represents an image/thumbnail from YouTube Music.
type YouTubeImage struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// YouTubeArtist represents an artist in YouTube Music responses.
type YouTubeArtist struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

type youtubeAlbum struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// YouTubeTrack represents a queue entry in YouTube Music responses.
type YouTubeTrack struct {
	VideoID     string          `json:"videoId"`
	Title       string          `json:"title"`
	Artists     []YouTubeArtist `json:"artists"`
	Album       *youtubeAlbum   `json:"album"`
	DurationSec *int            `json:"duration_seconds"`
	Thumbnails  []YouTubeImage  `json:"thumbnails"`
	Explicit    bool            `json:"isExplicit"`
}

func (yt YouTubeTrack) toTrack() models.Track {
	track := models.Track{
		ID:       yt.VideoID,
		Title:    yt.Title,
		Duration: models.UnknownDuration,
		Explicit: yt.Explicit,
	}
	if yt.DurationSec != nil {
		track.Duration = *yt.DurationSec
	}
	for _, a := range yt.Artists {
		track.Artists = append(track.Artists, models.Artist{ID: a.ID, Name: a.Name})
	}
	if yt.Album != nil {
		track.Album = &models.AlbumRef{ID: yt.Album.ID, Title: yt.Album.Name}
	}
	if n := len(yt.Thumbnails); n > 0 {
		track.ThumbnailURL = yt.Thumbnails[n-1].URL
	}
	return track
}

type youtubePage struct {
	Title        string         `json:"title"`
	Tracks       []YouTubeTrack `json:"tracks"`
	Continuation string         `json:"continuation"`
}

func (p youtubePage) toPage() *Page {
	page := &Page{Title: p.Title, Continuation: p.Continuation}
	for _, t := range p.Tracks {
		if t.VideoID == "" {
			continue
		}
		page.Tracks = append(page.Tracks, t.toTrack())
	}
	return page
}

// youtubeFormat mirrors an entry of streamingData.adaptiveFormats; numeric fields arrive as strings.
type youtubeFormat struct {
	Itag            int    `json:"itag"`
	URL             string `json:"url"`
	MimeType        string `json:"mimeType"`
	Bitrate         int    `json:"bitrate"`
	AudioSampleRate string `json:"audioSampleRate"`
	ContentLength   string `json:"contentLength"`
}

type youtubePlayer struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	StreamingData struct {
		ExpiresInSeconds string          `json:"expiresInSeconds"`
		AdaptiveFormats  []youtubeFormat `json:"adaptiveFormats"`
	} `json:"streamingData"`
	PlayerConfig struct {
		AudioConfig struct {
			LoudnessDB *float64 `json:"loudnessDb"`
		} `json:"audioConfig"`
	} `json:"playerConfig"`
	PlaybackTracking struct {
		VideostatsPlaybackURL struct {
			BaseURL string `json:"baseUrl"`
		} `json:"videostatsPlaybackUrl"`
	} `json:"playbackTracking"`
	VideoDetails struct {
		VideoID       string `json:"videoId"`
		Title         string `json:"title"`
		Author        string `json:"author"`
		ChannelID     string `json:"channelId"`
		LengthSeconds string `json:"lengthSeconds"`
		Thumbnail     struct {
			Thumbnails []YouTubeImage `json:"thumbnails"`
		} `json:"thumbnail"`
	} `json:"videoDetails"`
}

// YouTubeService implements the [Provider] interface for YouTube Music via proxy.
type YouTubeService struct {
	baseURL    string
	authFile   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewYouTubeService creates a new YouTube Music service instance.
func NewYouTubeService(baseURL string) *YouTubeService {
	if baseURL == "" {
		baseURL = defaultYTBaseURL
	}

	return &YouTubeService{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Inf, 1),
	}
}

// NewYouTubeServiceFromConfig builds a proxy client with the configured rate limit, timeout,
// token and auth file.
func NewYouTubeServiceFromConfig(c shared.ProviderConfig) *YouTubeService {
	svc := NewYouTubeService(c.BaseURL).WithRateLimit(c.RequestsPerSecond)
	if c.Token != "" {
		svc = svc.WithToken(c.Token)
	}
	svc.authFile = c.AuthFile
	svc.httpClient.Timeout = c.Timeout()
	return svc
}

// WithToken authorizes every request with a bearer token through [oauth2.Transport].
func (y *YouTubeService) WithToken(token string) *YouTubeService {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	y.httpClient = oauth2.NewClient(context.Background(), src)
	return y
}

// WithRateLimit caps outgoing requests per second; non-positive values disable the limit.
func (y *YouTubeService) WithRateLimit(rps float64) *YouTubeService {
	if rps <= 0 {
		y.limiter = rate.NewLimiter(rate.Inf, 1)
		return y
	}
	y.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	return y
}

// WithHTTPClient replaces the underlying HTTP client.
func (y *YouTubeService) WithHTTPClient(c *http.Client) *YouTubeService {
	y.httpClient = c
	return y
}

// Name returns the service name.
func (y *YouTubeService) Name() string {
	return "YouTube Music"
}

func (y *YouTubeService) doRequest(ctx context.Context, method, endpoint string, body, result any) error {
	if err := y.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, y.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if y.authFile != "" {
		req.Header.Set("X-Auth-File", y.authFile)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		sentinel := shared.ErrRemote
		if resp.StatusCode == http.StatusNotFound {
			sentinel = shared.ErrTrackNotFound
		}

		var errResp struct {
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Detail != "" {
			return fmt.Errorf("%w: youtube music API error (status %d): %s", sentinel, resp.StatusCode, errResp.Detail)
		}
		return fmt.Errorf("%w: youtube music API error: status %d", sentinel, resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("%w: failed to decode response: %v", shared.ErrRemote, err)
		}
	}

	return nil
}

// GetPlaybackOptions retrieves the streaming data of a track.
//
// Calls GET /api/player/{id} on the proxy.
func (y *YouTubeService) GetPlaybackOptions(ctx context.Context, trackID string) (*PlaybackOptions, error) {
	var player youtubePlayer
	if err := y.doRequest(ctx, http.MethodGet, "/api/player/"+url.PathEscape(trackID), nil, &player); err != nil {
		return nil, err
	}

	opts := &PlaybackOptions{
		Status:      player.PlayabilityStatus.Status,
		Reason:      player.PlayabilityStatus.Reason,
		LoudnessDB:  player.PlayerConfig.AudioConfig.LoudnessDB,
		TrackingURL: player.PlaybackTracking.VideostatsPlaybackURL.BaseURL,
	}
	opts.ExpiresInSeconds, _ = strconv.ParseInt(player.StreamingData.ExpiresInSeconds, 10, 64)

	for _, f := range player.StreamingData.AdaptiveFormats {
		if f.URL == "" {
			continue
		}
		enc := Encoding{Itag: f.Itag, MimeType: f.MimeType, Bitrate: f.Bitrate, URL: f.URL}
		enc.SampleRate, _ = strconv.Atoi(f.AudioSampleRate)
		enc.ContentLength, _ = strconv.ParseInt(f.ContentLength, 10, 64)
		opts.Encodings = append(opts.Encodings, enc)
	}

	if d := player.VideoDetails; d.VideoID != "" {
		details := &models.Track{ID: d.VideoID, Title: d.Title, Duration: models.UnknownDuration}
		if secs, err := strconv.Atoi(d.LengthSeconds); err == nil {
			details.Duration = secs
		}
		if d.Author != "" {
			details.Artists = []models.Artist{{ID: d.ChannelID, Name: d.Author}}
		}
		if n := len(d.Thumbnail.Thumbnails); n > 0 {
			details.ThumbnailURL = d.Thumbnail.Thumbnails[n-1].URL
		}
		opts.Details = details
	}

	return opts, nil
}

// GetRelated returns the radio continuation seeded by a track.
//
// Calls GET /api/watch/{id}/related on the proxy.
func (y *YouTubeService) GetRelated(ctx context.Context, trackID string) (string, error) {
	var related struct {
		Continuation string `json:"continuation"`
	}
	if err := y.doRequest(ctx, http.MethodGet, "/api/watch/"+url.PathEscape(trackID)+"/related", nil, &related); err != nil {
		return "", err
	}
	if related.Continuation == "" {
		return "", fmt.Errorf("%w: no radio available for %s", shared.ErrRemote, trackID)
	}
	return related.Continuation, nil
}

// GetPlaylist retrieves the first page of a playlist.
//
// Calls GET /api/playlists/{id} on the proxy.
func (y *YouTubeService) GetPlaylist(ctx context.Context, playlistID string) (*Page, error) {
	var page youtubePage
	if err := y.doRequest(ctx, http.MethodGet, "/api/playlists/"+url.PathEscape(playlistID), nil, &page); err != nil {
		return nil, err
	}
	return page.toPage(), nil
}

// GetPage retrieves the queue page addressed by continuation.
//
// Calls GET /api/queue?continuation={token} on the proxy.
func (y *YouTubeService) GetPage(ctx context.Context, continuation string) (*Page, error) {
	endpoint := "/api/queue?continuation=" + url.QueryEscape(continuation)

	var page youtubePage
	if err := y.doRequest(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
		return nil, err
	}
	return page.toPage(), nil
}

// RegisterPlayback adds a listen to the account history.
//
// Calls POST /api/history on the proxy.
func (y *YouTubeService) RegisterPlayback(ctx context.Context, trackingURL string) error {
	if trackingURL == "" {
		return fmt.Errorf("%w: tracking url", shared.ErrMissingArgument)
	}
	body := struct {
		URL string `json:"url"`
	}{URL: trackingURL}
	return y.doRequest(ctx, http.MethodPost, "/api/history", body, nil)
}
