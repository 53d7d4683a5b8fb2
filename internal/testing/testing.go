// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/ytplay/internal/models"
	"github.com/desertthunder/ytplay/internal/player"
	"github.com/desertthunder/ytplay/internal/services"
	"github.com/desertthunder/ytplay/internal/shared"
)

// FakeProvider is a test double for [services.Provider] backed by maps.
type FakeProvider struct {
	mu sync.Mutex

	Options    map[string]*services.PlaybackOptions
	Errors     map[string]error
	Related    map[string]string
	Pages      map[string]*services.Page
	PageErrors map[string]error
	Playlists  map[string]*services.Page

	// PageGate, when set, blocks GetPage and GetPlaylist until it yields or the context ends.
	PageGate chan struct{}

	RegisterErr error

	calls      map[string]int
	pageCalls  int
	registered []string
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		Options:    map[string]*services.PlaybackOptions{},
		Errors:     map[string]error{},
		Related:    map[string]string{},
		Pages:      map[string]*services.Page{},
		PageErrors: map[string]error{},
		Playlists:  map[string]*services.Page{},
		calls:      map[string]int{},
	}
}

// Playable registers a single audio/webm encoding for id, valid for expires.
func (f *FakeProvider) Playable(id string, expires time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Options[id] = &services.PlaybackOptions{
		Status: services.StatusOK,
		Encodings: []services.Encoding{
			{Itag: 251, MimeType: `audio/webm; codecs="opus"`, Bitrate: 160000, SampleRate: 48000, URL: "https://cdn.test/" + id},
		},
		TrackingURL:      "https://track.test/" + id,
		ExpiresInSeconds: int64(expires.Seconds()),
	}
}

func (f *FakeProvider) Name() string { return "fake" }

func (f *FakeProvider) GetPlaybackOptions(ctx context.Context, trackID string) (*services.PlaybackOptions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[trackID]++
	if err := f.Errors[trackID]; err != nil {
		return nil, err
	}
	opts, ok := f.Options[trackID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrTrackNotFound, trackID)
	}
	copied := *opts
	return &copied, nil
}

func (f *FakeProvider) GetRelated(ctx context.Context, trackID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.Related[trackID]
	if !ok {
		return "", fmt.Errorf("%w: no radio for %s", shared.ErrRemote, trackID)
	}
	return token, nil
}

func (f *FakeProvider) GetPlaylist(ctx context.Context, playlistID string) (*services.Page, error) {
	if err := f.gate(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.Playlists[playlistID]
	if !ok {
		return nil, fmt.Errorf("%w: playlist %s", shared.ErrTrackNotFound, playlistID)
	}
	return clonePage(page), nil
}

func (f *FakeProvider) GetPage(ctx context.Context, continuation string) (*services.Page, error) {
	if err := f.gate(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCalls++
	if err := f.PageErrors[continuation]; err != nil {
		return nil, err
	}
	page, ok := f.Pages[continuation]
	if !ok {
		return nil, fmt.Errorf("%w: unknown continuation %s", shared.ErrRemote, continuation)
	}
	return clonePage(page), nil
}

func (f *FakeProvider) gate(ctx context.Context) error {
	f.mu.Lock()
	gate := f.PageGate
	f.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *FakeProvider) RegisterPlayback(ctx context.Context, trackingURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RegisterErr != nil {
		return f.RegisterErr
	}
	f.registered = append(f.registered, trackingURL)
	return nil
}

// Calls returns how many times GetPlaybackOptions was called for id.
func (f *FakeProvider) Calls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

// PageCalls returns how many times GetPage was called.
func (f *FakeProvider) PageCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageCalls
}

// Registered returns the tracking URLs passed to RegisterPlayback.
func (f *FakeProvider) Registered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.registered...)
}

func clonePage(p *services.Page) *services.Page {
	c := *p
	c.Tracks = append([]models.Track(nil), p.Tracks...)
	return &c
}

// Tracks builds tracks with the given ids and a 200s duration.
func Tracks(ids ...string) []models.Track {
	tracks := make([]models.Track, len(ids))
	for i, id := range ids {
		tracks[i] = models.Track{ID: id, Title: "Track " + id, Duration: 200}
	}
	return tracks
}

// MemoryStore is an in-memory double for the persistence calls of the engine.
type MemoryStore struct {
	mu sync.Mutex

	Formats    map[string]models.StreamFormat
	Tracks     map[string]models.Track
	LocalPaths map[string]string
	PlayTime   map[string]int64
	Events     []models.PlaybackEvent

	// Err, when set, fails every write.
	Err error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Formats:    map[string]models.StreamFormat{},
		Tracks:     map[string]models.Track{},
		LocalPaths: map[string]string{},
		PlayTime:   map[string]int64{},
	}
}

func (m *MemoryStore) GetFormat(_ context.Context, trackID string) (*models.StreamFormat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.Formats[trackID]
	if !ok {
		return nil, shared.ErrFormatNotFound
	}
	return &f, nil
}

func (m *MemoryStore) UpsertFormat(_ context.Context, f models.StreamFormat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Formats[f.TrackID] = f
	return nil
}

func (m *MemoryStore) GetLocalPath(_ context.Context, trackID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path, ok := m.LocalPaths[trackID]
	if !ok {
		return "", shared.ErrTrackNotFound
	}
	return path, nil
}

func (m *MemoryStore) UpsertTrack(_ context.Context, track models.Track) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Tracks[track.ID] = track
	return nil
}

func (m *MemoryStore) CacheTracks(ctx context.Context, tracks []models.Track) error {
	for _, t := range tracks {
		if err := m.UpsertTrack(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) GetTrack(_ context.Context, trackID string) (*models.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tracks[trackID]
	if !ok {
		return nil, shared.ErrTrackNotFound
	}
	return &t, nil
}

func (m *MemoryStore) IncrementPlayTime(_ context.Context, trackID string, millis int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.PlayTime[trackID] += millis
	return nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, trackID string, at time.Time, millis int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Events = append(m.Events, models.PlaybackEvent{ID: shared.GenerateID(), TrackID: trackID, Timestamp: at, PlayTime: millis})
	return nil
}

// TotalPlayTime returns the accumulated play time of a track.
func (m *MemoryStore) TotalPlayTime(trackID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PlayTime[trackID]
}

// EventCount returns the number of appended events.
func (m *MemoryStore) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Events)
}

// FakePlayer is a [player.Player] that never renders audio. Tests drive it with Emit.
type FakePlayer struct {
	mu sync.Mutex

	events   chan player.Event
	media    []player.MediaItem
	starts   []time.Duration
	playing  bool
	position time.Duration
	gain     float64
	silence  bool
	offload  bool
	stops    int
	closed   bool

	// FailMedia makes SetMedia emit an error event instead of ready for the listed ids.
	FailMedia map[string]error
}

func NewFakePlayer() *FakePlayer {
	return &FakePlayer{events: make(chan player.Event, 256), gain: 1, FailMedia: map[string]error{}}
}

func (p *FakePlayer) Events() <-chan player.Event { return p.events }

func (p *FakePlayer) SetMedia(item player.MediaItem, start time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.media = append(p.media, item)
	p.starts = append(p.starts, start)
	p.position = start

	if err := p.FailMedia[item.ID]; err != nil {
		p.events <- player.Event{Kind: player.EventError, MediaID: item.ID, Err: err}
		return
	}
	p.events <- player.Event{Kind: player.EventReady, MediaID: item.ID, Playing: p.playing, Position: start}
}

// Emit pushes an event as if the player produced it.
func (p *FakePlayer) Emit(e player.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.events <- e
	}
}

// End emits an ended event for the current media.
func (p *FakePlayer) End() {
	p.Emit(player.Event{Kind: player.EventEnded, MediaID: p.CurrentID()})
}

func (p *FakePlayer) Play()  { p.setPlaying(true) }
func (p *FakePlayer) Pause() { p.setPlaying(false) }

func (p *FakePlayer) setPlaying(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = on
}

func (p *FakePlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *FakePlayer) Seek(pos time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = pos
}

func (p *FakePlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// SetPosition moves the reported position, e.g. to simulate elapsed play time.
func (p *FakePlayer) SetPosition(pos time.Duration) { p.Seek(pos) }

func (p *FakePlayer) SetGain(g float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gain = g
}

func (p *FakePlayer) Gain() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gain
}

func (p *FakePlayer) SetSkipSilence(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.silence = on
}

func (p *FakePlayer) SkipSilence() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.silence
}

func (p *FakePlayer) SetOffload(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offload = on
}

func (p *FakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
}

// Stops returns how many times Stop was called.
func (p *FakePlayer) Stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

func (p *FakePlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	return nil
}

// Closed reports whether Close was called.
func (p *FakePlayer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// CurrentID returns the id of the last media set, or "".
func (p *FakePlayer) CurrentID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.media) == 0 {
		return ""
	}
	return p.media[len(p.media)-1].ID
}

// MediaIDs returns the ids passed to SetMedia in order.
func (p *FakePlayer) MediaIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, len(p.media))
	for i, m := range p.media {
		ids[i] = m.ID
	}
	return ids
}

// LastStart returns the start position of the last SetMedia call.
func (p *FakePlayer) LastStart() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.starts) == 0 {
		return 0
	}
	return p.starts[len(p.starts)-1]
}

// Eventually polls cond until it holds or the timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: "+msg, args...)
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

var _ io.ReadCloser = (*FCloser)(nil)

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
