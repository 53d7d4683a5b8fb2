// Package stats records finished listening segments.
package stats

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytplay/internal/models"
	"github.com/desertthunder/ytplay/internal/shared"
)

// UnknownDurationThreshold is the play time that qualifies a track of unknown length.
const UnknownDurationThreshold = 30 * time.Second

// Store is the persistence the recorder writes to.
type Store interface {
	IncrementPlayTime(ctx context.Context, trackID string, millis int64) error
	AppendEvent(ctx context.Context, trackID string, at time.Time, millis int64) error
	GetFormat(ctx context.Context, trackID string) (*models.StreamFormat, error)
}

// Registrar tells the remote provider about a listen.
type Registrar interface {
	RegisterPlayback(ctx context.Context, trackingURL string) error
}

// Settings are the user preferences the recorder honors.
type Settings struct {
	MinPlayFraction    float64
	PauseListenHistory bool
	RemoteHistory      bool
}

// SettingsFrom extracts recorder settings from the playback configuration.
func SettingsFrom(c shared.PlaybackConfig) Settings {
	return Settings{
		MinPlayFraction:    c.MinPlayFraction,
		PauseListenHistory: c.PauseListenHistory,
		RemoteHistory:      c.RemoteHistory,
	}
}

// Recorder decides which segments count as listens and records them.
type Recorder struct {
	store     Store
	registrar Registrar
	logger    *log.Logger
	now       func() time.Time
	timeout   time.Duration

	mu       sync.Mutex
	settings Settings
	closed   bool
	wg       sync.WaitGroup
}

func NewRecorder(store Store, registrar Registrar, logger *log.Logger, settings Settings) *Recorder {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Recorder{
		store:     store,
		registrar: registrar,
		logger:    shared.WithLogger(logger, "component", "stats"),
		now:       time.Now,
		timeout:   10 * time.Second,
		settings:  settings,
	}
}

func (r *Recorder) SetSettings(s Settings) {
	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()
}

func (r *Recorder) Settings() Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// Qualifies reports whether playMillis of a track lasting durationMillis counts as a listen.
// A non-positive duration is unknown and qualifies after [UnknownDurationThreshold].
func Qualifies(playMillis, durationMillis int64, minFraction float64) bool {
	if playMillis <= 0 {
		return false
	}
	if durationMillis <= 0 {
		return playMillis >= UnknownDurationThreshold.Milliseconds()
	}
	return float64(playMillis)/float64(durationMillis) >= minFraction
}

// OnPlaybackSegment records a finished segment. It reports whether the segment qualified.
//
// Qualifying segments always add to the cumulative play time. The event log entry and the
// remote registration are skipped while listen history is paused.
func (r *Recorder) OnPlaybackSegment(ctx context.Context, trackID string, playMillis, durationMillis int64) (bool, error) {
	s := r.Settings()
	if trackID == "" || !Qualifies(playMillis, durationMillis, s.MinPlayFraction) {
		return false, nil
	}

	if err := r.store.IncrementPlayTime(ctx, trackID, playMillis); err != nil {
		return true, fmt.Errorf("%w: play time for %s: %w", shared.ErrPersistence, trackID, err)
	}
	if s.PauseListenHistory {
		r.logger.Debug("listen history paused", "track", trackID)
		return true, nil
	}
	if err := r.store.AppendEvent(ctx, trackID, r.now(), playMillis); err != nil {
		return true, fmt.Errorf("%w: event for %s: %w", shared.ErrPersistence, trackID, err)
	}
	if s.RemoteHistory && r.registrar != nil && !models.IsLocalID(trackID) {
		r.register(ctx, trackID)
	}
	return true, nil
}

// register notifies the provider in the background. Failures are only logged.
func (r *Recorder) register(ctx context.Context, trackID string) {
	format, err := r.store.GetFormat(ctx, trackID)
	if err != nil || format.PlaybackTrackingURL == "" {
		r.logger.Debug("no tracking url, skipping remote history", "track", trackID)
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func(url string) {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.registrar.RegisterPlayback(ctx, url); err != nil {
			r.logger.Warn("failed to register playback", "track", trackID, "error", err)
			return
		}
		r.logger.Debug("registered playback", "track", trackID)
	}(format.PlaybackTrackingURL)
}

// Close waits for in-flight registrations.
func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
	return nil
}
