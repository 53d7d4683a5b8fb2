// Package playback ties the queue, stream resolution, the cache and the player together.
//
// A [Supervisor] owns all playback state on a single goroutine ([Supervisor.Run]). Control
// methods are marshalled onto that goroutine; network work happens elsewhere and reports
// back through channels, so results for a track that is no longer current are dropped.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytplay/internal/cache"
	"github.com/desertthunder/ytplay/internal/models"
	"github.com/desertthunder/ytplay/internal/player"
	"github.com/desertthunder/ytplay/internal/queue"
	"github.com/desertthunder/ytplay/internal/services"
	"github.com/desertthunder/ytplay/internal/shared"
	"github.com/desertthunder/ytplay/internal/stats"
	"github.com/desertthunder/ytplay/internal/stream"
)

const (
	// RestartThreshold is how far into a track SkipPrevious restarts it instead of going back.
	RestartThreshold = 3 * time.Second
	// DefaultMaxConsecutiveErrors bounds automatic skips when the setting is unset.
	DefaultMaxConsecutiveErrors = 5

	defaultProgressInterval = 500 * time.Millisecond
	segmentTimeout          = 5 * time.Second
)

var errStopped = fmt.Errorf("%w: playback stopped", shared.ErrServiceUnavailable)

// Resolver turns track ids into stream sources.
type Resolver interface {
	Resolve(ctx context.Context, trackID string) (*stream.Source, error)
	SetQuality(q stream.Quality)
}

// Opener opens the byte stream of a track. [cache.Layered] is the production implementation.
type Opener interface {
	Open(ctx context.Context, trackID string) *cache.Reader
}

// Segments receives finished listening segments. [stats.Recorder] implements it.
type Segments interface {
	OnPlaybackSegment(ctx context.Context, trackID string, playMillis, durationMillis int64) (bool, error)
	SetSettings(s stats.Settings)
	Close() error
}

// Options wires a [Supervisor]. Queue, Resolver and Player are required.
type Options struct {
	Queue     *queue.Engine
	Resolver  Resolver
	Opener    Opener
	Player    player.Player
	Stats     Segments
	Snapshots *SnapshotStore
	Network   services.NetworkMonitor
	Settings  shared.PlaybackConfig
	Logger    *log.Logger
	// ProgressInterval is how often the position is sampled for listen accounting.
	ProgressInterval time.Duration
}

type resolution struct {
	gen    uint64
	track  models.Track
	start  time.Duration
	source *stream.Source
	err    error
}

type Supervisor struct {
	queue     *queue.Engine
	resolver  Resolver
	opener    Opener
	player    player.Player
	stats     Segments
	snapshots *SnapshotStore
	network   services.NetworkMonitor
	logger    *log.Logger
	interval  time.Duration

	cmds     chan func()
	resolved chan resolution
	done     chan struct{}
	running  atomic.Bool
	ctx      context.Context

	// Owned by the Run goroutine.
	settings      shared.PlaybackConfig
	volume        float64
	gain          float64
	loudness      *float64
	current       models.Track
	loaded        uint64
	gen           uint64
	playWhenReady bool
	buffering     bool
	ended         bool
	systemMuted   bool
	mutedPause    bool
	consecutive   int
	pendingStart  time.Duration
	listened      time.Duration
	lastPos       time.Duration
	errKey        MessageKey
	errDetail     string
	snapshotTimer *time.Ticker

	statusMu sync.RWMutex
	status   Status

	subsMu     sync.Mutex
	subs       map[int]chan Status
	nextSub    int
	subsClosed bool
}

func NewSupervisor(opts Options) (*Supervisor, error) {
	if opts.Queue == nil || opts.Resolver == nil || opts.Player == nil {
		return nil, fmt.Errorf("%w: supervisor needs a queue, resolver and player", shared.ErrMissingConfig)
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = defaultProgressInterval
	}
	volume := opts.Settings.Volume
	if volume <= 0 || volume > 1 {
		volume = 1
	}
	s := &Supervisor{
		queue:     opts.Queue,
		resolver:  opts.Resolver,
		opener:    opts.Opener,
		player:    opts.Player,
		stats:     opts.Stats,
		snapshots: opts.Snapshots,
		network:   opts.Network,
		logger:    shared.WithLogger(opts.Logger, "component", "playback"),
		interval:  opts.ProgressInterval,
		cmds:      make(chan func()),
		resolved:  make(chan resolution),
		done:      make(chan struct{}),
		ctx:       context.Background(),
		settings:  opts.Settings,
		volume:    volume,
		gain:      volume,
		subs:      map[int]chan Status{},
	}
	s.status = s.buildStatus()
	return s, nil
}

// Run drives playback until ctx is cancelled, then shuts down in order: the loop stops,
// the queue is closed, a final snapshot is written, pending stats finish and the player
// is closed.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: supervisor already running", shared.ErrInvalidInput)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = ctx

	progress := time.NewTicker(s.interval)
	defer progress.Stop()

	s.applySettings(s.settings, true)
	s.reconcile()
	s.publish()

	events := s.player.Events()
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case fn := <-s.cmds:
			fn()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handleEvent(ev)
		case <-s.queue.Updates():
			s.reconcile()
		case r := <-s.resolved:
			s.handleResolved(r)
		case <-s.snapshotC():
			s.saveSnapshot()
		case <-progress.C:
			s.sample()
		}
		s.publish()
	}
}

func (s *Supervisor) shutdown() {
	close(s.done)
	if s.snapshotTimer != nil {
		s.snapshotTimer.Stop()
	}
	s.sample()
	s.finishSegment()

	if err := s.queue.Close(); err != nil {
		s.logger.Warn("failed to close queue", "error", err)
	}
	s.saveSnapshot()
	if s.stats != nil {
		if err := s.stats.Close(); err != nil {
			s.logger.Warn("failed to flush stats", "error", err)
		}
	}
	if err := s.player.Close(); err != nil {
		s.logger.Warn("failed to close player", "error", err)
	}

	s.publish()
	s.subsMu.Lock()
	s.subsClosed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subsMu.Unlock()
	s.logger.Debug("playback stopped")
}

// Done is closed once the supervisor stops accepting commands.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// call runs fn on the loop goroutine and waits for its result. The status is published
// before the caller resumes.
func (s *Supervisor) call(fn func() error) error {
	reply := make(chan error, 1)
	run := func() {
		err := fn()
		s.publish()
		reply <- err
	}
	select {
	case s.cmds <- run:
	case <-s.done:
		return errStopped
	}
	return <-reply
}

// reconcile compares the queue cursor with the loaded media and starts whatever changed.
func (s *Supervisor) reconcile() {
	c := s.queue.Cursor()
	if c.Version == s.loaded {
		return
	}
	if c.Valid() {
		s.startTrack(c)
		return
	}
	if c.State != queue.StateIdle {
		return
	}

	s.sample()
	s.finishSegment()
	s.loaded = c.Version
	s.gen++
	s.buffering = false
	s.playWhenReady = false
	s.player.Pause()
	if s.queue.Len() == 0 {
		s.current = models.Track{}
		s.ended = false
		s.player.Stop()
		return
	}
	s.ended = true
	s.logger.Debug("queue finished")
}

func (s *Supervisor) startTrack(c queue.Cursor) {
	s.sample()
	s.finishSegment()

	s.loaded = c.Version
	s.gen++
	s.current = c.Track
	s.errKey, s.errDetail = "", ""
	s.ended = false
	s.buffering = true

	start := s.pendingStart
	s.pendingStart = 0
	s.listened = 0
	s.lastPos = start
	s.player.Stop()

	gen, track, ctx := s.gen, c.Track, s.ctx
	s.logger.Debug("loading track", "track", track.ID, "index", c.Index)
	go func() {
		src, err := s.resolver.Resolve(ctx, track.ID)
		select {
		case s.resolved <- resolution{gen: gen, track: track, start: start, source: src, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (s *Supervisor) handleResolved(r resolution) {
	if r.gen != s.gen {
		s.logger.Debug("dropping stale resolution", "track", r.track.ID)
		return
	}
	if r.err != nil {
		s.fail(r.err)
		return
	}

	s.loudness = nil
	if r.source.Format != nil {
		s.loudness = r.source.Format.LoudnessDB
	}
	s.applyGain()

	id := r.track.ID
	s.player.SetMedia(player.MediaItem{ID: id, Open: s.mediaOpener(id)}, r.start)
	if s.playWhenReady {
		s.player.Play()
	} else {
		s.player.Pause()
	}
}

func (s *Supervisor) mediaOpener(id string) func(context.Context) (io.ReadCloser, error) {
	return func(ctx context.Context) (io.ReadCloser, error) {
		if s.opener == nil {
			return nil, fmt.Errorf("%w: no media opener", shared.ErrMissingConfig)
		}
		return s.opener.Open(ctx, id), nil
	}
}

func (s *Supervisor) handleEvent(ev player.Event) {
	if ev.MediaID != "" && ev.MediaID != s.current.ID {
		return
	}
	switch ev.Kind {
	case player.EventReady:
		s.buffering = false
		s.lastPos = ev.Position
		if s.consecutive > 0 {
			s.consecutive--
		}
	case player.EventEnded:
		s.sample()
		s.finishSegment()
		if _, ok := s.queue.Advance(); !ok {
			s.logger.Debug("reached end of queue")
		}
		s.reconcile()
	case player.EventError:
		s.fail(ev.Err)
	}
}

// fail skips past a broken track when allowed, otherwise halts with an error status.
func (s *Supervisor) fail(err error) {
	s.buffering = false
	if s.canSkip(err) {
		s.consecutive++
		s.logger.Warn("skipping track after error", "track", s.current.ID, "error", err, "consecutive", s.consecutive)
		if _, ok := s.queue.SkipNext(); ok {
			s.reconcile()
			return
		}
	}

	s.logger.Error("playback failed", "track", s.current.ID, "error", err)
	s.playWhenReady = false
	s.player.Pause()
	s.errKey = Classify(err)
	s.errDetail = err.Error()
}

func (s *Supervisor) canSkip(err error) bool {
	limit := s.settings.MaxConsecutiveErrors
	if limit <= 0 {
		limit = DefaultMaxConsecutiveErrors
	}
	return s.settings.SkipOnError &&
		(s.network == nil || s.network.Available()) &&
		s.queue.HasNext() &&
		Retryable(err) &&
		s.consecutive < limit
}

// sample accumulates listened time from forward position movement.
func (s *Supervisor) sample() {
	if s.current.ID == "" || s.buffering {
		return
	}
	pos := s.player.Position()
	if pos > s.lastPos {
		s.listened += pos - s.lastPos
	}
	s.lastPos = pos
}

func (s *Supervisor) finishSegment() {
	listened := s.listened
	s.listened = 0
	if s.current.ID == "" || listened <= 0 || s.stats == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), segmentTimeout)
	defer cancel()
	if _, err := s.stats.OnPlaybackSegment(ctx, s.current.ID, listened.Milliseconds(), s.current.DurationMillis()); err != nil {
		s.logger.Warn("failed to record listen", "track", s.current.ID, "error", err)
	}
}

func (s *Supervisor) applyGain() {
	gain := s.volume
	if s.settings.Normalize && s.loudness != nil {
		gain *= NormalizationGain(*s.loudness)
	}
	s.gain = gain
	s.player.SetGain(gain)
}

// NormalizationGain is the linear factor that brings a track of loudnessDB to the
// reference level. Quiet tracks are never boosted.
func NormalizationGain(loudnessDB float64) float64 {
	return math.Min(math.Pow(10, -loudnessDB/20), 1)
}

func (s *Supervisor) applySettings(cfg shared.PlaybackConfig, initial bool) {
	old := s.settings
	s.settings = cfg

	s.resolver.SetQuality(stream.ParseQuality(cfg.Quality))
	s.player.SetSkipSilence(cfg.SkipSilence)
	s.player.SetOffload(cfg.AudioOffload)
	s.queue.SetFilterExplicit(cfg.FilterExplicit)
	if s.stats != nil {
		s.stats.SetSettings(stats.SettingsFrom(cfg))
	}
	if !cfg.StopOnMute {
		s.mutedPause = false
	}
	s.applyGain()

	if initial || old.PersistQueue != cfg.PersistQueue || old.SnapshotInterval() != cfg.SnapshotInterval() {
		if s.snapshotTimer != nil {
			s.snapshotTimer.Stop()
			s.snapshotTimer = nil
		}
		if cfg.PersistQueue && s.snapshots != nil {
			s.snapshotTimer = time.NewTicker(cfg.SnapshotInterval())
		}
	}
}

func (s *Supervisor) snapshotC() <-chan time.Time {
	if s.snapshotTimer == nil {
		return nil
	}
	return s.snapshotTimer.C
}

func (s *Supervisor) saveSnapshot() {
	if !s.settings.PersistQueue || s.snapshots == nil {
		return
	}
	snap := s.queue.Snapshot()
	if len(snap.Items) == 0 {
		return
	}
	snap.PositionMillis = s.position().Milliseconds()
	if err := s.snapshots.Save(snap); err != nil {
		s.logger.Warn("failed to save queue", "error", err)
		return
	}
	s.logger.Debug("saved queue", "items", len(snap.Items), "index", snap.Index)
}

func (s *Supervisor) position() time.Duration {
	if s.current.ID == "" || s.buffering {
		return s.lastPos
	}
	return s.player.Position()
}

func (s *Supervisor) play() error {
	s.mutedPause = false
	c := s.queue.Cursor()
	if !c.Valid() {
		if s.queue.Len() == 0 {
			return fmt.Errorf("%w: nothing to play", shared.ErrQueueEmpty)
		}
		s.playWhenReady = true
		if _, err := s.queue.Seek(0); err != nil {
			return err
		}
		s.reconcile()
		return nil
	}

	s.playWhenReady = true
	if s.errKey != "" {
		s.consecutive = 0
		s.pendingStart = s.lastPos
		s.startTrack(c)
		return nil
	}
	s.player.Play()
	return nil
}

func (s *Supervisor) pause() {
	s.mutedPause = false
	s.playWhenReady = false
	s.player.Pause()
}

// Play resumes playback. After an error it retries the current track from where it stopped;
// after the queue finished it starts over.
func (s *Supervisor) Play() error {
	return s.call(s.play)
}

func (s *Supervisor) Pause() error {
	return s.call(func() error {
		s.pause()
		return nil
	})
}

func (s *Supervisor) TogglePlay() error {
	return s.call(func() error {
		if s.playWhenReady {
			s.pause()
			return nil
		}
		return s.play()
	})
}

// Seek moves within the current track.
func (s *Supervisor) Seek(pos time.Duration) error {
	if pos < 0 {
		return fmt.Errorf("%w: negative seek %v", shared.ErrInvalidArgument, pos)
	}
	return s.call(func() error {
		if s.current.ID == "" {
			return fmt.Errorf("%w: nothing loaded", shared.ErrQueueEmpty)
		}
		if d := s.current.DurationMillis(); d > 0 && pos.Milliseconds() > d {
			return fmt.Errorf("%w: seek %v past end", shared.ErrInvalidArgument, pos)
		}
		s.sample()
		s.player.Seek(pos)
		s.lastPos = pos
		return nil
	})
}

func (s *Supervisor) SkipNext() error {
	return s.call(func() error {
		if _, ok := s.queue.SkipNext(); ok {
			s.consecutive = 0
			s.reconcile()
		}
		return nil
	})
}

// SkipPrevious restarts the current track once past [RestartThreshold], otherwise goes back.
func (s *Supervisor) SkipPrevious() error {
	return s.call(func() error {
		if s.current.ID != "" && !s.buffering && s.player.Position() > RestartThreshold {
			s.sample()
			s.player.Seek(0)
			s.lastPos = 0
			return nil
		}
		s.queue.SkipPrevious()
		s.reconcile()
		return nil
	})
}

// Jump plays the queue item at index in play order.
func (s *Supervisor) Jump(index int) error {
	return s.call(func() error {
		if _, err := s.queue.Seek(index); err != nil {
			return err
		}
		s.playWhenReady = true
		s.reconcile()
		return nil
	})
}

func (s *Supervisor) SetShuffle(on bool) error {
	return s.call(func() error {
		s.queue.SetShuffle(on)
		return nil
	})
}

func (s *Supervisor) SetRepeat(mode queue.RepeatMode) error {
	return s.call(func() error {
		s.queue.SetRepeat(mode)
		return nil
	})
}

// EnqueueNext inserts tracks right after the current one.
func (s *Supervisor) EnqueueNext(tracks ...models.Track) error {
	return s.call(func() error {
		s.queue.EnqueueNext(tracks...)
		s.reconcile()
		return nil
	})
}

// Add appends tracks to the end of the queue.
func (s *Supervisor) Add(tracks ...models.Track) error {
	return s.call(func() error {
		s.queue.Add(tracks...)
		s.reconcile()
		return nil
	})
}

// StartRadio replaces everything after the current track with its radio. It blocks the
// caller, not the playback loop, while the station is fetched.
func (s *Supervisor) StartRadio(ctx context.Context) error {
	select {
	case <-s.done:
		return errStopped
	default:
	}
	return s.queue.StartRadioSeamlessly(ctx)
}

// PlayQueue loads src and starts playing it. With a preload the track starts before the
// source has been fetched. An empty source leaves the current queue untouched.
func (s *Supervisor) PlayQueue(ctx context.Context, src queue.Source, preload *models.Track) error {
	var (
		previous bool
		version  uint64
	)
	err := s.call(func() error {
		previous = s.playWhenReady
		version = s.queue.Cursor().Version
		s.mutedPause = false
		s.playWhenReady = true
		return nil
	})
	if err != nil {
		return err
	}

	loadErr := s.queue.Load(ctx, src, preload)
	if s.queue.Cursor().Version == version {
		_ = s.call(func() error {
			s.playWhenReady = previous
			return nil
		})
	}
	return loadErr
}

// Restore loads the saved queue without starting playback. It reports whether a snapshot
// was found.
func (s *Supervisor) Restore(ctx context.Context) (bool, error) {
	if s.snapshots == nil {
		return false, nil
	}
	snap, err := s.snapshots.Load()
	if errors.Is(err, shared.ErrNoSnapshot) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	err = s.call(func() error {
		s.playWhenReady = false
		s.pendingStart = snap.Position()
		if err := s.queue.Restore(snap); err != nil {
			s.pendingStart = 0
			return err
		}
		s.reconcile()
		return nil
	})
	if err != nil {
		return false, err
	}
	s.logger.Info("restored queue", "items", len(snap.Items), "index", snap.Index, "position", snap.Position())
	return true, nil
}

// SetVolume sets the user volume in [0, 1].
func (s *Supervisor) SetVolume(v float64) error {
	if v < 0 || v > 1 || math.IsNaN(v) {
		return fmt.Errorf("%w: volume %v", shared.ErrInvalidArgument, v)
	}
	return s.call(func() error {
		s.volume = v
		s.applyGain()
		return nil
	})
}

// OnSystemVolumeChanged reacts to the output volume. With stop-on-mute, muting pauses
// playback and unmuting resumes it only if the mute caused the pause.
func (s *Supervisor) OnSystemVolumeChanged(level float64) error {
	return s.call(func() error {
		muted := level <= 0
		s.systemMuted = muted
		if !s.settings.StopOnMute {
			return nil
		}
		switch {
		case muted && s.playWhenReady:
			s.playWhenReady = false
			s.mutedPause = true
			s.player.Pause()
		case !muted && s.mutedPause:
			s.mutedPause = false
			s.playWhenReady = true
			s.player.Play()
		}
		return nil
	})
}

// ApplySettings pushes changed settings to every component.
func (s *Supervisor) ApplySettings(cfg shared.PlaybackConfig) error {
	return s.call(func() error {
		s.applySettings(cfg, false)
		return nil
	})
}

// SaveSnapshot writes the queue now instead of waiting for the timer.
func (s *Supervisor) SaveSnapshot() error {
	return s.call(func() error {
		s.saveSnapshot()
		return nil
	})
}

// Queue returns the queue items in play order.
func (s *Supervisor) Queue() []models.Track {
	return s.queue.Items()
}

// Status returns the last published status.
func (s *Supervisor) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// Subscribe returns a channel that always holds the latest status. Slow readers miss
// intermediate updates. The channel closes when the supervisor stops or cancel is called.
func (s *Supervisor) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.subsClosed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.Status()

	return ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Supervisor) buildStatus() Status {
	c := s.queue.Cursor()
	st := Status{
		Index:       c.Index,
		Length:      s.queue.Len(),
		Title:       s.queue.Title(),
		Playing:     s.player.Playing(),
		Buffering:   s.buffering,
		Ended:       s.ended,
		Volume:      s.volume,
		Gain:        s.gain,
		Muted:       s.systemMuted,
		Shuffle:     s.queue.Shuffle(),
		Repeat:      s.queue.Repeat(),
		HasMore:     s.queue.HasMore(),
		Error:       s.errKey,
		ErrorDetail: s.errDetail,
	}
	if s.current.ID != "" {
		t := s.current
		st.Track = &t
		st.DurationMillis = t.DurationMillis()
		st.PositionMillis = s.position().Milliseconds()
	}
	return st
}

func (s *Supervisor) publish() {
	st := s.buildStatus()
	s.statusMu.Lock()
	s.status = st
	s.statusMu.Unlock()

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}
