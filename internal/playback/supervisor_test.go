package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/ytplay/internal/models"
	"github.com/desertthunder/ytplay/internal/queue"
	"github.com/desertthunder/ytplay/internal/services"
	"github.com/desertthunder/ytplay/internal/shared"
	"github.com/desertthunder/ytplay/internal/stats"
	"github.com/desertthunder/ytplay/internal/stream"
	tu "github.com/desertthunder/ytplay/internal/testing"
)

const wait = 2 * time.Second

type harness struct {
	sup      *Supervisor
	player   *tu.FakePlayer
	provider *tu.FakeProvider
	store    *tu.MemoryStore
	engine   *queue.Engine
	cancel   context.CancelFunc
	done     chan error

	once sync.Once
	err  error
}

func newHarness(t *testing.T, cfg shared.PlaybackConfig, configure ...func(*Options)) *harness {
	t.Helper()
	logger := shared.NewLogger(io.Discard)
	h := &harness{
		player:   tu.NewFakePlayer(),
		provider: tu.NewFakeProvider(),
		store:    tu.NewMemoryStore(),
		done:     make(chan error, 1),
	}
	h.engine = queue.NewEngine(h.provider, queue.Options{Logger: logger})
	opts := Options{
		Queue:            h.engine,
		Resolver:         stream.NewResolver(h.provider, h.store, services.StaticNetwork{}, logger, stream.Options{Timeout: time.Second}),
		Player:           h.player,
		Settings:         cfg,
		Logger:           logger,
		ProgressInterval: 10 * time.Millisecond,
	}
	for _, fn := range configure {
		fn(&opts)
	}

	sup, err := NewSupervisor(opts)
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	h.sup = sup

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- sup.Run(ctx) }()
	t.Cleanup(h.stop)
	return h
}

// stop cancels the loop and waits for the shutdown sequence to finish.
func (h *harness) stop() {
	h.once.Do(func() {
		h.cancel()
		h.err = <-h.done
	})
}

func (h *harness) playable(tracks []models.Track) {
	for _, tr := range tracks {
		h.provider.Playable(tr.ID, time.Hour)
	}
}

func (h *harness) waitPlaying(t *testing.T, id string) {
	t.Helper()
	tu.Eventually(t, wait, func() bool {
		st := h.sup.Status()
		return h.player.CurrentID() == id && h.player.Playing() && !st.Buffering && st.Track != nil && st.Track.ID == id
	}, "expected %s to be playing", id)
}

func TestSupervisor(t *testing.T) {
	ctx := context.Background()

	t.Run("plays a queue and advances on end", func(t *testing.T) {
		h := newHarness(t, shared.PlaybackConfig{})
		tracks := tu.Tracks("a", "b")
		h.playable(tracks)

		if err := h.sup.PlayQueue(ctx, queue.ListSource{Name: "mix", Items: tracks}, nil); err != nil {
			t.Fatalf("PlayQueue: %v", err)
		}
		h.waitPlaying(t, "a")

		h.player.End()
		h.waitPlaying(t, "b")
		if st := h.sup.Status(); st.Index != 1 || st.Length != 2 || st.Title != "mix" {
			t.Errorf("unexpected status %+v", st)
		}
	})

	t.Run("finishing the queue pauses", func(t *testing.T) {
		h := newHarness(t, shared.PlaybackConfig{})
		tracks := tu.Tracks("a")
		h.playable(tracks)

		_ = h.sup.PlayQueue(ctx, queue.ListSource{Items: tracks}, nil)
		h.waitPlaying(t, "a")
		h.player.End()

		tu.Eventually(t, wait, func() bool { return h.sup.Status().Ended }, "expected queue to end")
		if h.player.Playing() {
			t.Error("expected player to pause at the end")
		}

		if err := h.sup.Play(); err != nil {
			t.Fatalf("Play: %v", err)
		}
		tu.Eventually(t, wait, func() bool { return len(h.player.MediaIDs()) == 2 && h.player.Playing() }, "expected restart from the top")
	})

	t.Run("preload plays before the source is fetched", func(t *testing.T) {
		h := newHarness(t, shared.PlaybackConfig{})
		seed := tu.Tracks("seed")[0]
		h.playable([]models.Track{seed})
		h.provider.Related["seed"] = "radio"
		h.provider.Pages["radio"] = &services.Page{Tracks: tu.Tracks("r1", "seed", "r2")}
		gate := make(chan struct{})
		h.provider.PageGate = gate

		errc := make(chan error, 1)
		go func() { errc <- h.sup.PlayQueue(ctx, queue.RadioSource{Seed: seed}, &seed) }()
		h.waitPlaying(t, "seed")

		close(gate)
		if err := <-errc; err != nil {
			t.Fatalf("PlayQueue: %v", err)
		}
		tu.Eventually(t, wait, func() bool { return h.sup.Status().Length == 3 }, "expected radio page to be spliced in")
		if st := h.sup.Status(); st.Index != 1 {
			t.Errorf("expected seed at index 1, got %d", st.Index)
		}
		if ids := h.player.MediaIDs(); len(ids) != 1 {
			t.Errorf("splicing must not restart the preloaded track, got %v", ids)
		}
	})

	t.Run("restore primes without playing", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "queue.json")
		snapshots := NewSnapshotStore(path)
		ids := make([]string, 10)
		for i := range ids {
			ids[i] = fmt.Sprintf("t%d", i)
		}
		tracks := tu.Tracks(ids...)
		if err := snapshots.Save(queue.Snapshot{Title: "saved", Items: tracks, Index: 3, PositionMillis: 45_000}); err != nil {
			t.Fatalf("Save: %v", err)
		}

		h := newHarness(t, shared.PlaybackConfig{PersistQueue: true}, func(o *Options) { o.Snapshots = snapshots })
		h.playable(tracks)

		found, err := h.sup.Restore(ctx)
		if err != nil || !found {
			t.Fatalf("Restore = %v, %v", found, err)
		}
		tu.Eventually(t, wait, func() bool {
			st := h.sup.Status()
			return h.player.CurrentID() == "t3" && !st.Buffering
		}, "expected t3 to be primed")

		if got := h.player.LastStart(); got != 45*time.Second {
			t.Errorf("expected start at 45s, got %v", got)
		}
		if h.player.Playing() {
			t.Error("restore must not start playback")
		}
		st := h.sup.Status()
		if st.Index != 3 || st.Length != 10 || st.PositionMillis != 45_000 || st.Title != "saved" {
			t.Errorf("unexpected status %+v", st)
		}
	})

	t.Run("restore without a snapshot", func(t *testing.T) {
		h := newHarness(t, shared.PlaybackConfig{PersistQueue: true}, func(o *Options) {
			o.Snapshots = NewSnapshotStore(filepath.Join(t.TempDir(), "missing.json"))
		})
		if found, err := h.sup.Restore(ctx); found || err != nil {
			t.Errorf("expected nothing restored, got %v %v", found, err)
		}
	})

	t.Run("skip on error never loops", func(t *testing.T) {
		h := newHarness(t, shared.PlaybackConfig{SkipOnError: true, MaxConsecutiveErrors: 5})
		tracks := tu.Tracks("a", "b", "c")
		h.playable(tracks)
		for _, tr := range tracks {
			h.player.FailMedia[tr.ID] = errors.New("decoder exited")
		}

		_ = h.sup.PlayQueue(ctx, queue.ListSource{Items: tracks}, nil)
		tu.Eventually(t, wait, func() bool { return h.sup.Status().Error != "" }, "expected fatal error")

		if ids := h.player.MediaIDs(); !slices.Equal(ids, []string{"a", "b", "c"}) {
			t.Errorf("expected each item tried once, got %v", ids)
		}
		st := h.sup.Status()
		if st.Error != ErrorUnknown || st.Index != 2 || h.player.Playing() {
			t.Errorf("unexpected status %+v", st)
		}
	})

	t.Run("consecutive error limit", func(t *testing.T) {
		h := newHarness(t, shared.PlaybackConfig{SkipOnError: true, MaxConsecutiveErrors: 2})
		tracks := tu.Tracks("a", "b", "c", "d", "e")
		h.playable(tracks)
		for _, tr := range tracks {
			h.player.FailMedia[tr.ID] = errors.New("decoder exited")
		}

		_ = h.sup.PlayQueue(ctx, queue.ListSource{Items: tracks}, nil)
		tu.Eventually(t, wait, func() bool { return h.sup.Status().Error != "" }, "expected fatal error")
		if ids := h.player.MediaIDs(); !slices.Equal(ids, []string{"a", "b", "c"}) {
			t.Errorf("expected two skips, got %v", ids)
		}
	})

	t.Run("unplayable tracks are not skipped", func(t *testing.T) {
		h := newHarness(t, shared.PlaybackConfig{SkipOnError: true})
		tracks := tu.Tracks("a", "b")
		h.playable(tracks)
		h.provider.Options["a"] = &services.PlaybackOptions{Status: "LOGIN_REQUIRED", Reason: "sign in"}

		_ = h.sup.PlayQueue(ctx, queue.ListSource{Items: tracks}, nil)
		tu.Eventually(t, wait, func() bool { return h.sup.Status().Error != "" }, "expected fatal error")

		st := h.sup.Status()
		if st.Error != ErrorUnplayable || st.Index != 0 {
			t.Errorf("unexpected status %+v", st)
		}
		if len(h.player.MediaIDs()) != 0 {
			t.Error("nothing should reach the player")
		}
	})

	t.Run("resolution timeouts are skipped", func(t *testing.T) {
		h := newHarness(t, shared.PlaybackConfig{SkipOnError: true})
		tracks := tu.Tracks("a", "b")
		h.playable(tracks)
		h.provider.Errors["a"] = context.DeadlineExceeded

		_ = h.sup.PlayQueue(ctx, queue.ListSource{Items: tracks}, nil)
		h.waitPlaying(t, "b")
	})

	t.Run("errors halt without skip on error", func(t *testing.T) {
		h := newHarness(t, shared.PlaybackConfig{})
		tracks := tu.Tracks("a", "b")
		h.playable(tracks)
		h.player.FailMedia["a"] = errors.New("decoder exited")

		_ = h.sup.PlayQueue(ctx, queue.ListSource{Items: tracks}, nil)
		tu.Eventually(t, wait, func() bool { return h.sup.Status().Error == ErrorUnknown }, "expected fatal error")

		delete(h.player.FailMedia, "a")
		if err := h.sup.Play(); err != nil {
			t.Fatalf("Play: %v", err)
		}
		h.waitPlaying(t, "a")
		if h.sup.Status().Error != "" {
			t.Error("expected retry to clear the error")
		}
	})

	t.Run("pagination failure does not interrupt playback", func(t *testing.T) {
		h := newHarness(t, shared.PlaybackConfig{})
		tracks := tu.Tracks("a", "b", "c")
		h.playable(tracks)
		h.provider.Playlists["pl"] = &services.Page{Title: "list", Tracks: tracks, Continuation: "next"}
		h.provider.PageErrors["next"] = fmt.Errorf("%w: 500", shared.ErrRemote)

		if err := h.sup.PlayQueue(ctx, queue.PlaylistSource{ID: "pl"}, nil); err != nil {
			t.Fatalf("PlayQueue: %v", err)
		}
		h.waitPlaying(t, "a")
		tu.Eventually(t, wait, func() bool { return h.engine.Err() != nil }, "expected pagination failure")

		st := h.sup.Status()
		if st.Error != "" || !st.Playing {
			t.Errorf("pagination failure leaked into status: %+v", st)
		}
		if ids := h.player.MediaIDs(); len(ids) != 1 {
			t.Errorf("expected playback untouched, got %v", ids)
		}
		if got := h.sup.Queue(); len(got) != 3 {
			t.Errorf("expected existing items kept, got %d", len(got))
		}
	})

	t.Run("gain follows loudness and volume", func(t *testing.T) {
		h := newHarness(t, shared.PlaybackConfig{Normalize: true, Volume: 0.5})
		tracks := tu.Tracks("loud", "quiet")
		h.playable(tracks)
		loud, quiet := 6.0, -3.0
		h.provider.Options["loud"].LoudnessDB = &loud
		h.provider.Options["quiet"].LoudnessDB = &quiet

		_ = h.sup.PlayQueue(ctx, queue.ListSource{Items: tracks}, nil)
		h.waitPlaying(t, "loud")
		if want := 0.5 * math.Pow(10, -6.0/20); math.Abs(h.player.Gain()-want) > 1e-9 {
			t.Errorf("expected gain %v, got %v", want, h.player.Gain())
		}

		_ = h.sup.SkipNext()
		h.waitPlaying(t, "quiet")
		if got := h.player.Gain(); got != 0.5 {
			t.Errorf("quiet tracks must not be boosted, got %v", got)
		}

		_ = h.sup.SetVolume(0.25)
		tu.Eventually(t, wait, func() bool { return h.player.Gain() == 0.25 }, "expected volume change to apply")
		if err := h.sup.SetVolume(2); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected invalid argument, got %v", err)
		}
	})

	t.Run("mute pauses and unmute resumes", func(t *testing.T) {
		h := newHarness(t, shared.PlaybackConfig{StopOnMute: true})
		tracks := tu.Tracks("a")
		h.playable(tracks)
		_ = h.sup.PlayQueue(ctx, queue.ListSource{Items: tracks}, nil)
		h.waitPlaying(t, "a")

		_ = h.sup.OnSystemVolumeChanged(0)
		if h.player.Playing() || !h.sup.Status().Muted {
			t.Fatal("expected mute to pause")
		}
		_ = h.sup.OnSystemVolumeChanged(0.7)
		if !h.player.Playing() {
			t.Fatal("expected unmute to resume")
		}

		_ = h.sup.Pause()
		_ = h.sup.OnSystemVolumeChanged(0)
		_ = h.sup.OnSystemVolumeChanged(0.7)
		if h.player.Playing() {
			t.Error("unmute must not resume a manual pause")
		}
	})

	t.Run("records listens on track change", func(t *testing.T) {
		statsStore := tu.NewMemoryStore()
		recorder := stats.NewRecorder(statsStore, nil, nil, stats.Settings{MinPlayFraction: 0.3})
		h := newHarness(t, shared.PlaybackConfig{MinPlayFraction: 0.3}, func(o *Options) { o.Stats = recorder })
		tracks := tu.Tracks("a", "b", "c")
		h.playable(tracks)

		_ = h.sup.PlayQueue(ctx, queue.ListSource{Items: tracks}, nil)
		h.waitPlaying(t, "a")
		h.player.SetPosition(100 * time.Second)
		h.player.End()
		h.waitPlaying(t, "b")

		tu.Eventually(t, wait, func() bool { return statsStore.TotalPlayTime("a") == 100_000 }, "expected 100s listened for a, got %d", statsStore.TotalPlayTime("a"))
		if statsStore.EventCount() != 1 {
			t.Errorf("expected one listen event, got %d", statsStore.EventCount())
		}

		h.player.SetPosition(10 * time.Second)
		_ = h.sup.SkipNext()
		h.waitPlaying(t, "c")
		if statsStore.EventCount() != 1 || statsStore.TotalPlayTime("b") != 0 {
			t.Error("short segments must not count")
		}
	})

	t.Run("skip previous", func(t *testing.T) {
		h := newHarness(t, shared.PlaybackConfig{})
		tracks := tu.Tracks("a", "b")
		h.playable(tracks)
		_ = h.sup.PlayQueue(ctx, queue.ListSource{Items: tracks}, nil)
		h.waitPlaying(t, "a")
		_ = h.sup.SkipNext()
		h.waitPlaying(t, "b")

		h.player.SetPosition(10 * time.Second)
		_ = h.sup.SkipPrevious()
		if h.player.Position() != 0 || h.player.CurrentID() != "b" {
			t.Errorf("expected b to restart, got %s at %v", h.player.CurrentID(), h.player.Position())
		}

		_ = h.sup.SkipPrevious()
		h.waitPlaying(t, "a")
	})

	t.Run("seek validates", func(t *testing.T) {
		h := newHarness(t, shared.PlaybackConfig{})
		if err := h.sup.Seek(time.Second); !errors.Is(err, shared.ErrQueueEmpty) {
			t.Errorf("expected queue empty, got %v", err)
		}
		tracks := tu.Tracks("a")
		h.playable(tracks)
		_ = h.sup.PlayQueue(ctx, queue.ListSource{Items: tracks}, nil)
		h.waitPlaying(t, "a")

		if err := h.sup.Seek(90 * time.Second); err != nil || h.player.Position() != 90*time.Second {
			t.Errorf("Seek = %v at %v", err, h.player.Position())
		}
		if err := h.sup.Seek(-time.Second); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected invalid argument, got %v", err)
		}
		if err := h.sup.Seek(time.Hour); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected seek past end to fail, got %v", err)
		}
	})

	t.Run("play on an empty queue", func(t *testing.T) {
		h := newHarness(t, shared.PlaybackConfig{})
		if err := h.sup.Play(); !errors.Is(err, shared.ErrQueueEmpty) {
			t.Errorf("expected queue empty, got %v", err)
		}
	})

	t.Run("subscribers see updates", func(t *testing.T) {
		h := newHarness(t, shared.PlaybackConfig{})
		updates, cancel := h.sup.Subscribe()
		defer cancel()
		tracks := tu.Tracks("a")
		h.playable(tracks)
		_ = h.sup.PlayQueue(ctx, queue.ListSource{Items: tracks}, nil)

		deadline := time.After(wait)
		for {
			select {
			case st := <-updates:
				if st.Track != nil && st.Track.ID == "a" && st.Playing {
					return
				}
			case <-deadline:
				t.Fatal("no playing update received")
			}
		}
	})

	t.Run("shutdown order", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "queue.json")
		statsStore := tu.NewMemoryStore()
		recorder := stats.NewRecorder(statsStore, nil, nil, stats.Settings{MinPlayFraction: 0.3})
		h := newHarness(t, shared.PlaybackConfig{PersistQueue: true}, func(o *Options) {
			o.Snapshots = NewSnapshotStore(path)
			o.Stats = recorder
		})
		tracks := tu.Tracks("a", "b")
		h.playable(tracks)
		_ = h.sup.PlayQueue(ctx, queue.ListSource{Items: tracks}, nil)
		h.waitPlaying(t, "a")
		h.player.SetPosition(80 * time.Second)

		updates, _ := h.sup.Subscribe()
		h.stop()
		if err := h.err; err != nil {
			t.Fatalf("Run: %v", err)
		}

		if !h.player.Closed() {
			t.Error("expected player closed")
		}
		snap, err := NewSnapshotStore(path).Load()
		if err != nil || snap.PositionMillis != 80_000 || len(snap.Items) != 2 {
			t.Errorf("expected final snapshot, got %+v %v", snap, err)
		}
		if statsStore.TotalPlayTime("a") != 80_000 {
			t.Errorf("expected final segment recorded, got %d", statsStore.TotalPlayTime("a"))
		}
		if err := h.sup.Play(); !errors.Is(err, shared.ErrServiceUnavailable) {
			t.Errorf("expected stopped error, got %v", err)
		}
		for range updates {
		}
	})

	t.Run("requires dependencies", func(t *testing.T) {
		if _, err := NewSupervisor(Options{}); !errors.Is(err, shared.ErrMissingConfig) {
			t.Errorf("expected missing config, got %v", err)
		}
	})
}

func TestNormalizationGain(t *testing.T) {
	tests := []struct {
		name     string
		loudness float64
		want     float64
	}{
		{name: "reference", loudness: 0, want: 1},
		{name: "loud", loudness: 20, want: 0.1},
		{name: "quiet is not boosted", loudness: -6, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizationGain(tt.loudness); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("NormalizationGain(%v) = %v, want %v", tt.loudness, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		key       MessageKey
		retryable bool
	}{
		{name: "offline", err: fmt.Errorf("resolve: %w", shared.ErrNetworkUnavailable), key: ErrorNoInternet, retryable: true},
		{name: "timeout", err: fmt.Errorf("resolve: %w", shared.ErrTimeout), key: ErrorTimeout, retryable: true},
		{name: "remote", err: fmt.Errorf("resolve: %w", shared.ErrRemote), key: ErrorRemote},
		{name: "unplayable", err: fmt.Errorf("resolve: %w", shared.ErrUnplayable), key: ErrorUnplayable},
		{name: "decoder", err: errors.New("ffmpeg exited"), key: ErrorUnknown, retryable: true},
		{name: "none", err: nil, key: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.key {
				t.Errorf("Classify = %q, want %q", got, tt.key)
			}
			if tt.err != nil && Retryable(tt.err) != tt.retryable {
				t.Errorf("Retryable = %v, want %v", !tt.retryable, tt.retryable)
			}
		})
	}
}
