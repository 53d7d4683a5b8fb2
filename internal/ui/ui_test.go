package ui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/ytplay/internal/models"
	"github.com/desertthunder/ytplay/internal/playback"
	"github.com/desertthunder/ytplay/internal/queue"
	tu "github.com/desertthunder/ytplay/internal/testing"
)

type fakeController struct {
	mu      sync.Mutex
	status  playback.Status
	tracks  []models.Track
	updates chan playback.Status
	calls   []string
	seeks   []time.Duration
	volumes []float64
	repeats []queue.RepeatMode
	jumps   []int
	err     error
}

func newFakeController() *fakeController {
	tracks := tu.Tracks("a", "b", "c")
	return &fakeController{
		status: playback.Status{
			Track:          &tracks[0],
			Length:         3,
			Title:          "Mix",
			Playing:        true,
			PositionMillis: 30_000,
			DurationMillis: 200_000,
			Volume:         0.5,
		},
		tracks:  tracks,
		updates: make(chan playback.Status, 1),
	}
}

func (f *fakeController) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeController) Status() playback.Status { return f.status }
func (f *fakeController) Queue() []models.Track   { return f.tracks }
func (f *fakeController) Subscribe() (<-chan playback.Status, func()) {
	return f.updates, func() { f.record("unsubscribe") }
}
func (f *fakeController) TogglePlay() error   { return f.record("toggle") }
func (f *fakeController) SkipNext() error     { return f.record("next") }
func (f *fakeController) SkipPrevious() error { return f.record("previous") }
func (f *fakeController) Seek(pos time.Duration) error {
	f.seeks = append(f.seeks, pos)
	return f.record("seek")
}
func (f *fakeController) SetVolume(v float64) error {
	f.volumes = append(f.volumes, v)
	return f.record("volume")
}
func (f *fakeController) SetShuffle(on bool) error { return f.record("shuffle") }
func (f *fakeController) SetRepeat(mode queue.RepeatMode) error {
	f.repeats = append(f.repeats, mode)
	return f.record("repeat")
}
func (f *fakeController) Jump(index int) error {
	f.jumps = append(f.jumps, index)
	return f.record("jump")
}
func (f *fakeController) StartRadio(ctx context.Context) error { return f.record("radio") }

func press(m *Model, k string) tea.Msg {
	var msg tea.KeyMsg
	switch k {
	case "right":
		msg = tea.KeyMsg{Type: tea.KeyRight}
	case "left":
		msg = tea.KeyMsg{Type: tea.KeyLeft}
	case "tab":
		msg = tea.KeyMsg{Type: tea.KeyTab}
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case " ":
		msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	_, cmd := m.Update(msg)
	if cmd == nil {
		return nil
	}
	return cmd()
}

func TestModelCommands(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{" ", "toggle"},
		{"n", "next"},
		{"p", "previous"},
		{"s", "shuffle"},
		{"r", "repeat"},
		{"R", "radio"},
		{"+", "volume"},
		{"-", "volume"},
		{"l", "seek"},
		{"h", "seek"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			ctl := newFakeController()
			m := NewModel(context.Background(), ctl)
			press(m, tt.key)
			if len(ctl.calls) != 1 || ctl.calls[0] != tt.want {
				t.Errorf("expected %s, got %v", tt.want, ctl.calls)
			}
		})
	}

	t.Run("seek steps are clamped", func(t *testing.T) {
		ctl := newFakeController()
		ctl.status.PositionMillis = 195_000
		m := NewModel(context.Background(), ctl)
		press(m, "right")

		ctl.status.PositionMillis = 4_000
		m.status = ctl.status
		press(m, "left")

		if len(ctl.seeks) != 2 || ctl.seeks[0] != 200*time.Second || ctl.seeks[1] != 0 {
			t.Errorf("unexpected seeks %v", ctl.seeks)
		}
	})

	t.Run("seek is ignored while buffering", func(t *testing.T) {
		ctl := newFakeController()
		ctl.status.Buffering = true
		m := NewModel(context.Background(), ctl)
		if msg := press(m, "right"); msg != nil || len(ctl.calls) != 0 {
			t.Errorf("expected no seek, got %v", ctl.calls)
		}
	})

	t.Run("volume is clamped", func(t *testing.T) {
		ctl := newFakeController()
		ctl.status.Volume = 0.98
		m := NewModel(context.Background(), ctl)
		press(m, "+")
		if len(ctl.volumes) != 1 || ctl.volumes[0] != 1 {
			t.Errorf("unexpected volumes %v", ctl.volumes)
		}
	})

	t.Run("repeat cycles", func(t *testing.T) {
		for _, mode := range []queue.RepeatMode{queue.RepeatOff, queue.RepeatAll, queue.RepeatOne} {
			ctl := newFakeController()
			ctl.status.Repeat = mode
			press(NewModel(context.Background(), ctl), "r")
			if len(ctl.repeats) != 1 || ctl.repeats[0] != nextRepeat(mode) {
				t.Errorf("from %s: unexpected %v", mode, ctl.repeats)
			}
		}
		if nextRepeat(queue.RepeatOne) != queue.RepeatOff {
			t.Error("repeat one should cycle back to off")
		}
	})

	t.Run("failures become notices", func(t *testing.T) {
		ctl := newFakeController()
		ctl.err = errors.New("boom")
		m := NewModel(context.Background(), ctl)
		msg := press(m, "n")
		m.Update(msg)
		if m.notice != "boom" {
			t.Errorf("expected notice, got %q", m.notice)
		}
		if !strings.Contains(m.View(), "boom") {
			t.Error("expected notice in view")
		}
	})
}

func TestModelQueueView(t *testing.T) {
	ctl := newFakeController()
	m := NewModel(context.Background(), ctl)
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})

	msg := press(m, "tab")
	if m.view != QueueView {
		t.Fatalf("expected queue view, got %v", m.view)
	}
	m.Update(msg)
	if got := len(m.queue.Items()); got != 3 {
		t.Fatalf("expected 3 items, got %d", got)
	}

	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	press(m, "enter")
	if m.view != NowPlayingView {
		t.Errorf("expected now playing view after jump")
	}
	if len(ctl.jumps) != 1 || ctl.jumps[0] != 1 {
		t.Errorf("unexpected jumps %v", ctl.jumps)
	}
}

func TestModelStatus(t *testing.T) {
	t.Run("renders status updates", func(t *testing.T) {
		ctl := newFakeController()
		m := NewModel(context.Background(), ctl)

		st := ctl.status
		st.Playing = false
		st.Error = playback.ErrorNoInternet
		ctl.updates <- st

		msg := m.Init()()
		m.Update(msg)
		view := m.View()
		if !strings.Contains(view, "No internet connection") {
			t.Errorf("expected error text in view:\n%s", view)
		}
		if !strings.Contains(view, "Track a") || !strings.Contains(view, "0:30 / 3:20") {
			t.Errorf("expected track and times in view:\n%s", view)
		}
	})

	t.Run("closed subscription quits", func(t *testing.T) {
		ctl := newFakeController()
		m := NewModel(context.Background(), ctl)
		close(ctl.updates)

		msg := m.Init()()
		if got, ok := msg.(Msg); !ok || got.kind != MsgStopped {
			t.Fatalf("expected stopped message, got %#v", msg)
		}
		_, cmd := m.Update(msg)
		if cmd == nil {
			t.Fatal("expected quit command")
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Error("expected tea.QuitMsg")
		}
	})

	t.Run("quit unsubscribes", func(t *testing.T) {
		ctl := newFakeController()
		m := NewModel(context.Background(), ctl)
		press(m, "q")
		if len(ctl.calls) != 1 || ctl.calls[0] != "unsubscribe" {
			t.Errorf("expected unsubscribe, got %v", ctl.calls)
		}
	})
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00"},
		{65 * time.Second, "1:05"},
		{3*time.Hour + 4*time.Minute + 5*time.Second, "3:04:05"},
		{-time.Millisecond, "--:--"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestErrorText(t *testing.T) {
	if ErrorText("") != "" {
		t.Error("empty key should have no text")
	}
	if ErrorText(playback.ErrorUnknown) != "Playback failed" {
		t.Errorf("unexpected text %q", ErrorText(playback.ErrorUnknown))
	}
}
