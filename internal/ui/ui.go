package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/ytplay/internal/models"
	"github.com/desertthunder/ytplay/internal/playback"
	"github.com/desertthunder/ytplay/internal/queue"
	"github.com/desertthunder/ytplay/internal/shared"
)

const (
	seekStep   = 10 * time.Second
	volumeStep = 0.05
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	NowPlayingView ViewState = iota
	QueueView
)

// Controller is the playback surface the TUI drives.
type Controller interface {
	Status() playback.Status
	Queue() []models.Track
	Subscribe() (<-chan playback.Status, func())

	TogglePlay() error
	SkipNext() error
	SkipPrevious() error
	Seek(pos time.Duration) error
	SetVolume(v float64) error
	SetShuffle(on bool) error
	SetRepeat(mode queue.RepeatMode) error
	Jump(index int) error
	StartRadio(ctx context.Context) error
}

// Model represents the TUI application state.
type Model struct {
	ctx         context.Context
	ctl         Controller
	view        ViewState
	status      playback.Status
	updates     <-chan playback.Status
	unsubscribe func()
	queue       list.Model
	progress    progress.Model
	help        help.Model
	keys        keyMap
	width       int
	height      int
	notice      string
}

// NewModel creates a TUI model subscribed to ctl.
func NewModel(ctx context.Context, ctl Controller) *Model {
	updates, unsubscribe := ctl.Subscribe()
	q := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	q.Title = "Queue"
	q.SetShowHelp(false)

	return &Model{
		ctx:         ctx,
		ctl:         ctl,
		view:        NowPlayingView,
		status:      ctl.Status(),
		updates:     updates,
		unsubscribe: unsubscribe,
		queue:       q,
		progress:    progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		help:        help.New(),
		keys:        newKeyMap(),
	}
}

func (m *Model) Init() tea.Cmd {
	return m.waitForStatus()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.queue.SetSize(msg.Width-4, msg.Height-6)
		m.progress.Width = min(max(msg.Width-24, 10), 60)
		return m, nil

	case tea.KeyMsg:
		if m.view == QueueView {
			return m.handleQueueKeys(msg)
		}
		return m.handleNowPlayingKeys(msg)

	case Msg:
		return m.handleMsg(msg)
	}

	if m.view == QueueView {
		var cmd tea.Cmd
		m.queue, cmd = m.queue.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgStatus:
		prev := m.status
		m.status = msg.data.(playback.Status)
		cmds := []tea.Cmd{m.waitForStatus()}
		if m.view == QueueView && (prev.Length != m.status.Length || prev.Index != m.status.Index) {
			cmds = append(cmds, m.fetchQueue())
		}
		return m, tea.Batch(cmds...)
	case MsgQueue:
		items := msg.data.([]models.Track)
		cmd := m.queue.SetItems(trackItems(items, m.status.Index))
		if m.queue.Index() == 0 && m.status.Index < len(items) {
			m.queue.Select(m.status.Index)
		}
		return m, cmd
	case MsgCommandFailed:
		m.notice = msg.data.(error).Error()
		return m, nil
	case MsgStopped:
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) handleNowPlayingKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.notice = ""
	switch {
	case key.Matches(msg, m.keys.quit):
		return m.quit()
	case key.Matches(msg, m.keys.view):
		m.view = QueueView
		return m, m.fetchQueue()
	case key.Matches(msg, m.keys.toggle):
		return m, m.run(m.ctl.TogglePlay)
	case key.Matches(msg, m.keys.next):
		return m, m.run(m.ctl.SkipNext)
	case key.Matches(msg, m.keys.previous):
		return m, m.run(m.ctl.SkipPrevious)
	case key.Matches(msg, m.keys.forward):
		return m, m.seekBy(seekStep)
	case key.Matches(msg, m.keys.back):
		return m, m.seekBy(-seekStep)
	case key.Matches(msg, m.keys.louder):
		return m, m.volumeBy(volumeStep)
	case key.Matches(msg, m.keys.quieter):
		return m, m.volumeBy(-volumeStep)
	case key.Matches(msg, m.keys.shuffle):
		on := !m.status.Shuffle
		return m, m.run(func() error { return m.ctl.SetShuffle(on) })
	case key.Matches(msg, m.keys.repeat):
		mode := nextRepeat(m.status.Repeat)
		return m, m.run(func() error { return m.ctl.SetRepeat(mode) })
	case key.Matches(msg, m.keys.radio):
		m.notice = "starting radio..."
		return m, m.run(func() error { return m.ctl.StartRadio(m.ctx) })
	}
	return m, nil
}

func (m *Model) handleQueueKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.queue.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.queue, cmd = m.queue.Update(msg)
		return m, cmd
	}

	switch {
	case msg.String() == "ctrl+c":
		return m.quit()
	case key.Matches(msg, m.keys.view), msg.String() == "esc":
		m.view = NowPlayingView
		return m, nil
	case key.Matches(msg, m.keys.enter):
		index := m.queue.Index()
		m.view = NowPlayingView
		return m, m.run(func() error { return m.ctl.Jump(index) })
	case key.Matches(msg, m.keys.toggle):
		return m, m.run(m.ctl.TogglePlay)
	}

	var cmd tea.Cmd
	m.queue, cmd = m.queue.Update(msg)
	return m, cmd
}

func (m *Model) quit() (tea.Model, tea.Cmd) {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	return m, tea.Quit
}

func (m *Model) run(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return commandFailedMsg(err)
		}
		return nil
	}
}

func (m *Model) seekBy(delta time.Duration) tea.Cmd {
	if m.status.Track == nil || m.status.Buffering {
		return nil
	}
	pos := max(m.status.Position()+delta, 0)
	if d := m.status.Duration(); d > 0 && pos > d {
		pos = d
	}
	return m.run(func() error { return m.ctl.Seek(pos) })
}

func (m *Model) volumeBy(delta float64) tea.Cmd {
	v := min(max(m.status.Volume+delta, 0), 1)
	return m.run(func() error { return m.ctl.SetVolume(v) })
}

func (m *Model) waitForStatus() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		st, ok := <-updates
		if !ok {
			return stoppedMsg()
		}
		return statusMsg(st)
	}
}

func (m *Model) fetchQueue() tea.Cmd {
	return func() tea.Msg {
		return queueMsg(m.ctl.Queue())
	}
}

func nextRepeat(mode queue.RepeatMode) queue.RepeatMode {
	switch mode {
	case queue.RepeatOff:
		return queue.RepeatAll
	case queue.RepeatAll:
		return queue.RepeatOne
	default:
		return queue.RepeatOff
	}
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.view == QueueView {
		helpView := m.help.ShortHelpView([]key.Binding{m.keys.enter, m.keys.toggle, m.keys.view})
		return fmt.Sprintf("%s\n\n%s", m.queue.View(), helpView)
	}
	return m.renderNowPlaying()
}

func (m *Model) renderNowPlaying() string {
	var b strings.Builder
	b.WriteString(styles.title.Render("ytplay"))
	b.WriteString("\n")

	st := m.status
	if st.Track == nil {
		b.WriteString(styles.help.Render("Nothing queued"))
	} else {
		b.WriteString(styles.track.Render(st.Track.Title))
		if artists := st.Track.ArtistNames(); artists != "" {
			b.WriteString("\n")
			b.WriteString(styles.artist.Render(artists))
		}
		b.WriteString("\n\n")
		b.WriteString(m.progress.ViewAs(fraction(st)))
		fmt.Fprintf(&b, "  %s / %s\n", formatDuration(st.Position()), formatDuration(st.Duration()))
	}

	b.WriteString("\n")
	b.WriteString(stateLine(st))
	b.WriteString("\n")
	if st.Length > 0 {
		more := ""
		if st.HasMore {
			more = "+"
		}
		fmt.Fprintf(&b, "%s  %d/%d%s\n", st.Title, st.Index+1, st.Length, more)
	}

	if st.Error != "" {
		b.WriteString("\n")
		b.WriteString(styles.err.Render(ErrorText(st.Error)))
		b.WriteString("\n")
		b.WriteString(styles.help.Render("press space to retry"))
		b.WriteString("\n")
	}
	if m.notice != "" {
		b.WriteString("\n")
		b.WriteString(styles.warn.Render(m.notice))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.ShortHelpView(m.keys.ShortHelp()))
	return styles.frame.Render(b.String())
}

func stateLine(st playback.Status) string {
	var state string
	switch {
	case st.Error != "":
		state = styles.err.Render("■ Stopped")
	case st.Ended:
		state = "■ Ended"
	case st.Buffering:
		state = styles.warn.Render("… Buffering")
	case st.Playing:
		state = styles.ok.Render("▶ Playing")
	default:
		state = "⏸ Paused"
	}

	parts := []string{state, fmt.Sprintf("vol %d%%", int(st.Volume*100+0.5))}
	if st.Muted {
		parts = append(parts, styles.warn.Render("muted"))
	}
	if st.Shuffle {
		parts = append(parts, "shuffle")
	}
	if st.Repeat != queue.RepeatOff {
		parts = append(parts, "repeat "+st.Repeat.String())
	}
	return strings.Join(parts, "  ·  ")
}

func fraction(st playback.Status) float64 {
	if st.DurationMillis <= 0 {
		return 0
	}
	return min(float64(st.PositionMillis)/float64(st.DurationMillis), 1)
}

// ErrorText is the user-facing text for a playback message key.
func ErrorText(k playback.MessageKey) string {
	switch k {
	case playback.ErrorNoInternet:
		return "No internet connection"
	case playback.ErrorTimeout:
		return "The connection timed out"
	case playback.ErrorRemote:
		return "The server could not serve this track"
	case playback.ErrorUnplayable:
		return "This track is not available"
	case "":
		return ""
	default:
		return "Playback failed"
	}
}

func formatSeconds(s int) string {
	return formatDuration(time.Duration(s) * time.Second)
}

func formatDuration(d time.Duration) string {
	return shared.FormatDuration(d)
}
