// Package queue owns the ordered sequence of tracks driving playback.
//
// An [Engine] keeps the items, the current position, the shuffle order, the repeat mode and
// the pagination state behind one mutex. Callers only mutate it through its methods.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytplay/internal/models"
	"github.com/desertthunder/ytplay/internal/services"
	"github.com/desertthunder/ytplay/internal/shared"
	"github.com/samber/lo"
)

// DefaultLowWater is the number of remaining items that triggers loading the next page.
const DefaultLowWater = 5

type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "idle"
	}
}

type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatAll
	RepeatOne
)

func (m RepeatMode) String() string {
	switch m {
	case RepeatAll:
		return "all"
	case RepeatOne:
		return "one"
	default:
		return "off"
	}
}

func (m RepeatMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *RepeatMode) UnmarshalText(text []byte) error {
	mode, err := ParseRepeat(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// ParseRepeat maps "off", "all" and "one" to a [RepeatMode].
func ParseRepeat(s string) (RepeatMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off", "none":
		return RepeatOff, nil
	case "all":
		return RepeatAll, nil
	case "one":
		return RepeatOne, nil
	default:
		return RepeatOff, fmt.Errorf("%w: repeat mode %q", shared.ErrInvalidArgument, s)
	}
}

// Cursor identifies the current item. Version grows whenever the current pointer moves, so
// callers can tell a restart of the same track from no change at all.
type Cursor struct {
	Version uint64
	Index   int
	Track   models.Track
	State   State
}

// Valid reports whether the cursor points at an item.
func (c Cursor) Valid() bool {
	return c.State == StateReady && c.Track.ID != ""
}

// Options configures an [Engine].
type Options struct {
	FilterExplicit bool
	LowWater       int
	// Timeout bounds each page fetch.
	Timeout time.Duration
	Logger  *log.Logger
}

type Engine struct {
	provider services.Provider
	logger   *log.Logger
	lowWater int
	timeout  time.Duration

	mu             sync.Mutex
	state          State
	source         Source
	title          string
	items          []models.Track
	order          []int
	pos            int
	shuffle        bool
	repeat         RepeatMode
	continuation   string
	fetching       bool
	filterExplicit bool
	lastErr        error
	gen            uint64
	version        uint64
	closed         bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	updates chan struct{}
}

func NewEngine(provider services.Provider, opts Options) *Engine {
	if opts.LowWater <= 0 {
		opts.LowWater = DefaultLowWater
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		provider:       provider,
		logger:         shared.WithLogger(opts.Logger, "component", "queue"),
		lowWater:       opts.LowWater,
		timeout:        opts.Timeout,
		source:         Empty{},
		filterExplicit: opts.FilterExplicit,
		ctx:            ctx,
		cancel:         cancel,
		updates:        make(chan struct{}, 1),
	}
}

// Updates signals that the queue changed. Signals coalesce; read [Engine.Cursor] to reconcile.
func (e *Engine) Updates() <-chan struct{} { return e.updates }

func (e *Engine) publish() {
	select {
	case e.updates <- struct{}{}:
	default:
	}
}

// SetFilterExplicit changes filtering for pages fetched from now on.
func (e *Engine) SetFilterExplicit(on bool) {
	e.mu.Lock()
	e.filterExplicit = on
	e.mu.Unlock()
}

func (e *Engine) filter(tracks []models.Track) []models.Track {
	if !e.filterExplicit {
		return tracks
	}
	return lo.Filter(tracks, func(t models.Track, _ int) bool { return !t.Explicit })
}

// Load replaces the queue with src. With a preload track the queue is ready immediately with
// that single item, and the initial page is spliced around it once fetched. Without a preload
// an empty initial page leaves the engine unchanged.
func (e *Engine) Load(ctx context.Context, src Source, preload *models.Track) error {
	if src == nil {
		src = Empty{}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("%w: queue closed", shared.ErrServiceUnavailable)
	}
	e.gen++
	gen := e.gen
	prevState := e.state
	if preload != nil {
		e.reset(src, src.Title(), []models.Track{*preload}, 0)
	} else {
		e.state = StateLoading
	}
	e.mu.Unlock()
	e.publish()

	fetchCtx, cancel := e.fetchContext(ctx)
	defer cancel()
	page, err := src.FetchInitial(fetchCtx, e.provider)

	e.mu.Lock()
	defer e.publish()
	defer e.mu.Unlock()

	if e.gen != gen || e.closed {
		return context.Canceled
	}
	if err != nil {
		if preload == nil {
			e.state = prevState
		}
		return fmt.Errorf("load %s: %w", src.Title(), err)
	}

	tracks := e.filter(page.Tracks)
	title := lo.CoalesceOrEmpty(page.Title, src.Title())

	if preload == nil {
		if len(tracks) == 0 {
			e.state = prevState
			e.logger.Debug("initial page empty, queue unchanged", "source", src.Title())
			return nil
		}
		e.reset(src, title, tracks, 0)
		e.continuation = page.Continuation
		e.maybeFetchMore()
		return nil
	}

	// Splice the page around the preloaded item, which keeps playing untouched. Tracks queued
	// while the page was loading stay next to it.
	cur := e.order[e.pos]
	current := e.items[cur]
	_, at, found := lo.FindIndexOf(tracks, func(t models.Track) bool { return t.ID == current.ID })
	before, after := []models.Track(nil), tracks
	if found {
		before, after = tracks[:at], tracks[at+1:]
	}
	offset := len(before)
	items := make([]models.Track, 0, len(before)+len(e.items)+len(after))
	items = append(items, before...)
	items = append(items, e.items...)
	items = append(items, after...)

	if e.shuffle {
		order := lo.Map(e.order, func(idx int, _ int) int { return idx + offset })
		fetched := make([]int, 0, len(before)+len(after))
		for i := range before {
			fetched = append(fetched, i)
		}
		for i := range after {
			fetched = append(fetched, offset+len(e.items)+i)
		}
		e.order = append(order, lo.Shuffle(fetched)...)
	} else {
		e.order = identity(len(items))
		e.pos = offset + cur
	}
	e.title = title
	e.items = items
	e.continuation = page.Continuation
	e.maybeFetchMore()
	return nil
}

// reset installs a fresh queue. Must hold e.mu.
func (e *Engine) reset(src Source, title string, items []models.Track, pos int) {
	e.source = src
	e.title = title
	e.items = items
	e.order = identity(len(items))
	e.pos = pos
	e.shuffle = false
	e.continuation = ""
	e.lastErr = nil
	e.version++
	if len(items) > 0 {
		e.state = StateReady
	} else {
		e.state = StateIdle
	}
}

func identity(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

func (e *Engine) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	stop := context.AfterFunc(e.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Cursor returns the current item.
func (e *Engine) Cursor() Cursor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor()
}

func (e *Engine) cursor() Cursor {
	c := Cursor{Version: e.version, Index: e.pos, State: e.state}
	if e.state == StateReady && e.pos < len(e.order) {
		c.Track = e.items[e.order[e.pos]]
	}
	return c
}

// Current returns the current track, if any.
func (e *Engine) Current() (models.Track, bool) {
	c := e.Cursor()
	return c.Track, c.Valid()
}

// Advance moves to the next item after the current one finished naturally.
func (e *Engine) Advance() (Cursor, bool) {
	e.mu.Lock()
	defer e.publish()
	defer e.mu.Unlock()

	if e.state != StateReady {
		return e.cursor(), false
	}
	switch {
	case e.repeat == RepeatOne:
	case e.pos+1 < len(e.order):
		e.pos++
	case e.repeat == RepeatAll:
		e.pos = 0
	default:
		e.state = StateIdle
		e.version++
		return e.cursor(), false
	}
	e.version++
	e.maybeFetchMore()
	return e.cursor(), true
}

// SkipNext moves forward on user request. Repeat-one does not hold it back.
func (e *Engine) SkipNext() (Cursor, bool) {
	e.mu.Lock()
	defer e.publish()
	defer e.mu.Unlock()

	if e.state != StateReady {
		return e.cursor(), false
	}
	switch {
	case e.pos+1 < len(e.order):
		e.pos++
	case e.repeat != RepeatOff:
		e.pos = 0
	default:
		return e.cursor(), false
	}
	e.version++
	e.maybeFetchMore()
	return e.cursor(), true
}

// SkipPrevious moves back one item, wrapping with repeat-all. At the head it restarts the
// current item.
func (e *Engine) SkipPrevious() Cursor {
	e.mu.Lock()
	defer e.publish()
	defer e.mu.Unlock()

	if e.state != StateReady {
		return e.cursor()
	}
	switch {
	case e.pos > 0:
		e.pos--
	case e.repeat == RepeatAll:
		e.pos = len(e.order) - 1
	}
	e.version++
	return e.cursor()
}

// HasNext reports whether an item follows the current one without wrapping.
func (e *Engine) HasNext() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateReady && e.pos+1 < len(e.order)
}

// Seek jumps to the item at index in play order.
func (e *Engine) Seek(index int) (Cursor, error) {
	e.mu.Lock()
	defer e.publish()
	defer e.mu.Unlock()

	if index < 0 || index >= len(e.order) {
		return e.cursor(), fmt.Errorf("%w: queue index %d of %d", shared.ErrInvalidArgument, index, len(e.order))
	}
	e.pos = index
	e.state = StateReady
	e.version++
	e.maybeFetchMore()
	return e.cursor(), nil
}

// SetShuffle toggles shuffle. Turning it on puts the current item first in the new order;
// turning it off restores the original order at the current item. The cursor version is kept.
func (e *Engine) SetShuffle(on bool) {
	e.mu.Lock()
	defer e.publish()
	defer e.mu.Unlock()

	if len(e.order) == 0 {
		e.shuffle = on
		return
	}
	current := e.order[e.pos]
	if on {
		rest := make([]int, 0, len(e.order)-1)
		for i := range e.items {
			if i != current {
				rest = append(rest, i)
			}
		}
		e.order = append([]int{current}, lo.Shuffle(rest)...)
		e.pos = 0
	} else {
		e.order = identity(len(e.items))
		e.pos = current
	}
	e.shuffle = on
}

func (e *Engine) Shuffle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shuffle
}

func (e *Engine) SetRepeat(mode RepeatMode) {
	e.mu.Lock()
	e.repeat = mode
	e.mu.Unlock()
	e.publish()
}

func (e *Engine) Repeat() RepeatMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.repeat
}

// EnqueueNext inserts tracks right after the current item.
func (e *Engine) EnqueueNext(tracks ...models.Track) {
	if len(tracks) == 0 {
		return
	}
	e.mu.Lock()
	defer e.publish()
	defer e.mu.Unlock()

	if len(e.items) == 0 {
		e.reset(ListSource{Items: tracks}, e.title, append([]models.Track(nil), tracks...), 0)
		return
	}

	at := e.order[e.pos] + 1
	e.items = append(e.items[:at], append(append([]models.Track(nil), tracks...), e.items[at:]...)...)

	if !e.shuffle {
		e.order = identity(len(e.items))
		return
	}
	for i, idx := range e.order {
		if idx >= at {
			e.order[i] = idx + len(tracks)
		}
	}
	inserted := make([]int, len(tracks))
	for i := range tracks {
		inserted[i] = at + i
	}
	e.order = append(e.order[:e.pos+1], append(inserted, e.order[e.pos+1:]...)...)
}

// Add appends tracks to the end of the queue.
func (e *Engine) Add(tracks ...models.Track) {
	if len(tracks) == 0 {
		return
	}
	e.mu.Lock()
	defer e.publish()
	defer e.mu.Unlock()

	if len(e.items) == 0 {
		e.reset(ListSource{Items: tracks}, e.title, append([]models.Track(nil), tracks...), 0)
		return
	}
	e.appendTracks(tracks)
}

// appendTracks adds to the end of both the storage and play order. Must hold e.mu.
func (e *Engine) appendTracks(tracks []models.Track) {
	start := len(e.items)
	e.items = append(e.items, tracks...)
	for i := range tracks {
		e.order = append(e.order, start+i)
	}
}

// AppendPage adds a fetched page after everything already queued.
func (e *Engine) AppendPage(page *services.Page) {
	if page == nil {
		return
	}
	e.mu.Lock()
	defer e.publish()
	defer e.mu.Unlock()
	e.appendPage(page)
}

func (e *Engine) appendPage(page *services.Page) {
	tracks := e.filter(page.Tracks)
	if len(e.items) == 0 && len(tracks) > 0 {
		e.reset(e.source, lo.CoalesceOrEmpty(e.title, page.Title), tracks, 0)
	} else {
		e.appendTracks(tracks)
	}
	e.continuation = page.Continuation
}

// ReplaceTail drops everything after the current item and appends page in its place.
// Shuffle is switched off.
func (e *Engine) ReplaceTail(page *services.Page) {
	if page == nil {
		return
	}
	e.mu.Lock()
	defer e.publish()
	defer e.mu.Unlock()
	e.replaceTail(page.Tracks, page.Continuation)
}

func (e *Engine) replaceTail(tracks []models.Track, continuation string) {
	head := make([]models.Track, 0, e.pos+1+len(tracks))
	for _, idx := range e.order[:min(e.pos+1, len(e.order))] {
		head = append(head, e.items[idx])
	}
	e.items = append(head, e.filter(tracks)...)
	e.order = identity(len(e.items))
	e.shuffle = false
	e.continuation = continuation
	e.gen++
	if len(e.items) > 0 && e.state != StateReady {
		e.state = StateReady
		e.pos = min(len(head), len(e.items)-1)
		e.version++
	}
	e.maybeFetchMore()
}

// StartRadioSeamlessly turns the queue into a radio seeded from the current track. The
// already played head and the current item are kept; everything after them is replaced.
func (e *Engine) StartRadioSeamlessly(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateReady {
		e.mu.Unlock()
		return fmt.Errorf("%w: nothing playing", shared.ErrQueueEmpty)
	}
	seed := e.items[e.order[e.pos]]
	gen, version := e.gen, e.version
	e.mu.Unlock()

	src := RadioSource{Seed: seed}
	fetchCtx, cancel := e.fetchContext(ctx)
	defer cancel()
	page, err := src.FetchInitial(fetchCtx, e.provider)
	if err != nil {
		return err
	}
	tracks := lo.Filter(page.Tracks, func(t models.Track, _ int) bool { return t.ID != seed.ID })

	e.mu.Lock()
	defer e.publish()
	defer e.mu.Unlock()

	if e.closed || e.gen != gen || e.version != version {
		return context.Canceled
	}
	e.source = src
	e.title = src.Title()
	e.replaceTail(tracks, page.Continuation)
	return nil
}

// maybeFetchMore starts a page fetch once few items remain. Must hold e.mu.
func (e *Engine) maybeFetchMore() {
	if e.closed || e.fetching || e.continuation == "" || e.state != StateReady {
		return
	}
	if len(e.order)-1-e.pos > e.lowWater {
		return
	}

	e.fetching = true
	gen, src, token := e.gen, e.source, e.continuation
	e.wg.Add(1)
	go e.fetchMore(gen, src, token)
}

func (e *Engine) fetchMore(gen uint64, src Source, token string) {
	defer e.wg.Done()

	ctx, cancel := e.fetchContext(e.ctx)
	page, err := src.FetchNext(ctx, e.provider, token)
	cancel()

	e.mu.Lock()
	defer e.publish()
	defer e.mu.Unlock()

	e.fetching = false
	if e.closed {
		return
	}
	if e.gen != gen {
		// The queue was replaced meanwhile and skipped its own fetch while this one ran.
		e.maybeFetchMore()
		return
	}
	if err != nil {
		e.lastErr = fmt.Errorf("%w: %w", shared.ErrPagination, err)
		e.logger.Warn("failed to load next page", "source", src.Title(), "error", err)
		return
	}

	e.lastErr = nil
	if page.Continuation == token {
		page.Continuation = ""
	}
	e.appendPage(page)
	e.logger.Debug("appended page", "source", src.Title(), "tracks", len(page.Tracks), "more", page.HasMore())
	e.maybeFetchMore()
}

// Err returns the last pagination failure, wrapping [shared.ErrPagination], or nil.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Fetching reports whether a page fetch is in flight.
func (e *Engine) Fetching() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fetching
}

// Items returns the queue in play order.
func (e *Engine) Items() []models.Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ordered()
}

func (e *Engine) ordered() []models.Track {
	return lo.Map(e.order, func(idx int, _ int) models.Track { return e.items[idx] })
}

func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.order)
}

func (e *Engine) Title() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.title
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// HasMore reports whether the source has another page.
func (e *Engine) HasMore() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.continuation != ""
}

// Snapshot captures the queue in play order. The position is left for the caller to fill in.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Title:        e.title,
		Items:        e.ordered(),
		Index:        e.pos,
		Repeat:       e.repeat,
		Continuation: e.continuation,
	}
}

// Restore installs a snapshot. The items come back unshuffled in their saved play order.
func (e *Engine) Restore(s Snapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.publish()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("%w: queue closed", shared.ErrServiceUnavailable)
	}
	e.gen++
	items := append([]models.Track(nil), s.Items...)
	e.reset(ListSource{Name: s.Title, Items: items}, s.Title, items, s.Index)
	e.repeat = s.Repeat
	e.continuation = s.Continuation
	e.maybeFetchMore()
	return nil
}

// Close cancels in-flight fetches and waits for them. Later results are discarded.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

// Snapshot is the restartable form of a queue.
type Snapshot struct {
	Title          string         `json:"title"`
	Items          []models.Track `json:"items"`
	Index          int            `json:"current_index"`
	PositionMillis int64          `json:"position_millis"`
	Repeat         RepeatMode     `json:"repeat"`
	Continuation   string         `json:"continuation,omitempty"`
}

// Validate checks that the index points into the items.
func (s Snapshot) Validate() error {
	if len(s.Items) == 0 {
		return fmt.Errorf("%w: snapshot has no items", shared.ErrQueueEmpty)
	}
	if s.Index < 0 || s.Index >= len(s.Items) {
		return fmt.Errorf("%w: snapshot index %d of %d", shared.ErrInvalidInput, s.Index, len(s.Items))
	}
	if s.PositionMillis < 0 {
		return errors.New("snapshot position is negative")
	}
	return nil
}

// Position returns the saved in-track position.
func (s Snapshot) Position() time.Duration {
	return time.Duration(s.PositionMillis) * time.Millisecond
}
