package player

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

const (
	blockFrames        = 2048
	offloadBlockFrames = 16384
	eventBuffer        = 64
)

// SinkFunc opens the output that receives rendered s16le stereo frames.
type SinkFunc func() (io.WriteCloser, error)

// CommandSink pipes rendered audio into the stdin of an external command, e.g. `aplay -q -f cd`.
func CommandSink(args []string) SinkFunc {
	return func() (io.WriteCloser, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("%w: empty output command", ErrDecode)
		}
		cmd := exec.Command(args[0], args[1:]...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("output stdin pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start output command %s: %w", args[0], err)
		}
		return &commandSink{cmd: cmd, stdin: stdin}, nil
	}
}

type commandSink struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func (s *commandSink) Write(p []byte) (int, error) { return s.stdin.Write(p) }

func (s *commandSink) Close() error {
	_ = s.stdin.Close()
	return s.cmd.Wait()
}

// Options configures a [PCMPlayer].
type Options struct {
	Decoder Decoder
	Sink    SinkFunc
	Logger  *log.Logger
}

// session is one prepared media item.
type session struct {
	item   MediaItem
	start  time.Duration
	ctx    context.Context
	cancel context.CancelFunc

	chain  *chain
	frames atomic.Int64
	done   bool

	closeMu  sync.Mutex
	closers  []io.Closer
	released bool
}

// hold registers c for release; a session that is already released closes c immediately.
func (s *session) hold(c io.Closer) bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.released {
		_ = c.Close()
		return false
	}
	s.closers = append(s.closers, c)
	return true
}

func (s *session) close() {
	s.cancel()
	s.closeMu.Lock()
	closers := s.closers
	s.closers, s.released = nil, true
	s.closeMu.Unlock()

	for _, c := range closers {
		_ = c.Close()
	}
}

// PCMPlayer implements [Player] on top of a [Decoder] and a beep streamer chain.
type PCMPlayer struct {
	decoder  Decoder
	openSink SinkFunc
	logger   *log.Logger
	events   chan Event

	mu          sync.Mutex
	cond        *sync.Cond
	sess        *session
	playing     bool
	skipSilence bool
	offload     bool
	closed      bool
	sink        io.WriteCloser

	gain atomic.Uint64
	wg   sync.WaitGroup
}

// NewPCMPlayer creates a player and starts its render goroutine.
func NewPCMPlayer(opts Options) *PCMPlayer {
	p := &PCMPlayer{
		decoder:  opts.Decoder,
		openSink: opts.Sink,
		logger:   opts.Logger,
		events:   make(chan Event, eventBuffer),
	}
	if p.logger == nil {
		p.logger = log.New(io.Discard)
	}
	p.cond = sync.NewCond(&p.mu)
	p.gain.Store(math.Float64bits(1))

	p.wg.Add(1)
	go p.render()
	return p
}

func (p *PCMPlayer) Events() <-chan Event { return p.events }

// emit must be called with p.mu held.
func (p *PCMPlayer) emit(e Event) {
	if p.closed {
		return
	}
	select {
	case p.events <- e:
	default:
		p.logger.Warn("player event dropped", "kind", e.Kind, "media", e.MediaID)
	}
}

func (p *PCMPlayer) SetMedia(item MediaItem, start time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	if p.sess != nil {
		old := p.sess
		go old.close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{item: item, start: max(start, 0), ctx: ctx, cancel: cancel}
	p.sess = sess

	p.wg.Add(1)
	go p.load(sess, p.skipSilence)
}

// load opens and primes a session off the caller's goroutine.
func (p *PCMPlayer) load(sess *session, skipSilence bool) {
	defer p.wg.Done()

	fail := func(err error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.sess != sess {
			return
		}
		sess.done = true
		p.emit(Event{Kind: EventError, MediaID: sess.item.ID, Err: err, Position: sess.start})
	}

	src, err := sess.item.Open(sess.ctx)
	if err != nil {
		fail(err)
		return
	}
	if !sess.hold(src) {
		return
	}

	pcm, err := p.decoder.Decode(sess.ctx, src, sess.start)
	if err != nil {
		sess.close()
		fail(err)
		return
	}
	if !sess.hold(pcm) {
		return
	}

	buffered := bufio.NewReaderSize(pcm, blockFrames*frameSize)
	if _, err := buffered.Peek(frameSize); err != nil && !errors.Is(err, io.EOF) {
		sess.close()
		fail(err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess != sess || sess.ctx.Err() != nil {
		go sess.close()
		return
	}
	sess.chain = newChain(buffered, 1, skipSilence)
	p.emit(Event{Kind: EventReady, MediaID: sess.item.ID, Playing: p.playing, Position: sess.start})
	p.cond.Broadcast()
}

// render streams blocks of the current session into the sink while playing.
func (p *PCMPlayer) render() {
	defer p.wg.Done()

	var (
		samples [][2]float64
		out     []byte
	)
	for {
		p.mu.Lock()
		for !p.closed && !(p.playing && p.sess != nil && p.sess.chain != nil && !p.sess.done) {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		sess := p.sess
		frames := blockFrames
		if p.offload {
			frames = offloadBlockFrames
		}
		if p.sink == nil && p.openSink != nil {
			sink, err := p.openSink()
			if err != nil {
				p.playing = false
				p.emit(Event{Kind: EventError, MediaID: sess.item.ID, Err: fmt.Errorf("%w: %v", ErrDecode, err)})
				p.mu.Unlock()
				continue
			}
			p.sink = sink
		}
		sink := p.sink
		p.mu.Unlock()

		if cap(samples) < frames {
			samples = make([][2]float64, frames)
		}
		sess.chain.gain.Gain = math.Float64frombits(p.gain.Load()) - 1
		n, ok := sess.chain.Stream(samples[:frames])

		var writeErr error
		if n > 0 && sink != nil {
			out = encodePCM(out, samples[:n])
			_, writeErr = sink.Write(out)
		}
		sess.frames.Add(int64(n))

		p.mu.Lock()
		if p.sess == sess {
			switch {
			case writeErr != nil:
				sess.done = true
				p.emit(Event{Kind: EventError, MediaID: sess.item.ID, Err: fmt.Errorf("%w: output: %v", ErrDecode, writeErr), Position: p.positionLocked()})
			case !ok:
				sess.done = true
				if err := sess.chain.Err(); err != nil {
					p.emit(Event{Kind: EventError, MediaID: sess.item.ID, Err: err, Position: p.positionLocked()})
				} else {
					p.emit(Event{Kind: EventEnded, MediaID: sess.item.ID, Position: p.positionLocked()})
				}
			}
		}
		p.mu.Unlock()
	}
}

func (p *PCMPlayer) Play() { p.setPlaying(true) }

func (p *PCMPlayer) Pause() { p.setPlaying(false) }

func (p *PCMPlayer) setPlaying(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing == on {
		return
	}
	p.playing = on
	id := ""
	if p.sess != nil {
		id = p.sess.item.ID
	}
	p.emit(Event{Kind: EventPlayingChanged, MediaID: id, Playing: on, Position: p.positionLocked()})
	p.cond.Broadcast()
}

func (p *PCMPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Seek reopens the current media at pos.
func (p *PCMPlayer) Seek(pos time.Duration) {
	p.mu.Lock()
	sess := p.sess
	p.mu.Unlock()
	if sess == nil {
		return
	}
	p.SetMedia(sess.item, pos)
}

func (p *PCMPlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *PCMPlayer) positionLocked() time.Duration {
	if p.sess == nil {
		return 0
	}
	return p.sess.start + time.Duration(p.sess.frames.Load())*time.Second/SampleRate
}

func (p *PCMPlayer) SetGain(gain float64) {
	p.gain.Store(math.Float64bits(max(gain, 0)))
}

func (p *PCMPlayer) SetSkipSilence(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.skipSilence = on
	if p.sess != nil && p.sess.chain != nil {
		p.sess.chain.silence.SetEnabled(on)
	}
}

func (p *PCMPlayer) SetOffload(on bool) {
	p.mu.Lock()
	p.offload = on
	p.mu.Unlock()
}

func (p *PCMPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess != nil {
		go p.sess.close()
		p.sess = nil
	}
}

// Close stops rendering, releases the sink and closes the event channel.
func (p *PCMPlayer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	sess := p.sess
	p.sess = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	if sess != nil {
		sess.close()
	}
	p.wg.Wait()

	var err error
	if p.sink != nil {
		err = p.sink.Close()
	}
	close(p.events)
	return err
}
