package player

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
)

// Format is the beep format of decoded audio.
var Format = beep.Format{SampleRate: beep.SampleRate(SampleRate), NumChannels: 2, Precision: 2}

// pcmStreamer adapts an s16le stereo reader to [beep.Streamer].
type pcmStreamer struct {
	r   io.Reader
	buf []byte
	err error
}

func newPCMStreamer(r io.Reader) *pcmStreamer {
	return &pcmStreamer{r: r}
}

func (s *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.err != nil {
		return 0, false
	}

	need := len(samples) * frameSize
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	buf := s.buf[:need]

	n, err := io.ReadFull(s.r, buf)
	frames := n / frameSize
	for i := 0; i < frames; i++ {
		l := int16(binary.LittleEndian.Uint16(buf[i*frameSize:]))
		r := int16(binary.LittleEndian.Uint16(buf[i*frameSize+2:]))
		samples[i][0] = float64(l) / 32768
		samples[i][1] = float64(r) / 32768
	}

	if err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			s.err = err
		} else {
			s.err = io.EOF
		}
		return frames, frames > 0
	}
	return frames, true
}

// Err returns the read error that ended the stream, excluding EOF.
func (s *pcmStreamer) Err() error {
	if errors.Is(s.err, io.EOF) {
		return nil
	}
	return s.err
}

// silenceSkipper drops samples once a run of near-silence exceeds minRun frames.
type silenceSkipper struct {
	Streamer  beep.Streamer
	Threshold float64
	MinRun    int

	mu      sync.Mutex
	enabled bool
	run     int
	skipped int
	tmp     [][2]float64
}

func (s *silenceSkipper) SetEnabled(on bool) {
	s.mu.Lock()
	s.enabled = on
	s.run = 0
	s.mu.Unlock()
}

func (s *silenceSkipper) Stream(samples [][2]float64) (int, bool) {
	s.mu.Lock()
	enabled := s.enabled
	s.mu.Unlock()

	if !enabled {
		return s.Streamer.Stream(samples)
	}

	if cap(s.tmp) < len(samples) {
		s.tmp = make([][2]float64, len(samples))
	}
	tmp := s.tmp[:len(samples)]

	out := 0
	for out < len(samples) {
		n, ok := s.Streamer.Stream(tmp[:len(samples)-out])
		for i := 0; i < n; i++ {
			if math.Abs(tmp[i][0]) < s.Threshold && math.Abs(tmp[i][1]) < s.Threshold {
				s.run++
				if s.run > s.MinRun {
					s.skipped++
					continue
				}
			} else {
				s.run = 0
			}
			samples[out] = tmp[i]
			out++
		}
		if !ok {
			return out, out > 0
		}
	}
	return out, true
}

func (s *silenceSkipper) Err() error {
	return s.Streamer.Err()
}

// chain is the per-media pipeline: decoded PCM, optional silence skip, gain.
type chain struct {
	pcm     *pcmStreamer
	silence *silenceSkipper
	gain    *effects.Gain
}

func newChain(r io.Reader, gain float64, skipSilence bool) *chain {
	pcm := newPCMStreamer(r)
	silence := &silenceSkipper{Streamer: pcm, Threshold: 0.003, MinRun: SampleRate / 4}
	silence.SetEnabled(skipSilence)
	return &chain{
		pcm:     pcm,
		silence: silence,
		// effects.Gain multiplies by 1+Gain.
		gain: &effects.Gain{Streamer: silence, Gain: gain - 1},
	}
}

func (c *chain) Stream(samples [][2]float64) (int, bool) {
	return c.gain.Stream(samples)
}

func (c *chain) Err() error {
	return c.pcm.Err()
}

// encodePCM writes samples as clipped s16le frames into dst and returns the used prefix.
func encodePCM(dst []byte, samples [][2]float64) []byte {
	need := len(samples) * frameSize
	if cap(dst) < need {
		dst = make([]byte, need)
	}
	dst = dst[:need]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*frameSize:], uint16(toInt16(s[0])))
		binary.LittleEndian.PutUint16(dst[i*frameSize+2:], uint16(toInt16(s[1])))
	}
	return dst
}

func toInt16(v float64) int16 {
	v = math.Max(-1, math.Min(1, v))
	return int16(math.Round(v * 32767))
}
