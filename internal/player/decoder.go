package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// SampleRate is the rate every decoder produces.
const SampleRate = 44100

// frameSize is the byte length of one interleaved s16le stereo frame.
const frameSize = 4

// Decoder turns an encoded byte stream into s16le stereo PCM at [SampleRate].
type Decoder interface {
	Decode(ctx context.Context, r io.Reader, start time.Duration) (io.ReadCloser, error)
}

// FFmpegDecoder decodes through an ffmpeg child process reading stdin and writing stdout.
type FFmpegDecoder struct {
	Path string
}

// NewFFmpegDecoder creates a decoder running the ffmpeg binary at path ("ffmpeg" when empty).
func NewFFmpegDecoder(path string) *FFmpegDecoder {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegDecoder{Path: path}
}

// buildDecodeArgs builds the ffmpeg command arguments
func buildDecodeArgs(start time.Duration) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}

	if start > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", start.Seconds()))
	}
	args = append(args, "-i", "pipe:0")
	args = append(args, "-vn", "-f", "s16le", "-acodec", "pcm_s16le", "-ac", "2", "-ar", fmt.Sprint(SampleRate))
	args = append(args, "pipe:1")
	return args
}

// Decode starts ffmpeg. Read errors of r take precedence over the process exit status.
func (d *FFmpegDecoder) Decode(ctx context.Context, r io.Reader, start time.Duration) (io.ReadCloser, error) {
	input := &recordingReader{r: r}

	cmd := exec.CommandContext(ctx, d.Path, buildDecodeArgs(start)...)
	cmd.Stdin = input
	var stderr strings.Builder
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrDecode, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrDecode, err)
	}

	return &ffmpegStream{cmd: cmd, stdout: stdout, input: input, stderr: &stderr}, nil
}

type ffmpegStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	input  *recordingReader
	stderr *strings.Builder

	once    sync.Once
	waitErr error
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if errors.Is(err, io.EOF) {
		if werr := s.wait(); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func (s *ffmpegStream) wait() error {
	s.once.Do(func() {
		err := s.cmd.Wait()
		if inErr := s.input.Err(); inErr != nil {
			s.waitErr = inErr
			return
		}
		if err != nil {
			s.waitErr = fmt.Errorf("%w: ffmpeg: %v: %s", ErrDecode, err, strings.TrimSpace(s.stderr.String()))
		}
	})
	return s.waitErr
}

func (s *ffmpegStream) Close() error {
	_ = s.stdout.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.once.Do(func() { _ = s.cmd.Wait() })
	return nil
}

// recordingReader remembers the first non-EOF read error of the wrapped reader.
type recordingReader struct {
	r   io.Reader
	mu  sync.Mutex
	err error
}

func (rr *recordingReader) Read(p []byte) (int, error) {
	n, err := rr.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		rr.mu.Lock()
		if rr.err == nil {
			rr.err = err
		}
		rr.mu.Unlock()
	}
	return n, err
}

func (rr *recordingReader) Err() error {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.err
}
