package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/desertthunder/ytplay/internal/shared"
)

// Reader is an [io.ReadSeekCloser] over one track of a [Layered] cache.
type Reader struct {
	ctx     context.Context
	cache   *Layered
	trackID string

	mu     sync.Mutex
	off    int64
	total  int64
	buf    []byte
	bufOff int64
	closed bool
}

var _ io.ReadSeekCloser = (*Reader)(nil)

func (r *Reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, fmt.Errorf("read %s: %w", r.trackID, io.ErrClosedPipe)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if r.total >= 0 && r.off >= r.total {
		return 0, io.EOF
	}

	if r.off < r.bufOff || r.off >= r.bufOff+int64(len(r.buf)) {
		c, err := r.cache.Read(r.ctx, r.trackID, r.off, r.cache.chunk)
		if c != nil && c.Total >= 0 {
			r.total = c.Total
		}
		if err != nil {
			return 0, err
		}
		r.buf, r.bufOff = c.Data, r.off
	}

	n := copy(p, r.buf[r.off-r.bufOff:])
	r.off += int64(n)
	return n, nil
}

func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = r.off + offset
	case io.SeekEnd:
		if r.total < 0 {
			total, err := r.cache.Length(r.ctx, r.trackID)
			if err != nil {
				return r.off, err
			}
			if total < 0 {
				return r.off, errors.New("seek from end: unknown length")
			}
			r.total = total
		}
		next = r.total + offset
	default:
		return r.off, fmt.Errorf("%w: whence %d", shared.ErrInvalidArgument, whence)
	}
	if next < 0 {
		return r.off, fmt.Errorf("%w: negative position %d", shared.ErrInvalidArgument, next)
	}
	r.off = next
	return next, nil
}

func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.buf = nil
	return nil
}
