package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytplay/internal/shared"
	"github.com/desertthunder/ytplay/internal/stream"
)

// DefaultChunkLength caps a single network read.
const DefaultChunkLength = 512 * 1024

// Resolver hands out byte sources and forgets leases the CDN rejected.
type Resolver interface {
	Resolve(ctx context.Context, trackID string) (*stream.Source, error)
	Invalidate(trackID string)
}

// Chunk is the result of a [Layered.Read]. Total is -1 when the content length is unknown.
type Chunk struct {
	Data  []byte
	Total int64
	Layer LayerKind
}

// LayeredOptions configures a [Layered] cache. Nil layers are skipped.
type LayeredOptions struct {
	Permanent   Permanent
	Rolling     Layer
	Resolver    Resolver
	HTTPClient  *http.Client
	ChunkLength int64
	Logger      *log.Logger
}

// Layered reads track bytes from the permanent layer, then the rolling layer, then the network.
type Layered struct {
	permanent Permanent
	rolling   Layer
	resolver  Resolver
	client    *http.Client
	chunk     int64
	logger    *log.Logger
}

func NewLayered(opts LayeredOptions) *Layered {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.ChunkLength <= 0 {
		opts.ChunkLength = DefaultChunkLength
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Layered{
		permanent: opts.Permanent,
		rolling:   opts.Rolling,
		resolver:  opts.Resolver,
		client:    opts.HTTPClient,
		chunk:     opts.ChunkLength,
		logger:    shared.WithLogger(opts.Logger, "component", "cache"),
	}
}

// Read returns up to length bytes of trackID starting at off. At or past the end it
// returns [io.EOF] together with a chunk carrying the total.
func (l *Layered) Read(ctx context.Context, trackID string, off, length int64) (*Chunk, error) {
	if off < 0 || length <= 0 {
		return nil, fmt.Errorf("%w: range %d+%d", shared.ErrInvalidInput, off, length)
	}

	if c, ok := l.fromLayer(ctx, l.permanent, LayerPermanent, trackID, off, length); ok {
		return eof(c)
	}
	if c, ok := l.fromLayer(ctx, l.rolling, LayerRolling, trackID, off, length); ok {
		return eof(c)
	}

	c, err := l.fetch(ctx, trackID, off, min(length, l.chunk))
	if err != nil {
		return nil, err
	}
	if c.Layer == LayerNetwork && l.rolling != nil && len(c.Data) > 0 {
		if err := l.rolling.Put(ctx, trackID, off, c.Data, c.Total); err != nil {
			l.logger.Warn("failed to cache chunk", "track", trackID, "offset", off, "error", err)
		}
	}
	return eof(c)
}

func eof(c *Chunk) (*Chunk, error) {
	if len(c.Data) == 0 {
		return c, io.EOF
	}
	return c, nil
}

func (l *Layered) fromLayer(ctx context.Context, layer Layer, kind LayerKind, trackID string, off, length int64) (*Chunk, bool) {
	if layer == nil {
		return nil, false
	}
	data, total, ok, err := layer.Get(ctx, trackID, off, length)
	if err != nil {
		l.logger.Warn("cache layer read failed", "layer", kind, "track", trackID, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &Chunk{Data: data, Total: total, Layer: kind}, true
}

// fetch resolves a fresh source for every chunk so long streams renew their lease.
func (l *Layered) fetch(ctx context.Context, trackID string, off, length int64) (*Chunk, error) {
	src, err := l.resolver.Resolve(ctx, trackID)
	if err != nil {
		return nil, err
	}
	if src.IsLocal() {
		return readLocal(src.LocalPath, off, length)
	}

	c, status, err := l.get(ctx, src.URL, off, length, knownLength(src))
	if status == http.StatusForbidden || status == http.StatusGone {
		l.logger.Info("stream url rejected, resolving again", "track", trackID, "status", status)
		l.resolver.Invalidate(trackID)
		if src, err = l.resolver.Resolve(ctx, trackID); err != nil {
			return nil, err
		}
		c, _, err = l.get(ctx, src.URL, off, length, knownLength(src))
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s at %d: %w", trackID, off, err)
	}
	return c, nil
}

func knownLength(src *stream.Source) int64 {
	if src.Format != nil && src.Format.ContentLength > 0 {
		return src.Format.ContentLength
	}
	return -1
}

func (l *Layered) get(ctx context.Context, url string, off, length, total int64) (*Chunk, int, error) {
	if total >= 0 && off >= total {
		return &Chunk{Data: []byte{}, Total: total, Layer: LayerNetwork}, http.StatusRequestedRangeNotSatisfiable, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", shared.ErrRemote, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+length-1))

	resp, err := l.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, 0, fmt.Errorf("%w: %w", shared.ErrTimeout, err)
		}
		return nil, 0, fmt.Errorf("%w: %w", shared.ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		if t := parseContentRangeTotal(resp.Header.Get("Content-Range")); t >= 0 {
			total = t
		}
	case http.StatusOK:
		// Range ignored: skip to off and read from there.
		if resp.ContentLength >= 0 {
			total = resp.ContentLength
		}
		if _, err := io.CopyN(io.Discard, resp.Body, off); err != nil {
			return &Chunk{Data: []byte{}, Total: total, Layer: LayerNetwork}, resp.StatusCode, nil
		}
	case http.StatusRequestedRangeNotSatisfiable:
		if t := parseContentRangeTotal(resp.Header.Get("Content-Range")); t >= 0 {
			total = t
		}
		return &Chunk{Data: []byte{}, Total: total, Layer: LayerNetwork}, resp.StatusCode, nil
	default:
		return nil, resp.StatusCode, fmt.Errorf("%w: status %d", shared.ErrRemote, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, length))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read body: %w", shared.ErrRemote, err)
	}
	return &Chunk{Data: data, Total: total, Layer: LayerNetwork}, resp.StatusCode, nil
}

// parseContentRangeTotal reads the total of "bytes 0-99/1234", or -1 when missing or "*".
func parseContentRangeTotal(h string) int64 {
	_, total, ok := strings.Cut(h, "/")
	if !ok {
		return -1
	}
	n, err := strconv.ParseInt(strings.TrimSpace(total), 10, 64)
	if err != nil {
		return -1
	}
	return n
}

func readLocal(path string, off, length int64) (*Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", shared.ErrUnplayable, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	total := info.Size()
	n := clampRange(off, length, total)
	data := make([]byte, n)
	if n > 0 {
		if _, err := f.ReadAt(data, off); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	return &Chunk{Data: data, Total: total, Layer: LayerLocal}, nil
}

// Length returns the total size of trackID, fetching the first byte if no layer knows it.
func (l *Layered) Length(ctx context.Context, trackID string) (int64, error) {
	for _, layer := range []Layer{l.permanent, l.rolling} {
		if layer == nil {
			continue
		}
		if info, err := layer.Stat(ctx, trackID); err == nil && info.Total >= 0 {
			return info.Total, nil
		}
	}
	c, err := l.Read(ctx, trackID, 0, 1)
	if err != nil && !errors.Is(err, io.EOF) {
		return -1, err
	}
	return c.Total, nil
}

// Open returns a seekable reader over trackID.
func (l *Layered) Open(ctx context.Context, trackID string) *Reader {
	return &Reader{ctx: ctx, cache: l, trackID: trackID, total: -1}
}

// Downloaded reports whether the permanent layer holds the whole track.
func (l *Layered) Downloaded(ctx context.Context, trackID string) (bool, error) {
	if l.permanent == nil {
		return false, nil
	}
	info, err := l.permanent.Stat(ctx, trackID)
	if err != nil {
		return false, err
	}
	return info.Complete, nil
}

// ClearRolling empties the rolling layer.
func (l *Layered) ClearRolling(ctx context.Context) error {
	if l.rolling == nil {
		return nil
	}
	return l.rolling.Clear(ctx)
}
