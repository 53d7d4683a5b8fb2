package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytplay/internal/shared"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	dataExt  = ".bin"
	indexExt = ".json"
)

// entry is the span index of one cached track, persisted next to its data file.
type entry struct {
	Total int64  `json:"total"`
	Spans []Span `json:"spans"`
}

func (e *entry) size() int64 { return spanBytes(e.Spans) }

// DiskStore keeps sparse per-track files under a directory.
//
// With a positive byte budget it evicts least recently used tracks once the budget is
// exceeded; a zero budget makes it unbounded.
type DiskStore struct {
	dir    string
	budget int64
	logger *log.Logger

	mu    sync.Mutex
	index *lru.Cache[string, *entry]
	used  int64
}

// NewDiskStore opens (or creates) a store in dir and loads the existing index.
func NewDiskStore(dir string, budget int64, logger *log.Logger) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create cache directory: %w", shared.ErrPersistence, err)
	}
	index, err := lru.New[string, *entry](math.MaxInt32)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	d := &DiskStore{dir: dir, budget: max(budget, 0), logger: logger, index: index}
	if err := d.load(); err != nil {
		return nil, err
	}
	return d, nil
}

// load rebuilds the index from sidecar files, oldest first so recency survives restarts.
func (d *DiskStore) load() error {
	files, err := filepath.Glob(filepath.Join(d.dir, "*"+indexExt))
	if err != nil {
		return err
	}

	type found struct {
		id    string
		e     *entry
		mtime int64
	}
	var entries []found
	for _, f := range files {
		raw, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			d.logger.Warn("dropping unreadable cache index", "file", f, "error", err)
			_ = os.Remove(f)
			continue
		}
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		id := strings.TrimSuffix(filepath.Base(f), indexExt)
		entries = append(entries, found{id: id, e: &e, mtime: info.ModTime().UnixNano()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].mtime < entries[j].mtime })

	for _, f := range entries {
		d.index.Add(f.id, f.e)
		d.used += f.e.size()
	}
	return nil
}

func fileKey(trackID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, trackID)
}

func (d *DiskStore) dataPath(key string) string  { return filepath.Join(d.dir, key+dataExt) }
func (d *DiskStore) indexPath(key string) string { return filepath.Join(d.dir, key+indexExt) }

func (d *DiskStore) Get(_ context.Context, trackID string, off, length int64) ([]byte, int64, bool, error) {
	key := fileKey(trackID)

	d.mu.Lock()
	e, ok := d.index.Get(key)
	if !ok {
		d.mu.Unlock()
		return nil, -1, false, nil
	}
	total := e.Total
	n := clampRange(off, length, total)
	hit := (total >= 0 && off >= total) || (n > 0 && covers(e.Spans, off, off+n))
	d.mu.Unlock()

	if !hit {
		return nil, total, false, nil
	}
	if n == 0 {
		return []byte{}, total, true, nil
	}

	f, err := os.Open(d.dataPath(key))
	if err != nil {
		return nil, total, false, fmt.Errorf("%w: open cache file: %w", shared.ErrPersistence, err)
	}
	defer f.Close()

	data := make([]byte, n)
	if _, err := f.ReadAt(data, off); err != nil {
		return nil, total, false, fmt.Errorf("%w: read cache file: %w", shared.ErrPersistence, err)
	}
	return data, total, true, nil
}

func (d *DiskStore) Put(_ context.Context, trackID string, off int64, data []byte, total int64) error {
	if off < 0 {
		return fmt.Errorf("%w: negative offset %d", shared.ErrInvalidInput, off)
	}
	key := fileKey(trackID)

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.writeAt(key, off, data); err != nil {
		return err
	}

	e, ok := d.index.Get(key)
	if !ok {
		e = &entry{Total: -1}
		d.index.Add(key, e)
	}
	before := e.size()
	if total >= 0 {
		e.Total = total
	}
	e.Spans = addSpan(e.Spans, Span{Start: off, End: off + int64(len(data))})
	d.used += e.size() - before

	if err := d.writeIndex(key, e); err != nil {
		return err
	}
	d.evict(key)
	return nil
}

func (d *DiskStore) writeAt(key string, off int64, data []byte) error {
	f, err := os.OpenFile(d.dataPath(key), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: open cache file: %w", shared.ErrPersistence, err)
	}
	if _, err := f.WriteAt(data, off); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: write cache file: %w", shared.ErrPersistence, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close cache file: %w", shared.ErrPersistence, err)
	}
	return nil
}

func (d *DiskStore) writeIndex(key string, e *entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	tmp := d.indexPath(key) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("%w: write cache index: %w", shared.ErrPersistence, err)
	}
	if err := os.Rename(tmp, d.indexPath(key)); err != nil {
		return fmt.Errorf("%w: replace cache index: %w", shared.ErrPersistence, err)
	}
	return nil
}

// evict drops least recently used tracks other than keep until the budget holds. Must hold d.mu.
func (d *DiskStore) evict(keep string) {
	if d.budget == 0 {
		return
	}
	for d.used > d.budget && d.index.Len() > 1 {
		key, e, ok := d.index.GetOldest()
		if !ok {
			return
		}
		if key == keep {
			// The track being written is the oldest; refresh it and evict the next one.
			d.index.Get(key)
			continue
		}
		d.index.Remove(key)
		d.used -= e.size()
		d.removeFiles(key)
		d.logger.Debug("evicted cached track", "track", key, "bytes", e.size())
	}
}

func (d *DiskStore) removeFiles(key string) {
	for _, p := range []string{d.dataPath(key), d.indexPath(key)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.logger.Warn("failed to remove cache file", "file", p, "error", err)
		}
	}
}

func (d *DiskStore) Stat(_ context.Context, trackID string) (Info, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.index.Peek(fileKey(trackID))
	if !ok {
		return Info{Total: -1}, nil
	}
	size := e.size()
	return Info{Total: e.Total, Cached: size, Complete: e.Total >= 0 && covers(e.Spans, 0, e.Total)}, nil
}

func (d *DiskStore) Remove(_ context.Context, trackID string) error {
	key := fileKey(trackID)
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.index.Peek(key); ok {
		d.used -= e.size()
		d.index.Remove(key)
	}
	d.removeFiles(key)
	return nil
}

func (d *DiskStore) Clear(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, key := range d.index.Keys() {
		d.removeFiles(key)
	}
	d.index.Purge()
	d.used = 0
	return nil
}

// Save streams a whole track into the store in chunks.
func (d *DiskStore) Save(ctx context.Context, trackID string, r io.Reader, size int64) error {
	buf := make([]byte, 256*1024)
	var off int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if perr := d.Put(ctx, trackID, off, buf[:n], size); perr != nil {
				return perr
			}
			off += int64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("save %s: %w", trackID, err)
		}
	}
	if size < 0 {
		d.mu.Lock()
		if e, ok := d.index.Peek(fileKey(trackID)); ok {
			e.Total = off
			_ = d.writeIndex(fileKey(trackID), e)
		}
		d.mu.Unlock()
	} else if off != size {
		return fmt.Errorf("%w: saved %d of %d bytes for %s", shared.ErrPersistence, off, size, trackID)
	}
	return nil
}

// Used returns the number of cached bytes.
func (d *DiskStore) Used() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used
}
