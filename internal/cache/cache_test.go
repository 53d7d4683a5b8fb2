package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/ytplay/internal/shared"
	"github.com/desertthunder/ytplay/internal/stream"
)

type fakeResolver struct {
	mu          sync.Mutex
	urls        []string
	local       string
	current     int
	calls       int
	invalidated int
}

func (r *fakeResolver) Resolve(_ context.Context, trackID string) (*stream.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.local != "" {
		return &stream.Source{TrackID: trackID, LocalPath: r.local}, nil
	}
	return &stream.Source{TrackID: trackID, URL: r.urls[min(r.current, len(r.urls)-1)]}, nil
}

func (r *fakeResolver) Invalidate(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated++
	r.current++
}

func (r *fakeResolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func payload(n int, fill byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = fill + byte(i%7)
	}
	return data
}

// contentServer serves content with range support and counts requests.
func contentServer(t *testing.T, content []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.ServeContent(w, r, "track", time.Time{}, bytes.NewReader(content))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newDisk(t *testing.T, budget int64) *DiskStore {
	t.Helper()
	d, err := NewDiskStore(t.TempDir(), budget, nil)
	if err != nil {
		t.Fatalf("failed to create disk store: %v", err)
	}
	return d
}

func TestLayeredRead(t *testing.T) {
	ctx := context.Background()

	t.Run("permanent layer takes precedence", func(t *testing.T) {
		network := payload(4096, 'n')
		srv, hits := contentServer(t, network)

		permanent := newDisk(t, 0)
		rolling := newDisk(t, 1<<20)
		permanentData := payload(4096, 'P')
		rollingData := payload(4096, 'R')
		if err := permanent.Put(ctx, "a", 0, permanentData, 4096); err != nil {
			t.Fatal(err)
		}
		if err := rolling.Put(ctx, "a", 0, rollingData, 4096); err != nil {
			t.Fatal(err)
		}

		l := NewLayered(LayeredOptions{Permanent: permanent, Rolling: rolling, Resolver: &fakeResolver{urls: []string{srv.URL}}})
		c, err := l.Read(ctx, "a", 100, 200)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Layer != LayerPermanent || !bytes.Equal(c.Data, permanentData[100:300]) {
			t.Errorf("expected permanent bytes, got layer %s", c.Layer)
		}
		if hits.Load() != 0 {
			t.Error("network must not be touched on a cache hit")
		}
	})

	t.Run("partial permanent coverage falls through", func(t *testing.T) {
		content := payload(4096, 'n')
		srv, _ := contentServer(t, content)

		permanent := newDisk(t, 0)
		rolling := newDisk(t, 1<<20)
		_ = permanent.Put(ctx, "a", 0, content[:150], 4096)
		_ = rolling.Put(ctx, "a", 0, content[:1000], 4096)

		l := NewLayered(LayeredOptions{Permanent: permanent, Rolling: rolling, Resolver: &fakeResolver{urls: []string{srv.URL}}})
		c, err := l.Read(ctx, "a", 100, 200)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Layer != LayerRolling {
			t.Errorf("expected rolling layer, got %s", c.Layer)
		}
	})

	t.Run("network fetch fills the rolling layer only", func(t *testing.T) {
		content := payload(4096, 'n')
		srv, hits := contentServer(t, content)

		permanent := newDisk(t, 0)
		rolling := newDisk(t, 1<<20)
		resolver := &fakeResolver{urls: []string{srv.URL}}
		l := NewLayered(LayeredOptions{Permanent: permanent, Rolling: rolling, Resolver: resolver, ChunkLength: 1024})

		c, err := l.Read(ctx, "a", 0, 1024)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Layer != LayerNetwork || c.Total != 4096 || !bytes.Equal(c.Data, content[:1024]) {
			t.Errorf("unexpected network chunk: layer %s total %d len %d", c.Layer, c.Total, len(c.Data))
		}

		again, err := l.Read(ctx, "a", 0, 1024)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again.Layer != LayerRolling {
			t.Errorf("expected rolling hit on second read, got %s", again.Layer)
		}
		if hits.Load() != 1 {
			t.Errorf("expected one request, got %d", hits.Load())
		}
		if info, _ := permanent.Stat(ctx, "a"); info.Cached != 0 {
			t.Errorf("permanent layer must not be written by playback, has %d bytes", info.Cached)
		}
	})

	t.Run("network reads are capped at the chunk length", func(t *testing.T) {
		srv, _ := contentServer(t, payload(8192, 'n'))
		l := NewLayered(LayeredOptions{Resolver: &fakeResolver{urls: []string{srv.URL}}, ChunkLength: 1000})

		c, err := l.Read(ctx, "a", 0, 5000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(c.Data) != 1000 {
			t.Errorf("expected 1000 bytes, got %d", len(c.Data))
		}
	})

	t.Run("rejected url is resolved again once", func(t *testing.T) {
		content := payload(2048, 'n')
		good, _ := contentServer(t, content)
		var rejected atomic.Int32
		bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rejected.Add(1)
			w.WriteHeader(http.StatusForbidden)
		}))
		defer bad.Close()

		resolver := &fakeResolver{urls: []string{bad.URL, good.URL}}
		l := NewLayered(LayeredOptions{Resolver: resolver})

		c, err := l.Read(ctx, "a", 0, 512)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !bytes.Equal(c.Data, content[:512]) {
			t.Error("expected bytes from the renewed url")
		}
		if resolver.invalidated != 1 || rejected.Load() != 1 {
			t.Errorf("expected one invalidation and one rejected request, got %d and %d", resolver.invalidated, rejected.Load())
		}
	})

	t.Run("server errors are remote errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		l := NewLayered(LayeredOptions{Resolver: &fakeResolver{urls: []string{srv.URL}}})
		if _, err := l.Read(ctx, "a", 0, 10); !errors.Is(err, shared.ErrRemote) {
			t.Errorf("expected remote error, got %v", err)
		}
	})

	t.Run("client timeouts are timeout errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		l := NewLayered(LayeredOptions{
			Resolver:   &fakeResolver{urls: []string{srv.URL}},
			HTTPClient: &http.Client{Timeout: 20 * time.Millisecond},
		})
		_, err := l.Read(ctx, "a", 0, 10)
		if !errors.Is(err, shared.ErrTimeout) {
			t.Errorf("expected timeout error, got %v", err)
		}
		if errors.Is(err, shared.ErrNetworkUnavailable) {
			t.Errorf("timeouts must not read as offline, got %v", err)
		}
	})

	t.Run("refused connections are network errors", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		l := NewLayered(LayeredOptions{Resolver: &fakeResolver{urls: []string{url}}})
		if _, err := l.Read(ctx, "a", 0, 10); !errors.Is(err, shared.ErrNetworkUnavailable) {
			t.Errorf("expected network error, got %v", err)
		}
	})

	t.Run("reading past the end returns EOF", func(t *testing.T) {
		srv, _ := contentServer(t, payload(100, 'n'))
		l := NewLayered(LayeredOptions{Resolver: &fakeResolver{urls: []string{srv.URL}}})

		c, err := l.Read(ctx, "a", 100, 10)
		if !errors.Is(err, io.EOF) {
			t.Fatalf("expected EOF, got %v", err)
		}
		if c.Total != 100 {
			t.Errorf("expected total 100, got %d", c.Total)
		}
	})

	t.Run("local files bypass the layers", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "song.opus")
		content := payload(300, 'L')
		if err := os.WriteFile(path, content, 0644); err != nil {
			t.Fatal(err)
		}
		rolling := newDisk(t, 1<<20)
		l := NewLayered(LayeredOptions{Rolling: rolling, Resolver: &fakeResolver{local: path}})

		c, err := l.Read(ctx, "LA1", 250, 100)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Layer != LayerLocal || !bytes.Equal(c.Data, content[250:]) {
			t.Errorf("unexpected local chunk: layer %s len %d", c.Layer, len(c.Data))
		}
		if info, _ := rolling.Stat(ctx, "LA1"); info.Cached != 0 {
			t.Error("local bytes must not be cached")
		}
	})

	t.Run("invalid range", func(t *testing.T) {
		l := NewLayered(LayeredOptions{Resolver: &fakeResolver{urls: []string{"http://unused"}}})
		if _, err := l.Read(ctx, "a", -1, 10); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected invalid input, got %v", err)
		}
	})
}

func TestReader(t *testing.T) {
	ctx := context.Background()
	content := payload(10_000, 'n')
	srv, _ := contentServer(t, content)
	l := NewLayered(LayeredOptions{Rolling: newDisk(t, 1<<20), Resolver: &fakeResolver{urls: []string{srv.URL}}, ChunkLength: 4096})

	t.Run("reads the whole track", func(t *testing.T) {
		r := l.Open(ctx, "a")
		defer r.Close()

		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !bytes.Equal(got, content) {
			t.Errorf("expected %d bytes of content, got %d", len(content), len(got))
		}
	})

	t.Run("seeks", func(t *testing.T) {
		r := l.Open(ctx, "a")
		defer r.Close()

		end, err := r.Seek(-10, io.SeekEnd)
		if err != nil || end != int64(len(content)-10) {
			t.Fatalf("unexpected seek result %d, %v", end, err)
		}
		tail, _ := io.ReadAll(r)
		if !bytes.Equal(tail, content[len(content)-10:]) {
			t.Error("unexpected tail bytes")
		}

		if _, err := r.Seek(5000, io.SeekStart); err != nil {
			t.Fatal(err)
		}
		buf := make([]byte, 8)
		if _, err := io.ReadFull(r, buf); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(buf, content[5000:5008]) {
			t.Error("unexpected bytes after seek")
		}

		if _, err := r.Seek(-1, io.SeekStart); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected invalid argument for negative seek, got %v", err)
		}
	})

	t.Run("closed reader fails", func(t *testing.T) {
		r := l.Open(ctx, "a")
		_ = r.Close()
		if _, err := r.Read(make([]byte, 1)); err == nil {
			t.Error("expected error reading a closed reader")
		}
	})
}

func TestDownload(t *testing.T) {
	ctx := context.Background()
	content := payload(5000, 'n')
	srv, _ := contentServer(t, content)

	permanent := newDisk(t, 0)
	rolling := newDisk(t, 1<<20)
	_ = rolling.Put(ctx, "a", 0, content[:1024], 5000)

	l := NewLayered(LayeredOptions{Permanent: permanent, Rolling: rolling, Resolver: &fakeResolver{urls: []string{srv.URL}}, ChunkLength: 1024})
	if err := l.Download(ctx, "a"); err != nil {
		t.Fatalf("unexpected download error: %v", err)
	}

	done, err := l.Downloaded(ctx, "a")
	if err != nil || !done {
		t.Fatalf("expected complete download, got %v %v", done, err)
	}
	data, _, ok, err := permanent.Get(ctx, "a", 0, 5000)
	if err != nil || !ok || !bytes.Equal(data, content) {
		t.Errorf("permanent layer does not hold the track: ok=%v err=%v", ok, err)
	}
	if info, _ := rolling.Stat(ctx, "a"); info.Cached != 1024 {
		t.Errorf("download must not fill the rolling layer, has %d bytes", info.Cached)
	}

	t.Run("local ids are rejected", func(t *testing.T) {
		if err := l.Download(ctx, "LA1"); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected invalid input, got %v", err)
		}
	})

	t.Run("requires a permanent layer", func(t *testing.T) {
		bare := NewLayered(LayeredOptions{Resolver: &fakeResolver{urls: []string{srv.URL}}})
		if err := bare.Download(ctx, "a"); !errors.Is(err, shared.ErrMissingConfig) {
			t.Errorf("expected missing config, got %v", err)
		}
	})
}

func TestDiskStore(t *testing.T) {
	ctx := context.Background()

	t.Run("serves only fully covered ranges", func(t *testing.T) {
		d := newDisk(t, 0)
		_ = d.Put(ctx, "a", 0, payload(100, 'a'), -1)
		_ = d.Put(ctx, "a", 200, payload(100, 'b'), -1)

		if _, _, ok, _ := d.Get(ctx, "a", 50, 100); ok {
			t.Error("range spanning a hole must miss")
		}
		data, _, ok, err := d.Get(ctx, "a", 210, 20)
		if err != nil || !ok || !bytes.Equal(data, payload(100, 'b')[10:30]) {
			t.Errorf("expected hit in second span, ok=%v err=%v", ok, err)
		}

		_ = d.Put(ctx, "a", 100, payload(100, 'c'), 300)
		if info, _ := d.Stat(ctx, "a"); !info.Complete || info.Cached != 300 {
			t.Errorf("expected complete 300 byte entry, got %+v", info)
		}
	})

	t.Run("rewriting a range is idempotent", func(t *testing.T) {
		d := newDisk(t, 0)
		data := payload(64, 'a')
		for range 3 {
			if err := d.Put(ctx, "a", 0, data, 64); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if d.Used() != 64 {
			t.Errorf("expected 64 used bytes, got %d", d.Used())
		}
	})

	t.Run("evicts least recently used tracks", func(t *testing.T) {
		d := newDisk(t, 150)
		_ = d.Put(ctx, "a", 0, payload(60, 'a'), 60)
		_ = d.Put(ctx, "b", 0, payload(60, 'b'), 60)
		_, _, _, _ = d.Get(ctx, "a", 0, 10)
		_ = d.Put(ctx, "c", 0, payload(60, 'c'), 60)

		if _, _, ok, _ := d.Get(ctx, "b", 0, 10); ok {
			t.Error("expected b to be evicted")
		}
		for _, id := range []string{"a", "c"} {
			if _, _, ok, _ := d.Get(ctx, id, 0, 10); !ok {
				t.Errorf("expected %s to survive", id)
			}
		}
		if d.Used() > 150 {
			t.Errorf("budget exceeded: %d", d.Used())
		}
	})

	t.Run("reloads the index", func(t *testing.T) {
		dir := t.TempDir()
		d, _ := NewDiskStore(dir, 0, nil)
		_ = d.Put(ctx, "a", 0, payload(32, 'a'), 32)

		reopened, err := NewDiskStore(dir, 0, nil)
		if err != nil {
			t.Fatal(err)
		}
		data, total, ok, _ := reopened.Get(ctx, "a", 0, 32)
		if !ok || total != 32 || !bytes.Equal(data, payload(32, 'a')) {
			t.Error("expected entry to survive reopening")
		}
	})

	t.Run("clear and remove", func(t *testing.T) {
		d := newDisk(t, 0)
		_ = d.Put(ctx, "a", 0, payload(10, 'a'), 10)
		_ = d.Put(ctx, "b", 0, payload(10, 'b'), 10)

		_ = d.Remove(ctx, "a")
		if _, _, ok, _ := d.Get(ctx, "a", 0, 10); ok {
			t.Error("expected a to be removed")
		}
		_ = d.Clear(ctx)
		if d.Used() != 0 {
			t.Errorf("expected empty store, got %d bytes", d.Used())
		}
	})
}

func TestAddSpan(t *testing.T) {
	tests := []struct {
		name  string
		spans []Span
		add   Span
		want  []Span
	}{
		{name: "empty", add: Span{0, 10}, want: []Span{{0, 10}}},
		{name: "disjoint after", spans: []Span{{0, 10}}, add: Span{20, 30}, want: []Span{{0, 10}, {20, 30}}},
		{name: "disjoint before", spans: []Span{{20, 30}}, add: Span{0, 10}, want: []Span{{0, 10}, {20, 30}}},
		{name: "adjacent", spans: []Span{{0, 10}}, add: Span{10, 20}, want: []Span{{0, 20}}},
		{name: "bridges", spans: []Span{{0, 10}, {20, 30}}, add: Span{5, 25}, want: []Span{{0, 30}}},
		{name: "contained", spans: []Span{{0, 30}}, add: Span{5, 10}, want: []Span{{0, 30}}},
		{name: "empty span ignored", spans: []Span{{0, 10}}, add: Span{5, 5}, want: []Span{{0, 10}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := addSpan(tt.spans, tt.add)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestParseContentRangeTotal(t *testing.T) {
	for in, want := range map[string]int64{"bytes 0-99/1234": 1234, "bytes */500": 500, "bytes 0-99/*": -1, "": -1} {
		if got := parseContentRangeTotal(in); got != want {
			t.Errorf("parseContentRangeTotal(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestMinioStorePut(t *testing.T) {
	m := newMinioStore(nil, "bucket", "downloads", nil)
	if err := m.Put(context.Background(), "a", 10, []byte("abc"), 100); !errors.Is(err, shared.ErrInvalidInput) {
		t.Errorf("expected whole-object requirement, got %v", err)
	}
	if got := m.key("a/b"); got != "downloads/a_b.bin" {
		t.Errorf("unexpected object key %q", got)
	}
}
