package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/ytplay/internal/models"
	"github.com/desertthunder/ytplay/internal/services"
	"github.com/desertthunder/ytplay/internal/shared"
	tu "github.com/desertthunder/ytplay/internal/testing"
)

func ids(tracks []models.Track) []string {
	out := make([]string, len(tracks))
	for i, t := range tracks {
		out[i] = t.ID
	}
	return out
}

func equalIDs(t *testing.T, got []models.Track, want ...string) {
	t.Helper()
	g := ids(got)
	if len(g) != len(want) {
		t.Fatalf("expected %v, got %v", want, g)
	}
	for i := range g {
		if g[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, g)
		}
	}
}

func loaded(t *testing.T, p *tu.FakeProvider, tracks ...string) *Engine {
	t.Helper()
	e := NewEngine(p, Options{})
	t.Cleanup(func() { _ = e.Close() })
	if err := e.Load(context.Background(), ListSource{Name: "test", Items: tu.Tracks(tracks...)}, nil); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	return e
}

func TestEngineLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("becomes ready with the first item", func(t *testing.T) {
		e := loaded(t, tu.NewFakeProvider(), "a", "b", "c")
		c := e.Cursor()
		if !c.Valid() || c.Track.ID != "a" || e.State() != StateReady {
			t.Errorf("unexpected cursor %+v", c)
		}
		if e.Title() != "test" {
			t.Errorf("unexpected title %q", e.Title())
		}
	})

	t.Run("empty initial page is a no-op", func(t *testing.T) {
		e := loaded(t, tu.NewFakeProvider(), "a", "b")
		before := e.Cursor()

		if err := e.Load(ctx, Empty{}, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		after := e.Cursor()
		if after.Version != before.Version || after.Track.ID != "a" || e.Len() != 2 {
			t.Errorf("expected unchanged queue, got %+v with %d items", after, e.Len())
		}
	})

	t.Run("empty initial page on an idle engine stays idle", func(t *testing.T) {
		e := NewEngine(tu.NewFakeProvider(), Options{})
		defer e.Close()
		_ = e.Load(ctx, ListSource{}, nil)
		if e.State() != StateIdle {
			t.Errorf("expected idle, got %s", e.State())
		}
	})

	t.Run("preload starts instantly and is spliced into the page", func(t *testing.T) {
		p := tu.NewFakeProvider()
		p.PageGate = make(chan struct{})
		p.Playlists["PL"] = &services.Page{Title: "Mix", Tracks: tu.Tracks("x", "b", "y")}
		e := NewEngine(p, Options{})
		defer e.Close()

		preload := tu.Tracks("b")[0]
		done := make(chan error, 1)
		go func() { done <- e.Load(ctx, PlaylistSource{ID: "PL"}, &preload) }()

		tu.Eventually(t, time.Second, func() bool { return e.Cursor().Valid() }, "preload ready")
		before := e.Cursor()
		if before.Track.ID != "b" || e.Len() != 1 {
			t.Fatalf("expected preloaded b alone, got %+v", before)
		}

		close(p.PageGate)
		if err := <-done; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		equalIDs(t, e.Items(), "x", "b", "y")
		after := e.Cursor()
		if after.Track.ID != "b" || after.Index != 1 || after.Version != before.Version {
			t.Errorf("splicing must not move the current item, got %+v", after)
		}
		if e.Title() != "Mix" {
			t.Errorf("expected page title, got %q", e.Title())
		}
	})

	t.Run("tracks queued while the page loads survive the splice", func(t *testing.T) {
		p := tu.NewFakeProvider()
		p.PageGate = make(chan struct{})
		p.Playlists["PL"] = &services.Page{Tracks: tu.Tracks("x", "b", "y")}
		e := NewEngine(p, Options{})
		defer e.Close()

		preload := tu.Tracks("b")[0]
		done := make(chan error, 1)
		go func() { done <- e.Load(ctx, PlaylistSource{ID: "PL"}, &preload) }()

		tu.Eventually(t, time.Second, func() bool { return e.Cursor().Valid() }, "preload ready")
		e.EnqueueNext(tu.Tracks("n")...)
		e.Add(tu.Tracks("z")...)

		close(p.PageGate)
		if err := <-done; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		equalIDs(t, e.Items(), "x", "b", "n", "z", "y")
		if c := e.Cursor(); c.Track.ID != "b" || c.Index != 1 {
			t.Errorf("expected b at index 1, got %+v", c)
		}
	})

	t.Run("preload missing from the page goes first", func(t *testing.T) {
		p := tu.NewFakeProvider()
		p.Playlists["PL"] = &services.Page{Tracks: tu.Tracks("x", "y")}
		e := NewEngine(p, Options{})
		defer e.Close()

		preload := tu.Tracks("b")[0]
		if err := e.Load(ctx, PlaylistSource{ID: "PL"}, &preload); err != nil {
			t.Fatal(err)
		}
		equalIDs(t, e.Items(), "b", "x", "y")
	})

	t.Run("load resets shuffle", func(t *testing.T) {
		e := loaded(t, tu.NewFakeProvider(), "a", "b", "c")
		e.SetShuffle(true)
		_ = e.Load(ctx, ListSource{Items: tu.Tracks("d", "e")}, nil)
		if e.Shuffle() {
			t.Error("expected shuffle off after load")
		}
	})

	t.Run("explicit items are filtered from fetched pages", func(t *testing.T) {
		tracks := tu.Tracks("a", "b", "c")
		tracks[1].Explicit = true
		e := NewEngine(tu.NewFakeProvider(), Options{FilterExplicit: true})
		defer e.Close()

		_ = e.Load(ctx, ListSource{Items: tracks}, nil)
		equalIDs(t, e.Items(), "a", "c")
	})

	t.Run("explicit preload is kept", func(t *testing.T) {
		p := tu.NewFakeProvider()
		tracks := tu.Tracks("a", "b")
		tracks[0].Explicit = true
		p.Playlists["PL"] = &services.Page{Tracks: tracks}
		e := NewEngine(p, Options{FilterExplicit: true})
		defer e.Close()

		preload := tracks[0]
		_ = e.Load(ctx, PlaylistSource{ID: "PL"}, &preload)
		equalIDs(t, e.Items(), "a", "b")
	})

	t.Run("failed load keeps the previous queue", func(t *testing.T) {
		e := loaded(t, tu.NewFakeProvider(), "a", "b")
		err := e.Load(ctx, PlaylistSource{ID: "missing"}, nil)
		if err == nil {
			t.Fatal("expected error")
		}
		if e.State() != StateReady || e.Len() != 2 {
			t.Errorf("expected previous queue, got %s with %d", e.State(), e.Len())
		}
	})
}

func TestEngineNavigation(t *testing.T) {
	t.Run("advance without repeat ends idle", func(t *testing.T) {
		e := loaded(t, tu.NewFakeProvider(), "a", "b")
		if c, ok := e.Advance(); !ok || c.Track.ID != "b" {
			t.Fatalf("expected b, got %+v", c)
		}
		if _, ok := e.Advance(); ok {
			t.Error("expected end of queue")
		}
		if e.State() != StateIdle {
			t.Errorf("expected idle, got %s", e.State())
		}
	})

	t.Run("repeat one stays and bumps the version", func(t *testing.T) {
		e := loaded(t, tu.NewFakeProvider(), "a", "b")
		e.SetRepeat(RepeatOne)
		before := e.Cursor()
		c, ok := e.Advance()
		if !ok || c.Track.ID != "a" || c.Version == before.Version {
			t.Errorf("expected a restart of a, got %+v", c)
		}

		if c, _ := e.SkipNext(); c.Track.ID != "b" {
			t.Errorf("skip must leave repeat-one behind, got %s", c.Track.ID)
		}
	})

	t.Run("repeat all wraps", func(t *testing.T) {
		e := loaded(t, tu.NewFakeProvider(), "a", "b")
		e.SetRepeat(RepeatAll)
		e.Advance()
		if c, ok := e.Advance(); !ok || c.Track.ID != "a" {
			t.Errorf("expected wrap to a, got %+v", c)
		}
		if c := e.SkipPrevious(); c.Track.ID != "b" {
			t.Errorf("expected previous to wrap to b, got %s", c.Track.ID)
		}
	})

	t.Run("skip next at the end does nothing", func(t *testing.T) {
		e := loaded(t, tu.NewFakeProvider(), "a")
		before := e.Cursor()
		if _, ok := e.SkipNext(); ok {
			t.Error("expected no next item")
		}
		if e.Cursor().Version != before.Version {
			t.Error("cursor must not move")
		}
	})

	t.Run("seek", func(t *testing.T) {
		e := loaded(t, tu.NewFakeProvider(), "a", "b", "c")
		if c, err := e.Seek(2); err != nil || c.Track.ID != "c" {
			t.Errorf("expected c, got %+v %v", c, err)
		}
		if _, err := e.Seek(3); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected invalid argument, got %v", err)
		}
		if e.HasNext() {
			t.Error("expected no next item at the end")
		}
	})
}

func TestEngineShuffle(t *testing.T) {
	for _, current := range []int{0, 3, 9} {
		e := loaded(t, tu.NewFakeProvider(), "0", "1", "2", "3", "4", "5", "6", "7", "8", "9")
		if _, err := e.Seek(current); err != nil {
			t.Fatal(err)
		}
		before := e.Cursor()

		e.SetShuffle(true)
		after := e.Cursor()
		if after.Track.ID != before.Track.ID || after.Index != 0 || after.Version != before.Version {
			t.Errorf("shuffle must keep %s current at position 0, got %+v", before.Track.ID, after)
		}

		seen := map[string]int{}
		for _, tr := range e.Items() {
			seen[tr.ID]++
		}
		if len(seen) != 10 {
			t.Errorf("shuffle must keep every item once, got %v", seen)
		}

		e.SetShuffle(false)
		restored := e.Cursor()
		if restored.Track.ID != before.Track.ID || restored.Index != current {
			t.Errorf("unshuffle must return to index %d, got %+v", current, restored)
		}
		equalIDs(t, e.Items(), "0", "1", "2", "3", "4", "5", "6", "7", "8", "9")
	}
}

func TestEngineEditing(t *testing.T) {
	t.Run("enqueue next and add", func(t *testing.T) {
		e := loaded(t, tu.NewFakeProvider(), "a", "b", "c")
		e.EnqueueNext(tu.Tracks("x", "y")...)
		e.Add(tu.Tracks("z")...)
		equalIDs(t, e.Items(), "a", "x", "y", "b", "c", "z")
		if c, _ := e.SkipNext(); c.Track.ID != "x" {
			t.Errorf("expected x next, got %s", c.Track.ID)
		}
	})

	t.Run("enqueue next while shuffled", func(t *testing.T) {
		e := loaded(t, tu.NewFakeProvider(), "a", "b", "c", "d")
		_, _ = e.Seek(1)
		e.SetShuffle(true)
		e.EnqueueNext(tu.Tracks("x")...)

		if c, _ := e.SkipNext(); c.Track.ID != "x" {
			t.Errorf("expected x after the current item, got %s", c.Track.ID)
		}
		e.SetShuffle(false)
		equalIDs(t, e.Items(), "a", "b", "x", "c", "d")
	})

	t.Run("adding to an empty queue makes it ready", func(t *testing.T) {
		e := NewEngine(tu.NewFakeProvider(), Options{})
		defer e.Close()
		e.Add(tu.Tracks("a")...)
		if c := e.Cursor(); !c.Valid() || c.Track.ID != "a" {
			t.Errorf("expected a current, got %+v", c)
		}
	})

	t.Run("replace tail keeps the head", func(t *testing.T) {
		e := loaded(t, tu.NewFakeProvider(), "a", "b", "c", "d")
		_, _ = e.Seek(1)
		before := e.Cursor()
		e.ReplaceTail(&services.Page{Tracks: tu.Tracks("x", "y")})
		equalIDs(t, e.Items(), "a", "b", "x", "y")
		if c := e.Cursor(); c.Version != before.Version || c.Track.ID != "b" {
			t.Errorf("current item must stay, got %+v", c)
		}
	})
}

func TestEnginePagination(t *testing.T) {
	ctx := context.Background()

	t.Run("fetches the next page at the low-water mark", func(t *testing.T) {
		p := tu.NewFakeProvider()
		p.Playlists["PL"] = &services.Page{Tracks: tu.Tracks("1", "2", "3", "4", "5", "6", "7", "8"), Continuation: "c1"}
		p.Pages["c1"] = &services.Page{Tracks: tu.Tracks("9", "10")}
		e := NewEngine(p, Options{})
		defer e.Close()

		if err := e.Load(ctx, PlaylistSource{ID: "PL"}, nil); err != nil {
			t.Fatal(err)
		}
		if e.Fetching() || p.PageCalls() != 0 {
			t.Fatal("expected no fetch with 7 items remaining")
		}

		_, _ = e.Seek(2)
		tu.Eventually(t, time.Second, func() bool { return e.Len() == 10 }, "next page appended")
		if e.HasMore() {
			t.Error("expected no more pages")
		}
		if c := e.Cursor(); c.Track.ID != "3" {
			t.Errorf("append must not move the cursor, got %s", c.Track.ID)
		}
	})

	t.Run("failure is reported and never fatal", func(t *testing.T) {
		p := tu.NewFakeProvider()
		p.Playlists["PL"] = &services.Page{Tracks: tu.Tracks("1", "2", "3"), Continuation: "c1"}
		p.PageErrors["c1"] = errors.New("502 bad gateway")
		e := NewEngine(p, Options{})
		defer e.Close()

		if err := e.Load(ctx, PlaylistSource{ID: "PL"}, nil); err != nil {
			t.Fatal(err)
		}
		_, _ = e.Seek(1)
		before := e.Cursor()

		tu.Eventually(t, time.Second, func() bool { return e.Err() != nil }, "pagination error recorded")
		if !errors.Is(e.Err(), shared.ErrPagination) {
			t.Errorf("expected pagination error, got %v", e.Err())
		}
		after := e.Cursor()
		if after.Version != before.Version || after.Track.ID != "2" || after.State != StateReady {
			t.Errorf("cursor must be untouched, got %+v", after)
		}
		if c, ok := e.Advance(); !ok || c.Track.ID != "3" {
			t.Errorf("already loaded items must keep playing, got %+v", c)
		}
	})

	t.Run("replacing the queue mid-fetch still fetches the new continuation", func(t *testing.T) {
		p := tu.NewFakeProvider()
		p.Pages["c1"] = &services.Page{Tracks: tu.Tracks("a3")}
		p.Pages["c2"] = &services.Page{Tracks: tu.Tracks("b3", "b4")}
		gate := make(chan struct{})
		p.PageGate = gate
		e := NewEngine(p, Options{})
		defer e.Close()

		if err := e.Restore(Snapshot{Items: tu.Tracks("a1", "a2"), Continuation: "c1"}); err != nil {
			t.Fatal(err)
		}
		if !e.Fetching() {
			t.Fatal("expected a fetch in flight")
		}
		if err := e.Restore(Snapshot{Items: tu.Tracks("b1", "b2"), Continuation: "c2"}); err != nil {
			t.Fatal(err)
		}

		close(gate)
		tu.Eventually(t, time.Second, func() bool { return e.Len() == 4 && !e.Fetching() }, "continuation c2 fetched")
		equalIDs(t, e.Items(), "b1", "b2", "b3", "b4")
		if e.HasMore() {
			t.Error("expected no more pages")
		}
	})

	t.Run("close discards in-flight pages", func(t *testing.T) {
		p := tu.NewFakeProvider()
		p.Pages["c1"] = &services.Page{Tracks: tu.Tracks("3")}
		gate := make(chan struct{})
		p.PageGate = gate
		e := NewEngine(p, Options{})

		if err := e.Restore(Snapshot{Items: tu.Tracks("1", "2"), Continuation: "c1"}); err != nil {
			t.Fatal(err)
		}
		if !e.Fetching() {
			t.Fatal("expected a fetch in flight")
		}

		_ = e.Close()
		close(gate)
		if e.Len() != 2 {
			t.Errorf("expected no append after close, got %d items", e.Len())
		}
	})
}

func TestStartRadioSeamlessly(t *testing.T) {
	ctx := context.Background()
	radio := func() *tu.FakeProvider {
		p := tu.NewFakeProvider()
		p.Related["b"] = "radio-b"
		p.Pages["radio-b"] = &services.Page{Tracks: tu.Tracks("b", "r1", "r2"), Continuation: "radio-b-2"}
		p.Pages["radio-b-2"] = &services.Page{Tracks: tu.Tracks("r3")}
		return p
	}

	t.Run("replaces the tail after the current item", func(t *testing.T) {
		e := loaded(t, radio(), "a", "b", "c", "d")
		_, _ = e.Seek(1)
		before := e.Cursor()

		if err := e.StartRadioSeamlessly(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		tu.Eventually(t, time.Second, func() bool { return e.Len() == 5 }, "second radio page")
		equalIDs(t, e.Items(), "a", "b", "r1", "r2", "r3")

		c := e.Cursor()
		if c.Track.ID != "b" || c.Version != before.Version {
			t.Errorf("current item must keep playing, got %+v", c)
		}
		if e.Title() != "Track b Radio" {
			t.Errorf("unexpected radio title %q", e.Title())
		}
	})

	t.Run("switches shuffle off", func(t *testing.T) {
		e := loaded(t, radio(), "a", "b", "c", "d")
		_, _ = e.Seek(1)
		e.SetShuffle(true)

		if err := e.StartRadioSeamlessly(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if e.Shuffle() {
			t.Error("radio must switch shuffle off")
		}
		if c := e.Cursor(); c.Track.ID != "b" {
			t.Errorf("expected b current, got %s", c.Track.ID)
		}
		if next, ok := e.SkipNext(); !ok || next.Track.ID != "r1" {
			t.Errorf("expected radio track next, got %+v", next)
		}
	})

	t.Run("requires a current item", func(t *testing.T) {
		idle := NewEngine(radio(), Options{})
		defer idle.Close()
		if err := idle.StartRadioSeamlessly(ctx); !errors.Is(err, shared.ErrQueueEmpty) {
			t.Errorf("expected empty queue error, got %v", err)
		}
	})
}

func TestSnapshot(t *testing.T) {
	e := loaded(t, tu.NewFakeProvider(), "0", "1", "2", "3", "4", "5", "6", "7", "8", "9")
	_, _ = e.Seek(3)
	e.SetRepeat(RepeatAll)

	snap := e.Snapshot()
	snap.PositionMillis = 45000

	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}

	restored := NewEngine(tu.NewFakeProvider(), Options{})
	defer restored.Close()
	if err := restored.Restore(decoded); err != nil {
		t.Fatalf("unexpected restore error: %v", err)
	}
	equalIDs(t, restored.Items(), "0", "1", "2", "3", "4", "5", "6", "7", "8", "9")
	if c := restored.Cursor(); c.Index != 3 || c.Track.ID != "3" {
		t.Errorf("expected index 3, got %+v", c)
	}
	if restored.Repeat() != RepeatAll || restored.Title() != "test" || decoded.Position() != 45*time.Second {
		t.Errorf("unexpected restored state: repeat %s title %q position %v", restored.Repeat(), restored.Title(), decoded.Position())
	}

	t.Run("invalid snapshots are rejected", func(t *testing.T) {
		for _, s := range []Snapshot{{}, {Items: tu.Tracks("a"), Index: 1}, {Items: tu.Tracks("a"), PositionMillis: -1}} {
			if err := restored.Restore(s); err == nil {
				t.Errorf("expected error for %+v", s)
			}
		}
	})
}

func TestParseRepeat(t *testing.T) {
	for in, want := range map[string]RepeatMode{"off": RepeatOff, "ALL": RepeatAll, "one": RepeatOne, "": RepeatOff} {
		got, err := ParseRepeat(in)
		if err != nil || got != want {
			t.Errorf("ParseRepeat(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseRepeat("sometimes"); !errors.Is(err, shared.ErrInvalidArgument) {
		t.Errorf("expected invalid argument, got %v", err)
	}
}
