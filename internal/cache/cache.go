// Package cache stores stream bytes in two layers.
//
// The permanent layer holds explicitly downloaded tracks and always wins. The rolling layer
// is a bounded, least-recently-used disk cache filled as a side effect of playback. Ranges
// neither layer fully covers are fetched from the network and written to the rolling layer only.
package cache

import (
	"context"
	"io"
)

// LayerKind names where the bytes of a [Chunk] came from.
type LayerKind int

const (
	LayerNetwork LayerKind = iota
	LayerRolling
	LayerPermanent
	LayerLocal
)

func (k LayerKind) String() string {
	switch k {
	case LayerRolling:
		return "rolling"
	case LayerPermanent:
		return "permanent"
	case LayerLocal:
		return "local"
	default:
		return "network"
	}
}

// Info describes what a layer holds for a track. Total is -1 when the content length is unknown.
type Info struct {
	Total    int64
	Cached   int64
	Complete bool
}

// Layer is one byte cache tier.
type Layer interface {
	// Get returns [off, off+length) clamped to the known total, only if the range is fully cached.
	Get(ctx context.Context, trackID string, off, length int64) (data []byte, total int64, ok bool, err error)
	// Put writes data at off. Rewriting a cached range is not an error.
	Put(ctx context.Context, trackID string, off int64, data []byte, total int64) error
	Stat(ctx context.Context, trackID string) (Info, error)
	Remove(ctx context.Context, trackID string) error
	Clear(ctx context.Context) error
}

// Permanent is a layer that can take a whole track as a stream.
type Permanent interface {
	Layer
	Save(ctx context.Context, trackID string, r io.Reader, size int64) error
}

// Span is the half-open byte range [Start, End).
type Span struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (s Span) Len() int64 { return s.End - s.Start }

// addSpan inserts s into sorted, disjoint spans, merging overlapping and adjacent ranges.
func addSpan(spans []Span, s Span) []Span {
	if s.Len() <= 0 {
		return spans
	}
	out := make([]Span, 0, len(spans)+1)
	inserted := false
	for _, cur := range spans {
		switch {
		case cur.End < s.Start:
			out = append(out, cur)
		case s.End < cur.Start:
			if !inserted {
				out = append(out, s)
				inserted = true
			}
			out = append(out, cur)
		default:
			s = Span{Start: min(s.Start, cur.Start), End: max(s.End, cur.End)}
		}
	}
	if !inserted {
		out = append(out, s)
	}
	return out
}

// covers reports whether the spans contain [start, end) entirely.
func covers(spans []Span, start, end int64) bool {
	if end <= start {
		return true
	}
	for _, s := range spans {
		if s.Start <= start && end <= s.End {
			return true
		}
	}
	return false
}

func spanBytes(spans []Span) int64 {
	var n int64
	for _, s := range spans {
		n += s.Len()
	}
	return n
}

// clampRange limits [off, off+length) to total when it is known.
func clampRange(off, length, total int64) int64 {
	if total >= 0 {
		if off >= total {
			return 0
		}
		length = min(length, total-off)
	}
	return max(length, 0)
}
