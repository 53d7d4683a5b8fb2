package queue

import (
	"context"
	"fmt"

	"github.com/desertthunder/ytplay/internal/models"
	"github.com/desertthunder/ytplay/internal/services"
	"github.com/desertthunder/ytplay/internal/shared"
)

// Source is where a queue's items come from. It is a closed set: [Empty], [ListSource],
// [RadioSource] and [PlaylistSource].
type Source interface {
	Title() string
	FetchInitial(ctx context.Context, p services.Provider) (*services.Page, error)
	FetchNext(ctx context.Context, p services.Provider, continuation string) (*services.Page, error)
	source()
}

// Empty is a queue with nothing in it.
type Empty struct{}

func (Empty) Title() string { return "" }

func (Empty) FetchInitial(context.Context, services.Provider) (*services.Page, error) {
	return &services.Page{}, nil
}

func (Empty) FetchNext(context.Context, services.Provider, string) (*services.Page, error) {
	return &services.Page{}, nil
}

func (Empty) source() {}

// ListSource is a fixed list of tracks, e.g. from the command line or a restored snapshot.
type ListSource struct {
	Name  string
	Items []models.Track
}

func (s ListSource) Title() string { return s.Name }

func (s ListSource) FetchInitial(context.Context, services.Provider) (*services.Page, error) {
	return &services.Page{Title: s.Name, Tracks: append([]models.Track(nil), s.Items...)}, nil
}

func (s ListSource) FetchNext(ctx context.Context, p services.Provider, continuation string) (*services.Page, error) {
	return nextPage(ctx, p, continuation)
}

func (ListSource) source() {}

// RadioSource is an endless station seeded from one track.
type RadioSource struct {
	Seed         models.Track
	Continuation string
}

func (s RadioSource) Title() string {
	if s.Seed.Title == "" {
		return "Radio"
	}
	return s.Seed.Title + " Radio"
}

// FetchInitial asks the provider for the related continuation unless one is already known.
func (s RadioSource) FetchInitial(ctx context.Context, p services.Provider) (*services.Page, error) {
	token := s.Continuation
	if token == "" {
		var err error
		if token, err = p.GetRelated(ctx, s.Seed.ID); err != nil {
			return nil, fmt.Errorf("radio for %s: %w", s.Seed.ID, err)
		}
	}
	page, err := p.GetPage(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("radio for %s: %w", s.Seed.ID, err)
	}
	if page.Title == "" {
		page.Title = s.Title()
	}
	return page, nil
}

func (s RadioSource) FetchNext(ctx context.Context, p services.Provider, continuation string) (*services.Page, error) {
	return nextPage(ctx, p, continuation)
}

func (RadioSource) source() {}

// PlaylistSource is a remote playlist paged through continuations.
type PlaylistSource struct {
	ID   string
	Name string
}

func (s PlaylistSource) Title() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

func (s PlaylistSource) FetchInitial(ctx context.Context, p services.Provider) (*services.Page, error) {
	page, err := p.GetPlaylist(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("playlist %s: %w", s.ID, err)
	}
	return page, nil
}

func (s PlaylistSource) FetchNext(ctx context.Context, p services.Provider, continuation string) (*services.Page, error) {
	return nextPage(ctx, p, continuation)
}

func (PlaylistSource) source() {}

func nextPage(ctx context.Context, p services.Provider, continuation string) (*services.Page, error) {
	if continuation == "" {
		return &services.Page{}, nil
	}
	if p == nil {
		return nil, fmt.Errorf("%w: no provider for continuation", shared.ErrMissingConfig)
	}
	return p.GetPage(ctx, continuation)
}
