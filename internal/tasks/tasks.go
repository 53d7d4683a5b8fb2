package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/desertthunder/ytplay/internal/models"
	"github.com/desertthunder/ytplay/internal/services"
	"github.com/desertthunder/ytplay/internal/shared"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

// maxPages caps [Engine.Collect] so an endless radio continuation cannot run forever.
const maxPages = 50

// Downloader copies tracks into the permanent cache. [cache.Layered] implements it.
type Downloader interface {
	Download(ctx context.Context, trackID string) error
	Downloaded(ctx context.Context, trackID string) (bool, error)
}

// PageFetcher reads remote playlists page by page. Every [services.Provider] implements it.
type PageFetcher interface {
	GetPlaylist(ctx context.Context, playlistID string) (*services.Page, error)
	GetPage(ctx context.Context, continuation string) (*services.Page, error)
}

// TrackDownloadResult is the outcome for a single track of a bulk download.
type TrackDownloadResult struct {
	Track   models.Track
	Skipped bool  // already in the permanent cache
	Error   error // nil on success
}

// BulkDownloadResult summarizes a [Engine.BulkDownload] run.
type BulkDownloadResult struct {
	Total      int
	Downloaded int
	Skipped    int
	Failed     int
	Results    []TrackDownloadResult
}

// BulkDownloadOpts contains configuration for bulk downloads.
type BulkDownloadOpts struct {
	NumWorkers int     // Concurrent workers (default: 3, max: 8)
	RateLimit  float64 // Downloads started per second (default: 2)
}

// Engine runs batch operations against a provider and the download cache.
type Engine struct {
	pages      PageFetcher
	downloader Downloader
}

// NewEngine creates an Engine. Either dependency may be nil when its operations are unused.
func NewEngine(pages PageFetcher, downloader Downloader) *Engine {
	return &Engine{pages: pages, downloader: downloader}
}

// sendProgress sends a progress update through the channel without blocking.
func (e *Engine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// Collect returns every track of a remote playlist, following continuations.
//
// A failing continuation ends the walk and returns the tracks gathered so far together
// with an [shared.ErrPagination] error; failure of the first page returns no tracks.
func (e *Engine) Collect(ctx context.Context, progress chan<- ProgressUpdate, playlistID string) (string, []models.Track, error) {
	if e.pages == nil {
		return "", nil, fmt.Errorf("%w: no provider configured", shared.ErrServiceUnavailable)
	}
	if playlistID == "" {
		return "", nil, fmt.Errorf("%w: playlist id is required", shared.ErrMissingArgument)
	}

	page, err := e.pages.GetPlaylist(ctx, playlistID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to fetch playlist %s: %w", playlistID, err)
	}
	title := page.Title
	tracks := append([]models.Track(nil), page.Tracks...)
	e.sendProgress(progress, fetchPageUpdate(1, len(page.Tracks), title))

	for n := 2; page.HasMore() && n <= maxPages; n++ {
		next, err := e.pages.GetPage(ctx, page.Continuation)
		if err != nil {
			return title, clean(tracks), fmt.Errorf("%w: page %d of %s: %w", shared.ErrPagination, n, playlistID, err)
		}
		page = next
		tracks = append(tracks, page.Tracks...)
		e.sendProgress(progress, fetchPageUpdate(n, len(page.Tracks), title))
	}
	return title, clean(tracks), nil
}

func clean(tracks []models.Track) []models.Track {
	valid := lo.Filter(tracks, func(t models.Track, _ int) bool { return t.Validate() == nil })
	return lo.UniqBy(valid, func(t models.Track) string { return t.ID })
}

// BulkDownload downloads tracks concurrently with rate limiting and progress tracking.
//
// Individual failures do not stop the run; they are counted and reported. The returned
// error is non-nil only when the run could not start or ctx ended before every track
// was attempted.
func (e *Engine) BulkDownload(
	ctx context.Context,
	prog chan<- ProgressUpdate,
	tracks []models.Track,
	opts BulkDownloadOpts,
) (*BulkDownloadResult, error) {
	if e.downloader == nil {
		return nil, fmt.Errorf("%w: download cache not initialized", shared.ErrServiceUnavailable)
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 3
	}
	opts.NumWorkers = min(opts.NumWorkers, 8)
	if opts.RateLimit <= 0 {
		opts.RateLimit = 2
	}

	tracks = lo.UniqBy(tracks, func(t models.Track) string { return t.ID })
	result := &BulkDownloadResult{
		Total:   len(tracks),
		Results: make([]TrackDownloadResult, 0, len(tracks)),
	}
	if len(tracks) == 0 {
		return result, nil
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	jobs := make(chan models.Track)
	results := make(chan TrackDownloadResult, len(tracks))

	var wg sync.WaitGroup
	for range opts.NumWorkers {
		wg.Add(1)
		go e.downloadWorker(ctx, &wg, jobs, results)
	}

	var dispatchErr error
	go func() {
		defer close(jobs)
		for i, t := range tracks {
			if err := limiter.Wait(ctx); err != nil {
				dispatchErr = err
				return
			}
			e.sendProgress(prog, downloadStartedUpdate(i+1, len(tracks), t))
			select {
			case jobs <- t:
			case <-ctx.Done():
				dispatchErr = ctx.Err()
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		result.Results = append(result.Results, res)
		switch {
		case res.Error != nil:
			result.Failed++
			e.sendProgress(prog, downloadFailedUpdate(completed, len(tracks), res))
		case res.Skipped:
			result.Skipped++
			e.sendProgress(prog, downloadCompletedUpdate(completed, len(tracks), res))
		default:
			result.Downloaded++
			e.sendProgress(prog, downloadCompletedUpdate(completed, len(tracks), res))
		}
	}
	e.sendProgress(prog, summaryUpdate(result))

	// results is closed only after the dispatcher closed jobs, so dispatchErr is settled.
	if dispatchErr != nil {
		return result, fmt.Errorf("bulk download interrupted after %d of %d tracks: %w", completed, len(tracks), dispatchErr)
	}
	return result, nil
}

// downloadWorker downloads tracks from the jobs channel until it closes.
func (e *Engine) downloadWorker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan models.Track, results chan<- TrackDownloadResult) {
	defer wg.Done()

	for t := range jobs {
		results <- e.downloadOne(ctx, t)
	}
}

func (e *Engine) downloadOne(ctx context.Context, t models.Track) TrackDownloadResult {
	res := TrackDownloadResult{Track: t}
	if err := ctx.Err(); err != nil {
		res.Error = err
		return res
	}
	if done, err := e.downloader.Downloaded(ctx, t.ID); err == nil && done {
		res.Skipped = true
		return res
	}
	if err := e.downloader.Download(ctx, t.ID); err != nil {
		res.Error = fmt.Errorf("download %s: %w", t.ID, err)
	}
	return res
}
