package tasks

import (
	"fmt"

	"github.com/desertthunder/ytplay/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase, 0 when unknown
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	FetchPlaylist Phase = iota
	DownloadTracks
	Summary
)

func (p Phase) String() string {
	switch p {
	case FetchPlaylist:
		return "fetch_playlist"
	case DownloadTracks:
		return "download_tracks"
	case Summary:
		return "summary"
	default:
		return ""
	}
}

func fetchPageUpdate(page, count int, title string) ProgressUpdate {
	msg := fmt.Sprintf("Fetched page %d (%d tracks)", page, count)
	if title != "" {
		msg = fmt.Sprintf("Fetched page %d of %s (%d tracks)", page, title, count)
	}
	return ProgressUpdate{
		Phase:   FetchPlaylist,
		Step:    page,
		Message: msg,
	}
}

func downloadStartedUpdate(step, total int, tr models.Track) ProgressUpdate {
	return ProgressUpdate{
		Phase:   DownloadTracks,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Downloading: %s...", step, total, tr.String()),
		Data:    tr,
	}
}

func downloadCompletedUpdate(step, total int, res TrackDownloadResult) ProgressUpdate {
	mark := "✓"
	if res.Skipped {
		mark = "="
	}
	return ProgressUpdate{
		Phase:   DownloadTracks,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s %s", step, total, mark, res.Track.String()),
		Data:    res,
	}
}

func downloadFailedUpdate(step, total int, res TrackDownloadResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   DownloadTracks,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, res.Track.String(), res.Error),
		Data:    res,
	}
}

func summaryUpdate(r *BulkDownloadResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Summary,
		Step:    r.Total,
		Total:   r.Total,
		Message: fmt.Sprintf("%d downloaded, %d already cached, %d failed", r.Downloaded, r.Skipped, r.Failed),
		Data:    r,
	}
}
