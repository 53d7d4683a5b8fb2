package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/desertthunder/ytplay/internal/models"
	"github.com/desertthunder/ytplay/internal/shared"
	"github.com/desertthunder/ytplay/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Download copies tracks given as ids or --playlist into the permanent cache.
func (r *Runner) Download(ctx context.Context, cmd *cli.Command) error {
	ids := cmd.Args().Slice()
	playlistID := cmd.String("playlist")
	if len(ids) == 0 && playlistID == "" {
		return fmt.Errorf("%w: pass track ids or --playlist", shared.ErrMissingArgument)
	}
	if len(ids) > 0 && playlistID != "" {
		return fmt.Errorf("%w: track ids and --playlist are exclusive", shared.ErrInvalidArgument)
	}

	db, store, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	provider := r.newProvider()
	layered, err := r.newCache(ctx, r.newResolver(provider, store, r.newNetwork()))
	if err != nil {
		return err
	}
	engine := tasks.NewEngine(provider, layered)

	progress := make(chan tasks.ProgressUpdate, 32)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for update := range progress {
			r.writePlain("%s\n", update.Message)
		}
	}()
	defer func() {
		close(progress)
		wg.Wait()
	}()

	var tracks []models.Track
	if playlistID != "" {
		var title string
		title, tracks, err = engine.Collect(ctx, progress, playlistID)
		switch {
		case errors.Is(err, shared.ErrPagination) && len(tracks) > 0:
			r.logger.Warn("playlist truncated", "playlist", playlistID, "error", err)
		case err != nil:
			return err
		}
		r.logger.Info("collected playlist", "title", title, "tracks", len(tracks))
	} else {
		for _, id := range ids {
			tracks = append(tracks, r.lookupTrack(ctx, store, id))
		}
	}

	if err := store.CacheTracks(ctx, tracks); err != nil {
		r.logger.Warn("failed to cache track metadata", "error", err)
	}

	result, err := engine.BulkDownload(ctx, progress, tracks, tasks.BulkDownloadOpts{
		NumWorkers: cmd.Int("workers"),
		RateLimit:  cmd.Float("rate"),
	})
	if err != nil {
		return err
	}
	if result.Failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", result.Failed, result.Total)
	}
	return nil
}
