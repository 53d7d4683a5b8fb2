package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/ytplay/internal/formatter"
	"github.com/desertthunder/ytplay/internal/playback"
	"github.com/desertthunder/ytplay/internal/queue"
	"github.com/desertthunder/ytplay/internal/shared"
	"github.com/urfave/cli/v3"
)

func (r *Runner) snapshotStore() (*playback.SnapshotStore, error) {
	path := r.config.Playback.SnapshotPath
	if path == "" {
		return nil, fmt.Errorf("%w: playback.snapshot_path is not set", shared.ErrMissingConfig)
	}
	return playback.NewSnapshotStore(path), nil
}

func (r *Runner) loadSnapshot() (queue.Snapshot, error) {
	store, err := r.snapshotStore()
	if err != nil {
		return queue.Snapshot{}, err
	}
	return store.Load()
}

// QueueShow prints the saved queue.
func (r *Runner) QueueShow(ctx context.Context, cmd *cli.Command) error {
	snap, err := r.loadSnapshot()
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(snap, cmd.Bool("pretty"))
	}

	formatter.WriteQueueTable(r.output, exportFrom(snap))
	r.writePlain("Position: %s  Repeat: %s\n", shared.FormatDuration(snap.Position()), snap.Repeat)
	return nil
}

// QueueExport writes the saved queue to a file, choosing the format from its extension.
func (r *Runner) QueueExport(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		return fmt.Errorf("%w: export path is required", shared.ErrMissingArgument)
	}

	snap, err := r.loadSnapshot()
	if err != nil {
		return err
	}
	if err := formatter.WriteExport(exportFrom(snap), path); err != nil {
		return err
	}

	r.logger.Info("exported queue", "path", path, "tracks", len(snap.Items))
	r.writePlain("✓ Exported %d tracks to %s\n", len(snap.Items), path)
	return nil
}

// QueueClear removes the saved queue so the next session starts empty.
func (r *Runner) QueueClear(ctx context.Context, cmd *cli.Command) error {
	store, err := r.snapshotStore()
	if err != nil {
		return err
	}
	if err := store.Remove(); err != nil {
		return err
	}
	r.writePlain("✓ Saved queue cleared\n")
	return nil
}

func exportFrom(snap queue.Snapshot) *formatter.QueueExport {
	return &formatter.QueueExport{Title: snap.Title, Current: snap.Index, Tracks: snap.Items}
}
