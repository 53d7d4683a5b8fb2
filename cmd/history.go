package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/ytplay/internal/formatter"
	"github.com/urfave/cli/v3"
)

type historyOutput struct {
	TrackID      string    `json:"track_id"`
	Title        string    `json:"title,omitempty"`
	Artists      string    `json:"artists,omitempty"`
	PlayedAt     time.Time `json:"played_at"`
	PlayTimeMsec int64     `json:"play_time_ms"`
}

// History prints the most recent qualifying listens.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	limit := cmd.Int("limit")
	if limit <= 0 {
		limit = 20
	}

	db, store, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := store.ListEvents(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	if cmd.Bool("json") {
		out := make([]historyOutput, len(entries))
		for i, e := range entries {
			out[i] = historyOutput{
				TrackID:      e.Event.TrackID,
				Title:        e.Title,
				Artists:      e.Artists,
				PlayedAt:     e.Event.Timestamp,
				PlayTimeMsec: e.Event.PlayTime,
			}
		}
		return r.writeJSON(out, cmd.Bool("pretty"))
	}

	if len(entries) == 0 {
		r.writePlain("No playback history yet\n")
		return nil
	}
	formatter.WriteHistoryTable(r.output, entries)
	return nil
}
