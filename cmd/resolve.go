package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/ytplay/internal/shared"
	"github.com/urfave/cli/v3"
)

type resolveOutput struct {
	TrackID       string    `json:"track_id"`
	URL           string    `json:"url,omitempty"`
	LocalPath     string    `json:"local_path,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitzero"`
	MimeType      string    `json:"mime_type,omitempty"`
	Bitrate       int       `json:"bitrate,omitempty"`
	ContentLength int64     `json:"content_length,omitempty"`
	LoudnessDB    *float64  `json:"loudness_db,omitempty"`
}

// Resolve prints the stream a track would play from, recording its format in the library.
func (r *Runner) Resolve(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: track id is required", shared.ErrMissingArgument)
	}

	db, store, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	resolver := r.newResolver(r.newProvider(), store, r.newNetwork())

	src, err := resolver.Resolve(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", id, err)
	}

	out := resolveOutput{TrackID: src.TrackID, URL: src.URL, LocalPath: src.LocalPath, ExpiresAt: src.ExpiresAt}
	if f := src.Format; f != nil {
		out.MimeType = f.MimeType
		out.Bitrate = f.Bitrate
		out.ContentLength = f.ContentLength
		out.LoudnessDB = f.LoudnessDB
	}

	if cmd.Bool("json") {
		return r.writeJSON(out, cmd.Bool("pretty"))
	}

	r.writePlainHeader("Track " + id)
	if src.IsLocal() {
		r.writePlain("Local file: %s\n", src.LocalPath)
		return nil
	}
	r.writePlain("Format:  %s (%d kbps)\n", out.MimeType, out.Bitrate/1000)
	r.writePlain("Expires: %s\n", out.ExpiresAt.Format(time.RFC3339))
	r.writePlain("URL:     %s\n", shared.Truncate(out.URL, 80))
	return nil
}
