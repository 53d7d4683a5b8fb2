package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/ytplay/internal/models"
	"github.com/desertthunder/ytplay/internal/shared"
)

// FormatRepository persists the stream format chosen for each track.
type FormatRepository struct {
	db *sql.DB
}

// NewFormatRepository creates a new FormatRepository with the given database connection
func NewFormatRepository(db *sql.DB) *FormatRepository {
	return &FormatRepository{db: db}
}

// Upsert overwrites the format row of a track.
func (r *FormatRepository) Upsert(ctx context.Context, f models.StreamFormat) error {
	if f.TrackID == "" {
		return fmt.Errorf("%w: format without track id", shared.ErrInvalidInput)
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = time.Now().UTC()
	}

	var loudness sql.NullFloat64
	if f.LoudnessDB != nil {
		loudness = sql.NullFloat64{Float64: *f.LoudnessDB, Valid: true}
	}

	query := `
		INSERT INTO formats (track_id, itag, mime_type, codecs, bitrate, sample_rate, content_length, loudness_db, playback_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(track_id) DO UPDATE SET
			itag = excluded.itag,
			mime_type = excluded.mime_type,
			codecs = excluded.codecs,
			bitrate = excluded.bitrate,
			sample_rate = excluded.sample_rate,
			content_length = excluded.content_length,
			loudness_db = excluded.loudness_db,
			playback_url = excluded.playback_url,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		f.TrackID,
		f.Itag,
		f.MimeType,
		f.Codecs,
		f.Bitrate,
		f.SampleRate,
		f.ContentLength,
		loudness,
		f.PlaybackTrackingURL,
		f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert format: %w", err)
	}
	return nil
}

// Get returns the format of a track or [shared.ErrFormatNotFound].
func (r *FormatRepository) Get(ctx context.Context, trackID string) (*models.StreamFormat, error) {
	query := `
		SELECT track_id, itag, mime_type, codecs, bitrate, sample_rate, content_length, loudness_db, playback_url, updated_at
		FROM formats
		WHERE track_id = ?
	`

	var (
		f        models.StreamFormat
		loudness sql.NullFloat64
	)
	err := r.db.QueryRowContext(ctx, query, trackID).Scan(
		&f.TrackID, &f.Itag, &f.MimeType, &f.Codecs, &f.Bitrate, &f.SampleRate,
		&f.ContentLength, &loudness, &f.PlaybackTrackingURL, &f.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrFormatNotFound, trackID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get format: %w", err)
	}

	if loudness.Valid {
		v := loudness.Float64
		f.LoudnessDB = &v
	}
	return &f, nil
}

// Delete removes the format of a track so the next resolution selects afresh.
func (r *FormatRepository) Delete(ctx context.Context, trackID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM formats WHERE track_id = ?", trackID); err != nil {
		return fmt.Errorf("failed to delete format: %w", err)
	}
	return nil
}
