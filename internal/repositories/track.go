package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/ytplay/internal/models"
	"github.com/desertthunder/ytplay/internal/shared"
)

// TrackRepository persists track metadata and cumulative play time.
//
// Tracks are created on first encounter and backfilled afterwards: a known duration,
// a local path or a title never gets replaced by an empty or unknown value.
type TrackRepository struct {
	db *sql.DB
}

// NewTrackRepository creates a new TrackRepository with the given database connection
func NewTrackRepository(db *sql.DB) *TrackRepository {
	return &TrackRepository{db: db}
}

const upsertTrackQuery = `
	INSERT INTO tracks (id, title, artists, album_id, album_title, duration, explicit, local_path, thumbnail_url, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = CASE WHEN excluded.title != '' THEN excluded.title ELSE tracks.title END,
		artists = CASE WHEN excluded.artists != '[]' THEN excluded.artists ELSE tracks.artists END,
		album_id = CASE WHEN excluded.album_title != '' THEN excluded.album_id ELSE tracks.album_id END,
		album_title = CASE WHEN excluded.album_title != '' THEN excluded.album_title ELSE tracks.album_title END,
		duration = CASE WHEN excluded.duration > 0 THEN excluded.duration ELSE tracks.duration END,
		explicit = excluded.explicit OR tracks.explicit,
		local_path = CASE WHEN excluded.local_path != '' THEN excluded.local_path ELSE tracks.local_path END,
		thumbnail_url = CASE WHEN excluded.thumbnail_url != '' THEN excluded.thumbnail_url ELSE tracks.thumbnail_url END,
		updated_at = excluded.updated_at
`

// Upsert inserts a [models.Track] or backfills the stored row.
func (r *TrackRepository) Upsert(ctx context.Context, track models.Track) error {
	return r.upsert(ctx, r.db, track)
}

// UpsertMany upserts every track in one transaction.
func (r *TrackRepository) UpsertMany(ctx context.Context, tracks []models.Track) error {
	if len(tracks) == 0 {
		return nil
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, track := range tracks {
			if err := r.upsert(ctx, tx, track); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *TrackRepository) upsert(ctx context.Context, ex execer, track models.Track) error {
	if err := track.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	artists := track.Artists
	if artists == nil {
		artists = []models.Artist{}
	}
	encoded, err := json.Marshal(artists)
	if err != nil {
		return fmt.Errorf("failed to encode artists: %w", err)
	}

	var albumID, albumTitle string
	if track.Album != nil {
		albumID, albumTitle = track.Album.ID, track.Album.Title
	}

	now := time.Now().UTC()
	_, err = ex.ExecContext(ctx, upsertTrackQuery,
		track.ID,
		track.Title,
		string(encoded),
		albumID,
		albumTitle,
		track.Duration,
		track.Explicit,
		track.LocalPath,
		track.ThumbnailURL,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert track: %w", err)
	}
	return nil
}

// Get retrieves a track by ID
func (r *TrackRepository) Get(ctx context.Context, id string) (*models.Track, error) {
	query := `
		SELECT id, title, artists, album_id, album_title, duration, explicit, local_path, thumbnail_url
		FROM tracks
		WHERE id = ?
	`

	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetLocalPath returns the local file path of a track, or [shared.ErrTrackNotFound] when none is recorded.
func (r *TrackRepository) GetLocalPath(ctx context.Context, id string) (string, error) {
	var path string
	err := r.db.QueryRowContext(ctx, "SELECT local_path FROM tracks WHERE id = ?", id).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && path == "") {
		return "", fmt.Errorf("%w: no local file for %s", shared.ErrTrackNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get local path: %w", err)
	}
	return path, nil
}

// IncrementPlayTime adds millis to the cumulative play time, creating a placeholder row when the track is unknown.
func (r *TrackRepository) IncrementPlayTime(ctx context.Context, id string, millis int64) error {
	if millis <= 0 {
		return nil
	}

	query := `
		INSERT INTO tracks (id, total_play_time, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_play_time = tracks.total_play_time + excluded.total_play_time,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, query, id, millis, now, now); err != nil {
		return fmt.Errorf("failed to increment play time: %w", err)
	}
	return nil
}

// PlayTime returns the cumulative play time of a track in milliseconds.
func (r *TrackRepository) PlayTime(ctx context.Context, id string) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, "SELECT total_play_time FROM tracks WHERE id = ?", id).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", shared.ErrTrackNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get play time: %w", err)
	}
	return total, nil
}

// scanOne scans a single [sql.Row] into a [models.Track]
func (r *TrackRepository) scanOne(row *sql.Row) (*models.Track, error) {
	var (
		track      models.Track
		artists    string
		albumID    string
		albumTitle string
	)

	err := row.Scan(&track.ID, &track.Title, &artists, &albumID, &albumTitle, &track.Duration, &track.Explicit, &track.LocalPath, &track.ThumbnailURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrTrackNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan track: %w", err)
	}

	if err := json.Unmarshal([]byte(artists), &track.Artists); err != nil {
		return nil, fmt.Errorf("failed to decode artists: %w", err)
	}
	if albumTitle != "" {
		track.Album = &models.AlbumRef{ID: albumID, Title: albumTitle}
	}

	return &track, nil
}
