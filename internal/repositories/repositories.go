package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/ytplay/internal/models"
)

// Store combines the track, format and event repositories behind the persistence calls made by the engine.
type Store struct {
	db      *sql.DB
	Tracks  *TrackRepository
	Formats *FormatRepository
	Events  *EventRepository
}

// NewStore creates a Store over an already migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:      db,
		Tracks:  NewTrackRepository(db),
		Formats: NewFormatRepository(db),
		Events:  NewEventRepository(db),
	}
}

// UpsertFormat records the format selected for a track.
func (s *Store) UpsertFormat(ctx context.Context, format models.StreamFormat) error {
	return s.Formats.Upsert(ctx, format)
}

// GetFormat returns the format last recorded for a track.
func (s *Store) GetFormat(ctx context.Context, trackID string) (*models.StreamFormat, error) {
	return s.Formats.Get(ctx, trackID)
}

// IncrementPlayTime adds millis to the cumulative play time of a track.
func (s *Store) IncrementPlayTime(ctx context.Context, trackID string, millis int64) error {
	return s.Tracks.IncrementPlayTime(ctx, trackID, millis)
}

// AppendEvent writes one playback event.
func (s *Store) AppendEvent(ctx context.Context, trackID string, at time.Time, millis int64) error {
	return s.Events.Append(ctx, &models.PlaybackEvent{TrackID: trackID, Timestamp: at, PlayTime: millis})
}

// GetLocalPath returns the on-disk path of a local track.
func (s *Store) GetLocalPath(ctx context.Context, trackID string) (string, error) {
	return s.Tracks.GetLocalPath(ctx, trackID)
}

// UpsertTrack stores or backfills a track.
func (s *Store) UpsertTrack(ctx context.Context, track models.Track) error {
	return s.Tracks.Upsert(ctx, track)
}

// CacheTracks stores every track of a fetched page in one transaction.
func (s *Store) CacheTracks(ctx context.Context, tracks []models.Track) error {
	return s.Tracks.UpsertMany(ctx, tracks)
}

// GetTrack returns a stored track.
func (s *Store) GetTrack(ctx context.Context, trackID string) (*models.Track, error) {
	return s.Tracks.Get(ctx, trackID)
}

// ListEvents returns the most recent playback history.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]HistoryEntry, error) {
	return s.Events.History(ctx, limit)
}

// withTx runs fn inside a transaction, rolling back on error.
func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
