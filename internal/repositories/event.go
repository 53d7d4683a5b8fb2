package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/desertthunder/ytplay/internal/models"
	"github.com/desertthunder/ytplay/internal/shared"
)

// EventRepository appends playback events. Events are never updated.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository creates a new EventRepository with the given database connection
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// HistoryEntry is a playback event joined with the stored track title.
type HistoryEntry struct {
	Event   models.PlaybackEvent
	Title   string
	Artists string
}

// Append inserts an event, generating its ID when empty.
func (r *EventRepository) Append(ctx context.Context, e *models.PlaybackEvent) error {
	if e.TrackID == "" {
		return fmt.Errorf("%w: event without track id", shared.ErrInvalidInput)
	}
	if e.ID == "" {
		e.ID = shared.GenerateID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	query := `INSERT INTO events (id, track_id, timestamp, play_time) VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, e.ID, e.TrackID, e.Timestamp.UTC(), e.PlayTime); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListByTrack returns every event of a track, oldest first.
func (r *EventRepository) ListByTrack(ctx context.Context, trackID string) ([]models.PlaybackEvent, error) {
	query := `
		SELECT id, track_id, timestamp, play_time
		FROM events
		WHERE track_id = ?
		ORDER BY timestamp ASC
	`

	rows, err := r.db.QueryContext(ctx, query, trackID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.PlaybackEvent
	for rows.Next() {
		var e models.PlaybackEvent
		if err := rows.Scan(&e.ID, &e.TrackID, &e.Timestamp, &e.PlayTime); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

// History returns the latest events, newest first, with track titles when known.
func (r *EventRepository) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT e.id, e.track_id, e.timestamp, e.play_time, COALESCE(t.title, ''), COALESCE(t.artists, '[]')
		FROM events e
		LEFT JOIN tracks t ON t.id = e.track_id
		ORDER BY e.timestamp DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			entry   HistoryEntry
			artists string
		)
		if err := rows.Scan(&entry.Event.ID, &entry.Event.TrackID, &entry.Event.Timestamp, &entry.Event.PlayTime, &entry.Title, &artists); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entry.Artists = decodeArtistNames(artists)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return entries, nil
}

// Count returns the number of stored events.
func (r *EventRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

func decodeArtistNames(raw string) string {
	var track models.Track
	if err := json.Unmarshal([]byte(raw), &track.Artists); err != nil {
		return ""
	}
	return track.ArtistNames()
}
