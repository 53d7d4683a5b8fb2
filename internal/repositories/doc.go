// Package repositories implements SQLite persistence for the playback engine.
//
// Key Implementations:
//   - [TrackRepository] : track metadata, backfilled fields and cumulative play time
//   - [FormatRepository] : one stream format row per track with overwrite semantics
//   - [EventRepository] : append-only playback events
//   - [Store] : facade combining the three behind the calls the engine needs
//
// Writes are upserts keyed by track id, so re-resolving or re-caching the same track never duplicates rows.
package repositories
