// Package models defines the domain entities shared by the playback engine.
//
//   - [Track] : playable item metadata, backfilled with duration and local path as they are discovered
//   - [StreamFormat] : the encoding last selected for a track, one row per track
//   - [PlaybackEvent] : append-only record of a qualifying listen
//
// Tracks whose id starts with [LocalIDPrefix] are local files and never go through the remote provider.
package models
