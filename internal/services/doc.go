// Package services defines the [Provider] interface for remote stream providers and implements it twice.
//
// # YouTube Music proxy
//
// [YouTubeService] talks to the FastAPI proxy wrapping ytmusicapi. Requests are rate limited with
// [rate.Limiter] and, when a token is configured, authorized through an [oauth2] static token source.
// The optional auth file path is sent via the X-Auth-File header.
//
// # Direct resolution
//
// [VideoService] resolves streams with github.com/kkdai/youtube/v2 without a proxy. The signed URL
// validity window comes from the "expire" query parameter and radio continuations are the "RD" mix
// playlist of the seed track.
//
// # Errors
//
// Transport errors are wrapped with %w so callers can classify them. HTTP failures wrap
// [shared.ErrRemote]; a missing track wraps [shared.ErrTrackNotFound].
package services
