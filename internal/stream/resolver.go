// Package stream resolves tracks into playable byte sources and keeps their short-lived URL leases.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytplay/internal/models"
	"github.com/desertthunder/ytplay/internal/services"
	"github.com/desertthunder/ytplay/internal/shared"
)

// Quality is the user audio quality preference.
type Quality string

const (
	QualityAuto Quality = "auto"
	QualityLow  Quality = "low"
	QualityHigh Quality = "high"
	QualityMax  Quality = "max"
)

// ParseQuality maps a setting value to a [Quality], defaulting to auto.
func ParseQuality(s string) Quality {
	switch q := Quality(strings.ToLower(strings.TrimSpace(s))); q {
	case QualityLow, QualityHigh, QualityMax:
		return q
	default:
		return QualityAuto
	}
}

// webmBonus favors opus in webm when bitrates are close.
const webmBonus = 10240

// Store is the persistence the resolver reads from and writes to.
type Store interface {
	GetFormat(ctx context.Context, trackID string) (*models.StreamFormat, error)
	UpsertFormat(ctx context.Context, format models.StreamFormat) error
	GetLocalPath(ctx context.Context, trackID string) (string, error)
	UpsertTrack(ctx context.Context, track models.Track) error
}

// Source describes where the bytes of a track come from.
type Source struct {
	TrackID   string
	URL       string
	LocalPath string
	ExpiresAt time.Time
	Format    *models.StreamFormat
	// Cached is true when the URL came from an unexpired lease.
	Cached bool
}

// IsLocal reports whether the source is a file on disk.
func (s *Source) IsLocal() bool {
	return s.LocalPath != ""
}

// Options configures a [Resolver].
type Options struct {
	Quality Quality
	Timeout time.Duration
	Now     func() time.Time
}

// Resolver turns track ids into [Source] values, consulting the lease cache before the provider.
type Resolver struct {
	provider services.Provider
	store    Store
	network  services.NetworkMonitor
	leases   *LeaseCache
	logger   *log.Logger
	timeout  time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	quality Quality
}

// NewResolver creates a resolver that owns a fresh [LeaseCache].
func NewResolver(provider services.Provider, store Store, network services.NetworkMonitor, logger *log.Logger, opts Options) *Resolver {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if network == nil {
		network = services.StaticNetwork{}
	}
	return &Resolver{
		provider: provider,
		store:    store,
		network:  network,
		leases:   NewLeaseCacheWithClock(opts.Now),
		logger:   shared.WithLogger(logger, "component", "resolver", "provider", provider.Name()),
		timeout:  opts.Timeout,
		now:      opts.Now,
		quality:  ParseQuality(string(opts.Quality)),
	}
}

// SetQuality changes the preference used for encodings selected from now on.
func (r *Resolver) SetQuality(q Quality) {
	r.mu.Lock()
	r.quality = q
	r.mu.Unlock()
}

func (r *Resolver) currentQuality() Quality {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.quality
}

// Leases exposes the lease cache, mainly for inspection.
func (r *Resolver) Leases() *LeaseCache {
	return r.leases
}

// Invalidate drops the lease of a track so the next call resolves again.
func (r *Resolver) Invalidate(trackID string) {
	r.leases.Invalidate(trackID)
}

// Resolve returns the byte source of trackID.
//
// Errors wrap one of [shared.ErrNetworkUnavailable], [shared.ErrTimeout], [shared.ErrRemote] or
// [shared.ErrUnplayable]. Nothing is retried here.
func (r *Resolver) Resolve(ctx context.Context, trackID string) (*Source, error) {
	if lease, ok := r.leases.Get(trackID); ok {
		src := &Source{TrackID: trackID, URL: lease.URL, ExpiresAt: lease.ExpiresAt, Cached: true}
		if f, err := r.store.GetFormat(ctx, trackID); err == nil {
			src.Format = f
		}
		return src, nil
	}

	if models.IsLocalID(trackID) {
		path, err := r.store.GetLocalPath(ctx, trackID)
		if err != nil {
			return nil, fmt.Errorf("%w: local file for %s: %w", shared.ErrUnplayable, trackID, err)
		}
		return &Source{TrackID: trackID, LocalPath: path}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts, err := r.provider.GetPlaybackOptions(callCtx, trackID)
	if err != nil {
		return nil, r.classify(callCtx, trackID, err)
	}
	if !opts.Playable() {
		reason := opts.Reason
		if reason == "" {
			reason = opts.Status
		}
		return nil, fmt.Errorf("%w: %s: %s", shared.ErrUnplayable, trackID, reason)
	}

	var previous *models.StreamFormat
	if f, err := r.store.GetFormat(ctx, trackID); err == nil {
		previous = f
	}

	enc, ok := SelectEncoding(opts.Encodings, previous, r.currentQuality(), r.network.Metered())
	if !ok {
		return nil, fmt.Errorf("%w: %s: no audio-only encoding", shared.ErrUnplayable, trackID)
	}

	format := models.StreamFormat{
		TrackID:             trackID,
		Itag:                enc.Itag,
		MimeType:            enc.MimeType,
		Codecs:              enc.Codecs(),
		Bitrate:             enc.Bitrate,
		SampleRate:          enc.SampleRate,
		ContentLength:       enc.ContentLength,
		LoudnessDB:          opts.LoudnessDB,
		PlaybackTrackingURL: opts.TrackingURL,
		UpdatedAt:           r.now(),
	}
	if err := r.store.UpsertFormat(ctx, format); err != nil {
		r.logger.Warn("failed to record stream format", "track", trackID, "error", err)
	}
	if opts.Details != nil && opts.Details.ID == trackID {
		if err := r.store.UpsertTrack(ctx, *opts.Details); err != nil {
			r.logger.Warn("failed to backfill track", "track", trackID, "error", err)
		}
	}

	src := &Source{TrackID: trackID, URL: enc.URL, Format: &format}
	if opts.ExpiresInSeconds > 0 {
		src.ExpiresAt = r.now().Add(time.Duration(opts.ExpiresInSeconds) * time.Second)
		r.leases.Put(trackID, enc.URL, src.ExpiresAt)
	}

	r.logger.Debug("resolved stream", "track", trackID, "itag", enc.Itag, "bitrate", enc.Bitrate, "expires", src.ExpiresAt)
	return src, nil
}

// classify maps a provider failure onto the resolution error taxonomy.
func (r *Resolver) classify(ctx context.Context, trackID string, err error) error {
	for _, known := range []error{shared.ErrNetworkUnavailable, shared.ErrTimeout, shared.ErrUnplayable} {
		if errors.Is(err, known) {
			return fmt.Errorf("resolve %s: %w", trackID, err)
		}
	}
	if errors.Is(err, shared.ErrTrackNotFound) {
		return fmt.Errorf("%w: resolve %s: %w", shared.ErrUnplayable, trackID, err)
	}
	if errors.Is(err, context.Canceled) && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("resolve %s: %w", trackID, err)
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: resolve %s: %w", shared.ErrTimeout, trackID, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: resolve %s: %w", shared.ErrTimeout, trackID, err)
	case !r.network.Available(), isConnectivityError(err):
		return fmt.Errorf("%w: resolve %s: %w", shared.ErrNetworkUnavailable, trackID, err)
	case errors.Is(err, shared.ErrRemote):
		return fmt.Errorf("resolve %s: %w", trackID, err)
	default:
		return fmt.Errorf("%w: resolve %s: %w", shared.ErrRemote, trackID, err)
	}
}

func isConnectivityError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH)
}

// SelectEncoding picks the encoding to stream.
//
// The previously recorded itag wins when it is still offered. Otherwise the audio-only encoding
// maximizing bitrate*weight+bonus is chosen.
func SelectEncoding(encodings []services.Encoding, previous *models.StreamFormat, quality Quality, metered bool) (services.Encoding, bool) {
	if previous != nil {
		for _, e := range encodings {
			if e.Itag == previous.Itag && e.URL != "" {
				return e, true
			}
		}
	}

	weight := qualityWeight(quality, metered)
	var (
		best      services.Encoding
		bestScore int
		found     bool
	)
	for _, e := range encodings {
		if !e.IsAudioOnly() || e.URL == "" {
			continue
		}
		score := e.Bitrate*weight + containerBonus(e.MimeType)
		if !found || score > bestScore {
			best, bestScore, found = e, score, true
		}
	}
	return best, found
}

func qualityWeight(q Quality, metered bool) int {
	switch q {
	case QualityLow:
		return -1
	case QualityHigh, QualityMax:
		return 1
	default:
		if metered {
			return -1
		}
		return 1
	}
}

func containerBonus(mimeType string) int {
	if strings.HasPrefix(mimeType, "audio/webm") {
		return webmBonus
	}
	return 0
}
