package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/desertthunder/ytplay/internal/cache"
	"github.com/desertthunder/ytplay/internal/playback"
	"github.com/desertthunder/ytplay/internal/player"
	"github.com/desertthunder/ytplay/internal/queue"
	"github.com/desertthunder/ytplay/internal/repositories"
	"github.com/desertthunder/ytplay/internal/services"
	"github.com/desertthunder/ytplay/internal/shared"
	"github.com/desertthunder/ytplay/internal/stats"
	"github.com/desertthunder/ytplay/internal/stream"
)

const (
	probeInterval  = 15 * time.Second
	defaultProbeAt = "https://www.youtube.com"
)

// openStore opens the configured database and brings its schema up to date.
func (r *Runner) openStore(ctx context.Context) (*sql.DB, *repositories.Store, error) {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	if err := shared.RunMigrationsContext(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, repositories.NewStore(db), nil
}

// newProvider returns the injected provider or builds the one named by provider.kind.
func (r *Runner) newProvider() services.Provider {
	if r.provider != nil {
		return r.provider
	}
	c := r.config.Provider
	switch c.Kind {
	case "youtube", "direct":
		client := *r.httpClient
		client.Timeout = c.Timeout()
		return services.NewVideoService(&client, c.RequestsPerSecond)
	default:
		return services.NewYouTubeServiceFromConfig(c)
	}
}

func (r *Runner) newNetwork() *services.ProbeMonitor {
	target := defaultProbeAt
	if r.config.Provider.Kind != "youtube" && r.config.Provider.BaseURL != "" {
		target = r.config.Provider.BaseURL
	}
	logger := shared.WithLogger(r.logger, "component", "network")
	return services.NewProbeMonitor(target, probeInterval, r.config.Playback.Metered, logger)
}

func (r *Runner) newResolver(provider services.Provider, store stream.Store, network services.NetworkMonitor) *stream.Resolver {
	return stream.NewResolver(provider, store, network, r.logger, stream.Options{
		Quality: stream.ParseQuality(r.config.Playback.Quality),
		Timeout: r.config.Provider.Timeout(),
	})
}

// newPermanent builds the download layer selected by cache.download_backend.
func (r *Runner) newPermanent(ctx context.Context) (cache.Permanent, error) {
	c := r.config.Cache
	switch c.DownloadBackend {
	case "minio":
		return cache.NewMinioStore(ctx, c.Minio, r.logger)
	case "", "disk":
		return cache.NewDiskStore(filepath.Join(c.Dir, "downloads"), 0, r.logger)
	default:
		return nil, fmt.Errorf("%w: unknown download backend %q", shared.ErrInvalidConfig, c.DownloadBackend)
	}
}

func (r *Runner) newRolling() (*cache.DiskStore, error) {
	c := r.config.Cache
	return cache.NewDiskStore(filepath.Join(c.Dir, "rolling"), c.PlayerMaxMB<<20, r.logger)
}

// newCache wires both cache layers in front of resolver.
func (r *Runner) newCache(ctx context.Context, resolver cache.Resolver) (*cache.Layered, error) {
	permanent, err := r.newPermanent(ctx)
	if err != nil {
		return nil, err
	}
	rolling, err := r.newRolling()
	if err != nil {
		return nil, err
	}
	return cache.NewLayered(cache.LayeredOptions{
		Permanent:   permanent,
		Rolling:     rolling,
		Resolver:    resolver,
		HTTPClient:  r.httpClient,
		ChunkLength: r.config.Cache.ChunkLength(),
		Logger:      r.logger,
	}), nil
}

func (r *Runner) newPlayer() player.Player {
	return player.NewPCMPlayer(player.Options{
		Decoder: player.NewFFmpegDecoder(r.config.Player.FFmpegPath),
		Sink:    player.CommandSink(r.config.Player.OutputCommand),
		Logger:  shared.WithLogger(r.logger, "component", "player"),
	})
}

// session is a running playback engine for one command invocation.
type session struct {
	db         *sql.DB
	store      *repositories.Store
	provider   services.Provider
	supervisor *playback.Supervisor
	cancel     context.CancelFunc
	runErr     chan error

	closeOnce sync.Once
	closeErr  error
}

// startSession wires the engine and starts the supervisor loop. A nil out uses the
// configured audio output.
func (r *Runner) startSession(ctx context.Context, out player.Player) (*session, error) {
	db, store, err := r.openStore(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	fail := func(err error) (*session, error) {
		cancel()
		db.Close()
		return nil, err
	}

	provider := r.newProvider()
	network := r.newNetwork()
	go network.Run(ctx)

	resolver := r.newResolver(provider, store, network)
	layered, err := r.newCache(ctx, resolver)
	if err != nil {
		return fail(err)
	}

	if out == nil {
		out = r.newPlayer()
	}
	cfg := r.config.Playback
	engine := queue.NewEngine(provider, queue.Options{
		FilterExplicit: cfg.FilterExplicit,
		Timeout:        r.config.Provider.Timeout(),
		Logger:         r.logger,
	})

	var snapshots *playback.SnapshotStore
	if cfg.PersistQueue && cfg.SnapshotPath != "" {
		snapshots = playback.NewSnapshotStore(cfg.SnapshotPath)
	}

	sup, err := playback.NewSupervisor(playback.Options{
		Queue:     engine,
		Resolver:  resolver,
		Opener:    layered,
		Player:    out,
		Stats:     stats.NewRecorder(store, provider, r.logger, stats.SettingsFrom(cfg)),
		Snapshots: snapshots,
		Network:   network,
		Settings:  cfg,
		Logger:    r.logger,
	})
	if err != nil {
		_ = out.Close()
		return fail(err)
	}

	s := &session{
		db:         db,
		store:      store,
		provider:   provider,
		supervisor: sup,
		cancel:     cancel,
		runErr:     make(chan error, 1),
	}
	go func() { s.runErr <- sup.Run(ctx) }()

	if r.configPath != "" {
		if _, err := os.Stat(r.configPath); err == nil {
			go r.watchConfig(ctx, sup, network)
		}
	}
	return s, nil
}

func (r *Runner) watchConfig(ctx context.Context, sup *playback.Supervisor, network *services.ProbeMonitor) {
	err := shared.WatchConfig(ctx, r.configPath, r.logger, func(c *shared.Config) {
		network.SetMetered(c.Playback.Metered)
		if err := sup.ApplySettings(c.Playback); err != nil {
			r.logger.Warn("failed to apply settings", "error", err)
		}
	})
	if err != nil {
		r.logger.Warn("config watcher stopped", "error", err)
	}
}

// close stops the supervisor, which writes the final snapshot, then closes the database.
func (s *session) close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		err := <-s.runErr
		if cerr := s.db.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.closeErr = err
	})
	return s.closeErr
}
