// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// setupCommand handles first-run setup for the database and config file.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:  "config",
				Usage: "Write the default config.toml",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "print",
						Usage: "Print the resolved config instead of writing a file",
					},
				},
				Action: r.SetupConfig,
			},
			{
				Name:   "status",
				Usage:  "Show applied database migrations",
				Action: r.SetupStatus,
			},
		},
	}
}

// playCommand starts playback of tracks, a playlist or a radio station.
func playCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "play",
		Usage:     "Play tracks by id, a playlist or a radio station",
		ArgsUsage: "[track ids...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "playlist",
				Aliases: []string{"p"},
				Usage:   "Remote playlist ID to play",
			},
			&cli.StringFlag{
				Name:  "radio",
				Usage: "Start a radio station seeded from this track ID",
			},
			&cli.StringFlag{
				Name:  "title",
				Usage: "Queue title for tracks given as arguments",
			},
			&cli.BoolFlag{
				Name:  "shuffle",
				Usage: "Shuffle the queue before playing",
			},
			&cli.StringFlag{
				Name:  "repeat",
				Usage: "Repeat mode: off, all or one",
				Value: "off",
			},
			&cli.BoolFlag{
				Name:  "ui",
				Usage: "Show the interactive player",
			},
		},
		Action: r.Play,
	}
}

// resumeCommand restores the saved queue and continues playing.
func resumeCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "resume",
		Usage: "Resume the queue saved by the last session",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "ui",
				Usage: "Show the interactive player",
			},
		},
		Action: r.Resume,
	}
}

// tuiCommand returns the top-level TUI command.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Launch the interactive player with the saved queue",
		Action:  r.TUI,
	}
}

// resolveCommand prints the stream a track would play from.
func resolveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "resolve",
		Usage: "Resolve the playable stream for a track",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name: "id",
			},
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print output",
				Value: true,
			},
		},
		Action: r.Resolve,
	}
}

// downloadCommand copies tracks into the permanent cache.
func downloadCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "download",
		Aliases:   []string{"dl"},
		Usage:     "Download tracks or a playlist for offline playback",
		ArgsUsage: "[track ids...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "playlist",
				Aliases: []string{"p"},
				Usage:   "Remote playlist ID to download",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Concurrent downloads (max 8)",
				Value: 3,
			},
			&cli.FloatFlag{
				Name:  "rate",
				Usage: "Downloads started per second",
				Value: 2,
			},
		},
		Action: r.Download,
	}
}

// queueCommand inspects the saved queue snapshot.
func queueCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "Inspect the saved queue",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the saved queue",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print output",
						Value: true,
					},
				},
				Action: r.QueueShow,
			},
			{
				Name:  "export",
				Usage: "Export the saved queue to a .csv, .md or .txt file",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "path",
					},
				},
				Action: r.QueueExport,
			},
			{
				Name:   "clear",
				Usage:  "Delete the saved queue",
				Action: r.QueueClear,
			},
		},
	}
}

// historyCommand lists recorded listens.
func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recent playback history",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of entries to show",
				Value:   20,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print output",
				Value: true,
			},
		},
		Action: r.History,
	}
}

// cacheCommand manages the on-disk media caches.
func cacheCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Manage cached media",
		Commands: []*cli.Command{
			{
				Name:   "clear",
				Usage:  "Empty the streaming cache (downloads are kept)",
				Action: r.CacheClear,
			},
			{
				Name:   "status",
				Usage:  "Show how much the streaming cache holds",
				Action: r.CacheStatus,
			},
		},
	}
}

// serveCommand runs the player with an HTTP control API.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the player with an HTTP and WebSocket control API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (overrides server.host and server.port)",
			},
			&cli.BoolFlag{
				Name:  "resume",
				Usage: "Restore the saved queue on start",
				Value: true,
			},
		},
		Action: r.Serve,
	}
}
