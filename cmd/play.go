package main

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/ytplay/internal/models"
	"github.com/desertthunder/ytplay/internal/playback"
	"github.com/desertthunder/ytplay/internal/queue"
	"github.com/desertthunder/ytplay/internal/repositories"
	"github.com/desertthunder/ytplay/internal/shared"
	"github.com/desertthunder/ytplay/internal/ui"
	"github.com/urfave/cli/v3"
)

const tuiLogPath = "./tmp/ytplay-tui.log"

// Play loads a queue from track ids, --playlist or --radio and plays it.
func (r *Runner) Play(ctx context.Context, cmd *cli.Command) error {
	repeat, err := queue.ParseRepeat(cmd.String("repeat"))
	if err != nil {
		return err
	}
	if err := checkPlayArgs(cmd); err != nil {
		return err
	}
	withUI := cmd.Bool("ui")
	if withUI {
		if err := r.useFileLogger(); err != nil {
			return err
		}
	}

	s, err := r.startSession(ctx, nil)
	if err != nil {
		return err
	}
	defer s.close()

	src, err := r.sourceFor(ctx, s.store, cmd)
	if err != nil {
		return err
	}
	if err := s.supervisor.PlayQueue(ctx, src, nil); err != nil {
		return fmt.Errorf("failed to load queue: %w", err)
	}
	if err := s.supervisor.SetRepeat(repeat); err != nil {
		return err
	}
	if cmd.Bool("shuffle") {
		if err := s.supervisor.SetShuffle(true); err != nil {
			return err
		}
	}

	if withUI {
		return r.runUI(ctx, s)
	}
	return r.follow(ctx, s)
}

// checkPlayArgs requires exactly one of track ids, --playlist or --radio.
func checkPlayArgs(cmd *cli.Command) error {
	set := 0
	for _, given := range []bool{cmd.Args().Len() > 0, cmd.String("playlist") != "", cmd.String("radio") != ""} {
		if given {
			set++
		}
	}
	switch {
	case set == 0:
		return fmt.Errorf("%w: pass track ids, --playlist or --radio", shared.ErrMissingArgument)
	case set > 1:
		return fmt.Errorf("%w: track ids, --playlist and --radio are exclusive", shared.ErrInvalidArgument)
	}
	return nil
}

// sourceFor builds the queue source named by the command's flags and arguments.
func (r *Runner) sourceFor(ctx context.Context, store *repositories.Store, cmd *cli.Command) (queue.Source, error) {
	if err := checkPlayArgs(cmd); err != nil {
		return nil, err
	}
	if playlist := cmd.String("playlist"); playlist != "" {
		return queue.PlaylistSource{ID: playlist}, nil
	}
	if radio := cmd.String("radio"); radio != "" {
		return queue.RadioSource{Seed: r.lookupTrack(ctx, store, radio)}, nil
	}

	ids := cmd.Args().Slice()
	tracks := make([]models.Track, len(ids))
	for i, id := range ids {
		tracks[i] = r.lookupTrack(ctx, store, id)
	}
	return queue.ListSource{Name: cmd.String("title"), Items: tracks}, nil
}

// lookupTrack returns the library metadata for id, or a bare track when it was never seen.
func (r *Runner) lookupTrack(ctx context.Context, store *repositories.Store, id string) models.Track {
	if t, err := store.GetTrack(ctx, id); err == nil && t != nil {
		return *t
	}
	return models.Track{ID: id, Title: id, Duration: models.UnknownDuration}
}

// Resume restores the saved queue and starts playing where it left off.
func (r *Runner) Resume(ctx context.Context, cmd *cli.Command) error {
	withUI := cmd.Bool("ui")
	if withUI {
		if err := r.useFileLogger(); err != nil {
			return err
		}
	}

	s, err := r.startSession(ctx, nil)
	if err != nil {
		return err
	}
	defer s.close()

	ok, err := s.supervisor.Restore(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore queue: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: nothing to resume", shared.ErrNoSnapshot)
	}
	if err := s.supervisor.Play(); err != nil {
		return err
	}

	if withUI {
		return r.runUI(ctx, s)
	}
	return r.follow(ctx, s)
}

// TUI opens the interactive player with the saved queue, if any, loaded but paused.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	if err := r.useFileLogger(); err != nil {
		return err
	}

	s, err := r.startSession(ctx, nil)
	if err != nil {
		return err
	}
	defer s.close()

	if _, err := s.supervisor.Restore(ctx); err != nil {
		r.logger.Warn("failed to restore queue", "error", err)
	}
	return r.runUI(ctx, s)
}

// useFileLogger redirects logs to a file so they do not interfere with TUI rendering.
func (r *Runner) useFileLogger() error {
	if r.config.Log.File != "" {
		return nil
	}
	fileLogger, err := shared.NewFileLogger(tuiLogPath)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)
	return nil
}

func (r *Runner) runUI(ctx context.Context, s *session) error {
	model := ui.NewModel(ctx, s.supervisor)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return s.close()
}

// follow prints each track as it starts and returns when the queue finishes, playback
// halts on an error, or ctx ends.
func (r *Runner) follow(ctx context.Context, s *session) error {
	updates, unsubscribe := s.supervisor.Subscribe()
	defer unsubscribe()

	var current string
	for {
		select {
		case <-ctx.Done():
			return s.close()
		case st, ok := <-updates:
			if !ok {
				return s.close()
			}
			if st.Track != nil && st.Track.ID != current {
				current = st.Track.ID
				r.writePlain("▶ %d/%d %s [%s]\n", st.Index+1, st.Length, st.Track, shared.FormatDuration(st.Duration()))
			}
			switch {
			case st.Ended:
				r.writePlain("✓ Queue finished\n")
				return s.close()
			case halted(st):
				r.writePlain("✗ %s\n", ui.ErrorText(st.Error))
				return fmt.Errorf("playback stopped: %s", st.ErrorDetail)
			}
		}
	}
}

func halted(st playback.Status) bool {
	return st.Error != "" && !st.Playing && !st.Buffering
}
