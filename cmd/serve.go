package main

import (
	"context"
	"net/http"

	"github.com/desertthunder/ytplay/internal/server"
	"github.com/urfave/cli/v3"
)

// Serve runs the player headless behind the HTTP control API until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	addr := cmd.String("addr")
	if addr == "" {
		addr = r.config.Server.Addr()
	}

	s, err := r.startSession(ctx, nil)
	if err != nil {
		return err
	}
	defer s.close()

	if cmd.Bool("resume") {
		if _, err := s.supervisor.Restore(ctx); err != nil {
			r.logger.Warn("failed to restore queue", "error", err)
		}
	}

	srv := server.NewServer(addr, r.controlRouter(s), r.logger)
	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}
	return s.close()
}

func (r *Runner) controlRouter(s *session) http.Handler {
	router := server.NewBasicRouter()
	router.Use(server.Recover(r.logger), server.Logging(r.logger))
	router.Handler(server.NewControlHandler(s.supervisor, r.logger))
	router.HandleFunc(http.MethodGet, "/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return router
}
