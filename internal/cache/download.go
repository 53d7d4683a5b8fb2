package cache

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/desertthunder/ytplay/internal/models"
	"github.com/desertthunder/ytplay/internal/shared"
)

// Download copies a whole track into the permanent layer. Chunks already in the rolling
// layer are reused; nothing new is written to the rolling layer.
func (l *Layered) Download(ctx context.Context, trackID string) error {
	if l.permanent == nil {
		return fmt.Errorf("%w: no download backend configured", shared.ErrMissingConfig)
	}
	if models.IsLocalID(trackID) {
		return fmt.Errorf("%w: %s is a local file", shared.ErrInvalidInput, trackID)
	}
	if done, err := l.Downloaded(ctx, trackID); err != nil {
		return err
	} else if done {
		l.logger.Debug("track already downloaded", "track", trackID)
		return nil
	}

	first, err := l.chunkAt(ctx, trackID, 0)
	if err != nil {
		return err
	}
	if len(first.Data) == 0 {
		return fmt.Errorf("%w: %s is empty", shared.ErrRemote, trackID)
	}

	pr, pw := io.Pipe()
	go func() {
		c := first
		var off int64
		for {
			if _, err := pw.Write(c.Data); err != nil {
				return
			}
			off += int64(len(c.Data))
			if c.Total >= 0 && off >= c.Total {
				pw.Close()
				return
			}
			next, err := l.chunkAt(ctx, trackID, off)
			if errors.Is(err, io.EOF) || (err == nil && len(next.Data) == 0) {
				pw.Close()
				return
			}
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			c = next
		}
	}()

	if err := l.permanent.Save(ctx, trackID, pr, first.Total); err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("download %s: %w", trackID, err)
	}
	l.logger.Info("downloaded track", "track", trackID, "bytes", first.Total)
	return nil
}

func (l *Layered) chunkAt(ctx context.Context, trackID string, off int64) (*Chunk, error) {
	if c, ok := l.fromLayer(ctx, l.rolling, LayerRolling, trackID, off, l.chunk); ok {
		return c, nil
	}
	return l.fetch(ctx, trackID, off, l.chunk)
}
