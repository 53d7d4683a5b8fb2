package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// CacheClear empties the rolling streaming cache. Downloaded tracks are kept.
func (r *Runner) CacheClear(ctx context.Context, cmd *cli.Command) error {
	rolling, err := r.newRolling()
	if err != nil {
		return fmt.Errorf("failed to open streaming cache: %w", err)
	}
	freed := rolling.Used()
	if err := rolling.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear streaming cache: %w", err)
	}

	r.logger.Info("cleared streaming cache", "bytes", freed)
	r.writePlain("✓ Streaming cache cleared (%s freed)\n", formatBytes(freed))
	return nil
}

// CacheStatus reports how much of the rolling budget is in use.
func (r *Runner) CacheStatus(ctx context.Context, cmd *cli.Command) error {
	rolling, err := r.newRolling()
	if err != nil {
		return fmt.Errorf("failed to open streaming cache: %w", err)
	}

	r.writePlainHeader("Streaming cache")
	r.writePlain("Used:   %s\n", formatBytes(rolling.Used()))
	r.writePlain("Budget: %s\n", formatBytes(r.config.Cache.PlayerMaxMB<<20))
	r.writePlain("Downloads: %s (%s)\n", r.config.Cache.DownloadBackend, r.config.Cache.Dir)
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
