package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// RunSweeper calls store.Sweep every interval until ctx is cancelled.
func RunSweeper(ctx context.Context, store Store, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Sweep(ctx)
			if err != nil {
				logger.Warn("rate limit sweep failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				logger.Debug("rate limit sweep", slog.Int("removed", n))
			}
		}
	}
}
