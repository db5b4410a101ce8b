package storage

import (
	"context"
	"log/slog"
	"time"
)

// CleanupExpired prunes runs older than the configured retention every interval until ctx is done.
func (stg *storage) CleanupExpired(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := stg.log.With(slog.String("action", "cleanup_expired_history"), slog.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			stg.performCleanup(ctx, log)
		case <-ctx.Done():
			log.Info("cleanup expired history stopped")

			return
		}
	}
}

func (stg *storage) performCleanup(ctx context.Context, log *slog.Logger) {
	cutoff := time.Now().Add(-stg.cfg.History.Retention)

	n, err := stg.DeleteBefore(ctx, cutoff)
	if err != nil {
		log.ErrorContext(ctx, "history cleanup failed", slog.Any("error", err))

		return
	}

	if n == 0 {
		log.DebugContext(ctx, "no expired history found to clean up")

		return
	}

	log.InfoContext(ctx, "expired history removed", slog.Int64("count", n), slog.Time("cutoff", cutoff))
}
