package session

import (
	"context"
	"log/slog"
	"time"
)

// Purger removes expired sessions.
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// RunCleanup purges expired sessions now and then every interval until ctx
// is cancelled. Failures are logged and the loop keeps going.
func RunCleanup(ctx context.Context, p Purger, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	slog.Info("session cleanup started", "interval", interval)

	purge(ctx, p)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session cleanup stopped")
			return
		case <-ticker.C:
			purge(ctx, p)
		}
	}
}

func purge(ctx context.Context, p Purger) {
	start := time.Now()
	n, err := p.Purge(ctx)
	if err != nil {
		slog.Error("session purge failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("expired sessions purged", "count", n, "duration_ms", time.Since(start).Milliseconds())
	}
}
