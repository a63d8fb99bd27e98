package worker

import (
	"context"
	"log/slog"
	"time"
)

// Prunable is anything holding expired state that can be reclaimed.
type Prunable interface {
	Prune() int
}

// Janitor periodically reclaims expired entries from the in-memory report
// cache. Lookups already treat expired entries as misses; the janitor only
// bounds memory growth. Only started when the process runs without Redis.
type Janitor struct {
	target   Prunable
	logger   *slog.Logger
	interval time.Duration
}

// NewJanitor creates a new janitor worker
func NewJanitor(target Prunable, logger *slog.Logger, interval time.Duration) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Janitor{target: target, logger: logger, interval: interval}
}

// Start runs the prune loop until the context is cancelled. Meant to run in
// its own goroutine.
func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("cache janitor started", slog.Duration("interval", j.interval))
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("cache janitor stopped")
			return
		case <-ticker.C:
			if dropped := j.target.Prune(); dropped > 0 {
				j.logger.Debug("pruned expired cache entries", slog.Int("dropped", dropped))
			}
		}
	}
}
