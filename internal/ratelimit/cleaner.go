package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper removes expired records from a store that cannot expire them on its own.
type Sweeper interface {
	Sweep(now time.Time) int
}

// Cleaner periodically sweeps expired rate-limit records.
type Cleaner struct {
	sweeper  Sweeper
	log      *slog.Logger
	interval time.Duration
}

// NewCleaner constructs a Cleaner instance.
func NewCleaner(sweeper Sweeper, log *slog.Logger, interval time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}

	return &Cleaner{
		sweeper:  sweeper,
		log:      log,
		interval: interval,
	}
}

// Run starts the cleaner loop until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c.sweeper == nil || c.interval <= 0 {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("rate limit cleaner stopped", slog.String("reason", ctx.Err().Error()))
			return
		case now := <-ticker.C:
			c.cleanup(now)
		}
	}
}

func (c *Cleaner) cleanup(now time.Time) {
	if removed := c.sweeper.Sweep(now); removed > 0 {
		c.log.Info("rate limit records cleaned", slog.Int("records_removed", removed))
	}
}
