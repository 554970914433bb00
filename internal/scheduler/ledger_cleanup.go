package scheduler

import (
	"context"
	"time"

	"pipeline_backend/platform/logger"
)

const defaultLedgerCleanupInterval = time.Hour

// LedgerPurger deletes ledger rows past retention, never inside floor.
type LedgerPurger interface {
	PurgeLedger(ctx context.Context, retention, floor time.Duration) (int64, error)
}

// LedgerCleanup periodically trims the execution ledger.
type LedgerCleanup struct {
	purger    LedgerPurger
	log       *logger.Logger
	interval  time.Duration
	retention time.Duration
	floor     time.Duration
}

func NewLedgerCleanup(purger LedgerPurger, log *logger.Logger, interval, retention, floor time.Duration) *LedgerCleanup {
	if interval <= 0 {
		interval = defaultLedgerCleanupInterval
	}
	return &LedgerCleanup{
		purger:    purger,
		log:       log,
		interval:  interval,
		retention: retention,
		floor:     floor,
	}
}

func (c *LedgerCleanup) Run(ctx context.Context) {
	if c == nil || c.purger == nil {
		return
	}

	c.cleanup(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

func (c *LedgerCleanup) cleanup(ctx context.Context) {
	if _, err := c.purger.PurgeLedger(ctx, c.retention, c.floor); err != nil {
		c.log.Warn("ledger cleanup failed", "error", err)
	}
}
