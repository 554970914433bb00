package scheduler

import (
	"context"
	"testing"
	"time"

	"pipeline_backend/platform/logger"
)

type countingPurger struct {
	calls     int
	retention time.Duration
	floor     time.Duration
}

func (p *countingPurger) PurgeLedger(_ context.Context, retention, floor time.Duration) (int64, error) {
	p.calls++
	p.retention, p.floor = retention, floor
	return 0, nil
}

func TestLedgerCleanupPurgesOnStartAndStops(t *testing.T) {
	purger := &countingPurger{}
	cleanup := NewLedgerCleanup(purger, logger.Discard(), time.Hour, 90*24*time.Hour, 30*24*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cleanup.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if purger.calls != 1 {
		t.Fatalf("expected one purge on start, got %d", purger.calls)
	}
	if purger.retention != 90*24*time.Hour || purger.floor != 30*24*time.Hour {
		t.Fatalf("unexpected retention %s floor %s", purger.retention, purger.floor)
	}
}
