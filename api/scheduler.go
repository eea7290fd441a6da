/*
scheduler.go - Background refresh scheduler

PURPOSE:
  Periodically re-reads the catalog and the ledger document so that a
  long-running server picks up catalog edits and writes made by another
  device without a manual reload.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on start
  - A refresh that finds a reload already in flight is skipped, not queued
  - Failures are logged; the last good snapshot stays in place

USAGE:
  scheduler := NewRefreshScheduler(service, 5*time.Minute, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Reload endpoint (manual refresh)
  - points/service.go: Reload
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/points-engine/ledger"
)

// Reloader is the part of points.Service the scheduler drives.
type Reloader interface {
	Reload(ctx context.Context) error
}

// RefreshScheduler reloads on a fixed interval.
type RefreshScheduler struct {
	Target   Reloader
	Interval time.Duration
	Log      *zap.Logger

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
}

// NewRefreshScheduler creates a scheduler. It does nothing until Start.
func NewRefreshScheduler(target Reloader, interval time.Duration, log *zap.Logger) *RefreshScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &RefreshScheduler{
		Target:   target,
		Interval: interval,
		Log:      log.Named("refresh"),
	}
}

// Start begins the scheduler. A non-positive interval disables it.
func (rs *RefreshScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.Interval <= 0 {
		rs.Log.Info("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.Interval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)
	go rs.run(rs.ticker, rs.stop)

	rs.Log.Info("started", zap.Duration("interval", rs.Interval))
}

// Stop halts the scheduler and waits for a running refresh to finish.
func (rs *RefreshScheduler) Stop() {
	rs.mu.Lock()
	if rs.ticker == nil {
		rs.mu.Unlock()
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.ticker = nil
	rs.mu.Unlock()

	rs.wg.Wait()
	rs.Log.Info("stopped")
}

// LastRun returns when the last refresh finished, successfully or not.
func (rs *RefreshScheduler) LastRun() time.Time {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.lastRun
}

func (rs *RefreshScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	rs.refresh(ctx)

	for {
		select {
		case <-ticker.C:
			rs.refresh(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one refresh synchronously.
func (rs *RefreshScheduler) RunNow(ctx context.Context) error {
	return rs.refresh(ctx)
}

func (rs *RefreshScheduler) refresh(ctx context.Context) error {
	err := rs.Target.Reload(ctx)
	switch {
	case err == nil:
		rs.Log.Debug("refreshed")
	case errors.Is(err, ledger.ErrActionInFlight):
		rs.Log.Debug("reload already running, skipped")
	default:
		rs.Log.Warn("refresh failed, keeping last snapshot", zap.Error(err))
	}

	rs.mu.Lock()
	rs.lastRun = time.Now()
	rs.mu.Unlock()
	return err
}
