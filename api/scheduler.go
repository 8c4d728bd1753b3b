/*
scheduler.go - Background maintenance scheduler

PURPOSE:
  Periodically persists work that reads would otherwise do lazily: legacy
  records converted on load are written back in the itemized shape, and
  transactions whose cached totals are stale get fresh totals.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Each sweep is an ordinary service mutation (writer mutex + store tx)
  - Failures are logged; the next tick retries

CONFIGURATION:
  - CheckInterval: How often to sweep (MAINTENANCE_INTERVAL, default 1h)
  - Enabled: false when the interval is 0

USAGE:
  scheduler := NewMaintenanceScheduler(service, logger, time.Hour)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - compras/service.go: MigrateLegacy, BackfillTotals
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/points-engine/compras"
)

// MaintenanceScheduler runs the migration and totals sweeps.
type MaintenanceScheduler struct {
	Service       *compras.Service
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
}

// NewMaintenanceScheduler creates a scheduler; an interval of 0 disables it.
func NewMaintenanceScheduler(svc *compras.Service, logger *zap.Logger, interval time.Duration) *MaintenanceScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MaintenanceScheduler{
		Service:       svc,
		Logger:        logger.Named("scheduler"),
		CheckInterval: interval,
		Enabled:       interval > 0,
	}
}

// Start begins the scheduler.
func (ms *MaintenanceScheduler) Start() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if !ms.Enabled {
		ms.Logger.Info("disabled, not starting")
		return
	}
	if ms.ticker != nil {
		return
	}

	ms.ticker = time.NewTicker(ms.CheckInterval)
	ms.stop = make(chan struct{})
	ms.wg.Add(1)

	go ms.run(ms.ticker, ms.stop)

	ms.Logger.Info("started", zap.Duration("interval", ms.CheckInterval))
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (ms *MaintenanceScheduler) Stop() {
	ms.mu.Lock()
	ticker, stop := ms.ticker, ms.stop
	ms.ticker = nil
	ms.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	// RunNow takes mu, so wait without holding it.
	ms.wg.Wait()
	ms.Logger.Info("stopped")
}

func (ms *MaintenanceScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer ms.wg.Done()

	ms.RunNow(context.Background())

	for {
		select {
		case <-ticker.C:
			ms.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// SweepResult reports what one sweep wrote.
type SweepResult struct {
	Migrated   int
	Backfilled int
}

// RunNow performs one sweep synchronously.
func (ms *MaintenanceScheduler) RunNow(ctx context.Context) SweepResult {
	var res SweepResult

	migrated, err := ms.Service.MigrateLegacy(ctx)
	if err != nil {
		ms.Logger.Warn("legacy migration failed", zap.Error(err))
	}
	res.Migrated = migrated

	backfilled, err := ms.Service.BackfillTotals(ctx)
	if err != nil {
		ms.Logger.Warn("totals backfill failed", zap.Error(err))
	}
	res.Backfilled = backfilled

	ms.mu.Lock()
	ms.lastRun = time.Now()
	ms.mu.Unlock()

	if res.Migrated > 0 || res.Backfilled > 0 {
		ms.Logger.Info("sweep wrote records",
			zap.Int("migrated", res.Migrated),
			zap.Int("backfilled", res.Backfilled),
		)
	}
	return res
}

// LastRun returns when the last sweep finished.
func (ms *MaintenanceScheduler) LastRun() time.Time {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.lastRun
}
