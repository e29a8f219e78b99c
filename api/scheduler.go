/*
scheduler.go - Automated monthly budget reset scheduler

PURPOSE:
  Periodically checks whether the active program's giving budgets have
  been reset for the current month and performs the reset if not.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - One reset per (program, period); completed runs are recorded and
    replays no-op, so the check interval can be much shorter than the
    period without double-resetting
  - Only the active program is reset; retired programs keep their
    final budget state for audit

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewBudgetResetScheduler(handler, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerBudgetReset endpoint (manual reset)
  - wallet/manager.go: ResetBudgets implementation
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/pulse/reward-engine/logging"
	"github.com/pulse/reward-engine/reward"
)

// BudgetResetScheduler handles automated monthly budget resets.
type BudgetResetScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	log    *logging.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewBudgetResetScheduler creates a new scheduler.
func NewBudgetResetScheduler(handler *Handler, log *logging.Logger) *BudgetResetScheduler {
	return &BudgetResetScheduler{
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           log,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (bs *BudgetResetScheduler) Start() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if !bs.Enabled {
		bs.log.Info("budget reset scheduler disabled, not starting")
		return
	}

	bs.ticker = time.NewTicker(bs.CheckInterval)
	bs.wg.Add(1)

	go bs.run()

	bs.log.Info("budget reset scheduler started", "check_interval", bs.CheckInterval)
}

// Stop stops the scheduler.
func (bs *BudgetResetScheduler) Stop() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.ticker != nil {
		bs.ticker.Stop()
		close(bs.stop)
		bs.wg.Wait()
		bs.log.Info("budget reset scheduler stopped")
	}
}

func (bs *BudgetResetScheduler) run() {
	defer bs.wg.Done()

	// Run immediately on start
	bs.checkAndReset()

	for {
		select {
		case <-bs.ticker.C:
			bs.checkAndReset()
		case <-bs.stop:
			return
		}
	}
}

func (bs *BudgetResetScheduler) checkAndReset() {
	ctx := context.Background()
	period := reward.CurrentMonthKey()

	active, err := bs.Handler.Programs.Active(ctx)
	if err != nil {
		bs.log.Error("budget reset check failed", "error", err)
		return
	}
	if active == nil {
		return
	}

	run, err := bs.Handler.Wallets.ResetBudgets(ctx, active.ID, period)
	if err != nil {
		bs.log.Error("budget reset failed",
			"program_id", active.ID, "period", period, "error", err)
		return
	}
	if run != nil {
		bs.log.Info("budget reset completed",
			"program_id", active.ID, "period", period, "wallets_reset", run.WalletsReset)
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (bs *BudgetResetScheduler) RunNow() {
	bs.checkAndReset()
}
