/*
reconciler.go - Background re-drive of unfinished sagas

PURPOSE:
  Periodically asks the orchestrator to converge every saga whose approval
  is decided but whose fan-out did not finish (process crash between the
  decision and the fan-out, or retries exhausted against a flaky service).

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on start
  - A failing saga never stops the pass; it stays pending for the next tick
  - Failed sagas (ledger refused) are left for an operator

USAGE:
  r := NewReconciler(orchestrator, time.Minute, logger)
  r.Start()
  // ... later
  r.Stop()

SEE ALSO:
  - orchestrator.go: Reconcile
  - api: POST /api/admin/reconcile (manual trigger)
*/
package workflow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reconciler periodically calls Orchestrator.Reconcile.
type Reconciler struct {
	orchestrator *Orchestrator
	interval     time.Duration
	logger       *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewReconciler runs o.Reconcile every interval once started.
func NewReconciler(o *Orchestrator, interval time.Duration, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.L()
	}
	l := logger.Named("workflow.reconciler")
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{orchestrator: o, interval: interval, logger: l}
}

// Start begins the background loop. Calling it twice is a no-op.
func (r *Reconciler) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true
	r.wg.Add(1)
	go r.run(ctx)

	r.logger.Info("reconciler started", zap.Duration("interval", r.interval))
}

// Stop ends the loop and waits for an in-flight pass to return.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.cancel()
	r.wg.Wait()
	r.running = false
	r.logger.Info("reconciler stopped")
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			r.RunNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunNow performs one pass synchronously.
func (r *Reconciler) RunNow(ctx context.Context) ReconcileReport {
	report, err := r.orchestrator.Reconcile(ctx)
	if err != nil && ctx.Err() == nil {
		r.logger.Error("reconciliation pass failed", zap.Error(err))
	}
	return report
}
