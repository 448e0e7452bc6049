package worker

import (
	"context"
	"time"

	"fulfillment-service/internal/service"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// Reconciler is the work a ReconcileWorker performs on every tick
type Reconciler interface {
	Run(ctx context.Context) (*service.ReconcileReport, error)
}

// ReconcileWorker runs reconciliation on a fixed interval
type ReconcileWorker struct {
	reconciler Reconciler
	interval   time.Duration
	logger     *zap.Logger
	done       chan struct{}
}

// NewReconcileWorker creates a new reconcile worker. An interval of zero disables it.
func NewReconcileWorker(reconciler Reconciler, interval time.Duration) *ReconcileWorker {
	return &ReconcileWorker{
		reconciler: reconciler,
		interval:   interval,
		logger:     util.GetLogger(),
		done:       make(chan struct{}),
	}
}

// Start runs until ctx is cancelled
func (w *ReconcileWorker) Start(ctx context.Context) error {
	defer close(w.done)

	if w.interval <= 0 {
		w.logger.Info("Reconcile worker disabled")
		return nil
	}

	w.logger.Info("Starting reconcile worker", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Reconcile worker context cancelled, stopping...")
			return ctx.Err()
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop waits for Start to return. The caller cancels the context first.
func (w *ReconcileWorker) Stop() {
	<-w.done
	w.logger.Info("Reconcile worker stopped")
}

func (w *ReconcileWorker) runOnce(ctx context.Context) {
	report, err := w.reconciler.Run(ctx)
	if err != nil {
		w.logger.Error("Scheduled reconciliation failed", zap.Error(err))
		return
	}
	if report.Skipped {
		return
	}
	w.logger.Info("Scheduled reconciliation done",
		zap.Int("counter_drift", len(report.CounterDrift)),
		zap.Int("voucher_mismatches", len(report.VoucherMismatches)),
	)
}
