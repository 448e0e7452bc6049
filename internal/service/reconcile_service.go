package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	reconcileLockKey = "reconcile"
	reconcileLockTTL = 10 * time.Minute
)

// CounterDrift is one customer whose stored counters disagreed with its orders
type CounterDrift struct {
	CustomerID int64                    `json:"customer_id"`
	Stored     models.CustomerAggregate `json:"stored"`
	Actual     models.CustomerAggregate `json:"actual"`
}

// ReconcileReport summarizes one reconciliation run
type ReconcileReport struct {
	Skipped            bool                     `json:"skipped"`
	StartedAt          time.Time                `json:"started_at"`
	FinishedAt         time.Time                `json:"finished_at"`
	CustomersChecked   int                      `json:"customers_checked"`
	CounterDrift       []CounterDrift           `json:"counter_drift"`
	VoucherMismatches  []models.VoucherMismatch `json:"voucher_mismatches"`
	OrdersWithoutItems []int64                  `json:"orders_without_items"`
}

type ReconcileConfig struct {
	HealVouchers bool
	Parallelism  int
}

// ReconcileService recomputes derived state from the orders table and repairs
// what has drifted
type ReconcileService struct {
	scanner    ConsistencyScanner
	aggregates AggregateRepository
	counters   *AggregateService
	vouchers   VoucherRepository
	locker     Locker
	cfg        ReconcileConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewReconcileService creates a new reconcile service. locker may be nil.
func NewReconcileService(
	scanner ConsistencyScanner,
	aggregates AggregateRepository,
	counters *AggregateService,
	vouchers VoucherRepository,
	locker Locker,
	cfg ReconcileConfig,
) *ReconcileService {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	return &ReconcileService{
		scanner:    scanner,
		aggregates: aggregates,
		counters:   counters,
		vouchers:   vouchers,
		locker:     locker,
		cfg:        cfg,
		logger:     util.GetLogger(),
		now:        time.Now,
	}
}

// Run performs one reconciliation. When another instance holds the lock the
// run is skipped.
func (s *ReconcileService) Run(ctx context.Context) (*ReconcileReport, error) {
	ctx, span := util.StartSpan(ctx, "ReconcileService.Run")
	defer span.End()

	report := &ReconcileReport{
		StartedAt:          s.now(),
		CounterDrift:       []CounterDrift{},
		VoucherMismatches:  []models.VoucherMismatch{},
		OrdersWithoutItems: []int64{},
	}

	if s.locker != nil {
		token, acquired, err := s.locker.AcquireLock(ctx, reconcileLockKey, reconcileLockTTL)
		if err != nil {
			util.ReconcileRunsTotal.WithLabelValues("error").Inc()
			return nil, apperr.NewPersistenceError("acquire reconcile lock", err)
		}
		if !acquired {
			s.logger.Info("Reconciliation already running elsewhere, skipping")
			util.ReconcileRunsTotal.WithLabelValues("skipped").Inc()
			report.Skipped = true
			report.FinishedAt = s.now()
			return report, nil
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), reconcileLockKey, token); err != nil {
				s.logger.Warn("Failed to release reconcile lock", zap.Error(err))
			}
		}()
	}

	if err := s.reconcileCounters(ctx, report); err != nil {
		util.RecordError(span, err)
		util.ReconcileRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if err := s.reconcileVouchers(ctx, report); err != nil {
		util.RecordError(span, err)
		util.ReconcileRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	orphans, err := s.scanner.FindOrdersWithoutItems(ctx)
	if err != nil {
		util.ReconcileRunsTotal.WithLabelValues("error").Inc()
		return nil, apperr.NewPersistenceError("find orders without items", err)
	}
	if len(orphans) > 0 {
		report.OrdersWithoutItems = orphans
		util.ReconcileDriftTotal.WithLabelValues("order_without_items").Add(float64(len(orphans)))
		s.logger.Warn("Orders without items found", zap.Int64s("order_ids", orphans))
	}

	report.FinishedAt = s.now()
	util.ReconcileRunsTotal.WithLabelValues("success").Inc()
	s.logger.Info("Reconciliation finished",
		zap.Int("customers_checked", report.CustomersChecked),
		zap.Int("counter_drift", len(report.CounterDrift)),
		zap.Int("voucher_mismatches", len(report.VoucherMismatches)),
		zap.Int("orders_without_items", len(report.OrdersWithoutItems)),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

func (s *ReconcileService) reconcileCounters(ctx context.Context, report *ReconcileReport) error {
	counts, err := s.scanner.CountOrdersByCustomerStatus(ctx)
	if err != nil {
		return apperr.NewPersistenceError("count orders", err)
	}
	stored, err := s.aggregates.ListAggregates(ctx)
	if err != nil {
		return apperr.NewPersistenceError("list aggregates", err)
	}

	actual := models.FoldStatusCounts(counts)
	storedByID := make(map[int64]models.CustomerAggregate, len(stored))
	for _, agg := range stored {
		storedByID[agg.CustomerID] = agg
		if _, ok := actual[agg.CustomerID]; !ok {
			actual[agg.CustomerID] = models.CustomerAggregate{CustomerID: agg.CustomerID}
		}
	}

	ids := make([]int64, 0, len(actual))
	for id := range actual {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	report.CustomersChecked = len(ids)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)

	for _, id := range ids {
		id := id // per-iteration copy; go directive is 1.21 (local toolchain)
		want := actual[id]
		have, exists := storedByID[id]
		if exists && have.Equal(want) {
			continue
		}
		if !exists && want.Equal(models.CustomerAggregate{}) {
			continue
		}

		// The scan is only a hint; the recount decides under the row lock.
		g.Go(func() error {
			before, after, changed, err := s.counters.Recount(gctx, id)
			if err != nil {
				return err
			}
			if !changed {
				return nil
			}
			mu.Lock()
			report.CounterDrift = append(report.CounterDrift, CounterDrift{CustomerID: id, Stored: before, Actual: after})
			mu.Unlock()
			util.ReconcileDriftTotal.WithLabelValues("counter").Inc()
			s.logger.Warn("Customer counters healed",
				zap.Int64("customer_id", id),
				zap.Int("stored_total", before.TotalOrders),
				zap.Int("actual_total", after.TotalOrders),
				zap.Int("stored_pending", before.PendingCount),
				zap.Int("actual_pending", after.PendingCount),
				zap.Int("stored_completed", before.CompletedCount),
				zap.Int("actual_completed", after.CompletedCount),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	sort.Slice(report.CounterDrift, func(i, j int) bool {
		return report.CounterDrift[i].CustomerID < report.CounterDrift[j].CustomerID
	})
	return nil
}

func (s *ReconcileService) reconcileVouchers(ctx context.Context, report *ReconcileReport) error {
	mismatches, err := s.scanner.FindVoucherMismatches(ctx)
	if err != nil {
		return apperr.NewPersistenceError("find voucher mismatches", err)
	}

	healed := map[int64]bool{}
	for i := range mismatches {
		m := &mismatches[i]
		util.ReconcileDriftTotal.WithLabelValues("voucher").Inc()

		// Two orders may claim the same unavailed voucher; the first one in id order wins.
		if s.cfg.HealVouchers && m.VoucherExists && !m.IsAvailed && !healed[m.VoucherID] {
			_, ok, err := s.vouchers.MarkVoucherAvailed(ctx, m.VoucherID, m.UserID, m.OrderID, s.now())
			if err != nil {
				s.logger.Error("Failed to heal voucher", zap.Int64("voucher_id", m.VoucherID), zap.Error(err))
			} else if ok {
				m.Healed = true
				healed[m.VoucherID] = true
			}
		}

		s.logger.Warn("Voucher mismatch",
			zap.Int64("order_id", m.OrderID),
			zap.Int64("voucher_id", m.VoucherID),
			zap.Bool("voucher_exists", m.VoucherExists),
			zap.Bool("is_availed", m.IsAvailed),
			zap.Bool("healed", m.Healed),
		)
	}

	report.VoucherMismatches = append(report.VoucherMismatches, mismatches...)
	return nil
}
