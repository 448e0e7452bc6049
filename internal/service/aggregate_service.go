package service

import (
	"context"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/lifecycle"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// AggregateService maintains the per-customer order counters
type AggregateService struct {
	repo     AggregateRepository
	cache    AggregateCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewAggregateService creates a new aggregate service. cache may be nil.
func NewAggregateService(repo AggregateRepository, cache AggregateCache, cacheTTL time.Duration) *AggregateService {
	return &AggregateService{
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   util.GetLogger(),
	}
}

// Apply adds delta to a customer's counters. Fields that would go negative are
// clamped at zero and reported.
func (s *AggregateService) Apply(ctx context.Context, customerID int64, delta lifecycle.Delta) (models.CustomerAggregate, error) {
	ctx, span := util.StartSpan(ctx, "AggregateService.Apply")
	defer span.End()

	agg, clamped, err := s.repo.ApplyAggregateDelta(ctx, customerID, delta)
	if err != nil {
		util.RecordError(span, err)
		util.AggregateApplyFailuresTotal.Inc()
		return models.CustomerAggregate{}, apperr.NewPersistenceError("apply aggregate delta", err)
	}

	for _, field := range clamped {
		util.AggregateCounterClampedTotal.WithLabelValues(field).Inc()
		s.logger.Warn("Aggregate counter clamped at zero",
			zap.Int64("customer_id", customerID),
			zap.String("field", field),
			zap.Any("delta", delta),
		)
	}

	s.invalidate(ctx, customerID)
	return agg, nil
}

// Get returns a customer's counters, served from cache when possible
func (s *AggregateService) Get(ctx context.Context, customerID int64) (*models.CustomerAggregate, error) {
	if s.cache != nil {
		cached, err := s.cache.GetAggregate(ctx, customerID)
		if err != nil {
			s.logger.Warn("Aggregate cache read failed", zap.Int64("customer_id", customerID), zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	agg, err := s.repo.GetAggregate(ctx, customerID)
	if err != nil {
		return nil, apperr.NewPersistenceError("get aggregate", err)
	}

	if s.cache != nil {
		if err := s.cache.SetAggregate(ctx, *agg, s.cacheTTL); err != nil {
			s.logger.Warn("Aggregate cache write failed", zap.Int64("customer_id", customerID), zap.Error(err))
		}
	}
	return agg, nil
}

// Recount rebuilds a customer's counters from the orders table under the row
// lock. The cache entry is dropped only when the counters changed.
func (s *AggregateService) Recount(ctx context.Context, customerID int64) (before, after models.CustomerAggregate, changed bool, err error) {
	before, after, changed, err = s.repo.RecountAggregate(ctx, customerID)
	if err != nil {
		return before, after, false, apperr.NewPersistenceError("recount aggregate", err)
	}
	if changed {
		s.invalidate(ctx, customerID)
	}
	return before, after, changed, nil
}

func (s *AggregateService) invalidate(ctx context.Context, customerID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateAggregate(ctx, customerID); err != nil {
		s.logger.Warn("Aggregate cache invalidation failed", zap.Int64("customer_id", customerID), zap.Error(err))
	}
}
