package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/lifecycle"
	"fulfillment-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPendingToCompleted(t *testing.T) {
	st := newMemStore()
	st.aggs[1] = models.CustomerAggregate{CustomerID: 1, TotalOrders: 5, PendingCount: 2, CompletedCount: 1}
	svc := NewAggregateService(st, nil, time.Minute)

	agg, err := svc.Apply(context.Background(), 1, lifecycle.ComputeDelta(lifecycle.StatusPending, lifecycle.StatusCompleted))
	require.NoError(t, err)
	assert.Equal(t, 5, agg.TotalOrders)
	assert.Equal(t, 1, agg.PendingCount)
	assert.Equal(t, 2, agg.CompletedCount)
}

func TestApplyClampsAtZero(t *testing.T) {
	st := newMemStore()
	svc := NewAggregateService(st, nil, time.Minute)

	agg, err := svc.Apply(context.Background(), 9, lifecycle.Delta{Total: 0, Pending: -1, Completed: -1})
	require.NoError(t, err)
	assert.Zero(t, agg.PendingCount)
	assert.Zero(t, agg.CompletedCount)
	assert.Zero(t, agg.TotalOrders)
}

func TestApplyCreatesRow(t *testing.T) {
	st := newMemStore()
	svc := NewAggregateService(st, nil, time.Minute)

	agg, err := svc.Apply(context.Background(), 3, lifecycle.InitialDelta(lifecycle.StatusPending))
	require.NoError(t, err)
	assert.Equal(t, models.CustomerAggregate{CustomerID: 3, TotalOrders: 1, PendingCount: 1}, agg)
}

func TestApplyFailureIsPersistenceError(t *testing.T) {
	st := newMemStore()
	st.applyErr = errors.New("connection refused")
	svc := NewAggregateService(st, nil, time.Minute)

	_, err := svc.Apply(context.Background(), 1, lifecycle.Delta{Total: 1})
	var pe *apperr.PersistenceError
	assert.ErrorAs(t, err, &pe)
}

func TestGetAggregateUsesCache(t *testing.T) {
	st := newMemStore()
	cache := newMemCache()
	svc := NewAggregateService(st, cache, time.Minute)
	ctx := context.Background()

	st.aggs[4] = models.CustomerAggregate{CustomerID: 4, TotalOrders: 2, PendingCount: 2}

	agg, err := svc.Get(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, agg.TotalOrders)
	assert.Contains(t, cache.entries, int64(4))

	// A stale store row is not visible while the cache entry lives.
	st.aggs[4] = models.CustomerAggregate{CustomerID: 4, TotalOrders: 99}
	agg, err = svc.Get(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, agg.TotalOrders)

	_, err = svc.Apply(ctx, 4, lifecycle.Delta{Total: 1})
	require.NoError(t, err)
	assert.NotContains(t, cache.entries, int64(4))
	assert.Contains(t, cache.invalidated, int64(4))

	agg, err = svc.Get(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 100, agg.TotalOrders)
}

func TestGetAggregateMissingIsZero(t *testing.T) {
	svc := NewAggregateService(newMemStore(), nil, time.Minute)

	agg, err := svc.Get(context.Background(), 77)
	require.NoError(t, err)
	assert.Equal(t, int64(77), agg.CustomerID)
	assert.Zero(t, agg.TotalOrders)
}
