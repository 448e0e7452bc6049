package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fulfillment-service/internal/lifecycle"
	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const aggregateColumns = "customer_id, total_orders, pending_count, completed_count, updated_at"

// ApplyAggregateDelta adds a signed delta to a customer's counters under a row lock.
// Each field is clamped at zero; the names of clamped fields are returned.
func (s *Store) ApplyAggregateDelta(ctx context.Context, customerID int64, delta lifecycle.Delta) (models.CustomerAggregate, []string, error) {
	var (
		result  models.CustomerAggregate
		clamped []string
	)

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO customer_aggregates (customer_id) VALUES ($1) ON CONFLICT (customer_id) DO NOTHING",
			customerID); err != nil {
			return fmt.Errorf("failed to ensure aggregate row: %w", err)
		}

		var current models.CustomerAggregate
		if err := tx.GetContext(ctx, &current,
			"SELECT "+aggregateColumns+" FROM customer_aggregates WHERE customer_id = $1 FOR UPDATE",
			customerID); err != nil {
			return fmt.Errorf("failed to lock aggregate: %w", err)
		}

		result, clamped = current.Apply(delta)

		return tx.GetContext(ctx, &result.UpdatedAt, `
			UPDATE customer_aggregates
			SET total_orders = $2, pending_count = $3, completed_count = $4, updated_at = NOW()
			WHERE customer_id = $1
			RETURNING updated_at`,
			customerID, result.TotalOrders, result.PendingCount, result.CompletedCount)
	})
	if err != nil {
		return models.CustomerAggregate{}, nil, err
	}
	return result, clamped, nil
}

// GetAggregate retrieves a customer's counters; a customer without a row has all zeros
func (s *Store) GetAggregate(ctx context.Context, customerID int64) (*models.CustomerAggregate, error) {
	var agg models.CustomerAggregate
	err := s.db.GetContext(ctx, &agg,
		"SELECT "+aggregateColumns+" FROM customer_aggregates WHERE customer_id = $1", customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.CustomerAggregate{CustomerID: customerID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get aggregate: %w", err)
	}
	return &agg, nil
}

// ListAggregates retrieves every stored aggregate row
func (s *Store) ListAggregates(ctx context.Context) ([]models.CustomerAggregate, error) {
	var aggs []models.CustomerAggregate
	err := s.db.SelectContext(ctx, &aggs, "SELECT "+aggregateColumns+" FROM customer_aggregates ORDER BY customer_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregates: %w", err)
	}
	return aggs, nil
}

// RecountAggregate recomputes a customer's counters from their orders while
// holding the aggregate row lock, so deltas committed meanwhile are not lost.
// It returns the counters before and after and whether they changed.
func (s *Store) RecountAggregate(ctx context.Context, customerID int64) (before, after models.CustomerAggregate, changed bool, err error) {
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO customer_aggregates (customer_id) VALUES ($1) ON CONFLICT (customer_id) DO NOTHING",
			customerID); err != nil {
			return fmt.Errorf("failed to ensure aggregate row: %w", err)
		}

		if err := tx.GetContext(ctx, &before,
			"SELECT "+aggregateColumns+" FROM customer_aggregates WHERE customer_id = $1 FOR UPDATE",
			customerID); err != nil {
			return fmt.Errorf("failed to lock aggregate: %w", err)
		}

		var counts []models.OrderStatusCount
		if err := tx.SelectContext(ctx, &counts,
			"SELECT user_id, status, COUNT(*) AS count FROM orders WHERE user_id = $1 GROUP BY user_id, status",
			customerID); err != nil {
			return fmt.Errorf("failed to count orders: %w", err)
		}

		after = models.FoldStatusCounts(counts)[customerID]
		after.CustomerID = customerID
		if before.Equal(after) {
			after = before
			return nil
		}
		changed = true

		return tx.GetContext(ctx, &after.UpdatedAt, `
			UPDATE customer_aggregates
			SET total_orders = $2, pending_count = $3, completed_count = $4, updated_at = NOW()
			WHERE customer_id = $1
			RETURNING updated_at`,
			customerID, after.TotalOrders, after.PendingCount, after.CompletedCount)
	})
	if err != nil {
		return models.CustomerAggregate{}, models.CustomerAggregate{}, false, err
	}
	return before, after, changed, nil
}
