package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/lifecycle"
	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, user_id, status, subtotal, discount, tax, shipping, total,
	customer_name, customer_email, customer_phone, shipping_address, billing_address,
	payment_method, voucher_id, voucher_code, notes, created_at, updated_at`

// CreateOrderWithItems writes an order and all of its items as one unit of work.
// On success order.ID, the timestamps, and every item's ID and OrderID are set.
func (s *Store) CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO orders (user_id, status, subtotal, discount, tax, shipping, total,
				customer_name, customer_email, customer_phone, shipping_address, billing_address,
				payment_method, voucher_id, voucher_code, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			RETURNING id, created_at, updated_at`

		err := tx.QueryRowxContext(ctx, query,
			order.UserID, order.Status, order.Subtotal, order.Discount, order.Tax, order.Shipping, order.Total,
			order.CustomerName, order.CustomerEmail, order.CustomerPhone, order.ShippingAddress, order.BillingAddress,
			order.PaymentMethod, order.VoucherID, order.VoucherCode, order.Notes,
		).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		for i := range items {
			items[i].OrderID = order.ID
			err := tx.QueryRowxContext(ctx, `
				INSERT INTO order_items (order_id, product_id, name, price, quantity, metadata)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING id`,
				items[i].OrderID, items[i].ProductID, items[i].Name, items[i].Price, items[i].Quantity, items[i].Metadata,
			).Scan(&items[i].ID)
			if err != nil {
				return fmt.Errorf("failed to insert order item %d: %w", i, err)
			}
		}

		return nil
	})
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewNotFoundError("order", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

// ListOrders retrieves orders newest first, optionally for one customer
func (s *Store) ListOrders(ctx context.Context, userID *int64) ([]models.Order, error) {
	orders := []models.Order{}
	var err error
	if userID != nil {
		err = s.db.SelectContext(ctx, &orders,
			"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC", *userID)
	} else {
		err = s.db.SelectContext(ctx, &orders,
			"SELECT "+orderColumns+" FROM orders ORDER BY created_at DESC, id DESC")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := s.db.SelectContext(ctx, &items,
		"SELECT id, order_id, product_id, name, price, quantity, metadata FROM order_items WHERE order_id = $1 ORDER BY id",
		orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	return items, nil
}

type statusSwap struct {
	models.Order
	PreviousStatus lifecycle.Status `db:"previous_status"`
}

// UpdateOrderStatus sets a new status and returns the updated order together with
// the status it replaced. The previous row is locked, so concurrent transitions
// on the same order each observe their true predecessor.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, status lifecycle.Status) (*models.Order, lifecycle.Status, error) {
	var row statusSwap
	err := s.db.GetContext(ctx, &row, `
		UPDATE orders o SET status = $1, updated_at = NOW()
		FROM (SELECT id, status FROM orders WHERE id = $2 FOR UPDATE) prev
		WHERE o.id = prev.id
		RETURNING prev.status AS previous_status, o.id, o.user_id, o.status, o.subtotal, o.discount, o.tax,
			o.shipping, o.total, o.customer_name, o.customer_email, o.customer_phone, o.shipping_address,
			o.billing_address, o.payment_method, o.voucher_id, o.voucher_code, o.notes, o.created_at, o.updated_at`,
		status, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", apperr.NewNotFoundError("order", orderID)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to update order status: %w", err)
	}
	return &row.Order, row.PreviousStatus, nil
}

// CountOrdersByCustomerStatus groups all orders by customer and raw status
func (s *Store) CountOrdersByCustomerStatus(ctx context.Context) ([]models.OrderStatusCount, error) {
	var counts []models.OrderStatusCount
	err := s.db.SelectContext(ctx, &counts,
		"SELECT user_id, status, COUNT(*) AS count FROM orders GROUP BY user_id, status ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}
	return counts, nil
}

// FindVoucherMismatches lists orders whose voucher reference is not reflected in the voucher ledger
func (s *Store) FindVoucherMismatches(ctx context.Context) ([]models.VoucherMismatch, error) {
	var out []models.VoucherMismatch
	err := s.db.SelectContext(ctx, &out, `
		SELECT o.id AS order_id, o.user_id, o.voucher_id,
			(v.id IS NOT NULL) AS voucher_exists,
			COALESCE(v.is_availed, FALSE) AS is_availed,
			v.order_id AS availed_order_id
		FROM orders o
		LEFT JOIN vouchers v ON v.id = o.voucher_id
		WHERE o.voucher_id IS NOT NULL
			AND (v.id IS NULL OR v.is_availed = FALSE OR v.order_id IS DISTINCT FROM o.id)
		ORDER BY o.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to find voucher mismatches: %w", err)
	}
	return out, nil
}

// FindOrdersWithoutItems lists orders that have no item rows
func (s *Store) FindOrdersWithoutItems(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, `
		SELECT o.id FROM orders o
		WHERE NOT EXISTS (SELECT 1 FROM order_items i WHERE i.order_id = o.id)
		ORDER BY o.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to find orders without items: %w", err)
	}
	return ids, nil
}
