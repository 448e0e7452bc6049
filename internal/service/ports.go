package service

import (
	"context"
	"time"

	"fulfillment-service/internal/lifecycle"
	"fulfillment-service/internal/models"
)

// OrderRepository persists orders and their items
type OrderRepository interface {
	CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	ListOrders(ctx context.Context, userID *int64) ([]models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status lifecycle.Status) (*models.Order, lifecycle.Status, error)
}

// VoucherRepository persists vouchers
type VoucherRepository interface {
	CreateVoucher(ctx context.Context, v *models.Voucher) error
	GetVoucherByID(ctx context.Context, id int64) (*models.Voucher, error)
	GetVoucherByCode(ctx context.Context, code string) (*models.Voucher, error)
	VoucherCodeExists(ctx context.Context, code string) (bool, error)
	ListVouchers(ctx context.Context, availed *bool) ([]models.Voucher, error)
	MarkVoucherAvailed(ctx context.Context, id, customerID, orderID int64, now time.Time) (*models.Voucher, bool, error)
	DeleteVoucher(ctx context.Context, id int64) (bool, error)
	VoucherReferenced(ctx context.Context, id int64) (bool, error)
}

// AggregateRepository persists per-customer counters
type AggregateRepository interface {
	ApplyAggregateDelta(ctx context.Context, customerID int64, delta lifecycle.Delta) (models.CustomerAggregate, []string, error)
	GetAggregate(ctx context.Context, customerID int64) (*models.CustomerAggregate, error)
	ListAggregates(ctx context.Context) ([]models.CustomerAggregate, error)
	RecountAggregate(ctx context.Context, customerID int64) (before, after models.CustomerAggregate, changed bool, err error)
}

// CustomerDirectory reads customer records owned by another system
type CustomerDirectory interface {
	GetCustomerProfile(ctx context.Context, id int64) (*models.CustomerProfile, error)
	GetCustomerNames(ctx context.Context, ids []int64) (map[int64]string, error)
}

// ConsistencyScanner runs the whole-table queries used by reconciliation
type ConsistencyScanner interface {
	CountOrdersByCustomerStatus(ctx context.Context) ([]models.OrderStatusCount, error)
	FindVoucherMismatches(ctx context.Context) ([]models.VoucherMismatch, error)
	FindOrdersWithoutItems(ctx context.Context) ([]int64, error)
}

// AggregateCache is a read-through cache for customer counters
type AggregateCache interface {
	GetAggregate(ctx context.Context, customerID int64) (*models.CustomerAggregate, error)
	SetAggregate(ctx context.Context, agg models.CustomerAggregate, ttl time.Duration) error
	InvalidateAggregate(ctx context.Context, customerID int64) error
}

// IdempotencyStore remembers which order a client retry key produced
type IdempotencyStore interface {
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	SetIdempotencyResult(ctx context.Context, key string, orderID int64, ttl time.Duration) error
	GetIdempotencyResult(ctx context.Context, key string) (int64, bool, error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

// Locker is a cross-instance mutual exclusion primitive. Release only takes
// effect while token still owns the lock.
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (token string, acquired bool, err error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// EventPublisher emits domain events
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishVoucherAvailed(ctx context.Context, event *models.VoucherAvailedEvent) error
}

// Notifier hands confirmation emails to the background dispatcher
type Notifier interface {
	SendConfirmation(order *models.Order, items []models.OrderItem)
}
