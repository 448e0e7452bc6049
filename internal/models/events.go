package models

import (
	"time"

	"fulfillment-service/internal/lifecycle"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeVoucherAvailed     = "VOUCHER_AVAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published after an order and its items are committed
type OrderCreatedEvent struct {
	BaseEvent
	OrderID   int64            `json:"order_id"`
	UserID    int64            `json:"user_id"`
	Status    lifecycle.Status `json:"status"`
	Total     decimal.Decimal  `json:"total"`
	VoucherID *int64           `json:"voucher_id,omitempty"`
	Items     []OrderItemData  `json:"items"`
}

// OrderStatusChangedEvent published after a status transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID   int64            `json:"order_id"`
	UserID    int64            `json:"user_id"`
	OldStatus lifecycle.Status `json:"old_status"`
	NewStatus lifecycle.Status `json:"new_status"`
	Delta     lifecycle.Delta  `json:"delta"`
}

// VoucherAvailedEvent published when a voucher is consumed
type VoucherAvailedEvent struct {
	BaseEvent
	VoucherID int64  `json:"voucher_id"`
	Code      string `json:"code"`
	OrderID   int64  `json:"order_id"`
	UserID    int64  `json:"user_id"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID *int64          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}
