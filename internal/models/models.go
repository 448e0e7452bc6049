package models

import (
	"time"

	"fulfillment-service/internal/lifecycle"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

func init() {
	// Money is rendered as a JSON number so totals compare numerically on the client.
	decimal.MarshalJSONWithoutQuotes = true
}

// Order represents a customer order. Contact fields are resolved once at creation and frozen.
type Order struct {
	ID              int64            `db:"id" json:"id"`
	UserID          int64            `db:"user_id" json:"user_id"`
	Status          lifecycle.Status `db:"status" json:"status"`
	Subtotal        decimal.Decimal  `db:"subtotal" json:"subtotal"`
	Discount        decimal.Decimal  `db:"discount" json:"discount"`
	Tax             decimal.Decimal  `db:"tax" json:"tax"`
	Shipping        decimal.Decimal  `db:"shipping" json:"shipping"`
	Total           decimal.Decimal  `db:"total" json:"total"`
	CustomerName    string           `db:"customer_name" json:"customer_name"`
	CustomerEmail   string           `db:"customer_email" json:"customer_email"`
	CustomerPhone   string           `db:"customer_phone" json:"customer_phone"`
	ShippingAddress *Address         `db:"shipping_address" json:"shipping_address"`
	BillingAddress  *Address         `db:"billing_address" json:"billing_address"`
	PaymentMethod   string           `db:"payment_method" json:"payment_method"`
	VoucherID       *int64           `db:"voucher_id" json:"voucher_id"`
	VoucherCode     *string          `db:"voucher_code" json:"voucher_code"`
	Notes           string           `db:"notes" json:"notes"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// Totals is the monetary breakdown supplied by the caller. The engine does not re-derive it.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
}

// maxMoney is the smallest magnitude a NUMERIC(12,2) money column cannot hold.
var maxMoney = decimal.New(1, 10)

// FitsMoneyColumn reports whether d is stored exactly: at most two decimal places
// and a magnitude below 10^10.
func FitsMoneyColumn(d decimal.Decimal) bool {
	return d.Equal(d.Round(2)) && d.Abs().LessThan(maxMoney)
}

// OrderItem is owned by exactly one order and never changes after creation.
type OrderItem struct {
	ID        int64              `db:"id" json:"id"`
	OrderID   int64              `db:"order_id" json:"order_id"`
	ProductID *int64             `db:"product_id" json:"product_id"`
	Name      string             `db:"name" json:"name"`
	Price     decimal.Decimal    `db:"price" json:"price"`
	Quantity  int                `db:"quantity" json:"quantity"`
	Metadata  types.NullJSONText `db:"metadata" json:"metadata"`
}

// LineTotal is price times quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Voucher types
const (
	VoucherTypePrice      = "price"
	VoucherTypePercentage = "percentage"
)

// Voucher is a single-use discount code. Once availed, OrderID, AvailedBy and
// AvailedAt are set and never reset.
type Voucher struct {
	ID          int64           `db:"id" json:"id"`
	Code        string          `db:"code" json:"code"`
	Type        string          `db:"type" json:"type"`
	Value       decimal.Decimal `db:"value" json:"value"`
	Description string          `db:"description" json:"description"`
	ExpiresAt   *time.Time      `db:"expires_at" json:"expires_at"`
	IsAvailed   bool            `db:"is_availed" json:"is_availed"`
	OrderID     *int64          `db:"order_id" json:"order_id"`
	AvailedBy   *int64          `db:"availed_by" json:"availed_by"`
	AvailedAt   *time.Time      `db:"availed_at" json:"availed_at"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// IsExpired reports whether the voucher has an expiry at or before now.
func (v *Voucher) IsExpired(now time.Time) bool {
	return v.ExpiresAt != nil && !v.ExpiresAt.After(now)
}

// CustomerAggregate holds denormalized per-customer counters. They are a read
// optimization over the orders table and never go negative.
type CustomerAggregate struct {
	CustomerID     int64     `db:"customer_id" json:"customer_id"`
	TotalOrders    int       `db:"total_orders" json:"total_orders"`
	PendingCount   int       `db:"pending_count" json:"pending_count"`
	CompletedCount int       `db:"completed_count" json:"completed_count"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Apply adds d field by field, clamping each result at zero. It returns the
// names of the fields that were clamped.
func (a CustomerAggregate) Apply(d lifecycle.Delta) (CustomerAggregate, []string) {
	var clamped []string
	add := func(field string, cur, delta int) int {
		n := cur + delta
		if n < 0 {
			clamped = append(clamped, field)
			return 0
		}
		return n
	}

	a.TotalOrders = add("total", a.TotalOrders, d.Total)
	a.PendingCount = add("pending", a.PendingCount, d.Pending)
	a.CompletedCount = add("completed", a.CompletedCount, d.Completed)
	return a, clamped
}

// Equal compares the counters only.
func (a CustomerAggregate) Equal(b CustomerAggregate) bool {
	return a.TotalOrders == b.TotalOrders &&
		a.PendingCount == b.PendingCount &&
		a.CompletedCount == b.CompletedCount
}

// FoldStatusCounts turns grouped status counts into per-customer counters.
func FoldStatusCounts(counts []OrderStatusCount) map[int64]CustomerAggregate {
	actual := make(map[int64]CustomerAggregate)
	for _, c := range counts {
		agg := actual[c.UserID]
		agg.CustomerID = c.UserID
		agg.TotalOrders += c.Count
		agg.PendingCount += lifecycle.IsPendingLike(lifecycle.Status(c.Status)) * c.Count
		if lifecycle.Normalize(c.Status) == lifecycle.StatusCompleted {
			agg.CompletedCount += c.Count
		}
		actual[c.UserID] = agg
	}
	return actual
}

// CustomerProfile is the CMS-owned customer record, read-only here.
type CustomerProfile struct {
	ID    int64  `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Email string `db:"email" json:"email"`
	Phone string `db:"phone" json:"phone"`
}

// OrderStatusCount is one row of orders grouped by customer and status.
type OrderStatusCount struct {
	UserID int64  `db:"user_id"`
	Status string `db:"status"`
	Count  int    `db:"count"`
}

// VoucherMismatch is an order whose voucher reference disagrees with the voucher ledger.
type VoucherMismatch struct {
	OrderID          int64  `db:"order_id" json:"order_id"`
	UserID           int64  `db:"user_id" json:"user_id"`
	VoucherID        int64  `db:"voucher_id" json:"voucher_id"`
	VoucherExists    bool   `db:"voucher_exists" json:"voucher_exists"`
	IsAvailed        bool   `db:"is_availed" json:"is_availed"`
	AvailedByOrderID *int64 `db:"availed_order_id" json:"availed_order_id"`
	Healed           bool   `db:"-" json:"healed"`
}
