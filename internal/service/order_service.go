package service

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/lifecycle"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/reqctx"
	"fulfillment-service/internal/util"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	backgroundTimeout = 30 * time.Second

	// idempotencyClaimTTL bounds how long an in-progress claim blocks retries
	// if the owning request dies before recording a result or releasing it.
	idempotencyClaimTTL = time.Minute
)

// OrderService handles order business logic
type OrderService struct {
	orders     OrderRepository
	customers  CustomerDirectory
	vouchers   *VoucherService
	aggregates *AggregateService
	idem       IdempotencyStore
	idemTTL    time.Duration
	events     EventPublisher
	notifier   Notifier
	logger     *zap.Logger

	background sync.WaitGroup
}

// NewOrderService creates a new order service. idem, events and notifier may be nil.
func NewOrderService(
	orders OrderRepository,
	customers CustomerDirectory,
	vouchers *VoucherService,
	aggregates *AggregateService,
	idem IdempotencyStore,
	idemTTL time.Duration,
	events EventPublisher,
	notifier Notifier,
) *OrderService {
	return &OrderService{
		orders:     orders,
		customers:  customers,
		vouchers:   vouchers,
		aggregates: aggregates,
		idem:       idem,
		idemTTL:    idemTTL,
		events:     events,
		notifier:   notifier,
		logger:     util.GetLogger(),
	}
}

// CreateOrderInput is the storefront checkout payload
type CreateOrderInput struct {
	UserID          json.RawMessage  `json:"userId"`
	Status          string           `json:"status"`
	Totals          models.Totals    `json:"totals"`
	ShippingAddress *models.Address  `json:"shippingAddress"`
	BillingAddress  *models.Address  `json:"billingAddress"`
	PaymentMethod   string           `json:"paymentMethod"`
	Items           []OrderItemInput `json:"items"`
	OrderNotes      string           `json:"orderNotes"`
	VoucherCode     string           `json:"voucherCode"`
	VoucherID       *int64           `json:"voucherId"`
	Customer        *CustomerInput   `json:"customer"`
}

// OrderItemInput is one line of the checkout payload
type OrderItemInput struct {
	ProductID json.RawMessage `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Metadata  json.RawMessage `json:"metadata"`
}

// OrderResult is an order with its items. Replayed is set when the order was
// created by an earlier request carrying the same idempotency key.
type OrderResult struct {
	Order    *models.Order
	Items    []models.OrderItem
	Replayed bool
}

func validateOrderInput(in *CreateOrderInput) (int64, error) {
	customerID, err := ParseCustomerID(in.UserID)
	if err != nil {
		return 0, err
	}
	if len(in.Items) == 0 {
		return 0, apperr.NewFieldError("items", "items are required")
	}
	for _, item := range in.Items {
		if item.Quantity < 1 {
			return 0, apperr.NewFieldError("items", "item quantity must be at least 1")
		}
		if item.Price.IsNegative() {
			return 0, apperr.NewFieldError("items", "item price must not be negative")
		}
		if !models.FitsMoneyColumn(item.Price) {
			return 0, apperr.NewFieldError("items", moneyFormatMessage("item price"))
		}
	}

	t := in.Totals
	for name, v := range map[string]decimal.Decimal{
		"subtotal": t.Subtotal, "discount": t.Discount, "tax": t.Tax, "shipping": t.Shipping, "total": t.Total,
	} {
		if v.IsNegative() {
			return 0, apperr.NewFieldError("totals."+name, name+" must not be negative")
		}
		if !models.FitsMoneyColumn(v) {
			return 0, apperr.NewFieldError("totals."+name, moneyFormatMessage(name))
		}
	}
	return customerID, nil
}

func moneyFormatMessage(field string) string {
	return field + " must have at most 2 decimal places and be less than 10000000000"
}

// CreateOrder validates the checkout payload, writes the order and its items as
// one unit, then consumes the voucher, updates the customer's counters and
// queues the confirmation email. Failures after the order is written are logged
// and never returned.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*OrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()
	logger := util.LoggerFromContext(ctx, s.logger)

	customerID, err := validateOrderInput(&in)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}
	span.SetAttributes(attribute.Int64("customer_id", customerID))

	key := reqctx.GetRequestData(ctx).IdempotencyKey
	if key != "" && s.idem != nil {
		replay, claimed, err := s.claimIdempotencyKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if replay != nil {
			return replay, nil
		}
		if claimed {
			created := false
			defer func() {
				if !created {
					if err := s.idem.ReleaseIdempotencyKey(context.WithoutCancel(ctx), key); err != nil {
						logger.Warn("Failed to release idempotency key", zap.String("key", key), zap.Error(err))
					}
				}
			}()
			result, err := s.createOrder(ctx, logger, customerID, in)
			if err != nil {
				return nil, err
			}
			created = true
			if err := s.idem.SetIdempotencyResult(ctx, key, result.Order.ID, s.idemTTL); err != nil {
				logger.Warn("Failed to record idempotency result", zap.String("key", key), zap.Error(err))
			}
			return result, nil
		}
	}

	return s.createOrder(ctx, logger, customerID, in)
}

// claimIdempotencyKey returns the earlier result for key if there is one, or
// reports whether this request now owns the key. A store outage degrades to
// creating the order without idempotency.
func (s *OrderService) claimIdempotencyKey(ctx context.Context, key string) (*OrderResult, bool, error) {
	logger := util.LoggerFromContext(ctx, s.logger)

	if replay, err := s.replay(ctx, key); err != nil || replay != nil {
		return replay, false, err
	}

	claimTTL := idempotencyClaimTTL
	if s.idemTTL > 0 && s.idemTTL < claimTTL {
		claimTTL = s.idemTTL
	}
	claimed, err := s.idem.ClaimIdempotencyKey(ctx, key, claimTTL)
	if err != nil {
		logger.Warn("Idempotency store unavailable, proceeding without it", zap.Error(err))
		return nil, false, nil
	}
	if claimed {
		return nil, true, nil
	}

	// Someone else holds the key; it may have completed in the meantime.
	if replay, err := s.replay(ctx, key); err != nil || replay != nil {
		return replay, false, err
	}
	return nil, false, apperr.NewValidationError("request with this idempotency key is in progress")
}

func (s *OrderService) replay(ctx context.Context, key string) (*OrderResult, error) {
	orderID, found, err := s.idem.GetIdempotencyResult(ctx, key)
	if err != nil {
		util.LoggerFromContext(ctx, s.logger).Warn("Idempotency lookup failed", zap.Error(err))
		return nil, nil
	}
	if !found {
		return nil, nil
	}

	order, items, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	util.LoggerFromContext(ctx, s.logger).Info("Duplicate order request detected",
		zap.String("idempotency_key", key),
		zap.Int64("order_id", orderID))
	return &OrderResult{Order: order, Items: items, Replayed: true}, nil
}

func (s *OrderService) createOrder(ctx context.Context, logger *zap.Logger, customerID int64, in CreateOrderInput) (*OrderResult, error) {
	status := lifecycle.StatusPending
	if strings.TrimSpace(in.Status) != "" {
		status = lifecycle.Normalize(in.Status)
	}

	shipping := nonZero(in.ShippingAddress)
	billing := nonZero(in.BillingAddress)
	contact := s.resolveContact(ctx, customerID, in.Customer, shipping, billing)

	voucherID, voucherCode := s.resolveVoucher(ctx, in.VoucherID, in.VoucherCode)

	order := &models.Order{
		UserID:          customerID,
		Status:          status,
		Subtotal:        in.Totals.Subtotal,
		Discount:        in.Totals.Discount,
		Tax:             in.Totals.Tax,
		Shipping:        in.Totals.Shipping,
		Total:           in.Totals.Total,
		CustomerName:    contact.Name,
		CustomerEmail:   contact.Email,
		CustomerPhone:   contact.Phone,
		ShippingAddress: shipping,
		BillingAddress:  billing,
		PaymentMethod:   strings.TrimSpace(in.PaymentMethod),
		VoucherID:       voucherID,
		VoucherCode:     voucherCode,
		Notes:           in.OrderNotes,
	}

	items := make([]models.OrderItem, 0, len(in.Items))
	for _, item := range in.Items {
		items = append(items, models.OrderItem{
			ProductID: ParseProductRef(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			Price:     item.Price,
			Quantity:  item.Quantity,
			Metadata:  metadataJSON(item.Metadata),
		})
	}

	if err := s.orders.CreateOrderWithItems(ctx, order, items); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		logger.Error("Failed to create order", zap.Int64("customer_id", customerID), zap.Error(err))
		return nil, apperr.NewPersistenceError("create order", err)
	}

	util.OrdersCreatedTotal.Inc()
	logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("customer_id", customerID),
		zap.Int("items", len(items)),
		zap.String("status", string(status)),
	)

	if voucherID != nil {
		if _, err := s.vouchers.Consume(ctx, *voucherID, customerID, order.ID); err != nil {
			logger.Warn("Voucher not consumed for order",
				zap.Int64("order_id", order.ID),
				zap.Int64("voucher_id", *voucherID),
				zap.Error(err),
			)
		}
	}

	delta := lifecycle.InitialDelta(status)
	s.runBackground(ctx, func(bg context.Context) {
		if _, err := s.aggregates.Apply(bg, customerID, delta); err != nil {
			util.LoggerFromContext(bg, s.logger).Error("Failed to update customer counters",
				zap.Int64("order_id", order.ID),
				zap.Int64("customer_id", customerID),
				zap.Error(err),
			)
		}
	})

	s.publishOrderCreated(ctx, order, items)

	if s.notifier != nil {
		s.notifier.SendConfirmation(order, items)
	}

	return &OrderResult{Order: order, Items: items}, nil
}

// resolveContact only consults the customer directory when the request itself
// leaves a contact field empty.
func (s *OrderService) resolveContact(ctx context.Context, customerID int64, customer *CustomerInput, shipping, billing *models.Address) Contact {
	contact := ResolveContact(customer, shipping, billing, nil)
	if contact.complete() || s.customers == nil {
		return contact
	}

	profile, err := s.customers.GetCustomerProfile(ctx, customerID)
	if err != nil {
		util.LoggerFromContext(ctx, s.logger).Warn("Customer directory lookup failed",
			zap.Int64("customer_id", customerID), zap.Error(err))
		return contact
	}
	return ResolveContact(customer, shipping, billing, profile)
}

// resolveVoucher prefers an explicit id over a code. An unknown code is logged
// and the order proceeds without a voucher.
func (s *OrderService) resolveVoucher(ctx context.Context, id *int64, code string) (*int64, *string) {
	var codePtr *string
	if code = strings.TrimSpace(code); code != "" {
		upper := strings.ToUpper(code)
		codePtr = &upper
	}

	if id != nil && *id > 0 {
		return id, codePtr
	}
	if codePtr == nil {
		return nil, nil
	}

	v, err := s.vouchers.GetByCode(ctx, *codePtr)
	if err != nil {
		util.LoggerFromContext(ctx, s.logger).Warn("Voucher code could not be resolved",
			zap.String("voucher_code", *codePtr), zap.Error(err))
		return nil, codePtr
	}
	return &v.ID, codePtr
}

func (s *OrderService) publishOrderCreated(ctx context.Context, order *models.Order, items []models.OrderItem) {
	if s.events == nil {
		return
	}

	data := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		data = append(data, models.OrderItemData{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}

	if err := s.events.PublishOrderCreated(ctx, &models.OrderCreatedEvent{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Status:    order.Status,
		Total:     order.Total,
		VoucherID: order.VoucherID,
		Items:     data,
	}); err != nil {
		util.LoggerFromContext(ctx, s.logger).Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

// runBackground runs fn detached from the request's cancellation but tracked
// so Wait can drain it.
func (s *OrderService) runBackground(ctx context.Context, fn func(context.Context)) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
		defer cancel()
		fn(bg)
	}()
}

// Wait blocks until all background work started by this service has finished
func (s *OrderService) Wait() {
	s.background.Wait()
}

// GetOrder retrieves an order with its items
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, nil, err
		}
		return nil, nil, apperr.NewPersistenceError("get order", err)
	}

	items, err := s.orders.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, apperr.NewPersistenceError("get order items", err)
	}

	return order, items, nil
}

// ListOrders returns orders newest first with customer_name filled from the
// directory when the order carries none
func (s *OrderService) ListOrders(ctx context.Context, customerID *int64) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	orders, err := s.orders.ListOrders(ctx, customerID)
	if err != nil {
		return nil, apperr.NewPersistenceError("list orders", err)
	}

	var missing []int64
	seen := map[int64]bool{}
	for _, o := range orders {
		if o.CustomerName == "" && !seen[o.UserID] {
			seen[o.UserID] = true
			missing = append(missing, o.UserID)
		}
	}
	if len(missing) == 0 || s.customers == nil {
		return orders, nil
	}

	names, err := s.customers.GetCustomerNames(ctx, missing)
	if err != nil {
		util.LoggerFromContext(ctx, s.logger).Warn("Customer name enrichment failed", zap.Error(err))
		return orders, nil
	}
	for i := range orders {
		if orders[i].CustomerName == "" {
			orders[i].CustomerName = names[orders[i].UserID]
		}
	}
	return orders, nil
}

// UpdateStatus moves an order to a new status and adjusts the customer's
// counters by the difference between the previous and the new status
func (s *OrderService) UpdateStatus(ctx context.Context, orderID int64, rawStatus string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus", attribute.Int64("order_id", orderID))
	defer span.End()
	logger := util.LoggerFromContext(ctx, s.logger)

	if strings.TrimSpace(rawStatus) == "" {
		return nil, apperr.NewFieldError("status", "status is required")
	}
	next := lifecycle.Normalize(rawStatus)

	order, previous, err := s.orders.UpdateOrderStatus(ctx, orderID, next)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, err
		}
		util.RecordError(span, err)
		return nil, apperr.NewPersistenceError("update order status", err)
	}

	prev := lifecycle.Normalize(string(previous))
	util.OrderStatusTransitionsTotal.WithLabelValues(string(prev), string(next)).Inc()
	logger.Info("Order status updated",
		zap.Int64("order_id", orderID),
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
	)

	if prev == next {
		return order, nil
	}

	delta := lifecycle.ComputeDelta(prev, next)
	if !delta.IsZero() {
		if _, err := s.aggregates.Apply(ctx, order.UserID, delta); err != nil {
			logger.Error("Failed to update customer counters",
				zap.Int64("order_id", orderID),
				zap.Int64("customer_id", order.UserID),
				zap.Error(err),
			)
		}
	}

	if s.events != nil {
		if err := s.events.PublishOrderStatusChanged(ctx, &models.OrderStatusChangedEvent{
			OrderID:   order.ID,
			UserID:    order.UserID,
			OldStatus: prev,
			NewStatus: next,
			Delta:     delta,
		}); err != nil {
			logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
		}
	}

	return order, nil
}

// AvailVoucher consumes a voucher for an existing order. The order must belong
// to the customer and either carry no voucher or carry this one.
func (s *OrderService) AvailVoucher(ctx context.Context, voucherID, customerID, orderID int64) (*models.Voucher, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.AvailVoucher",
		attribute.Int64("voucher_id", voucherID), attribute.Int64("order_id", orderID))
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, err
		}
		util.RecordError(span, err)
		return nil, apperr.NewPersistenceError("get order", err)
	}
	if order.UserID != customerID {
		return nil, apperr.NewFieldError("orderId", "order does not belong to this customer")
	}
	if order.VoucherID != nil && *order.VoucherID != voucherID {
		return nil, apperr.NewFieldError("orderId", "order references a different voucher")
	}

	return s.vouchers.Consume(ctx, voucherID, customerID, orderID)
}

func nonZero(a *models.Address) *models.Address {
	if a.IsZero() {
		return nil
	}
	return a
}

func metadataJSON(raw json.RawMessage) types.NullJSONText {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return types.NullJSONText{}
	}
	return types.NullJSONText{JSONText: types.JSONText(raw), Valid: true}
}
