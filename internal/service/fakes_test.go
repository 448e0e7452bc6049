package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/lifecycle"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// memStore is an in-memory stand-in for the Postgres store
type memStore struct {
	mu sync.Mutex

	nextOrderID   int64
	nextItemID    int64
	nextVoucherID int64

	orders   map[int64]models.Order
	items    map[int64][]models.OrderItem
	vouchers map[int64]models.Voucher
	aggs     map[int64]models.CustomerAggregate
	profiles map[int64]models.CustomerProfile

	createOrderErr error
	applyErr       error
	profileErr     error
	profileLookups int
	beforeRecount  func()
}

func newMemStore() *memStore {
	return &memStore{
		orders:   map[int64]models.Order{},
		items:    map[int64][]models.OrderItem{},
		vouchers: map[int64]models.Voucher{},
		aggs:     map[int64]models.CustomerAggregate{},
		profiles: map[int64]models.CustomerProfile{},
	}
}

func (m *memStore) CreateOrderWithItems(_ context.Context, order *models.Order, items []models.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createOrderErr != nil {
		return m.createOrderErr
	}

	m.nextOrderID++
	order.ID = m.nextOrderID
	order.CreatedAt = epoch.Add(time.Duration(order.ID) * time.Second)
	order.UpdatedAt = order.CreatedAt

	stored := make([]models.OrderItem, len(items))
	for i := range items {
		m.nextItemID++
		items[i].ID = m.nextItemID
		items[i].OrderID = order.ID
		stored[i] = items[i]
	}
	m.orders[order.ID] = *order
	m.items[order.ID] = stored
	return nil
}

// insertOrder stores an order without going through the service, for seeding
func (m *memStore) insertOrder(o models.Order, itemCount int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextOrderID++
	o.ID = m.nextOrderID
	o.CreatedAt = epoch.Add(time.Duration(o.ID) * time.Second)
	m.orders[o.ID] = o
	for i := 0; i < itemCount; i++ {
		m.nextItemID++
		m.items[o.ID] = append(m.items[o.ID], models.OrderItem{ID: m.nextItemID, OrderID: o.ID, Quantity: 1})
	}
	return o.ID
}

func (m *memStore) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, apperr.NewNotFoundError("order", id)
	}
	return &o, nil
}

func (m *memStore) ListOrders(_ context.Context, userID *int64) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Order{}
	for _, o := range m.orders {
		if userID == nil || o.UserID == *userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *memStore) GetOrderItemsByOrderID(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.OrderItem{}, m.items[orderID]...), nil
}

func (m *memStore) UpdateOrderStatus(_ context.Context, orderID int64, status lifecycle.Status) (*models.Order, lifecycle.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, "", apperr.NewNotFoundError("order", orderID)
	}
	prev := o.Status
	o.Status = status
	m.orders[orderID] = o
	return &o, prev, nil
}

func (m *memStore) CreateVoucher(_ context.Context, v *models.Voucher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.vouchers {
		if strings.EqualFold(existing.Code, v.Code) {
			return store.ErrDuplicateVoucherCode
		}
	}
	m.nextVoucherID++
	v.ID = m.nextVoucherID
	v.CreatedAt = epoch
	v.UpdatedAt = epoch
	m.vouchers[v.ID] = *v
	return nil
}

func (m *memStore) GetVoucherByID(_ context.Context, id int64) (*models.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[id]
	if !ok {
		return nil, apperr.NewNotFoundError("voucher", id)
	}
	return &v, nil
}

func (m *memStore) GetVoucherByCode(_ context.Context, code string) (*models.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.vouchers {
		if strings.EqualFold(v.Code, code) {
			return &v, nil
		}
	}
	return nil, apperr.NewNotFoundError("voucher", code)
}

func (m *memStore) VoucherCodeExists(ctx context.Context, code string) (bool, error) {
	_, err := m.GetVoucherByCode(ctx, code)
	return err == nil, nil
}

func (m *memStore) ListVouchers(_ context.Context, availed *bool) ([]models.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Voucher{}
	for _, v := range m.vouchers {
		if availed == nil || v.IsAvailed == *availed {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) MarkVoucherAvailed(_ context.Context, id, customerID, orderID int64, now time.Time) (*models.Voucher, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[id]
	if !ok || v.IsAvailed || v.IsExpired(now) {
		return nil, false, nil
	}
	v.IsAvailed = true
	v.AvailedBy = &customerID
	v.OrderID = &orderID
	v.AvailedAt = &now
	m.vouchers[id] = v
	return &v, true, nil
}

func (m *memStore) referenced(id int64) bool {
	for _, o := range m.orders {
		if o.VoucherID != nil && *o.VoucherID == id {
			return true
		}
	}
	return false
}

func (m *memStore) DeleteVoucher(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[id]
	if !ok || v.IsAvailed || m.referenced(id) {
		return false, nil
	}
	delete(m.vouchers, id)
	return true, nil
}

func (m *memStore) VoucherReferenced(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.referenced(id), nil
}

func (m *memStore) ApplyAggregateDelta(_ context.Context, customerID int64, delta lifecycle.Delta) (models.CustomerAggregate, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return models.CustomerAggregate{}, nil, m.applyErr
	}
	cur := m.aggs[customerID]
	cur.CustomerID = customerID
	next, clamped := cur.Apply(delta)
	m.aggs[customerID] = next
	return next, clamped, nil
}

func (m *memStore) GetAggregate(_ context.Context, customerID int64) (*models.CustomerAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg, ok := m.aggs[customerID]
	if !ok {
		return &models.CustomerAggregate{CustomerID: customerID}, nil
	}
	return &agg, nil
}

func (m *memStore) ListAggregates(_ context.Context) ([]models.CustomerAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CustomerAggregate
	for _, agg := range m.aggs {
		out = append(out, agg)
	}
	return out, nil
}

func (m *memStore) RecountAggregate(_ context.Context, customerID int64) (models.CustomerAggregate, models.CustomerAggregate, bool, error) {
	if m.beforeRecount != nil {
		m.beforeRecount()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	before, ok := m.aggs[customerID]
	if !ok {
		before = models.CustomerAggregate{CustomerID: customerID}
	}
	var counts []models.OrderStatusCount
	for _, o := range m.orders {
		if o.UserID == customerID {
			counts = append(counts, models.OrderStatusCount{UserID: customerID, Status: string(o.Status), Count: 1})
		}
	}
	after := models.FoldStatusCounts(counts)[customerID]
	after.CustomerID = customerID
	m.aggs[customerID] = after
	return before, after, !before.Equal(after), nil
}

func (m *memStore) aggregate(customerID int64) models.CustomerAggregate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aggs[customerID]
}

func (m *memStore) GetCustomerProfile(_ context.Context, id int64) (*models.CustomerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profileLookups++
	if m.profileErr != nil {
		return nil, m.profileErr
	}
	p, ok := m.profiles[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memStore) GetCustomerNames(_ context.Context, ids []int64) (map[int64]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := map[int64]string{}
	for _, id := range ids {
		if p, ok := m.profiles[id]; ok {
			names[id] = p.Name
		}
	}
	return names, nil
}

func (m *memStore) CountOrdersByCustomerStatus(_ context.Context) ([]models.OrderStatusCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type key struct {
		user   int64
		status string
	}
	counts := map[key]int{}
	for _, o := range m.orders {
		counts[key{o.UserID, string(o.Status)}]++
	}
	var out []models.OrderStatusCount
	for k, n := range counts {
		out = append(out, models.OrderStatusCount{UserID: k.user, Status: k.status, Count: n})
	}
	return out, nil
}

func (m *memStore) FindVoucherMismatches(_ context.Context) ([]models.VoucherMismatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.VoucherMismatch
	for _, o := range m.orders {
		if o.VoucherID == nil {
			continue
		}
		v, exists := m.vouchers[*o.VoucherID]
		if exists && v.IsAvailed && v.OrderID != nil && *v.OrderID == o.ID {
			continue
		}
		out = append(out, models.VoucherMismatch{
			OrderID:          o.ID,
			UserID:           o.UserID,
			VoucherID:        *o.VoucherID,
			VoucherExists:    exists,
			IsAvailed:        v.IsAvailed,
			AvailedByOrderID: v.OrderID,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (m *memStore) FindOrdersWithoutItems(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int64
	for id := range m.orders {
		if len(m.items[id]) == 0 {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// memCache implements AggregateCache
type memCache struct {
	mu          sync.Mutex
	entries     map[int64]models.CustomerAggregate
	invalidated []int64
}

func newMemCache() *memCache {
	return &memCache{entries: map[int64]models.CustomerAggregate{}}
}

func (c *memCache) GetAggregate(_ context.Context, customerID int64) (*models.CustomerAggregate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	agg, ok := c.entries[customerID]
	if !ok {
		return nil, nil
	}
	return &agg, nil
}

func (c *memCache) SetAggregate(_ context.Context, agg models.CustomerAggregate, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[agg.CustomerID] = agg
	return nil
}

func (c *memCache) InvalidateAggregate(_ context.Context, customerID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, customerID)
	c.invalidated = append(c.invalidated, customerID)
	return nil
}

// memIdem implements IdempotencyStore
type memIdem struct {
	mu      sync.Mutex
	claims  map[string]int64
	results map[string]bool
	// ttls records the claim and result expirations per key
	ttls map[string][2]time.Duration
}

func newMemIdem() *memIdem {
	return &memIdem{claims: map[string]int64{}, results: map[string]bool{}, ttls: map[string][2]time.Duration{}}
}

func (i *memIdem) ClaimIdempotencyKey(_ context.Context, key string, ttl time.Duration) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.claims[key]; ok {
		return false, nil
	}
	i.claims[key] = 0
	i.ttls[key] = [2]time.Duration{ttl, 0}
	return true, nil
}

func (i *memIdem) SetIdempotencyResult(_ context.Context, key string, orderID int64, ttl time.Duration) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.claims[key] = orderID
	i.results[key] = true
	t := i.ttls[key]
	t[1] = ttl
	i.ttls[key] = t
	return nil
}

func (i *memIdem) ttl(key string) [2]time.Duration {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ttls[key]
}

func (i *memIdem) GetIdempotencyResult(_ context.Context, key string) (int64, bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.results[key] {
		return 0, false, nil
	}
	return i.claims[key], true, nil
}

func (i *memIdem) ReleaseIdempotencyKey(_ context.Context, key string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.claims, key)
	delete(i.results, key)
	delete(i.ttls, key)
	return nil
}

// memLocker implements Locker
type memLocker struct {
	mu   sync.Mutex
	next int
	held map[string]string
}

func newMemLocker() *memLocker {
	return &memLocker{held: map[string]string{}}
}

func (l *memLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.next++
	token := fmt.Sprintf("token-%d", l.next)
	l.held[key] = token
	return token, true, nil
}

func (l *memLocker) ReleaseLock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

// recordingEvents implements EventPublisher
type recordingEvents struct {
	mu            sync.Mutex
	created       []*models.OrderCreatedEvent
	statusChanged []*models.OrderStatusChangedEvent
	availed       []*models.VoucherAvailedEvent
	err           error
}

func (r *recordingEvents) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, e)
	return r.err
}

func (r *recordingEvents) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusChanged = append(r.statusChanged, e)
	return r.err
}

func (r *recordingEvents) PublishVoucherAvailed(_ context.Context, e *models.VoucherAvailedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.availed = append(r.availed, e)
	return r.err
}

// recordingNotifier implements Notifier
type recordingNotifier struct {
	mu     sync.Mutex
	orders []int64
}

func (n *recordingNotifier) SendConfirmation(order *models.Order, _ []models.OrderItem) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, order.ID)
}

type testEnv struct {
	store      *memStore
	cache      *memCache
	idem       *memIdem
	events     *recordingEvents
	notifier   *recordingNotifier
	vouchers   *VoucherService
	aggregates *AggregateService
	orders     *OrderService
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:    newMemStore(),
		cache:    newMemCache(),
		idem:     newMemIdem(),
		events:   &recordingEvents{},
		notifier: &recordingNotifier{},
	}
	env.vouchers = NewVoucherService(env.store, env.events)
	env.aggregates = NewAggregateService(env.store, env.cache, time.Minute)
	env.orders = NewOrderService(env.store, env.store, env.vouchers, env.aggregates,
		env.idem, time.Hour, env.events, env.notifier)
	return env
}
