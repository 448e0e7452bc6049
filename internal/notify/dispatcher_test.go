package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"fulfillment-service/internal/lifecycle"
	"fulfillment-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMailer struct {
	mu       sync.Mutex
	failures int
	calls    int
	sent     []Message
}

func (m *fakeMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failures {
		return errors.New("smtp unavailable")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) stats() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls, len(m.sent)
}

func testOrder() (*models.Order, []models.OrderItem) {
	code := "SAVE10-ABC123"
	order := &models.Order{
		ID:            12,
		Status:        lifecycle.StatusPending,
		CustomerName:  "Ada Lovelace",
		CustomerEmail: "ada@example.com",
		Subtotal:      decimal.NewFromInt(2000),
		Discount:      decimal.NewFromInt(10),
		Total:         decimal.NewFromInt(1990),
		VoucherCode:   &code,
		ShippingAddress: &models.Address{
			Kind: models.AddressStructured, Line1: "1 Main St", City: "Springfield",
		},
	}
	items := []models.OrderItem{{Name: "Printer", Price: decimal.NewFromInt(1000), Quantity: 2}}
	return order, items
}

func TestRenderConfirmation(t *testing.T) {
	order, items := testOrder()

	msg, err := RenderConfirmation(order, items)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", msg.ToEmail)
	assert.Equal(t, "Order #12 confirmation", msg.Subject)
	assert.Contains(t, msg.Text, "Hi Ada Lovelace")
	assert.Contains(t, msg.Text, "- Printer x2 @ 1000.00 = 2000.00")
	assert.Contains(t, msg.Text, "Discount: -10.00 (SAVE10-ABC123)")
	assert.Contains(t, msg.Text, "Total: 1990.00")
	assert.Contains(t, msg.Text, "1 Main St")
}

func TestDispatcherRetriesThenSucceeds(t *testing.T) {
	mailer := &fakeMailer{failures: 2}
	d := NewDispatcher(mailer, Config{Workers: 1, QueueSize: 4, MaxAttempts: 3, Backoff: time.Millisecond}, zap.NewNop())
	d.Start(context.Background())

	order, items := testOrder()
	d.SendConfirmation(order, items)
	d.Stop()

	calls, sent := mailer.stats()
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, sent)
}

func TestDispatcherAbandonsAfterMaxAttempts(t *testing.T) {
	mailer := &fakeMailer{failures: 100}
	d := NewDispatcher(mailer, Config{Workers: 1, QueueSize: 4, MaxAttempts: 3, Backoff: time.Millisecond}, zap.NewNop())
	d.Start(context.Background())

	order, items := testOrder()
	d.SendConfirmation(order, items)
	d.Stop()

	calls, sent := mailer.stats()
	assert.Equal(t, 3, calls)
	assert.Equal(t, 0, sent)
}

func TestDispatcherSkipsWithoutEmail(t *testing.T) {
	mailer := &fakeMailer{}
	d := NewDispatcher(mailer, Config{Workers: 1, QueueSize: 1, MaxAttempts: 1}, zap.NewNop())
	d.Start(context.Background())

	order, items := testOrder()
	order.CustomerEmail = ""
	d.SendConfirmation(order, items)
	d.Stop()

	calls, _ := mailer.stats()
	assert.Zero(t, calls)
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	mailer := &fakeMailer{}
	// Not started, so nothing drains the queue.
	d := NewDispatcher(mailer, Config{Workers: 1, QueueSize: 1, MaxAttempts: 1}, zap.NewNop())

	order, items := testOrder()
	done := make(chan struct{})
	go func() {
		d.SendConfirmation(order, items)
		d.SendConfirmation(order, items)
		d.SendConfirmation(order, items)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SendConfirmation blocked on a full queue")
	}
	assert.Len(t, d.queue, 1)

	d.Start(context.Background())
	d.Stop()
	calls, _ := mailer.stats()
	assert.Equal(t, 1, calls)
}

func TestDispatcherSendAfterStop(t *testing.T) {
	d := NewDispatcher(&fakeMailer{}, Config{}, zap.NewNop())
	d.Start(context.Background())
	d.Stop()

	order, items := testOrder()
	assert.NotPanics(t, func() { d.SendConfirmation(order, items) })
}

func TestSendGridMailer(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m, err := NewSendGridMailer(SendGridConfig{APIKey: "key", BaseURL: srv.URL + "/", FromEmail: "orders@example.com"})
	require.NoError(t, err)

	err = m.Send(context.Background(), Message{ToEmail: "ada@example.com", Subject: "hi", Text: "body"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer key", gotAuth)
	assert.Equal(t, "hi", gotBody["subject"])
}

func TestSendGridMailerHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"errors":[{"message":"slow down"}]}`))
	}))
	defer srv.Close()

	m, err := NewSendGridMailer(SendGridConfig{APIKey: "key", BaseURL: srv.URL})
	require.NoError(t, err)

	err = m.Send(context.Background(), Message{ToEmail: "ada@example.com"})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
}

func TestNewSendGridMailerRequiresKey(t *testing.T) {
	_, err := NewSendGridMailer(SendGridConfig{})
	assert.Error(t, err)
}
