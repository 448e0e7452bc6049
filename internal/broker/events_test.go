package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"fulfillment-service/internal/lifecycle"
	"fulfillment-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestPublishOrderCreated(t *testing.T) {
	w := &recordingWriter{}
	ep := NewEventPublisher(NewProducerWithWriter(w))

	err := ep.PublishOrderCreated(context.Background(), &models.OrderCreatedEvent{
		OrderID: 7,
		UserID:  3,
		Status:  lifecycle.StatusPending,
		Total:   decimal.NewFromInt(2000),
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "order-7", string(w.msgs[0].Key))

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, models.EventTypeOrderCreated, got["event_type"])
	assert.NotEmpty(t, got["event_id"])
	assert.Equal(t, float64(2000), got["total"])
}

func TestPublishVoucherAvailedKey(t *testing.T) {
	w := &recordingWriter{}
	ep := NewEventPublisher(NewProducerWithWriter(w))

	err := ep.PublishVoucherAvailed(context.Background(), &models.VoucherAvailedEvent{VoucherID: 9, OrderID: 1})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "voucher-9", string(w.msgs[0].Key))
}

func TestPublishWriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	ep := NewEventPublisher(NewProducerWithWriter(w))

	err := ep.PublishOrderStatusChanged(context.Background(), &models.OrderStatusChangedEvent{OrderID: 1})
	assert.ErrorContains(t, err, "broker down")
}

func TestNewProducerDoesNotBlockOnBroker(t *testing.T) {
	p := NewProducer([]string{"127.0.0.1:1"}, "orders")

	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.True(t, w.Async)
	assert.NotNil(t, w.Completion)

	start := time.Now()
	err := p.PublishEvent(context.Background(), "order-1", map[string]int{"id": 1})
	assert.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLogCompletionIgnoresSuccess(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	p := &Producer{logger: zap.New(core)}

	p.logCompletion([]kafka.Message{{Key: []byte("order-1")}}, nil)
	assert.Zero(t, logs.Len())

	p.logCompletion([]kafka.Message{{Key: []byte("order-1")}}, errors.New("dial tcp: refused"))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Failed to deliver events", logs.All()[0].Message)
}
