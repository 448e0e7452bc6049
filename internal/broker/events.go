package broker

import (
	"context"
	"fmt"
	"time"

	"fulfillment-service/internal/models"

	"github.com/google/uuid"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func stamp(base *models.BaseEvent, eventType string) {
	if base.EventID == "" {
		base.EventID = uuid.NewString()
	}
	if base.Timestamp.IsZero() {
		base.Timestamp = time.Now().UTC()
	}
	base.EventType = eventType
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	stamp(&event.BaseEvent, models.EventTypeOrderCreated)
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishOrderStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	stamp(&event.BaseEvent, models.EventTypeOrderStatusChanged)
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishVoucherAvailed publishes VoucherAvailed event
func (ep *EventPublisher) PublishVoucherAvailed(ctx context.Context, event *models.VoucherAvailedEvent) error {
	stamp(&event.BaseEvent, models.EventTypeVoucherAvailed)
	key := fmt.Sprintf("voucher-%d", event.VoucherID)
	return ep.producer.PublishEvent(ctx, key, event)
}
