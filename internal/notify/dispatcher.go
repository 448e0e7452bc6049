package notify

import (
	"context"
	"sync"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

const maxBackoff = 30 * time.Second

type Config struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	Backoff     time.Duration
}

type job struct {
	orderID int64
	msg     Message
}

// Dispatcher sends order confirmations in the background. Enqueueing never
// blocks; a full queue drops the message.
type Dispatcher struct {
	mailer Mailer
	cfg    Config
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

func NewDispatcher(mailer Mailer, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}

	return &Dispatcher{
		mailer: mailer,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan job, cfg.QueueSize),
	}
}

// Start launches the worker goroutines. Cancelling ctx cuts retry waits short.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for j := range d.queue {
				d.deliver(ctx, j)
			}
		}()
	}
	d.logger.Info("Notification dispatcher started", zap.Int("workers", d.cfg.Workers))
}

// Stop closes the queue and waits for queued and in-flight jobs to finish
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("Notification dispatcher stopped")
}

// SendConfirmation renders and enqueues the confirmation email for an order
func (d *Dispatcher) SendConfirmation(order *models.Order, items []models.OrderItem) {
	if order.CustomerEmail == "" {
		d.logger.Info("No customer email, skipping confirmation", zap.Int64("order_id", order.ID))
		util.NotificationsTotal.WithLabelValues("skipped").Inc()
		return
	}

	msg, err := RenderConfirmation(order, items)
	if err != nil {
		d.logger.Error("Failed to render confirmation", zap.Int64("order_id", order.ID), zap.Error(err))
		util.NotificationsTotal.WithLabelValues("failed").Inc()
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Error("Dispatcher stopped, dropping confirmation", zap.Int64("order_id", order.ID))
		util.NotificationQueueDroppedTotal.Inc()
		return
	}

	select {
	case d.queue <- job{orderID: order.ID, msg: msg}:
	default:
		d.logger.Error("Notification queue full, dropping confirmation", zap.Int64("order_id", order.ID))
		util.NotificationQueueDroppedTotal.Inc()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	backoff := d.cfg.Backoff

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		err := d.mailer.Send(ctx, j.msg)
		if err == nil {
			util.NotificationsTotal.WithLabelValues("sent").Inc()
			return
		}

		if attempt == d.cfg.MaxAttempts {
			d.logger.Error("Confirmation email abandoned",
				zap.Int64("order_id", j.orderID),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			break
		}

		d.logger.Warn("Confirmation email retrying",
			zap.Int64("order_id", j.orderID),
			zap.Int("attempt", attempt),
			zap.Duration("sleep", backoff),
			zap.Error(err),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			d.logger.Error("Confirmation email abandoned on shutdown", zap.Int64("order_id", j.orderID))
			util.NotificationsTotal.WithLabelValues("failed").Inc()
			return
		case <-timer.C:
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	util.NotificationsTotal.WithLabelValues("failed").Inc()
}
