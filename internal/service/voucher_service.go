package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxCodeAttempts = 5

// VoucherService enforces the single-use voucher ledger
type VoucherService struct {
	repo   VoucherRepository
	events EventPublisher
	logger *zap.Logger
	now    func() time.Time
}

// NewVoucherService creates a new voucher service. events may be nil.
func NewVoucherService(repo VoucherRepository, events EventPublisher) *VoucherService {
	return &VoucherService{
		repo:   repo,
		events: events,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// CreateVoucherInput is the admin payload for a new voucher
type CreateVoucherInput struct {
	Code        string          `json:"code"`
	Type        string          `json:"type"`
	Value       decimal.Decimal `json:"value"`
	Description string          `json:"description"`
	ExpiresAt   *time.Time      `json:"expiresAt"`
}

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

func (in *CreateVoucherInput) validate() error {
	switch in.Type {
	case models.VoucherTypePercentage:
		if in.Value.LessThan(one) || in.Value.GreaterThan(hundred) {
			return apperr.NewFieldError("value", "percentage value must be between 1 and 100")
		}
	case models.VoucherTypePrice:
		if !in.Value.IsPositive() {
			return apperr.NewFieldError("value", "price value must be greater than 0")
		}
	default:
		return apperr.NewFieldError("type", "type must be 'price' or 'percentage'")
	}
	if !models.FitsMoneyColumn(in.Value) {
		return apperr.NewFieldError("value", moneyFormatMessage("value"))
	}
	return nil
}

// Create validates and stores a new voucher, generating a code when none is given
func (s *VoucherService) Create(ctx context.Context, in CreateVoucherInput) (*models.Voucher, error) {
	ctx, span := util.StartSpan(ctx, "VoucherService.Create")
	defer span.End()

	in.Type = strings.ToLower(strings.TrimSpace(in.Type))
	if err := in.validate(); err != nil {
		return nil, err
	}

	if in.ExpiresAt != nil && !in.ExpiresAt.After(s.now()) {
		s.logger.Warn("Voucher created already expired", zap.Time("expires_at", *in.ExpiresAt))
	}

	v := &models.Voucher{
		Type:        in.Type,
		Value:       in.Value,
		Description: strings.TrimSpace(in.Description),
		ExpiresAt:   in.ExpiresAt,
	}

	explicit := strings.ToUpper(strings.TrimSpace(in.Code))
	if explicit != "" {
		v.Code = explicit
		if err := s.repo.CreateVoucher(ctx, v); err != nil {
			if errors.Is(err, store.ErrDuplicateVoucherCode) {
				return nil, apperr.NewFieldError("code", "voucher code already exists")
			}
			util.RecordError(span, err)
			return nil, apperr.NewPersistenceError("create voucher", err)
		}
		util.LoggerFromContext(ctx, s.logger).Info("Voucher created", zap.Int64("voucher_id", v.ID), zap.String("code", v.Code))
		return v, nil
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		v.Code = GenerateVoucherCode(in.Type, in.Value)

		exists, err := s.repo.VoucherCodeExists(ctx, v.Code)
		if err != nil {
			return nil, apperr.NewPersistenceError("check voucher code", err)
		}
		if exists {
			continue
		}

		err = s.repo.CreateVoucher(ctx, v)
		if errors.Is(err, store.ErrDuplicateVoucherCode) {
			continue
		}
		if err != nil {
			util.RecordError(span, err)
			return nil, apperr.NewPersistenceError("create voucher", err)
		}
		util.LoggerFromContext(ctx, s.logger).Info("Voucher created", zap.Int64("voucher_id", v.ID), zap.String("code", v.Code))
		return v, nil
	}

	return nil, apperr.NewPersistenceError("create voucher", fmt.Errorf("no unique code after %d attempts", maxCodeAttempts))
}

// GenerateVoucherCode builds OFF<n>-XXXXXX for percentage and SAVE<n>-XXXXXX for price vouchers
func GenerateVoucherCode(voucherType string, value decimal.Decimal) string {
	prefix := "SAVE"
	if voucherType == models.VoucherTypePercentage {
		prefix = "OFF"
	}
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:6]
	return fmt.Sprintf("%s%s-%s", prefix, value.String(), suffix)
}

// Consume marks a voucher as used by an order. Checks run in the order
// not found, already availed, expired; the final write is conditional so two
// concurrent consumers cannot both succeed.
func (s *VoucherService) Consume(ctx context.Context, voucherID, customerID, orderID int64) (*models.Voucher, error) {
	ctx, span := util.StartSpan(ctx, "VoucherService.Consume")
	defer span.End()

	v, err := s.repo.GetVoucherByID(ctx, voucherID)
	if err != nil {
		err = s.classify(err, "get voucher")
		if apperr.IsNotFound(err) {
			util.VoucherConsumptionsTotal.WithLabelValues("not_found").Inc()
		} else {
			util.VoucherConsumptionsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	now := s.now()
	if v.IsAvailed {
		util.VoucherConsumptionsTotal.WithLabelValues("already_availed").Inc()
		return nil, &apperr.AlreadyAvailedError{VoucherID: v.ID, OrderID: v.OrderID}
	}
	if v.IsExpired(now) {
		util.VoucherConsumptionsTotal.WithLabelValues("expired").Inc()
		return nil, &apperr.ExpiredError{VoucherID: v.ID}
	}

	updated, ok, err := s.repo.MarkVoucherAvailed(ctx, voucherID, customerID, orderID, now)
	if err != nil {
		util.RecordError(span, err)
		util.VoucherConsumptionsTotal.WithLabelValues("error").Inc()
		return nil, apperr.NewPersistenceError("consume voucher", err)
	}
	if !ok {
		// Lost the race to another consumer between the read and the write.
		util.VoucherConsumptionsTotal.WithLabelValues("already_availed").Inc()
		current, getErr := s.repo.GetVoucherByID(ctx, voucherID)
		if getErr == nil && !current.IsAvailed && current.IsExpired(now) {
			return nil, &apperr.ExpiredError{VoucherID: voucherID}
		}
		var owner *int64
		if getErr == nil {
			owner = current.OrderID
		}
		return nil, &apperr.AlreadyAvailedError{VoucherID: voucherID, OrderID: owner}
	}

	util.VoucherConsumptionsTotal.WithLabelValues("success").Inc()
	util.LoggerFromContext(ctx, s.logger).Info("Voucher availed",
		zap.Int64("voucher_id", updated.ID),
		zap.Int64("order_id", orderID),
		zap.Int64("customer_id", customerID),
	)

	if s.events != nil {
		if err := s.events.PublishVoucherAvailed(ctx, &models.VoucherAvailedEvent{
			VoucherID: updated.ID,
			Code:      updated.Code,
			OrderID:   orderID,
			UserID:    customerID,
		}); err != nil {
			s.logger.Error("Failed to publish VoucherAvailed event", zap.Error(err))
		}
	}

	return updated, nil
}

// Get returns a voucher by id
func (s *VoucherService) Get(ctx context.Context, id int64) (*models.Voucher, error) {
	v, err := s.repo.GetVoucherByID(ctx, id)
	if err != nil {
		return nil, s.classify(err, "get voucher")
	}
	return v, nil
}

// GetByCode returns a voucher by code, ignoring case
func (s *VoucherService) GetByCode(ctx context.Context, code string) (*models.Voucher, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperr.NewFieldError("code", "code is required")
	}
	v, err := s.repo.GetVoucherByCode(ctx, code)
	if err != nil {
		return nil, s.classify(err, "get voucher by code")
	}
	return v, nil
}

// List returns vouchers, optionally filtered by availed state
func (s *VoucherService) List(ctx context.Context, availed *bool) ([]models.Voucher, error) {
	vouchers, err := s.repo.ListVouchers(ctx, availed)
	if err != nil {
		return nil, apperr.NewPersistenceError("list vouchers", err)
	}
	return vouchers, nil
}

// Delete removes an unconsumed voucher that no order references. Consumed
// vouchers are kept as the audit record of the discount.
func (s *VoucherService) Delete(ctx context.Context, id int64) error {
	v, err := s.repo.GetVoucherByID(ctx, id)
	if err != nil {
		return s.classify(err, "get voucher")
	}
	if v.IsAvailed {
		return &apperr.AlreadyAvailedError{VoucherID: v.ID, OrderID: v.OrderID}
	}

	deleted, err := s.repo.DeleteVoucher(ctx, id)
	if err != nil {
		return apperr.NewPersistenceError("delete voucher", err)
	}
	if !deleted {
		referenced, err := s.repo.VoucherReferenced(ctx, id)
		if err == nil && referenced {
			return apperr.NewValidationError("voucher is referenced by an order")
		}
		return &apperr.AlreadyAvailedError{VoucherID: id}
	}

	util.LoggerFromContext(ctx, s.logger).Info("Voucher deleted", zap.Int64("voucher_id", id))
	return nil
}

func (s *VoucherService) classify(err error, op string) error {
	if apperr.IsNotFound(err) {
		return err
	}
	return apperr.NewPersistenceError(op, err)
}
