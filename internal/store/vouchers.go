package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/models"

	"github.com/lib/pq"
)

// ErrDuplicateVoucherCode is returned when a voucher code is already taken
var ErrDuplicateVoucherCode = errors.New("voucher code already exists")

const voucherColumns = `id, code, type, value, description, expires_at, is_availed,
	order_id, availed_by, availed_at, created_at, updated_at`

// CreateVoucher inserts a new voucher
func (s *Store) CreateVoucher(ctx context.Context, v *models.Voucher) error {
	query := `
		INSERT INTO vouchers (code, type, value, description, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, is_availed, created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query, v.Code, v.Type, v.Value, v.Description, v.ExpiresAt).
		Scan(&v.ID, &v.IsAvailed, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateVoucherCode
		}
		return fmt.Errorf("failed to create voucher: %w", err)
	}
	return nil
}

// GetVoucherByID retrieves a voucher by ID
func (s *Store) GetVoucherByID(ctx context.Context, id int64) (*models.Voucher, error) {
	var v models.Voucher
	err := s.db.GetContext(ctx, &v, "SELECT "+voucherColumns+" FROM vouchers WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewNotFoundError("voucher", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get voucher: %w", err)
	}
	return &v, nil
}

// GetVoucherByCode retrieves a voucher by code, ignoring case
func (s *Store) GetVoucherByCode(ctx context.Context, code string) (*models.Voucher, error) {
	var v models.Voucher
	err := s.db.GetContext(ctx, &v, "SELECT "+voucherColumns+" FROM vouchers WHERE UPPER(code) = UPPER($1)", code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewNotFoundError("voucher", code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get voucher by code: %w", err)
	}
	return &v, nil
}

// VoucherCodeExists checks whether a code is taken, ignoring case
func (s *Store) VoucherCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM vouchers WHERE UPPER(code) = UPPER($1))", code)
	return exists, err
}

// ListVouchers retrieves vouchers newest first, optionally filtered by availed state
func (s *Store) ListVouchers(ctx context.Context, availed *bool) ([]models.Voucher, error) {
	vouchers := []models.Voucher{}
	var err error
	if availed != nil {
		err = s.db.SelectContext(ctx, &vouchers,
			"SELECT "+voucherColumns+" FROM vouchers WHERE is_availed = $1 ORDER BY created_at DESC, id DESC", *availed)
	} else {
		err = s.db.SelectContext(ctx, &vouchers,
			"SELECT "+voucherColumns+" FROM vouchers ORDER BY created_at DESC, id DESC")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list vouchers: %w", err)
	}
	return vouchers, nil
}

// MarkVoucherAvailed consumes a voucher if it is still unavailed and unexpired at now.
// It reports false without error when the guard did not match; the caller decides why.
func (s *Store) MarkVoucherAvailed(ctx context.Context, id, customerID, orderID int64, now time.Time) (*models.Voucher, bool, error) {
	var v models.Voucher
	err := s.db.GetContext(ctx, &v, `
		UPDATE vouchers
		SET is_availed = TRUE, availed_by = $2, order_id = $3, availed_at = $4, updated_at = NOW()
		WHERE id = $1 AND is_availed = FALSE AND (expires_at IS NULL OR expires_at > $4)
		RETURNING `+voucherColumns,
		id, customerID, orderID, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to mark voucher availed: %w", err)
	}
	return &v, true, nil
}

// DeleteVoucher removes a voucher that was never availed and is not referenced by any order
func (s *Store) DeleteVoucher(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM vouchers
		WHERE id = $1 AND is_availed = FALSE
			AND NOT EXISTS (SELECT 1 FROM orders WHERE voucher_id = $1)`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete voucher: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// VoucherReferenced checks whether any order points at the voucher
func (s *Store) VoucherReferenced(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM orders WHERE voucher_id = $1)", id)
	return exists, err
}
