package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetCustomerProfile retrieves a customer record; nil when the customer is unknown
func (s *Store) GetCustomerProfile(ctx context.Context, id int64) (*models.CustomerProfile, error) {
	var p models.CustomerProfile
	err := s.db.GetContext(ctx, &p, "SELECT id, name, email, phone FROM customers WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return &p, nil
}

// GetCustomerNames resolves display names for many customers at once
func (s *Store) GetCustomerNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	names := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	query, args, err := sqlx.In("SELECT id, name FROM customers WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var profiles []models.CustomerProfile
	if err := s.db.SelectContext(ctx, &profiles, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get customer names: %w", err)
	}
	for _, p := range profiles {
		names[p.ID] = p.Name
	}
	return names, nil
}
