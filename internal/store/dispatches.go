package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"backoffice-service/internal/models"
)

// ListItems loads the item catalog
func (s *Store) ListItems(ctx context.Context) ([]models.Item, error) {
	var items []models.Item
	err := s.db.SelectContext(ctx, &items,
		"SELECT item_name, uom, purchase_price, item_code FROM items")
	if err != nil {
		return nil, fmt.Errorf("failed to load item catalog: %w", err)
	}
	return items, nil
}

// UpsertItem creates or replaces a catalog entry
func (s *Store) UpsertItem(ctx context.Context, item *models.Item) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO items (item_name, uom, purchase_price, item_code)
		VALUES (:item_name, :uom, :purchase_price, :item_code)
		ON CONFLICT (item_name) DO UPDATE
		SET uom = EXCLUDED.uom, purchase_price = EXCLUDED.purchase_price, item_code = EXCLUDED.item_code`,
		item)
	return err
}

// MaxDispatchNumber returns the highest dispatch number on record.
// ok is false when there are no dispatches yet.
func (s *Store) MaxDispatchNumber(ctx context.Context) (n int64, ok bool, err error) {
	err = s.db.GetContext(ctx, &n,
		"SELECT dispatch_number FROM store_dispatches ORDER BY dispatch_number DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read latest dispatch number: %w", err)
	}
	return n, true, nil
}

// CountDispatches returns the number of store dispatch records
func (s *Store) CountDispatches(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM store_dispatches")
	return n, err
}

// CreateDispatch inserts one composite dispatch record in a single statement.
func (s *Store) CreateDispatch(ctx context.Context, rec *models.DispatchRecord) error {
	query := `
		INSERT INTO store_dispatches (dispatch_number, location, lines, sent_date, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := s.db.GetContext(ctx, &rec.ID, query,
		rec.DispatchNumber, rec.Location, rec.Lines, rec.SentDate, rec.Status, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create store dispatch: %w", err)
	}
	return nil
}

// LatestDispatch returns the dispatch with the highest dispatch number
func (s *Store) LatestDispatch(ctx context.Context) (*models.DispatchRecord, error) {
	var rec models.DispatchRecord
	err := s.db.GetContext(ctx, &rec, `
		SELECT id, dispatch_number, location, lines, sent_date, status, created_at
		FROM store_dispatches
		ORDER BY dispatch_number DESC, id DESC
		LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest dispatch: %w", err)
	}
	return &rec, nil
}
