package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// IncrementCounter atomically bumps the named counter, creating it at 1,
// and returns the post-increment value.
func (s *Store) IncrementCounter(ctx context.Context, name string) (int64, error) {
	query := `
		INSERT INTO counters (name, value, updated_at)
		VALUES ($1, 1, NOW())
		ON CONFLICT (name) DO UPDATE
		SET value = counters.value + 1, updated_at = NOW()
		RETURNING value`

	var value int64
	if err := s.db.GetContext(ctx, &value, query, name); err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", name, err)
	}
	return value, nil
}

// GetCounter reads a counter without mutating it. Missing counters read as 0.
func (s *Store) GetCounter(ctx context.Context, name string) (int64, error) {
	var value int64
	err := s.db.GetContext(ctx, &value, "SELECT value FROM counters WHERE name = $1", name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", name, err)
	}
	return value, nil
}

// CounterExists reports whether a row exists for the counter.
func (s *Store) CounterExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM counters WHERE name = $1)", name)
	if err != nil {
		return false, fmt.Errorf("failed to check counter %s: %w", name, err)
	}
	return exists, nil
}

// SetCounter overwrites the counter value, creating the row if needed.
func (s *Store) SetCounter(ctx context.Context, name string, value int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO counters (name, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE
		SET value = EXCLUDED.value, updated_at = NOW()`,
		name, value)
	if err != nil {
		return fmt.Errorf("failed to set counter %s: %w", name, err)
	}
	return nil
}

// InitCounter creates the counter at value unless it already exists.
func (s *Store) InitCounter(ctx context.Context, name string, value int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO counters (name, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO NOTHING`,
		name, value)
	if err != nil {
		return false, fmt.Errorf("failed to initialize counter %s: %w", name, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// CompareAndSetCounter moves the counter from old to new only if it still
// holds old. A missing row counts as holding 0.
func (s *Store) CompareAndSetCounter(ctx context.Context, name string, old, new int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE counters SET value = $3, updated_at = NOW() WHERE name = $1 AND value = $2",
		name, old, new)
	if err != nil {
		return false, fmt.Errorf("failed to update counter %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	if old != 0 {
		return false, nil
	}

	res, err = s.db.ExecContext(ctx, `
		INSERT INTO counters (name, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO NOTHING`,
		name, new)
	if err != nil {
		return false, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ListIdentifiers returns every non-null value of table.column as text.
// table and column come from configuration, never from request input.
func (s *Store) ListIdentifiers(ctx context.Context, table, column string) ([]string, error) {
	query := fmt.Sprintf("SELECT %[1]s::text FROM %[2]s WHERE %[1]s IS NOT NULL",
		pq.QuoteIdentifier(column), pq.QuoteIdentifier(table))

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("failed to scan %s.%s: %w", table, column, err)
	}
	return ids, nil
}
