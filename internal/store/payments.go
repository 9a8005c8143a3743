package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"backoffice-service/internal/models"
)

// CreatePendingPayment records a new attempt. An attempt that already exists
// is left untouched.
func (s *Store) CreatePendingPayment(ctx context.Context, p *models.PaymentAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (method, identifier, status, payment_id, amount, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (method, identifier) DO NOTHING`,
		p.Method, p.Identifier, models.PaymentStatusPending, p.PaymentID, p.Amount, p.Payload, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create pending payment %s/%s: %w", p.Method, p.Identifier, err)
	}
	return nil
}

// RecordPaymentOutcome upserts a terminal outcome keyed by (method, identifier).
// A pending attempt, or one already holding the same status, is overwritten;
// an attempt holding the other terminal status is not, and applied is false.
func (s *Store) RecordPaymentOutcome(ctx context.Context, p *models.PaymentAttempt) (applied bool, err error) {
	query := `
		INSERT INTO payments (method, identifier, status, payment_id, amount, payload, created_at, verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (method, identifier) DO UPDATE
		SET status = EXCLUDED.status,
			payment_id = COALESCE(EXCLUDED.payment_id, payments.payment_id),
			amount = CASE WHEN EXCLUDED.amount = 0 THEN payments.amount ELSE EXCLUDED.amount END,
			payload = EXCLUDED.payload,
			verified_at = COALESCE(EXCLUDED.verified_at, payments.verified_at)
		WHERE payments.status = $9 OR payments.status = EXCLUDED.status
		RETURNING status`

	var status string
	err = s.db.GetContext(ctx, &status, query,
		p.Method, p.Identifier, p.Status, p.PaymentID, p.Amount, p.Payload, p.CreatedAt, p.VerifiedAt,
		models.PaymentStatusPending)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record payment %s/%s: %w", p.Method, p.Identifier, err)
	}
	return true, nil
}

// GetPayment looks up an attempt
func (s *Store) GetPayment(ctx context.Context, method, identifier string) (*models.PaymentAttempt, error) {
	var p models.PaymentAttempt
	err := s.db.GetContext(ctx, &p, `
		SELECT method, identifier, status, payment_id, amount, payload, created_at, verified_at
		FROM payments WHERE method = $1 AND identifier = $2`,
		method, identifier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment %s/%s: %w", method, identifier, err)
	}
	return &p, nil
}
