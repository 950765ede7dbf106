package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/daleelbalady/payment-engine/internal/domain"
	"github.com/daleelbalady/payment-engine/pkg/database"
	"github.com/jackc/pgx/v5"
)

// PostgresRefundRepository implements RefundRepository using PostgreSQL
type PostgresRefundRepository struct {
	db *database.PostgresDB
}

// NewPostgresRefundRepository creates a new PostgreSQL refund repository
func NewPostgresRefundRepository(db *database.PostgresDB) *PostgresRefundRepository {
	return &PostgresRefundRepository{db: db}
}

// Create persists a new PROCESSING refund.
func (r *PostgresRefundRepository) Create(ctx context.Context, refund *domain.Refund) error {
	query := `
		INSERT INTO refunds (
			id, payment_id, payment_ref, amount, reason, status,
			provider_refund_id, error_message, requested_by, created_at, processed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.Pool().Exec(ctx, query,
		refund.ID,
		refund.PaymentID,
		refund.PaymentRef,
		refund.Amount,
		nullString(refund.Reason),
		string(refund.Status),
		nullString(refund.ProviderRefundID),
		nullString(refund.ErrorMessage),
		refund.RequestedBy,
		refund.CreatedAt,
		refund.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create refund: %w", err)
	}
	return nil
}

// Update persists a refund's terminal transition.
func (r *PostgresRefundRepository) Update(ctx context.Context, refund *domain.Refund) error {
	query := `
		UPDATE refunds
		SET status = $2,
		    provider_refund_id = $3,
		    error_message = $4,
		    processed_at = $5
		WHERE id = $1`

	result, err := r.db.Pool().Exec(ctx, query,
		refund.ID,
		string(refund.Status),
		nullString(refund.ProviderRefundID),
		nullString(refund.ErrorMessage),
		refund.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update refund: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrRefundNotFound
	}
	return nil
}

// SumCompleted returns the total of COMPLETED refund amounts for a payment.
func (r *PostgresRefundRepository) SumCompleted(ctx context.Context, paymentID string) (float64, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE payment_id = $1 AND status = $2`

	var total float64
	err := r.db.Pool().QueryRow(ctx, query, paymentID, string(domain.RefundStatusCompleted)).Scan(&total)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to sum refunds: %w", err)
	}
	return total, nil
}

// SumCompletedByPayment returns COMPLETED refund totals keyed by payment id.
func (r *PostgresRefundRepository) SumCompletedByPayment(ctx context.Context, paymentIDs []string) (map[string]float64, error) {
	totals := make(map[string]float64, len(paymentIDs))
	if len(paymentIDs) == 0 {
		return totals, nil
	}

	query := `
		SELECT payment_id, COALESCE(SUM(amount), 0)
		FROM refunds
		WHERE payment_id = ANY($1) AND status = $2
		GROUP BY payment_id`

	rows, err := r.db.Pool().Query(ctx, query, paymentIDs, string(domain.RefundStatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to sum refunds: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var paymentID string
		var total float64
		if err := rows.Scan(&paymentID, &total); err != nil {
			return nil, fmt.Errorf("failed to scan refund total: %w", err)
		}
		totals[paymentID] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate refund totals: %w", err)
	}
	return totals, nil
}
