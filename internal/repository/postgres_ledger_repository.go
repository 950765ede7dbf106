package repository

import (
	"context"
	"fmt"

	"github.com/daleelbalady/payment-engine/internal/domain"
	"github.com/daleelbalady/payment-engine/pkg/database"
)

// PostgresLedgerRepository implements LedgerRepository using PostgreSQL.
// Both tables are append-only; there are no update or delete paths.
type PostgresLedgerRepository struct {
	db *database.PostgresDB
}

// NewPostgresLedgerRepository creates a new PostgreSQL ledger repository
func NewPostgresLedgerRepository(db *database.PostgresDB) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{db: db}
}

// AppendEntry writes the once-per-completion audit record.
func (r *PostgresLedgerRepository) AppendEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (
			id, payment_id, payment_ref, user_id, service_id,
			amount, currency, provider, provider_transaction_id, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Pool().Exec(ctx, query,
		entry.ID,
		entry.PaymentID,
		entry.PaymentRef,
		entry.UserID,
		nullString(entry.ServiceID),
		entry.Amount,
		entry.Currency,
		string(entry.Provider),
		nullString(entry.ProviderTransactionID),
		entry.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// AppendDispute records a provider-reported chargeback.
func (r *PostgresLedgerRepository) AppendDispute(ctx context.Context, dispute *domain.Dispute) error {
	query := `
		INSERT INTO disputes (
			id, payment_ref, provider, provider_dispute_id, amount, reason, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Pool().Exec(ctx, query,
		dispute.ID,
		dispute.PaymentRef,
		string(dispute.Provider),
		nullString(dispute.ProviderDisputeID),
		dispute.Amount,
		nullString(dispute.Reason),
		string(dispute.Status),
		dispute.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append dispute: %w", err)
	}
	return nil
}
