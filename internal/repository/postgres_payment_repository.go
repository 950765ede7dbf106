package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/daleelbalady/payment-engine/internal/domain"
	"github.com/daleelbalady/payment-engine/pkg/database"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error code for unique violation
const pgUniqueViolationCode = "23505"

// PostgresPaymentRepository implements PaymentRepository using PostgreSQL
type PostgresPaymentRepository struct {
	db *database.PostgresDB
}

// NewPostgresPaymentRepository creates a new PostgreSQL payment repository
func NewPostgresPaymentRepository(db *database.PostgresDB) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{db: db}
}

const paymentColumns = `
	id, payment_ref, user_id, service_id, amount, currency, provider, status,
	provider_payment_id, provider_transaction_id, encrypted_provider_payload,
	error_message, device_fingerprint, metadata, created_at, updated_at, expires_at, paid_at
`

// Create persists a new PENDING intent.
func (r *PostgresPaymentRepository) Create(ctx context.Context, intent *domain.PaymentIntent) error {
	query := `
		INSERT INTO payment_intents (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	metadataJSON, err := json.Marshal(intent.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = r.db.Pool().Exec(ctx, query,
		intent.ID,
		intent.PaymentRef,
		intent.UserID,
		nullString(intent.ServiceID),
		intent.Amount,
		intent.Currency,
		string(intent.Provider),
		string(intent.Status),
		nullString(intent.ProviderPaymentID),
		nullString(intent.ProviderTransactionID),
		nullString(intent.EncryptedProviderPayload),
		nullString(intent.ErrorMessage),
		nullString(intent.DeviceFingerprint),
		metadataJSON,
		intent.CreatedAt,
		intent.UpdatedAt,
		intent.ExpiresAt,
		intent.PaidAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
			return fmt.Errorf("payment ref collision: %w", domain.ErrConcurrencyConflict)
		}
		return fmt.Errorf("failed to create payment intent: %w", err)
	}
	return nil
}

// GetByRef retrieves an intent by its public payment reference.
func (r *PostgresPaymentRepository) GetByRef(ctx context.Context, paymentRef string) (*domain.PaymentIntent, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_intents WHERE payment_ref = $1`
	return r.scanIntent(r.db.Pool().QueryRow(ctx, query, paymentRef))
}

// GetByProviderPaymentID retrieves an intent by the provider's id.
func (r *PostgresPaymentRepository) GetByProviderPaymentID(ctx context.Context, providerPaymentID string) (*domain.PaymentIntent, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_intents WHERE provider_payment_id = $1`
	return r.scanIntent(r.db.Pool().QueryRow(ctx, query, providerPaymentID))
}

// HasCompleted reports whether a COMPLETED intent exists for the pair.
func (r *PostgresPaymentRepository) HasCompleted(ctx context.Context, userID, serviceID string) (bool, error) {
	query := `SELECT EXISTS (
		SELECT 1 FROM payment_intents
		WHERE user_id = $1 AND service_id = $2 AND status = $3
	)`
	var exists bool
	err := r.db.Pool().QueryRow(ctx, query, userID, serviceID, string(domain.PaymentStatusCompleted)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check completed payment: %w", err)
	}
	return exists, nil
}

// MarkInitiated persists PENDING -> INITIATED.
func (r *PostgresPaymentRepository) MarkInitiated(ctx context.Context, intent *domain.PaymentIntent) error {
	query := `
		UPDATE payment_intents
		SET status = $2,
		    provider_payment_id = $3,
		    encrypted_provider_payload = $4,
		    updated_at = $5
		WHERE payment_ref = $1 AND status = $6`

	result, err := r.db.Pool().Exec(ctx, query,
		intent.PaymentRef,
		string(intent.Status),
		nullString(intent.ProviderPaymentID),
		nullString(intent.EncryptedProviderPayload),
		intent.UpdatedAt,
		string(domain.PaymentStatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to mark intent initiated: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrConcurrencyConflict
	}
	return nil
}

// FinishCAS persists a terminal transition only while the stored status
// is still non-terminal.
func (r *PostgresPaymentRepository) FinishCAS(ctx context.Context, intent *domain.PaymentIntent) error {
	query := `
		UPDATE payment_intents
		SET status = $2,
		    provider_transaction_id = $3,
		    error_message = $4,
		    paid_at = $5,
		    updated_at = $6
		WHERE payment_ref = $1 AND status IN ($7, $8)`

	result, err := r.db.Pool().Exec(ctx, query,
		intent.PaymentRef,
		string(intent.Status),
		nullString(intent.ProviderTransactionID),
		nullString(intent.ErrorMessage),
		intent.PaidAt,
		intent.UpdatedAt,
		string(domain.PaymentStatusPending),
		string(domain.PaymentStatusInitiated),
	)
	if err != nil {
		return fmt.Errorf("failed to finish payment intent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrConcurrencyConflict
	}
	return nil
}

// ListByUser retrieves a user's intents, newest first.
func (r *PostgresPaymentRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.PaymentIntent, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_intents WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := r.db.Pool().Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment intents: %w", err)
	}
	defer rows.Close()
	return r.collect(rows)
}

// ListForReport retrieves intents matching the filter.
func (r *PostgresPaymentRepository) ListForReport(ctx context.Context, filter ReportFilter) ([]*domain.PaymentIntent, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	add("created_at >= $%d", filter.From)
	add("created_at <= $%d", filter.To)
	if filter.Provider != "" {
		add("provider = $%d", string(filter.Provider))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}

	query := `SELECT ` + paymentColumns + ` FROM payment_intents WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY created_at DESC`

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment intents: %w", err)
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *PostgresPaymentRepository) collect(rows pgx.Rows) ([]*domain.PaymentIntent, error) {
	var intents []*domain.PaymentIntent
	for rows.Next() {
		intent, err := r.scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payment intents: %w", err)
	}
	return intents, nil
}

func (r *PostgresPaymentRepository) scanIntent(row pgx.Row) (*domain.PaymentIntent, error) {
	var intent domain.PaymentIntent
	var provider, status string
	var serviceID, providerPaymentID, providerTransactionID *string
	var encryptedPayload, errorMessage, deviceFingerprint *string
	var metadataJSON []byte

	err := row.Scan(
		&intent.ID,
		&intent.PaymentRef,
		&intent.UserID,
		&serviceID,
		&intent.Amount,
		&intent.Currency,
		&provider,
		&status,
		&providerPaymentID,
		&providerTransactionID,
		&encryptedPayload,
		&errorMessage,
		&deviceFingerprint,
		&metadataJSON,
		&intent.CreatedAt,
		&intent.UpdatedAt,
		&intent.ExpiresAt,
		&intent.PaidAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to scan payment intent: %w", err)
	}

	intent.Provider = domain.Provider(provider)
	intent.Status = domain.PaymentStatus(status)
	if serviceID != nil {
		intent.ServiceID = *serviceID
	}
	if providerPaymentID != nil {
		intent.ProviderPaymentID = *providerPaymentID
	}
	if providerTransactionID != nil {
		intent.ProviderTransactionID = *providerTransactionID
	}
	if encryptedPayload != nil {
		intent.EncryptedProviderPayload = *encryptedPayload
	}
	if errorMessage != nil {
		intent.ErrorMessage = *errorMessage
	}
	if deviceFingerprint != nil {
		intent.DeviceFingerprint = *deviceFingerprint
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &intent.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &intent, nil
}

// nullString returns nil if string is empty, otherwise returns pointer to string
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
