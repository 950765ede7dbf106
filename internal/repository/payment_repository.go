package repository

import (
	"context"
	"time"

	"github.com/daleelbalady/payment-engine/internal/domain"
)

// ReportFilter bounds a reporting or listing query.
type ReportFilter struct {
	From     time.Time
	To       time.Time
	Provider domain.Provider
	Status   domain.PaymentStatus
	UserID   string
}

// PaymentRepository defines data access for payment intents. Terminal
// writes use compare-and-set semantics keyed by paymentRef so concurrent
// webhook and reconciliation writers cannot double-apply a transition.
type PaymentRepository interface {
	// Create persists a new PENDING intent.
	Create(ctx context.Context, intent *domain.PaymentIntent) error

	// GetByRef retrieves an intent by its public payment reference.
	GetByRef(ctx context.Context, paymentRef string) (*domain.PaymentIntent, error)

	// GetByProviderPaymentID retrieves an intent by the provider's id,
	// used when resolving webhook payloads.
	GetByProviderPaymentID(ctx context.Context, providerPaymentID string) (*domain.PaymentIntent, error)

	// HasCompleted reports whether a COMPLETED intent exists for the
	// (userID, serviceID) pair.
	HasCompleted(ctx context.Context, userID, serviceID string) (bool, error)

	// MarkInitiated persists the PENDING -> INITIATED transition. It only
	// writes while the stored status is still PENDING.
	MarkInitiated(ctx context.Context, intent *domain.PaymentIntent) error

	// FinishCAS persists a terminal transition. It only writes while the
	// stored status is non-terminal; losing the race returns
	// ErrConcurrencyConflict.
	FinishCAS(ctx context.Context, intent *domain.PaymentIntent) error

	// ListByUser retrieves a user's intents, newest first.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.PaymentIntent, error)

	// ListForReport retrieves intents matching the filter.
	ListForReport(ctx context.Context, filter ReportFilter) ([]*domain.PaymentIntent, error)
}

// RefundRepository defines data access for refunds.
type RefundRepository interface {
	// Create persists a new PROCESSING refund.
	Create(ctx context.Context, refund *domain.Refund) error

	// Update persists a refund's terminal transition.
	Update(ctx context.Context, refund *domain.Refund) error

	// SumCompleted returns the total of COMPLETED refund amounts for a
	// payment, the refundable-balance denominator.
	SumCompleted(ctx context.Context, paymentID string) (float64, error)

	// SumCompletedByPayment returns COMPLETED refund totals keyed by
	// payment id for the given payments.
	SumCompletedByPayment(ctx context.Context, paymentIDs []string) (map[string]float64, error)
}

// LedgerRepository defines append-only access to the audit ledger and the
// dispute log.
type LedgerRepository interface {
	// AppendEntry writes the once-per-completion audit record.
	AppendEntry(ctx context.Context, entry *domain.LedgerEntry) error

	// AppendDispute records a provider-reported chargeback for manual
	// review.
	AppendDispute(ctx context.Context, dispute *domain.Dispute) error
}
