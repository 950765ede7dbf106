package service

import (
	"context"
	"fmt"
	"time"

	"github.com/daleelbalady/payment-engine/internal/domain"
	"github.com/daleelbalady/payment-engine/internal/repository"
)

// Role is the caller's authorization level, carried from the JWT.
type Role string

const (
	RoleUser           Role = "USER"
	RoleAdmin          Role = "ADMIN"
	RoleFinancialAdmin Role = "FINANCIAL_ADMIN"
)

// Caller identifies the authenticated principal behind a request.
type Caller struct {
	UserID string
	Role   Role
}

// Elevated reports whether the caller may act on payments it does not own
// and bypass the self-service refund window.
func (c Caller) Elevated() bool {
	return c.Role == RoleAdmin || c.Role == RoleFinancialAdmin
}

// CreateIntentRequest carries everything needed to open a payment intent.
// The security fields feed rate limiting and anomaly scoring.
type CreateIntentRequest struct {
	UserID    string
	ServiceID string
	Amount    float64
	Currency  string
	Provider  domain.Provider
	Metadata  map[string]string

	ClientIP    string
	Fingerprint string
	Latitude    float64
	Longitude   float64
	HasLocation bool
}

// CreateIntentResult is the outcome of a successful intent creation.
type CreateIntentResult struct {
	Payment    *domain.PaymentIntent
	PaymentURL string
	Signals    []domain.AnomalySignal
}

// VerifyResult is the outcome of a status verification. When the provider
// could not be reached the last known local state is returned with
// ProviderUnavailable set.
type VerifyResult struct {
	Payment             *domain.PaymentIntent
	EffectiveStatus     domain.PaymentStatus
	ProviderChecked     bool
	ProviderUnavailable bool
}

// RefundRequest asks for a refund against a completed payment. A zero
// Amount means the full remaining refundable balance.
type RefundRequest struct {
	PaymentRef string
	Caller     Caller
	Amount     float64
	Reason     string
}

// HistoryItem is one payment in a user's history, enriched with the total
// refunded so far.
type HistoryItem struct {
	Payment         *domain.PaymentIntent
	EffectiveStatus domain.PaymentStatus
	RefundedAmount  float64
}

// ProviderStats aggregates a single provider's share of a report.
type ProviderStats struct {
	Count       int     `json:"count"`
	Amount      float64 `json:"amount"`
	SuccessRate float64 `json:"success_rate"`
}

// Report is the aggregated view over a reporting window. An empty window
// yields zero values, never an error.
type Report struct {
	From            time.Time                         `json:"from"`
	To              time.Time                         `json:"to"`
	TotalCount      int                               `json:"total_count"`
	TotalAmount     float64                           `json:"total_amount"`
	CompletedAmount float64                           `json:"completed_amount"`
	RefundedAmount  float64                           `json:"refunded_amount"`
	StatusCounts    map[domain.PaymentStatus]int      `json:"status_counts"`
	ByProvider      map[domain.Provider]ProviderStats `json:"by_provider"`
}

// ProviderEvent is a normalized webhook or reconciliation outcome. Either
// PaymentRef or ProviderPaymentID must be set to resolve the intent.
type ProviderEvent struct {
	PaymentRef            string
	ProviderPaymentID     string
	ProviderTransactionID string
	Reason                string
	PaidAt                *time.Time
}

// DisputeEvent is a provider-reported chargeback.
type DisputeEvent struct {
	PaymentRef        string
	ProviderPaymentID string
	ProviderDisputeID string
	Amount            float64
	Reason            string
}

// RateLimitError carries the retry-after hint alongside ErrRateLimited.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s, retry after %s", domain.ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return domain.ErrRateLimited
}

// PaymentService is the transaction engine's application surface. Handlers
// and background reconciliation both go through it.
type PaymentService interface {
	// CreateIntent opens an intent and registers it with the provider.
	// Provider create failures are terminal for the ref; a retry needs a
	// fresh intent.
	CreateIntent(ctx context.Context, req *CreateIntentRequest) (*CreateIntentResult, error)

	// VerifyStatus reads the payment, consults the provider for
	// non-terminal intents and applies any terminal outcome it learns.
	VerifyStatus(ctx context.Context, paymentRef string, caller Caller) (*VerifyResult, error)

	// Refund runs a refund against a completed payment. Concurrent refunds
	// for the same payment are serialized.
	Refund(ctx context.Context, req *RefundRequest) (*domain.Refund, error)

	// History lists a user's payments, newest first.
	History(ctx context.Context, userID string, limit, offset int) ([]*HistoryItem, error)

	// Report aggregates payments over a window. Defaults to the last 30
	// days when the filter carries no bounds.
	Report(ctx context.Context, filter repository.ReportFilter) (*Report, error)

	// ApplySuccess applies a provider-confirmed completion. Replays are
	// no-ops.
	ApplySuccess(ctx context.Context, event ProviderEvent) error

	// ApplyFailure applies a provider-confirmed failure. Replays and
	// post-completion failures are no-ops.
	ApplyFailure(ctx context.Context, event ProviderEvent) error

	// RecordDispute appends a chargeback record for manual review without
	// touching the payment's status.
	RecordDispute(ctx context.Context, event DisputeEvent) error
}
