package domain

import (
	"time"

	"github.com/google/uuid"
)

// RefundStatus represents the status of a refund (matches DB ENUM)
type RefundStatus string

const (
	RefundStatusProcessing RefundStatus = "PROCESSING"
	RefundStatusCompleted  RefundStatus = "COMPLETED"
	RefundStatusFailed     RefundStatus = "FAILED"
)

// SelfServeRefundWindow is how long the original payer may refund without
// an elevated role.
const SelfServeRefundWindow = 24 * time.Hour

// Refund represents a refund against exactly one completed payment. It has
// its own PROCESSING -> {COMPLETED | FAILED} lifecycle, independent of the
// parent payment's status.
type Refund struct {
	ID               string       `json:"id"`
	PaymentID        string       `json:"payment_id"`
	PaymentRef       string       `json:"payment_ref"`
	Amount           float64      `json:"amount"`
	Reason           string       `json:"reason,omitempty"`
	Status           RefundStatus `json:"status"`
	ProviderRefundID string       `json:"provider_refund_id,omitempty"`
	ErrorMessage     string       `json:"error_message,omitempty"`
	RequestedBy      string       `json:"requested_by"`
	CreatedAt        time.Time    `json:"created_at"`
	ProcessedAt      *time.Time   `json:"processed_at,omitempty"`
}

// NewRefund creates a refund in PROCESSING state.
func NewRefund(payment *PaymentIntent, amount float64, reason, requestedBy string) (*Refund, error) {
	if payment.Status != PaymentStatusCompleted {
		return nil, ErrNotEligible
	}
	if amount <= 0 || amount > payment.Amount {
		return nil, ErrInvalidRefundAmount
	}
	return &Refund{
		ID:          uuid.New().String(),
		PaymentID:   payment.ID,
		PaymentRef:  payment.PaymentRef,
		Amount:      amount,
		Reason:      reason,
		Status:      RefundStatusProcessing,
		RequestedBy: requestedBy,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Complete marks the refund as settled by the provider.
func (r *Refund) Complete(providerRefundID string) error {
	if r.Status != RefundStatusProcessing {
		return ErrRefundNotFound
	}
	now := time.Now().UTC()
	r.Status = RefundStatusCompleted
	r.ProviderRefundID = providerRefundID
	r.ProcessedAt = &now
	return nil
}

// Fail marks the refund as rejected. The parent payment's COMPLETED status
// is never reverted by a failed refund attempt.
func (r *Refund) Fail(errorMessage string) error {
	if r.Status != RefundStatusProcessing {
		return ErrRefundNotFound
	}
	now := time.Now().UTC()
	r.Status = RefundStatusFailed
	r.ErrorMessage = errorMessage
	r.ProcessedAt = &now
	return nil
}
