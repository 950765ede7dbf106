package dto

import (
	"time"

	"github.com/daleelbalady/payment-engine/internal/domain"
	"github.com/daleelbalady/payment-engine/internal/service"
)

// CreateIntentRequest represents a request to open a payment intent
type CreateIntentRequest struct {
	ServiceID string            `json:"service_id,omitempty"`
	Amount    float64           `json:"amount" binding:"required,gt=0"`
	Currency  string            `json:"currency" binding:"required"`
	Provider  domain.Provider   `json:"provider" binding:"required"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Latitude  *float64          `json:"latitude,omitempty"`
	Longitude *float64          `json:"longitude,omitempty"`
}

// RefundRequest represents a refund request. Amount omitted means the full
// remaining refundable balance.
type RefundRequest struct {
	Amount float64 `json:"amount,omitempty" binding:"omitempty,gt=0"`
	Reason string  `json:"reason,omitempty"`
}

// PaymentResponse represents a payment intent in API responses
type PaymentResponse struct {
	PaymentRef            string               `json:"payment_ref"`
	UserID                string               `json:"user_id"`
	ServiceID             string               `json:"service_id,omitempty"`
	Amount                float64              `json:"amount"`
	Currency              string               `json:"currency"`
	Provider              domain.Provider      `json:"provider"`
	Status                domain.PaymentStatus `json:"status"`
	ProviderTransactionID string               `json:"provider_transaction_id,omitempty"`
	ErrorMessage          string               `json:"error_message,omitempty"`
	Metadata              map[string]string    `json:"metadata,omitempty"`
	CreatedAt             time.Time            `json:"created_at"`
	ExpiresAt             time.Time            `json:"expires_at"`
	PaidAt                *time.Time           `json:"paid_at,omitempty"`
}

// FromPayment converts a domain PaymentIntent to PaymentResponse. The
// status is the effective one, so lapsed intents read as EXPIRED.
func FromPayment(p *domain.PaymentIntent) *PaymentResponse {
	return fromPaymentWithStatus(p, p.EffectiveStatus(time.Now().UTC()))
}

func fromPaymentWithStatus(p *domain.PaymentIntent, status domain.PaymentStatus) *PaymentResponse {
	return &PaymentResponse{
		PaymentRef:            p.PaymentRef,
		UserID:                p.UserID,
		ServiceID:             p.ServiceID,
		Amount:                p.Amount,
		Currency:              p.Currency,
		Provider:              p.Provider,
		Status:                status,
		ProviderTransactionID: p.ProviderTransactionID,
		ErrorMessage:          p.ErrorMessage,
		Metadata:              p.Metadata,
		CreatedAt:             p.CreatedAt,
		ExpiresAt:             p.ExpiresAt,
		PaidAt:                p.PaidAt,
	}
}

// CreateIntentResponse is returned from intent creation
type CreateIntentResponse struct {
	Payment    *PaymentResponse       `json:"payment"`
	PaymentURL string                 `json:"payment_url,omitempty"`
	Signals    []domain.AnomalySignal `json:"signals,omitempty"`
}

// FromCreateResult converts a service create result
func FromCreateResult(res *service.CreateIntentResult) *CreateIntentResponse {
	return &CreateIntentResponse{
		Payment:    FromPayment(res.Payment),
		PaymentURL: res.PaymentURL,
		Signals:    res.Signals,
	}
}

// VerifyResponse is returned from status verification
type VerifyResponse struct {
	Payment             *PaymentResponse `json:"payment"`
	ProviderChecked     bool             `json:"provider_checked"`
	ProviderUnavailable bool             `json:"provider_unavailable,omitempty"`
}

// FromVerifyResult converts a service verify result
func FromVerifyResult(res *service.VerifyResult) *VerifyResponse {
	return &VerifyResponse{
		Payment:             fromPaymentWithStatus(res.Payment, res.EffectiveStatus),
		ProviderChecked:     res.ProviderChecked,
		ProviderUnavailable: res.ProviderUnavailable,
	}
}

// RefundResponse represents a refund in API responses
type RefundResponse struct {
	ID           string              `json:"id"`
	PaymentRef   string              `json:"payment_ref"`
	Amount       float64             `json:"amount"`
	Reason       string              `json:"reason,omitempty"`
	Status       domain.RefundStatus `json:"status"`
	ErrorMessage string              `json:"error_message,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	ProcessedAt  *time.Time          `json:"processed_at,omitempty"`
}

// FromRefund converts a domain Refund
func FromRefund(r *domain.Refund) *RefundResponse {
	return &RefundResponse{
		ID:           r.ID,
		PaymentRef:   r.PaymentRef,
		Amount:       r.Amount,
		Reason:       r.Reason,
		Status:       r.Status,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
		ProcessedAt:  r.ProcessedAt,
	}
}

// HistoryItemResponse is one row of a user's payment history
type HistoryItemResponse struct {
	Payment        *PaymentResponse `json:"payment"`
	RefundedAmount float64          `json:"refunded_amount"`
}

// HistoryResponse is a paged payment history
type HistoryResponse struct {
	Payments []*HistoryItemResponse `json:"payments"`
	Total    int                    `json:"total"`
}

// FromHistory converts service history items
func FromHistory(items []*service.HistoryItem) *HistoryResponse {
	out := make([]*HistoryItemResponse, len(items))
	for i, item := range items {
		out[i] = &HistoryItemResponse{
			Payment:        fromPaymentWithStatus(item.Payment, item.EffectiveStatus),
			RefundedAmount: item.RefundedAmount,
		}
	}
	return &HistoryResponse{Payments: out, Total: len(out)}
}
