package domain

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEntry is the immutable audit record written exactly once when a
// payment reaches COMPLETED. It is never updated or deleted.
type LedgerEntry struct {
	ID                    string    `json:"id"`
	PaymentID             string    `json:"payment_id"`
	PaymentRef            string    `json:"payment_ref"`
	UserID                string    `json:"user_id"`
	ServiceID             string    `json:"service_id,omitempty"`
	Amount                float64   `json:"amount"`
	Currency              string    `json:"currency"`
	Provider              Provider  `json:"provider"`
	ProviderTransactionID string    `json:"provider_transaction_id,omitempty"`
	RecordedAt            time.Time `json:"recorded_at"`
}

// NewLedgerEntry snapshots a completed payment into the ledger.
func NewLedgerEntry(p *PaymentIntent) *LedgerEntry {
	return &LedgerEntry{
		ID:                    uuid.New().String(),
		PaymentID:             p.ID,
		PaymentRef:            p.PaymentRef,
		UserID:                p.UserID,
		ServiceID:             p.ServiceID,
		Amount:                p.Amount,
		Currency:              p.Currency,
		Provider:              p.Provider,
		ProviderTransactionID: p.ProviderTransactionID,
		RecordedAt:            time.Now().UTC(),
	}
}

// DisputeStatus represents the status of a chargeback dispute.
type DisputeStatus string

const (
	DisputeStatusOpen DisputeStatus = "OPEN"
)

// Dispute is an out-of-band record created from chargeback webhooks for
// manual review. A dispute never automatically reverses a COMPLETED
// payment.
type Dispute struct {
	ID                string        `json:"id"`
	PaymentRef        string        `json:"payment_ref"`
	Provider          Provider      `json:"provider"`
	ProviderDisputeID string        `json:"provider_dispute_id,omitempty"`
	Amount            float64       `json:"amount"`
	Reason            string        `json:"reason,omitempty"`
	Status            DisputeStatus `json:"status"`
	CreatedAt         time.Time     `json:"created_at"`
}

// NewDispute records a provider-reported chargeback.
func NewDispute(paymentRef string, provider Provider, providerDisputeID string, amount float64, reason string) *Dispute {
	return &Dispute{
		ID:                uuid.New().String(),
		PaymentRef:        paymentRef,
		Provider:          provider,
		ProviderDisputeID: providerDisputeID,
		Amount:            amount,
		Reason:            reason,
		Status:            DisputeStatusOpen,
		CreatedAt:         time.Now().UTC(),
	}
}

// AnomalySeverity grades an advisory anomaly signal.
type AnomalySeverity string

const (
	SeverityLow    AnomalySeverity = "low"
	SeverityMedium AnomalySeverity = "medium"
	SeverityHigh   AnomalySeverity = "high"
)

// AnomalyType identifies the kind of anomaly detected on a payment attempt.
type AnomalyType string

const (
	AnomalyNewDevice     AnomalyType = "NEW_DEVICE"
	AnomalyNewLocation   AnomalyType = "NEW_LOCATION"
	AnomalyRapidAttempts AnomalyType = "RAPID_ATTEMPTS"
	AnomalyUnusualTime   AnomalyType = "UNUSUAL_TIME"
)

// AnomalySignal is advisory. High severity triggers an out-of-band alert
// but never blocks a payment transactionally.
type AnomalySignal struct {
	Type     AnomalyType     `json:"type"`
	Severity AnomalySeverity `json:"severity"`
	Detail   string          `json:"detail,omitempty"`
}
