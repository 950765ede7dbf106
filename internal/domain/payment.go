package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus represents the status of a payment intent (matches DB ENUM)
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusInitiated PaymentStatus = "INITIATED"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"

	// PaymentStatusExpired is derived on read when a non-terminal intent
	// passes its validity window. It is never persisted.
	PaymentStatusExpired PaymentStatus = "EXPIRED"
)

// Provider identifies a payment provider.
type Provider string

const (
	ProviderPaymob Provider = "PAYMOB"
	ProviderFawry  Provider = "FAWRY"
	ProviderStripe Provider = "STRIPE"
	ProviderPayPal Provider = "PAYPAL"

	// ProviderMock is only registered in tests and local development.
	ProviderMock Provider = "MOCK"
)

// KnownProviders is the closed set accepted at the API boundary.
var KnownProviders = map[Provider]bool{
	ProviderPaymob: true,
	ProviderFawry:  true,
	ProviderStripe: true,
	ProviderPayPal: true,
}

// KnownCurrencies is the closed set of accepted currencies.
var KnownCurrencies = map[string]bool{
	"EGP": true,
	"USD": true,
	"EUR": true,
}

// IntentValidity is how long a created intent stays payable.
const IntentValidity = 15 * time.Minute

// PaymentIntent represents a tracked request to collect money. It moves
// through PENDING -> INITIATED -> {COMPLETED | FAILED} exactly once.
type PaymentIntent struct {
	ID                       string            `json:"id"`
	PaymentRef               string            `json:"payment_ref"`
	UserID                   string            `json:"user_id"`
	ServiceID                string            `json:"service_id,omitempty"`
	Amount                   float64           `json:"amount"`
	Currency                 string            `json:"currency"`
	Provider                 Provider          `json:"provider"`
	Status                   PaymentStatus     `json:"status"`
	ProviderPaymentID        string            `json:"provider_payment_id,omitempty"`
	ProviderTransactionID    string            `json:"provider_transaction_id,omitempty"`
	EncryptedProviderPayload string            `json:"-"`
	ErrorMessage             string            `json:"error_message,omitempty"`
	DeviceFingerprint        string            `json:"-"`
	Metadata                 map[string]string `json:"metadata,omitempty"`
	CreatedAt                time.Time         `json:"created_at"`
	UpdatedAt                time.Time         `json:"updated_at"`
	ExpiresAt                time.Time         `json:"expires_at"`
	PaidAt                   *time.Time        `json:"paid_at,omitempty"`
}

// NewPaymentIntent creates a PENDING intent. The paymentRef is minted by
// the security layer and passed in so that ref generation stays testable.
func NewPaymentIntent(paymentRef, userID, serviceID string, amount float64, currency string, provider Provider) (*PaymentIntent, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !KnownCurrencies[currency] {
		return nil, ErrInvalidCurrency
	}
	if !KnownProviders[provider] && provider != ProviderMock {
		return nil, ErrUnsupportedProvider
	}
	if userID == "" {
		return nil, ErrForbidden
	}

	now := time.Now().UTC()
	return &PaymentIntent{
		ID:         uuid.New().String(),
		PaymentRef: paymentRef,
		UserID:     userID,
		ServiceID:  serviceID,
		Amount:     amount,
		Currency:   currency,
		Provider:   provider,
		Status:     PaymentStatusPending,
		Metadata:   make(map[string]string),
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(IntentValidity),
	}, nil
}

// Initiate marks the intent as accepted by the provider.
func (p *PaymentIntent) Initiate(providerPaymentID, encryptedPayload string) error {
	if p.Status != PaymentStatusPending {
		return ErrPaymentFinal
	}
	p.Status = PaymentStatusInitiated
	p.ProviderPaymentID = providerPaymentID
	p.EncryptedProviderPayload = encryptedPayload
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete transitions the intent to COMPLETED. It is the only path that
// sets PaidAt. Calling it on a terminal intent is an error so that
// webhook replays stay side-effect free.
func (p *PaymentIntent) Complete(providerTransactionID string) error {
	if p.IsFinal() {
		return ErrPaymentFinal
	}
	now := time.Now().UTC()
	p.Status = PaymentStatusCompleted
	p.ProviderTransactionID = providerTransactionID
	p.PaidAt = &now
	p.UpdatedAt = now
	return nil
}

// Fail transitions the intent to FAILED with a triage message.
func (p *PaymentIntent) Fail(errorMessage string) error {
	if p.IsFinal() {
		return ErrPaymentFinal
	}
	p.Status = PaymentStatusFailed
	p.ErrorMessage = errorMessage
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// IsFinal returns true once the intent reached a terminal state.
func (p *PaymentIntent) IsFinal() bool {
	return p.Status == PaymentStatusCompleted || p.Status == PaymentStatusFailed
}

// IsExpired reports whether a non-terminal intent has passed its validity
// window. Expiry is a derived condition, not a stored transition.
func (p *PaymentIntent) IsExpired(now time.Time) bool {
	return !p.IsFinal() && now.After(p.ExpiresAt)
}

// EffectiveStatus returns the stored status, or EXPIRED when the validity
// window has lapsed on a non-terminal intent.
func (p *PaymentIntent) EffectiveStatus(now time.Time) PaymentStatus {
	if p.IsExpired(now) {
		return PaymentStatusExpired
	}
	return p.Status
}
