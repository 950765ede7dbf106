package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/daleelbalady/payment-engine/internal/domain"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
)

// StripeConfig holds Stripe adapter configuration.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// StripeAdapter implements Adapter using the Stripe SDK.
type StripeAdapter struct {
	config *StripeConfig
}

// NewStripeAdapter creates a Stripe adapter.
func NewStripeAdapter(config *StripeConfig) (*StripeAdapter, error) {
	if config == nil || config.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	stripe.Key = config.SecretKey
	return &StripeAdapter{config: config}, nil
}

// Name implements Adapter.
func (a *StripeAdapter) Name() domain.Provider {
	return domain.ProviderStripe
}

// WebhookSecret exposes the endpoint secret for signature verification.
func (a *StripeAdapter) WebhookSecret() string {
	return a.config.WebhookSecret
}

// CreatePayment implements Adapter.
func (a *StripeAdapter) CreatePayment(ctx context.Context, intent *domain.PaymentIntent) (*CreateResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minorUnits(intent.Amount)),
		Currency: stripe.String(intent.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			"payment_ref": intent.PaymentRef,
			"user_id":     intent.UserID,
		},
	}
	params.Context = ctx

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, wrapProviderErr(a.Name(), "create payment intent", err)
	}

	payload, err := json.Marshal(map[string]string{
		"payment_intent_id": pi.ID,
		"client_secret":     pi.ClientSecret,
		"status":            string(pi.Status),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	return &CreateResult{
		ProviderPaymentID: pi.ID,
		// The client secret drives Stripe's client-side confirmation; the
		// caller's frontend builds the final payment page from it.
		PaymentURL:    pi.ClientSecret,
		OpaquePayload: payload,
	}, nil
}

// VerifyStatus implements Adapter.
func (a *StripeAdapter) VerifyStatus(ctx context.Context, intent *domain.PaymentIntent) (*StatusResult, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(intent.ProviderPaymentID, params)
	if err != nil {
		return nil, wrapProviderErr(a.Name(), "get payment intent", err)
	}

	result := &StatusResult{
		Status:                domain.PaymentStatusInitiated,
		ProviderTransactionID: pi.ID,
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		paidAt := time.Unix(pi.Created, 0).UTC()
		if pi.LatestCharge != nil && pi.LatestCharge.Created > 0 {
			paidAt = time.Unix(pi.LatestCharge.Created, 0).UTC()
		}
		result.Status = domain.PaymentStatusCompleted
		result.PaidAt = &paidAt
	case stripe.PaymentIntentStatusCanceled:
		result.Status = domain.PaymentStatusFailed
	}
	return result, nil
}

// Refund implements Adapter.
func (a *StripeAdapter) Refund(ctx context.Context, intent *domain.PaymentIntent, amount float64) (*RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intent.ProviderPaymentID),
		Amount:        stripe.Int64(minorUnits(amount)),
	}
	params.Context = ctx

	r, err := refund.New(params)
	if err != nil {
		return nil, wrapProviderErr(a.Name(), "refund", err)
	}
	return &RefundResult{ProviderRefundID: r.ID}, nil
}
