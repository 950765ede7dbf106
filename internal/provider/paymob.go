package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/daleelbalady/payment-engine/internal/domain"
	"github.com/daleelbalady/payment-engine/pkg/retry"
)

// PaymobConfig holds Paymob adapter configuration.
type PaymobConfig struct {
	BaseURL       string
	APIKey        string
	IntegrationID string
	IframeID      string
}

// PaymobAdapter implements Adapter for Paymob's accept API. Creating a
// payment is a three-step handshake: auth token, order registration,
// payment key. The payment key is rendered through a hosted iframe.
type PaymobAdapter struct {
	config *PaymobConfig
	client *http.Client
}

// NewPaymobAdapter creates a Paymob adapter with an injected HTTP client.
func NewPaymobAdapter(config *PaymobConfig, client *http.Client) (*PaymobAdapter, error) {
	if config == nil || config.APIKey == "" {
		return nil, fmt.Errorf("paymob api key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://accept.paymob.com"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &PaymobAdapter{config: config, client: client}, nil
}

// Name implements Adapter.
func (a *PaymobAdapter) Name() domain.Provider {
	return domain.ProviderPaymob
}

type paymobAuthResponse struct {
	Token string `json:"token"`
}

type paymobOrderResponse struct {
	ID int64 `json:"id"`
}

type paymobKeyResponse struct {
	Token string `json:"token"`
}

type paymobTransaction struct {
	ID      int64 `json:"id"`
	Success bool  `json:"success"`
	Pending bool  `json:"pending"`
}

// CreatePayment implements Adapter.
func (a *PaymobAdapter) CreatePayment(ctx context.Context, intent *domain.PaymentIntent) (*CreateResult, error) {
	token, err := a.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	orderBody := map[string]any{
		"auth_token":        token,
		"delivery_needed":   false,
		"amount_cents":      minorUnits(intent.Amount),
		"currency":          intent.Currency,
		"merchant_order_id": intent.PaymentRef,
	}
	var order paymobOrderResponse
	raw, err := a.post(ctx, "/api/ecommerce/orders", orderBody, &order)
	if err != nil {
		return nil, wrapProviderErr(a.Name(), "create order", err)
	}

	keyBody := map[string]any{
		"auth_token":     token,
		"amount_cents":   minorUnits(intent.Amount),
		"currency":       intent.Currency,
		"order_id":       order.ID,
		"integration_id": a.config.IntegrationID,
		"expiration":     int(domain.IntentValidity.Seconds()),
		"billing_data": map[string]any{
			"email":        "NA",
			"phone_number": "NA",
			"first_name":   "NA",
			"last_name":    "NA",
		},
	}
	var key paymobKeyResponse
	if _, err := a.post(ctx, "/api/acceptance/payment_keys", keyBody, &key); err != nil {
		return nil, wrapProviderErr(a.Name(), "create payment key", err)
	}

	return &CreateResult{
		ProviderPaymentID: fmt.Sprintf("%d", order.ID),
		PaymentURL:        fmt.Sprintf("%s/api/acceptance/iframes/%s?payment_token=%s", a.config.BaseURL, a.config.IframeID, key.Token),
		OpaquePayload:     raw,
	}, nil
}

// VerifyStatus implements Adapter. Paymob exposes transaction inquiry by
// merchant order id.
func (a *PaymobAdapter) VerifyStatus(ctx context.Context, intent *domain.PaymentIntent) (*StatusResult, error) {
	token, err := a.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"auth_token":        token,
		"merchant_order_id": intent.PaymentRef,
	}
	var txn paymobTransaction
	if _, err := a.post(ctx, "/api/ecommerce/orders/transaction_inquiry", body, &txn); err != nil {
		return nil, wrapProviderErr(a.Name(), "transaction inquiry", err)
	}

	result := &StatusResult{
		Status:                domain.PaymentStatusInitiated,
		ProviderTransactionID: fmt.Sprintf("%d", txn.ID),
	}
	switch {
	case txn.Success:
		now := time.Now().UTC()
		result.Status = domain.PaymentStatusCompleted
		result.PaidAt = &now
	case !txn.Pending:
		result.Status = domain.PaymentStatusFailed
	}
	return result, nil
}

// Refund implements Adapter. Paymob refunds go through the merchant
// dashboard, not the API surface this engine integrates.
func (a *PaymobAdapter) Refund(ctx context.Context, intent *domain.PaymentIntent, amount float64) (*RefundResult, error) {
	return nil, domain.ErrRefundUnsupported
}

func (a *PaymobAdapter) authenticate(ctx context.Context) (string, error) {
	var auth paymobAuthResponse
	if _, err := a.post(ctx, "/api/auth/tokens", map[string]any{"api_key": a.config.APIKey}, &auth); err != nil {
		return "", wrapProviderErr(a.Name(), "authenticate", err)
	}
	return auth.Token, nil
}

// post sends a JSON body and decodes the response, returning the raw
// response bytes so callers can persist them encrypted.
func (a *PaymobAdapter) post(ctx context.Context, path string, body any, out any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("paymob returned status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// A client error will not heal on retry.
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return raw, nil
}
