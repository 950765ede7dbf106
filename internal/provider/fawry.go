package provider

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/daleelbalady/payment-engine/internal/domain"
	"github.com/daleelbalady/payment-engine/pkg/retry"
)

// FawryConfig holds Fawry adapter configuration.
type FawryConfig struct {
	BaseURL      string
	MerchantCode string
	SecureKey    string
}

// FawryAdapter implements Adapter for Fawry's reference-number flow.
// Requests are authenticated by a SHA-256 signature over the request
// fields plus the merchant secure key; there is no token handshake.
type FawryAdapter struct {
	config *FawryConfig
	client *http.Client
}

// NewFawryAdapter creates a Fawry adapter with an injected HTTP client.
func NewFawryAdapter(config *FawryConfig, client *http.Client) (*FawryAdapter, error) {
	if config == nil || config.MerchantCode == "" || config.SecureKey == "" {
		return nil, fmt.Errorf("fawry merchant code and secure key are required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://atfawry.com"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &FawryAdapter{config: config, client: client}, nil
}

// Name implements Adapter.
func (a *FawryAdapter) Name() domain.Provider {
	return domain.ProviderFawry
}

type fawryChargeResponse struct {
	ReferenceNumber string `json:"referenceNumber"`
	StatusCode      int    `json:"statusCode"`
	StatusDesc      string `json:"statusDescription"`
}

type fawryStatusResponse struct {
	ReferenceNumber   string `json:"referenceNumber"`
	PaymentStatus     string `json:"paymentStatus"`
	FawryRefNumber    string `json:"fawryRefNumber"`
	PaymentAmount     string `json:"paymentAmount"`
	PaymentTimeMillis int64  `json:"paymentTime"`
}

// CreatePayment implements Adapter.
func (a *FawryAdapter) CreatePayment(ctx context.Context, intent *domain.PaymentIntent) (*CreateResult, error) {
	amount := fmt.Sprintf("%.2f", intent.Amount)
	body := map[string]any{
		"merchantCode":   a.config.MerchantCode,
		"merchantRefNum": intent.PaymentRef,
		"amount":         amount,
		"currencyCode":   intent.Currency,
		"paymentMethod":  "PAYATFAWRY",
		"paymentExpiry":  intent.ExpiresAt.UnixMilli(),
		"signature":      a.sign(a.config.MerchantCode, intent.PaymentRef, amount),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	raw, err := a.do(ctx, http.MethodPost, "/ECommerceWeb/Fawry/payments/charge", payload)
	if err != nil {
		return nil, wrapProviderErr(a.Name(), "charge", err)
	}

	var charge fawryChargeResponse
	if err := json.Unmarshal(raw, &charge); err != nil {
		return nil, wrapProviderErr(a.Name(), "charge", fmt.Errorf("failed to decode response: %w", err))
	}
	if charge.StatusCode != 200 {
		return nil, wrapProviderErr(a.Name(), "charge", fmt.Errorf("status %d: %s", charge.StatusCode, charge.StatusDesc))
	}

	return &CreateResult{
		ProviderPaymentID: charge.ReferenceNumber,
		// Fawry is paid at a kiosk against the reference number; there is
		// no redirect URL.
		PaymentURL:    "",
		OpaquePayload: raw,
	}, nil
}

// VerifyStatus implements Adapter.
func (a *FawryAdapter) VerifyStatus(ctx context.Context, intent *domain.PaymentIntent) (*StatusResult, error) {
	query := url.Values{}
	query.Set("merchantCode", a.config.MerchantCode)
	query.Set("merchantRefNumber", intent.PaymentRef)
	query.Set("signature", a.sign(a.config.MerchantCode, intent.PaymentRef))

	raw, err := a.do(ctx, http.MethodGet, "/ECommerceWeb/Fawry/payments/status/v2?"+query.Encode(), nil)
	if err != nil {
		return nil, wrapProviderErr(a.Name(), "status", err)
	}

	var status fawryStatusResponse
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, wrapProviderErr(a.Name(), "status", fmt.Errorf("failed to decode response: %w", err))
	}

	result := &StatusResult{
		Status:                domain.PaymentStatusInitiated,
		ProviderTransactionID: status.FawryRefNumber,
	}
	switch status.PaymentStatus {
	case "PAID":
		paidAt := time.UnixMilli(status.PaymentTimeMillis).UTC()
		result.Status = domain.PaymentStatusCompleted
		result.PaidAt = &paidAt
	case "CANCELLED", "EXPIRED", "FAILED", "REFUSED":
		result.Status = domain.PaymentStatusFailed
	}
	return result, nil
}

// Refund implements Adapter. Fawry kiosk payments are refunded over the
// counter, not programmatically.
func (a *FawryAdapter) Refund(ctx context.Context, intent *domain.PaymentIntent, amount float64) (*RefundResult, error) {
	return nil, domain.ErrRefundUnsupported
}

// sign computes the Fawry request signature: SHA-256 over the given
// fields concatenated with the merchant secure key.
func (a *FawryAdapter) sign(fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(f))
	}
	h.Write([]byte(a.config.SecureKey))
	return hex.EncodeToString(h.Sum(nil))
}

func (a *FawryAdapter) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.config.BaseURL+path, reader)
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
		err := fmt.Errorf("fawry returned status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// A client error will not heal on retry.
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	return raw, nil
}
