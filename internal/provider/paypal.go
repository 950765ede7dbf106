package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/daleelbalady/payment-engine/internal/domain"
	"github.com/daleelbalady/payment-engine/pkg/retry"
)

// PayPalConfig holds PayPal adapter configuration.
type PayPalConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	ReturnURL    string
	CancelURL    string
}

// PayPalAdapter implements Adapter against PayPal's REST API. Every call
// first exchanges client credentials for a bearer token.
type PayPalAdapter struct {
	config *PayPalConfig
	client *http.Client
}

// NewPayPalAdapter creates a PayPal adapter with an injected HTTP client.
func NewPayPalAdapter(config *PayPalConfig, client *http.Client) (*PayPalAdapter, error) {
	if config == nil || config.ClientID == "" || config.ClientSecret == "" {
		return nil, fmt.Errorf("paypal client credentials are required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.paypal.com"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &PayPalAdapter{config: config, client: client}, nil
}

// Name implements Adapter.
func (a *PayPalAdapter) Name() domain.Provider {
	return domain.ProviderPayPal
}

type paypalTokenResponse struct {
	AccessToken string `json:"access_token"`
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalTransaction struct {
	RelatedResources []struct {
		Sale struct {
			ID         string `json:"id"`
			State      string `json:"state"`
			CreateTime string `json:"create_time"`
		} `json:"sale"`
	} `json:"related_resources"`
}

type paypalPaymentResponse struct {
	ID           string              `json:"id"`
	State        string              `json:"state"`
	Links        []paypalLink        `json:"links"`
	Transactions []paypalTransaction `json:"transactions"`
}

type paypalRefundResponse struct {
	ID string `json:"id"`
}

// CreatePayment implements Adapter.
func (a *PayPalAdapter) CreatePayment(ctx context.Context, intent *domain.PaymentIntent) (*CreateResult, error) {
	token, err := a.token(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"intent": "sale",
		"payer":  map[string]string{"payment_method": "paypal"},
		"transactions": []map[string]any{{
			"amount": map[string]string{
				"total":    fmt.Sprintf("%.2f", intent.Amount),
				"currency": intent.Currency,
			},
			"invoice_number": intent.PaymentRef,
		}},
		"redirect_urls": map[string]string{
			"return_url": a.config.ReturnURL,
			"cancel_url": a.config.CancelURL,
		},
	}

	raw, err := a.doJSON(ctx, http.MethodPost, "/v1/payments/payment", token, body)
	if err != nil {
		return nil, wrapProviderErr(a.Name(), "create payment", err)
	}

	var payment paypalPaymentResponse
	if err := json.Unmarshal(raw, &payment); err != nil {
		return nil, wrapProviderErr(a.Name(), "create payment", fmt.Errorf("failed to decode response: %w", err))
	}

	approvalURL := ""
	for _, link := range payment.Links {
		if link.Rel == "approval_url" {
			approvalURL = link.Href
			break
		}
	}
	if approvalURL == "" {
		return nil, wrapProviderErr(a.Name(), "create payment", fmt.Errorf("no approval url in response"))
	}

	return &CreateResult{
		ProviderPaymentID: payment.ID,
		PaymentURL:        approvalURL,
		OpaquePayload:     raw,
	}, nil
}

// VerifyStatus implements Adapter.
func (a *PayPalAdapter) VerifyStatus(ctx context.Context, intent *domain.PaymentIntent) (*StatusResult, error) {
	token, err := a.token(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := a.doJSON(ctx, http.MethodGet, "/v1/payments/payment/"+url.PathEscape(intent.ProviderPaymentID), token, nil)
	if err != nil {
		return nil, wrapProviderErr(a.Name(), "get payment", err)
	}

	var payment paypalPaymentResponse
	if err := json.Unmarshal(raw, &payment); err != nil {
		return nil, wrapProviderErr(a.Name(), "get payment", fmt.Errorf("failed to decode response: %w", err))
	}

	result := &StatusResult{Status: domain.PaymentStatusInitiated}
	if saleID, saleTime := a.firstSale(&payment); saleID != "" {
		result.ProviderTransactionID = saleID
		if !saleTime.IsZero() {
			t := saleTime
			result.PaidAt = &t
		}
	}
	switch payment.State {
	case "approved":
		if result.PaidAt == nil {
			now := time.Now().UTC()
			result.PaidAt = &now
		}
		result.Status = domain.PaymentStatusCompleted
	case "failed", "expired", "canceled":
		result.Status = domain.PaymentStatusFailed
	}
	return result, nil
}

// Refund implements Adapter. Refunds target the sale captured under the
// payment, not the payment resource itself.
func (a *PayPalAdapter) Refund(ctx context.Context, intent *domain.PaymentIntent, amount float64) (*RefundResult, error) {
	if intent.ProviderTransactionID == "" {
		return nil, wrapProviderErr(a.Name(), "refund", fmt.Errorf("no captured sale to refund"))
	}
	token, err := a.token(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"amount": map[string]string{
			"total":    fmt.Sprintf("%.2f", amount),
			"currency": intent.Currency,
		},
	}
	raw, err := a.doJSON(ctx, http.MethodPost, "/v1/payments/sale/"+url.PathEscape(intent.ProviderTransactionID)+"/refund", token, body)
	if err != nil {
		return nil, wrapProviderErr(a.Name(), "refund", err)
	}

	var refund paypalRefundResponse
	if err := json.Unmarshal(raw, &refund); err != nil {
		return nil, wrapProviderErr(a.Name(), "refund", fmt.Errorf("failed to decode response: %w", err))
	}
	return &RefundResult{ProviderRefundID: refund.ID}, nil
}

func (a *PayPalAdapter) firstSale(payment *paypalPaymentResponse) (string, time.Time) {
	for _, txn := range payment.Transactions {
		for _, res := range txn.RelatedResources {
			if res.Sale.ID != "" {
				createTime, _ := time.Parse(time.RFC3339, res.Sale.CreateTime)
				return res.Sale.ID, createTime.UTC()
			}
		}
	}
	return "", time.Time{}
}

// token exchanges client credentials for a bearer token.
func (a *PayPalAdapter) token(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(a.config.ClientID, a.config.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", wrapProviderErr(a.Name(), "token", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", wrapProviderErr(a.Name(), "token", fmt.Errorf("paypal returned status %d", resp.StatusCode))
	}
	var token paypalTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", wrapProviderErr(a.Name(), "token", fmt.Errorf("failed to decode response: %w", err))
	}
	return token.AccessToken, nil
}

func (a *PayPalAdapter) doJSON(ctx context.Context, method, path, token string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.config.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
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
		err := fmt.Errorf("paypal returned status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// A client error will not heal on retry.
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	return raw, nil
}
