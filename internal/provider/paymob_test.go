package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/daleelbalady/payment-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paymobIntent(t *testing.T) *domain.PaymentIntent {
	t.Helper()
	intent, err := domain.NewPaymentIntent("PAY-REF-9", "user-1", "svc-1", 100, "EGP", domain.ProviderPaymob)
	require.NoError(t, err)
	return intent
}

func paymobTestServer(t *testing.T, txn map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch r.URL.Path {
		case "/api/auth/tokens":
			require.Equal(t, "test-api-key", body["api_key"])
			json.NewEncoder(w).Encode(map[string]any{"token": "auth-token"})
		case "/api/ecommerce/orders":
			require.Equal(t, "auth-token", body["auth_token"])
			require.Equal(t, float64(10000), body["amount_cents"])
			require.Equal(t, "PAY-REF-9", body["merchant_order_id"])
			json.NewEncoder(w).Encode(map[string]any{"id": 777001})
		case "/api/acceptance/payment_keys":
			require.Equal(t, float64(777001), body["order_id"])
			json.NewEncoder(w).Encode(map[string]any{"token": "payment-key-token"})
		case "/api/ecommerce/orders/transaction_inquiry":
			json.NewEncoder(w).Encode(txn)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
}

func TestPaymobCreatePayment(t *testing.T) {
	server := paymobTestServer(t, nil)
	defer server.Close()

	adapter, err := NewPaymobAdapter(&PaymobConfig{
		BaseURL:       server.URL,
		APIKey:        "test-api-key",
		IntegrationID: "int-1",
		IframeID:      "iframe-1",
	}, server.Client())
	require.NoError(t, err)

	res, err := adapter.CreatePayment(context.Background(), paymobIntent(t))
	require.NoError(t, err)
	assert.Equal(t, "777001", res.ProviderPaymentID)
	assert.Contains(t, res.PaymentURL, "/api/acceptance/iframes/iframe-1")
	assert.Contains(t, res.PaymentURL, "payment_token=payment-key-token")
}

func TestPaymobVerifyStatus(t *testing.T) {
	cases := []struct {
		name string
		txn  map[string]any
		want domain.PaymentStatus
	}{
		{"settled", map[string]any{"id": 555, "success": true, "pending": false}, domain.PaymentStatusCompleted},
		{"still pending", map[string]any{"id": 555, "success": false, "pending": true}, domain.PaymentStatusInitiated},
		{"declined", map[string]any{"id": 555, "success": false, "pending": false}, domain.PaymentStatusFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := paymobTestServer(t, tc.txn)
			defer server.Close()

			adapter, err := NewPaymobAdapter(&PaymobConfig{BaseURL: server.URL, APIKey: "test-api-key"}, server.Client())
			require.NoError(t, err)

			status, err := adapter.VerifyStatus(context.Background(), paymobIntent(t))
			require.NoError(t, err)
			assert.Equal(t, tc.want, status.Status)
			assert.Equal(t, "555", status.ProviderTransactionID)
			if tc.want == domain.PaymentStatusCompleted {
				assert.NotNil(t, status.PaidAt)
			}
		})
	}
}

func TestPaymobRefundUnsupported(t *testing.T) {
	adapter, err := NewPaymobAdapter(&PaymobConfig{APIKey: "k"}, nil)
	require.NoError(t, err)

	_, err = adapter.Refund(context.Background(), paymobIntent(t), 10)
	assert.ErrorIs(t, err, domain.ErrRefundUnsupported)
}
