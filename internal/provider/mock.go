package provider

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/daleelbalady/payment-engine/internal/domain"
)

// MockConfig controls mock adapter behaviour.
type MockConfig struct {
	// SuccessRate is the probability (0-1) that CreatePayment succeeds.
	SuccessRate float64
	// DelayMs simulates provider latency.
	DelayMs int
	// SupportsRefund toggles programmatic refunds.
	SupportsRefund bool
}

// DefaultMockConfig returns a mock that always succeeds and refunds.
func DefaultMockConfig() *MockConfig {
	return &MockConfig{SuccessRate: 1.0, DelayMs: 0, SupportsRefund: true}
}

type mockPayment struct {
	intentRef     string
	status        domain.PaymentStatus
	transactionID string
	paidAt        *time.Time
}

// MockAdapter is a deterministic in-memory Adapter for tests and local
// development. Settle and Reject drive payments to terminal states from
// test code, standing in for the provider's asynchronous side.
type MockAdapter struct {
	config   *MockConfig
	mu       sync.Mutex
	payments map[string]*mockPayment
	seq      int
}

// NewMockAdapter creates a mock adapter.
func NewMockAdapter(config *MockConfig) *MockAdapter {
	if config == nil {
		config = DefaultMockConfig()
	}
	return &MockAdapter{
		config:   config,
		payments: make(map[string]*mockPayment),
	}
}

// Name implements Adapter.
func (a *MockAdapter) Name() domain.Provider {
	return domain.ProviderMock
}

// CreatePayment implements Adapter.
func (a *MockAdapter) CreatePayment(ctx context.Context, intent *domain.PaymentIntent) (*CreateResult, error) {
	a.simulateDelay(ctx)
	if rand.Float64() > a.config.SuccessRate {
		return nil, wrapProviderErr(a.Name(), "create", fmt.Errorf("simulated provider rejection"))
	}

	a.mu.Lock()
	a.seq++
	id := fmt.Sprintf("mock_pay_%d", a.seq)
	a.payments[id] = &mockPayment{
		intentRef: intent.PaymentRef,
		status:    domain.PaymentStatusInitiated,
	}
	a.mu.Unlock()

	return &CreateResult{
		ProviderPaymentID: id,
		PaymentURL:        "https://pay.mock.local/" + id,
		OpaquePayload:     []byte(fmt.Sprintf(`{"mock_payment_id":%q}`, id)),
	}, nil
}

// VerifyStatus implements Adapter.
func (a *MockAdapter) VerifyStatus(ctx context.Context, intent *domain.PaymentIntent) (*StatusResult, error) {
	a.simulateDelay(ctx)
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.payments[intent.ProviderPaymentID]
	if !ok {
		return nil, wrapProviderErr(a.Name(), "verify", fmt.Errorf("unknown payment %s", intent.ProviderPaymentID))
	}
	return &StatusResult{
		Status:                p.status,
		ProviderTransactionID: p.transactionID,
		PaidAt:                p.paidAt,
	}, nil
}

// Refund implements Adapter.
func (a *MockAdapter) Refund(ctx context.Context, intent *domain.PaymentIntent, amount float64) (*RefundResult, error) {
	if !a.config.SupportsRefund {
		return nil, domain.ErrRefundUnsupported
	}
	a.simulateDelay(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	return &RefundResult{ProviderRefundID: fmt.Sprintf("mock_re_%d", a.seq)}, nil
}

// Settle drives a mock payment to COMPLETED, as a real provider would via
// webhook or polling.
func (a *MockAdapter) Settle(providerPaymentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.payments[providerPaymentID]; ok {
		now := time.Now().UTC()
		p.status = domain.PaymentStatusCompleted
		p.transactionID = "mock_txn_" + providerPaymentID
		p.paidAt = &now
	}
}

// Reject drives a mock payment to FAILED.
func (a *MockAdapter) Reject(providerPaymentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.payments[providerPaymentID]; ok {
		p.status = domain.PaymentStatusFailed
	}
}

func (a *MockAdapter) simulateDelay(ctx context.Context) {
	if a.config.DelayMs <= 0 {
		return
	}
	select {
	case <-time.After(time.Duration(a.config.DelayMs) * time.Millisecond):
	case <-ctx.Done():
	}
}
