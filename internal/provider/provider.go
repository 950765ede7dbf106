package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/daleelbalady/payment-engine/internal/domain"
)

// CreateResult is the outcome of a successful provider create call.
// OpaquePayload is the raw provider response; the caller encrypts it
// before persisting, it is never stored or logged in clear text.
type CreateResult struct {
	ProviderPaymentID string
	PaymentURL        string
	OpaquePayload     []byte
}

// StatusResult is the provider's view of a payment, returned by
// VerifyStatus. Status is one of INITIATED (still pending at the
// provider), COMPLETED or FAILED.
type StatusResult struct {
	Status                domain.PaymentStatus
	ProviderTransactionID string
	PaidAt                *time.Time
}

// RefundResult is the outcome of a successful provider refund call.
type RefundResult struct {
	ProviderRefundID string
}

// Adapter is the uniform three-operation contract each payment provider
// implements. Each adapter owns its provider's authentication handshake
// and minor-unit conversion.
type Adapter interface {
	// Name returns the provider identifier this adapter serves.
	Name() domain.Provider

	// CreatePayment registers the intent with the provider. Failures are
	// never retried by callers; a fresh paymentRef is required instead.
	CreatePayment(ctx context.Context, intent *domain.PaymentIntent) (*CreateResult, error)

	// VerifyStatus asks the provider for the payment's current state.
	// Idempotent and safe under repeated calls.
	VerifyStatus(ctx context.Context, intent *domain.PaymentIntent) (*StatusResult, error)

	// Refund asks the provider to return amount to the payer. Adapters
	// without programmatic refunds fail fast with ErrRefundUnsupported.
	Refund(ctx context.Context, intent *domain.PaymentIntent, amount float64) (*RefundResult, error)
}

// Registry maps provider identifiers to adapters. Adding a provider means
// registering an adapter, not editing branching logic.
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.Provider]Adapter
}

// NewRegistry creates a registry holding the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Provider]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for its provider.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter for the provider, or ErrUnsupportedProvider.
func (r *Registry) Get(p domain.Provider) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedProvider, p)
	}
	return a, nil
}

// Providers lists the registered provider identifiers.
func (r *Registry) Providers() []domain.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]domain.Provider, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// minorUnits converts a decimal amount to the provider's smallest
// currency unit. EGP, USD and EUR all carry 100 subunits.
func minorUnits(amount float64) int64 {
	return int64(amount*100 + 0.5)
}

// wrapProviderErr maps transport failures to the engine's error taxonomy.
// Context deadline hits surface as ErrProviderTimeout so callers can tell
// a slow provider from a broken one.
func wrapProviderErr(p domain.Provider, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", p, op, domain.ErrProviderTimeout)
	}
	return fmt.Errorf("%s %s: %w", p, op, err)
}
