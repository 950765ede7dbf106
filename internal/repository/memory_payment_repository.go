package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/daleelbalady/payment-engine/internal/domain"
)

// MemoryPaymentRepository implements PaymentRepository in memory for tests
// and local development. Writes store clones and reads return clones so
// callers never share entity pointers with the store.
type MemoryPaymentRepository struct {
	mu         sync.RWMutex
	byRef      map[string]*domain.PaymentIntent
	byProvider map[string]string // providerPaymentID -> paymentRef
}

// NewMemoryPaymentRepository creates an empty in-memory repository.
func NewMemoryPaymentRepository() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{
		byRef:      make(map[string]*domain.PaymentIntent),
		byProvider: make(map[string]string),
	}
}

func cloneIntent(p *domain.PaymentIntent) *domain.PaymentIntent {
	clone := *p
	if p.Metadata != nil {
		clone.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			clone.Metadata[k] = v
		}
	}
	if p.PaidAt != nil {
		paidAt := *p.PaidAt
		clone.PaidAt = &paidAt
	}
	return &clone
}

// Create implements PaymentRepository.
func (r *MemoryPaymentRepository) Create(_ context.Context, intent *domain.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byRef[intent.PaymentRef]; exists {
		return domain.ErrConcurrencyConflict
	}
	r.byRef[intent.PaymentRef] = cloneIntent(intent)
	if intent.ProviderPaymentID != "" {
		r.byProvider[intent.ProviderPaymentID] = intent.PaymentRef
	}
	return nil
}

// GetByRef implements PaymentRepository.
func (r *MemoryPaymentRepository) GetByRef(_ context.Context, paymentRef string) (*domain.PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	intent, ok := r.byRef[paymentRef]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return cloneIntent(intent), nil
}

// GetByProviderPaymentID implements PaymentRepository.
func (r *MemoryPaymentRepository) GetByProviderPaymentID(_ context.Context, providerPaymentID string) (*domain.PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, ok := r.byProvider[providerPaymentID]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return cloneIntent(r.byRef[ref]), nil
}

// HasCompleted implements PaymentRepository.
func (r *MemoryPaymentRepository) HasCompleted(_ context.Context, userID, serviceID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, intent := range r.byRef {
		if intent.UserID == userID && intent.ServiceID == serviceID &&
			intent.Status == domain.PaymentStatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

// MarkInitiated implements PaymentRepository.
func (r *MemoryPaymentRepository) MarkInitiated(_ context.Context, intent *domain.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byRef[intent.PaymentRef]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if stored.Status != domain.PaymentStatusPending {
		return domain.ErrConcurrencyConflict
	}
	r.byRef[intent.PaymentRef] = cloneIntent(intent)
	if intent.ProviderPaymentID != "" {
		r.byProvider[intent.ProviderPaymentID] = intent.PaymentRef
	}
	return nil
}

// FinishCAS implements PaymentRepository. The terminal write only applies
// while the stored status is non-terminal, mirroring the SQL conditional
// update.
func (r *MemoryPaymentRepository) FinishCAS(_ context.Context, intent *domain.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byRef[intent.PaymentRef]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if stored.Status != domain.PaymentStatusPending && stored.Status != domain.PaymentStatusInitiated {
		return domain.ErrConcurrencyConflict
	}
	r.byRef[intent.PaymentRef] = cloneIntent(intent)
	return nil
}

// ListByUser implements PaymentRepository.
func (r *MemoryPaymentRepository) ListByUser(_ context.Context, userID string, limit, offset int) ([]*domain.PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var intents []*domain.PaymentIntent
	for _, intent := range r.byRef {
		if intent.UserID == userID {
			intents = append(intents, cloneIntent(intent))
		}
	}
	sort.Slice(intents, func(i, j int) bool {
		return intents[i].CreatedAt.After(intents[j].CreatedAt)
	})

	if offset >= len(intents) {
		return nil, nil
	}
	intents = intents[offset:]
	if limit > 0 && limit < len(intents) {
		intents = intents[:limit]
	}
	return intents, nil
}

// ListForReport implements PaymentRepository.
func (r *MemoryPaymentRepository) ListForReport(_ context.Context, filter ReportFilter) ([]*domain.PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var intents []*domain.PaymentIntent
	for _, intent := range r.byRef {
		if intent.CreatedAt.Before(filter.From) || intent.CreatedAt.After(filter.To) {
			continue
		}
		if filter.Provider != "" && intent.Provider != filter.Provider {
			continue
		}
		if filter.Status != "" && intent.Status != filter.Status {
			continue
		}
		if filter.UserID != "" && intent.UserID != filter.UserID {
			continue
		}
		intents = append(intents, cloneIntent(intent))
	}
	sort.Slice(intents, func(i, j int) bool {
		return intents[i].CreatedAt.After(intents[j].CreatedAt)
	})
	return intents, nil
}

// Count returns the number of stored intents. Test helper.
func (r *MemoryPaymentRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRef)
}

// Clear removes all stored intents. Test helper.
func (r *MemoryPaymentRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byRef = make(map[string]*domain.PaymentIntent)
	r.byProvider = make(map[string]string)
}
