package repository

import (
	"context"
	"sync"

	"github.com/daleelbalady/payment-engine/internal/domain"
)

// MemoryRefundRepository implements RefundRepository in memory.
type MemoryRefundRepository struct {
	mu      sync.RWMutex
	refunds map[string]*domain.Refund
}

// NewMemoryRefundRepository creates an empty in-memory refund repository.
func NewMemoryRefundRepository() *MemoryRefundRepository {
	return &MemoryRefundRepository{refunds: make(map[string]*domain.Refund)}
}

func cloneRefund(r *domain.Refund) *domain.Refund {
	clone := *r
	if r.ProcessedAt != nil {
		processedAt := *r.ProcessedAt
		clone.ProcessedAt = &processedAt
	}
	return &clone
}

// Create implements RefundRepository.
func (m *MemoryRefundRepository) Create(_ context.Context, refund *domain.Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds[refund.ID] = cloneRefund(refund)
	return nil
}

// Update implements RefundRepository.
func (m *MemoryRefundRepository) Update(_ context.Context, refund *domain.Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refunds[refund.ID]; !ok {
		return domain.ErrRefundNotFound
	}
	m.refunds[refund.ID] = cloneRefund(refund)
	return nil
}

// SumCompleted implements RefundRepository.
func (m *MemoryRefundRepository) SumCompleted(_ context.Context, paymentID string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total float64
	for _, r := range m.refunds {
		if r.PaymentID == paymentID && r.Status == domain.RefundStatusCompleted {
			total += r.Amount
		}
	}
	return total, nil
}

// SumCompletedByPayment implements RefundRepository.
func (m *MemoryRefundRepository) SumCompletedByPayment(_ context.Context, paymentIDs []string) (map[string]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[string]bool, len(paymentIDs))
	for _, id := range paymentIDs {
		wanted[id] = true
	}
	totals := make(map[string]float64, len(paymentIDs))
	for _, r := range m.refunds {
		if wanted[r.PaymentID] && r.Status == domain.RefundStatusCompleted {
			totals[r.PaymentID] += r.Amount
		}
	}
	return totals, nil
}
