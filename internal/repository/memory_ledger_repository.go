package repository

import (
	"context"
	"sync"

	"github.com/daleelbalady/payment-engine/internal/domain"
)

// MemoryLedgerRepository implements LedgerRepository in memory. The
// Entries and Disputes accessors let tests assert the once-per-completion
// invariant.
type MemoryLedgerRepository struct {
	mu       sync.RWMutex
	entries  []*domain.LedgerEntry
	disputes []*domain.Dispute
}

// NewMemoryLedgerRepository creates an empty in-memory ledger repository.
func NewMemoryLedgerRepository() *MemoryLedgerRepository {
	return &MemoryLedgerRepository{}
}

// AppendEntry implements LedgerRepository.
func (m *MemoryLedgerRepository) AppendEntry(_ context.Context, entry *domain.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *entry
	m.entries = append(m.entries, &clone)
	return nil
}

// AppendDispute implements LedgerRepository.
func (m *MemoryLedgerRepository) AppendDispute(_ context.Context, dispute *domain.Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *dispute
	m.disputes = append(m.disputes, &clone)
	return nil
}

// Entries returns a snapshot of the ledger. Test helper.
func (m *MemoryLedgerRepository) Entries() []*domain.LedgerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.LedgerEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Disputes returns a snapshot of the dispute log. Test helper.
func (m *MemoryLedgerRepository) Disputes() []*domain.Dispute {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Dispute, len(m.disputes))
	copy(out, m.disputes)
	return out
}
