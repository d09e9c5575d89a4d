package cache

import (
	"context"
	"sync"

	"github.com/erp/ingest/internal/domain/storage"
	"github.com/google/uuid"
)

// InMemoryConcurrencyLedger keeps per-user upload counters in process memory.
// Suitable for single-instance deployments and tests.
type InMemoryConcurrencyLedger struct {
	mu     sync.Mutex
	active map[uuid.UUID]int
}

// NewInMemoryConcurrencyLedger creates an empty ledger
func NewInMemoryConcurrencyLedger() *InMemoryConcurrencyLedger {
	return &InMemoryConcurrencyLedger{active: make(map[uuid.UUID]int)}
}

// TryAcquire increments the user's counter if it is below limit
func (l *InMemoryConcurrencyLedger) TryAcquire(_ context.Context, userID uuid.UUID, limit int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || l.active[userID] >= limit {
		return false, nil
	}
	l.active[userID]++
	return true, nil
}

// Release decrements the user's counter, flooring at zero
func (l *InMemoryConcurrencyLedger) Release(_ context.Context, userID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active[userID] <= 1 {
		delete(l.active, userID)
		return nil
	}
	l.active[userID]--
	return nil
}

// Active returns the user's current counter
func (l *InMemoryConcurrencyLedger) Active(_ context.Context, userID uuid.UUID) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[userID], nil
}

// Snapshot copies the counters under the lock
func (l *InMemoryConcurrencyLedger) Snapshot(_ context.Context) (storage.LedgerSnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := storage.LedgerSnapshot{ActiveByUser: make(map[uuid.UUID]int, len(l.active))}
	for userID, n := range l.active {
		snap.ActiveByUser[userID] = n
	}
	return snap, nil
}

var _ storage.ConcurrencyLedger = (*InMemoryConcurrencyLedger)(nil)
