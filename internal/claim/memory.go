package claim

import (
	"context"
	"sync"
	"time"
)

// MemoryClaimer is a mutex-guarded claim table for single-process
// deployments, where the only concurrency to guard against is a manual scan
// triggered while a scheduled one is in flight.
type MemoryClaimer struct {
	mu     sync.Mutex
	ttl    time.Duration
	claims map[string]time.Time // record ID → expiry
}

// NewMemoryClaimer creates an in-memory claimer. ttl <= 0 uses DefaultTTL.
func NewMemoryClaimer(ttl time.Duration) *MemoryClaimer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryClaimer{ttl: ttl, claims: make(map[string]time.Time)}
}

// Claim implements Claimer.
func (m *MemoryClaimer) Claim(_ context.Context, recordID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if expiry, held := m.claims[recordID]; held && now.Before(expiry) {
		return false, nil
	}
	m.claims[recordID] = now.Add(m.ttl)
	return true, nil
}

// Release implements Claimer.
func (m *MemoryClaimer) Release(_ context.Context, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, recordID)
	return nil
}
