package lease

import (
	"context"
	"sync"
	"time"
)

// MemoryManager implements Manager with a process-local map. Like the
// in-memory idempotency store it is invisible to other workers, so it is only
// suitable for tests and single-process runs. The mutex makes acquisition
// atomic within the process.
type MemoryManager struct {
	mu     sync.Mutex
	leases map[string]*Lease
	now    func() time.Time
}

// NewMemoryManager creates an in-memory lease manager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		leases: make(map[string]*Lease),
		now:    time.Now,
	}
}

// Acquire claims the key iff no valid lease exists on it.
func (m *MemoryManager) Acquire(_ context.Context, resourceKey, holderID string, ttl time.Duration) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.leases[resourceKey]; ok && !existing.Expired(now) {
		return nil, ErrDenied
	}

	l := &Lease{
		ResourceKey: resourceKey,
		HolderID:    holderID,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(ttl),
	}
	m.leases[resourceKey] = l
	return l, nil
}

// Renew extends a lease the caller still holds.
func (m *MemoryManager) Renew(_ context.Context, l *Lease, ttl time.Duration) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	current, ok := m.leases[l.ResourceKey]
	if !ok || current.HolderID != l.HolderID || current.Expired(now) {
		return nil, ErrDenied
	}

	renewed := &Lease{
		ResourceKey: l.ResourceKey,
		HolderID:    l.HolderID,
		AcquiredAt:  current.AcquiredAt,
		ExpiresAt:   now.Add(ttl),
	}
	m.leases[l.ResourceKey] = renewed
	return renewed, nil
}

// Release clears the lease if the caller is the current holder; releasing an
// expired or foreign lease is a no-op.
func (m *MemoryManager) Release(_ context.Context, l *Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.leases[l.ResourceKey]
	if !ok || current.HolderID != l.HolderID {
		return nil
	}
	delete(m.leases, l.ResourceKey)
	return nil
}

// SetClock overrides the time source, for tests.
func (m *MemoryManager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
