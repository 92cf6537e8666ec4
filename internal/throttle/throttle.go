// Package throttle rate-limits reply sends per recipient so a burst of
// committed messages cannot trip provider send limits.
package throttle

import (
	"context"
	"sync"
	"time"
)

// Throttle is the per-recipient send gate.
//
// CheckAndReserve returns 0 and reserves the send slot when the recipient
// may be sent to now; otherwise it returns the remaining wait. The caller
// must not attempt the send before the wait elapses, and must finish every
// successful reservation with Commit (after the send succeeded) or Cancel
// (after it failed or was skipped), so a failed send never blocks a retry.
type Throttle interface {
	CheckAndReserve(ctx context.Context, recipient string) (time.Duration, error)
	Commit(ctx context.Context, recipient string) error
	Cancel(ctx context.Context, recipient string) error
}

type memoryEntry struct {
	lastSentAt time.Time
	reserved   bool
}

// Memory is the process-local throttle backend. The mutex serializes
// reserve/commit so two callers can never both read the same stale
// last-sent timestamp and interleave sends.
type Memory struct {
	mu          sync.Mutex
	minInterval time.Duration
	entries     map[string]*memoryEntry
	now         func() time.Time
}

// NewMemory creates an in-memory throttle with the given minimum
// inter-send interval.
func NewMemory(minInterval time.Duration) *Memory {
	return &Memory{
		minInterval: minInterval,
		entries:     make(map[string]*memoryEntry),
		now:         time.Now,
	}
}

// CheckAndReserve reserves the send slot or returns the remaining wait.
func (t *Memory) CheckAndReserve(_ context.Context, recipient string) (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[recipient]
	if !ok {
		e = &memoryEntry{}
		t.entries[recipient] = e
	}

	if e.reserved {
		// A send is in flight; the full interval is the safe wait.
		return t.minInterval, nil
	}

	if !e.lastSentAt.IsZero() {
		if elapsed := t.now().Sub(e.lastSentAt); elapsed < t.minInterval {
			return t.minInterval - elapsed, nil
		}
	}

	e.reserved = true
	return 0, nil
}

// Commit records the successful send and frees the reservation.
func (t *Memory) Commit(_ context.Context, recipient string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[recipient]
	if !ok {
		e = &memoryEntry{}
		t.entries[recipient] = e
	}
	e.lastSentAt = t.now()
	e.reserved = false
	return nil
}

// Cancel frees the reservation without recording a send, so a failed send
// does not block the next attempt.
func (t *Memory) Cancel(_ context.Context, recipient string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[recipient]; ok {
		e.reserved = false
	}
	return nil
}

// SetClock overrides the time source, for tests.
func (t *Memory) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}
