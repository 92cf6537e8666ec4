// Package lease grants time-bounded exclusive claims on a resource key so
// that only one worker acts on a given (recipient, task) at a time. Every
// backend must implement acquisition as a single atomic conditional write
// ("set iff absent or expired"), never a read-then-write emulation.
package lease

import (
	"context"
	"errors"
	"time"
)

// ErrDenied signals normal contention, not a failure: another worker holds a
// valid lease on the resource key. The caller should skip the resource and
// let the holder finish.
var ErrDenied = errors.New("lease: held by another worker")

// Lease is a handle on an exclusive claim. It is only valid until ExpiresAt;
// the holder must renew before then if its work can outlast the TTL.
type Lease struct {
	ResourceKey string
	HolderID    string
	AcquiredAt  time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the lease has passed its expiry.
func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Manager is the lease contract.
//
// Acquire returns ErrDenied when a valid lease on the key is held by
// someone else. Renew extends a lease the caller still holds and returns
// ErrDenied when the lease expired or was taken over. Release clears the
// lease if the caller is the current holder; releasing an expired or foreign
// lease is a no-op, not an error.
type Manager interface {
	Acquire(ctx context.Context, resourceKey, holderID string, ttl time.Duration) (*Lease, error)
	Renew(ctx context.Context, l *Lease, ttl time.Duration) (*Lease, error)
	Release(ctx context.Context, l *Lease) error
}
