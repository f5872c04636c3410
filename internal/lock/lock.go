// Package lock provides the per-tenant run lock: an exclusive, key-scoped
// lease that prevents two detection runs from merging trends for the same
// tenant concurrently.
package lock

import (
	"context"
	"sync"
	"time"
)

// Locker acquires an exclusive lease on a key. TryAcquire never blocks:
// if the key is already held, ok is false and the caller is expected to
// skip the run rather than queue behind it.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// lease records a single holder of a key.
type lease struct {
	token     uint64
	expiresAt time.Time
}

// Keyed is an in-process Locker with TTL leases. The TTL guards against a
// crashed run holding a tenant forever: an expired lease can be taken over
// by the next caller, and a stale release becomes a no-op.
type Keyed struct {
	mu        sync.Mutex
	ttl       time.Duration
	leases    map[string]lease
	nextToken uint64

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewKeyed creates a Keyed locker. A non-positive ttl defaults to 30 minutes.
func NewKeyed(ttl time.Duration) *Keyed {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Keyed{
		ttl:     ttl,
		leases:  make(map[string]lease),
		nowFunc: time.Now,
	}
}

// TryAcquire attempts to take the lease for key. The returned release
// function is idempotent and only clears the lease it created, so a
// takeover after expiry cannot be released by the previous holder.
func (k *Keyed) TryAcquire(_ context.Context, key string) (func(), bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.nowFunc()
	if l, held := k.leases[key]; held && now.Before(l.expiresAt) {
		return nil, false, nil
	}

	k.nextToken++
	token := k.nextToken
	k.leases[key] = lease{token: token, expiresAt: now.Add(k.ttl)}

	release := func() {
		k.mu.Lock()
		defer k.mu.Unlock()
		if l, held := k.leases[key]; held && l.token == token {
			delete(k.leases, key)
		}
	}
	return release, true, nil
}

// Held reports whether key currently has an unexpired lease.
func (k *Keyed) Held(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, held := k.leases[key]
	return held && k.nowFunc().Before(l.expiresAt)
}
