// Package cooldown implements the in-memory parking authority for failing
// endpoints. Parking is a fast-failover hint, not a durability concern:
// the map lives only in process memory and a restart clears it. Each
// gateway instance observes its own failures, so no cross-process
// coordination is needed.
package cooldown

import (
	"sync"
	"time"
)

type entry struct {
	expiry time.Time
	reason string
}

// Tracker maps endpoint ids to cooldown expiries with lazy expiry: an
// expired entry is removed by whichever reader observes it first. All
// methods are safe for concurrent use and hold no I/O inside the lock.
type Tracker struct {
	entries map[int64]entry
	now     func() time.Time
	mu      sync.Mutex
}

func NewTracker() *Tracker {
	return &Tracker{
		entries: make(map[int64]entry),
		now:     time.Now,
	}
}

// NewTrackerWithClock injects the clock, for tests.
func NewTrackerWithClock(now func() time.Time) *Tracker {
	t := NewTracker()
	t.now = now
	return t
}

// Park excludes the endpoint from scheduling until now+d, overwriting any
// prior entry. A non-positive duration is a no-op so callers can pass a
// pool's cooldown_seconds straight through.
func (t *Tracker) Park(endpointID int64, d time.Duration, reason string) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	t.entries[endpointID] = entry{expiry: t.now().Add(d), reason: reason}
	t.mu.Unlock()
}

// IsParked reports whether the endpoint is currently excluded. Reading an
// expired entry removes it.
func (t *Tracker) IsParked(endpointID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[endpointID]
	if !ok {
		return false
	}
	if !t.now().Before(e.expiry) {
		delete(t.entries, endpointID)
		return false
	}
	return true
}

// Remaining returns the time left on the endpoint's cooldown, zero when
// it is not parked.
func (t *Tracker) Remaining(endpointID int64) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[endpointID]
	if !ok {
		return 0
	}
	left := e.expiry.Sub(t.now())
	if left <= 0 {
		delete(t.entries, endpointID)
		return 0
	}
	return left
}

func (t *Tracker) Clear(endpointID int64) {
	t.mu.Lock()
	delete(t.entries, endpointID)
	t.mu.Unlock()
}

func (t *Tracker) ClearAll() {
	t.mu.Lock()
	t.entries = make(map[int64]entry)
	t.mu.Unlock()
}

// Snapshot returns the remaining cooldown per parked endpoint, clearing
// expired entries as a side effect.
func (t *Tracker) Snapshot() map[int64]time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	out := make(map[int64]time.Duration, len(t.entries))
	for id, e := range t.entries {
		left := e.expiry.Sub(now)
		if left <= 0 {
			delete(t.entries, id)
			continue
		}
		out[id] = left
	}
	return out
}
