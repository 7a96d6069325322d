// Package registry tracks the peers talking to the media socket, keyed by
// their transport address, and evicts the ones that go quiet.
package registry

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// Clock is the time source for activity stamps and sweeps.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

type entry[V any] struct {
	value      V
	lastActive atomic.Int64 // unix nanos
}

// Registry maps remote addresses to per-peer values. All methods are safe for
// concurrent use.
type Registry[V any] struct {
	clock Clock

	mu      sync.RWMutex
	entries map[netip.AddrPort]*entry[V]
}

func New[V any](clock Clock) *Registry[V] {
	if clock == nil {
		clock = RealClock{}
	}
	return &Registry[V]{clock: clock, entries: make(map[netip.AddrPort]*entry[V])}
}

// GetOrCreate returns the value for key, creating it with create if absent,
// and marks the peer active. create runs at most once per key while the entry
// exists; if it fails nothing is stored.
func (r *Registry[V]) GetOrCreate(key netip.AddrPort, create func() (V, error)) (v V, created bool, err error) {
	now := r.clock.Now().UnixNano()

	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if ok {
		e.lastActive.Store(now)
		return e.value, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		e.lastActive.Store(now)
		return e.value, false, nil
	}
	v, err = create()
	if err != nil {
		var zero V
		return zero, false, err
	}
	e = &entry[V]{value: v}
	e.lastActive.Store(now)
	r.entries[key] = e
	return v, true, nil
}

// Get returns the value for key without touching its activity stamp.
func (r *Registry[V]) Get(key netip.AddrPort) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Touch marks key active. It reports whether key is registered.
func (r *Registry[V]) Touch(key netip.AddrPort) bool {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if ok {
		e.lastActive.Store(r.clock.Now().UnixNano())
	}
	return ok
}

// Remove deletes key and returns its value.
func (r *Registry[V]) Remove(key netip.AddrPort) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	delete(r.entries, key)
	return e.value, true
}

// RemoveIf deletes key only if match accepts its current value. It lets a
// caller retire the entry it holds without removing a replacement created
// under the same key.
func (r *Registry[V]) RemoveIf(key netip.AddrPort, match func(V) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok || !match(e.value) {
		return false
	}
	delete(r.entries, key)
	return true
}

// Range calls fn for a snapshot of the registered peers, stopping early if fn
// returns false. Peers added or removed during the walk may or may not be
// visited.
func (r *Registry[V]) Range(fn func(key netip.AddrPort, v V) bool) {
	r.mu.RLock()
	keys := make([]netip.AddrPort, 0, len(r.entries))
	values := make([]V, 0, len(r.entries))
	for k, e := range r.entries {
		keys = append(keys, k)
		values = append(values, e.value)
	}
	r.mu.RUnlock()

	for i := range keys {
		if !fn(keys[i], values[i]) {
			return
		}
	}
}

func (r *Registry[V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Evicted is a peer removed by Sweep.
type Evicted[V any] struct {
	Key   netip.AddrPort
	Value V
	Idle  time.Duration
}

// Sweep removes every peer whose last activity is more than idle ago.
func (r *Registry[V]) Sweep(idle time.Duration) []Evicted[V] {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Evicted[V]
	for k, e := range r.entries {
		since := now.Sub(time.Unix(0, e.lastActive.Load()))
		if since > idle {
			delete(r.entries, k)
			out = append(out, Evicted[V]{Key: k, Value: e.value, Idle: since})
		}
	}
	return out
}

// RunSweeper calls Sweep every interval until ctx is done, passing each
// evicted peer to onEvict.
func (r *Registry[V]) RunSweeper(ctx context.Context, interval, idle time.Duration, onEvict func(Evicted[V])) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ev := range r.Sweep(idle) {
				if onEvict != nil {
					onEvict(ev)
				}
			}
		}
	}
}
