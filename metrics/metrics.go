package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Counter is a monotonic delta counter. Safe for concurrent callers.
type Counter interface {
	Inc()
}

// Registry hands out named delta counters. Asking twice for the same name
// returns the same counter.
type Registry interface {
	DeltaCounter(name string) Counter
}

type deltaCounter struct {
	n uint64
}

func (c *deltaCounter) Inc() { atomic.AddUint64(&c.n, 1) }

func (c *deltaCounter) count() uint64 { return atomic.LoadUint64(&c.n) }

func (c *deltaCounter) drain() uint64 { return atomic.SwapUint64(&c.n, 0) }

// InMemoryRegistry keeps counters as plain atomics and reports them either
// cumulatively (Count) or as drained deltas (Snapshot).
type InMemoryRegistry struct {
	mu       sync.RWMutex
	counters map[string]*deltaCounter
}

func NewRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{counters: make(map[string]*deltaCounter)}
}

func (r *InMemoryRegistry) DeltaCounter(name string) Counter { return r.counter(name) }

func (r *InMemoryRegistry) counter(name string) *deltaCounter {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok = r.counters[name]
	if !ok {
		c = &deltaCounter{}
		r.counters[name] = c
	}
	return c
}

// Count reports the value accumulated since the last Snapshot. Unknown names
// report zero.
func (r *InMemoryRegistry) Count(name string) uint64 {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return c.count()
}

// Snapshot drains every counter and returns the deltas accumulated since the
// previous snapshot. Increments racing the snapshot land in the next one.
func (r *InMemoryRegistry) Snapshot() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]uint64, len(r.counters))
	for name, c := range r.counters {
		out[name] = c.drain()
	}
	return out
}

func (r *InMemoryRegistry) String() string {
	r.mu.RLock()
	names := make([]string, 0, len(r.counters))
	for name := range r.counters {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%q = %d", name, r.Count(name))
	}
	sb.WriteByte('}')
	return sb.String()
}
