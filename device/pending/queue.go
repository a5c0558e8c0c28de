// Package pending holds outbound packets whose destination has no known
// route yet, draining them once topology discovery supplies one. Modeled
// on the teacher's device/router.SendQueue delay-gated queue, simplified to
// the spec's at-most-one-entry-per-destination semantics.
package pending

import (
	"sync"

	"github.com/kabili207/dronenet-go/core"
	"github.com/kabili207/dronenet-go/core/wire"
)

// Queue holds at most one deferred packet per destination (spec §3:
// PendingRouteQueue). Re-enqueuing for a destination that already has an
// entry replaces it.
type Queue struct {
	mu      sync.Mutex
	entries map[core.NodeId]*wire.Packet
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{entries: make(map[core.NodeId]*wire.Packet)}
}

// Push stores p, keyed by dst, replacing any packet previously pending for
// that destination.
func (q *Queue) Push(dst core.NodeId, p *wire.Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries[dst] = p
}

// Drain removes and returns every pending entry, clearing the queue. Callers
// use this on topology update to retry every deferred destination.
func (q *Queue) Drain() map[core.NodeId]*wire.Packet {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.entries
	q.entries = make(map[core.NodeId]*wire.Packet)
	return out
}

// Len reports the number of destinations currently awaiting a route.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
