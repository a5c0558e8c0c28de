// Package clock generates the random identifiers the transport assigns to
// outbound sessions and floods, plus a small overridable time source used to
// enforce the flood controller's minimum inter-flood interval.
package clock

import (
	"math/rand/v2"
	"sync"
	"time"
)

// IDGenerator produces the random 64-bit session and flood identifiers the
// transport assigns to outbound traffic (spec §3: SessionId, FloodState).
// Generation is serialized so a single IDGenerator can be shared across
// goroutines, though in practice the client loop is the only caller.
type IDGenerator struct {
	mu    sync.Mutex
	genFn func() uint64 // overridable for testing
}

// New creates an IDGenerator backed by a process-wide random source.
func New() *IDGenerator {
	return &IDGenerator{genFn: rand.Uint64}
}

// NextSessionID returns a fresh random session id.
func (g *IDGenerator) NextSessionID() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.genFn()
}

// NextFloodID returns a fresh random flood id.
func (g *IDGenerator) NextFloodID() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.genFn()
}

// Source provides the current time. Production code uses SystemSource;
// tests substitute a fake to drive MIN_FLOOD_INTERVAL checks deterministically.
type Source interface {
	Now() time.Time
}

// SystemSource is a Source backed by the system clock.
type SystemSource struct{}

// Now returns time.Now().
func (SystemSource) Now() time.Time {
	return time.Now()
}
