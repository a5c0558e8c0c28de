package fragment

import (
	"sync"

	"github.com/kabili207/dronenet-go/core/wire"
)

// sessionBuffer collects the fragments of one inbound session until
// total_fragments have been seen.
type sessionBuffer struct {
	total    uint64
	received map[uint64]wire.Fragment
}

// Reassembler buffers inbound fragments keyed by session id and emits the
// concatenated payload once a session is complete (spec §4.2). Out-of-order
// arrival and duplicate (session_id, fragment_index) pairs are tolerated;
// fragments for an already-completed session are discarded.
type Reassembler struct {
	mu      sync.Mutex
	buffers map[uint64]*sessionBuffer
	done    map[uint64]struct{}
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{
		buffers: make(map[uint64]*sessionBuffer),
		done:    make(map[uint64]struct{}),
	}
}

// Insert records a fragment for sessionID. It returns (payload, true) once
// every fragment for the session has arrived; otherwise (nil, false).
// Fragments arriving for a session that already completed are discarded.
func (r *Reassembler) Insert(sessionID uint64, f wire.Fragment) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, completed := r.done[sessionID]; completed {
		return nil, false
	}

	buf, ok := r.buffers[sessionID]
	if !ok {
		buf = &sessionBuffer{total: f.TotalFragments, received: make(map[uint64]wire.Fragment)}
		r.buffers[sessionID] = buf
	}
	buf.received[f.FragmentIndex] = f

	if uint64(len(buf.received)) != buf.total {
		return nil, false
	}

	payload := make([]byte, 0, int(buf.total)*wire.FragmentSize)
	for i := uint64(0); i < buf.total; i++ {
		frag, ok := buf.received[i]
		if !ok {
			// Reached only if some received fragment_index is >= total,
			// which Insert does not reject. Bail without emitting; the
			// buffer is kept.
			return nil, false
		}
		payload = append(payload, frag.Payload[:frag.Length]...)
	}

	delete(r.buffers, sessionID)
	r.done[sessionID] = struct{}{}
	return payload, true
}
