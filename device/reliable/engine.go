// Package reliable implements the per-session sent-fragment log, ACK
// bitmap, and NACK-driven retransmission described in spec §4.3. It is
// modeled on the teacher's core/ack.Tracker (map-keyed pending state,
// callbacks fired outside the lock) generalized from timeout-based retry to
// explicit ACK/NACK-driven retry.
package reliable

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kabili207/dronenet-go/core"
	"github.com/kabili207/dronenet-go/core/routing"
	"github.com/kabili207/dronenet-go/core/wire"
	"github.com/kabili207/dronenet-go/device/pending"
)

// ErrUnknownSession names the case of an ACK or NACK referencing a session
// the engine no longer tracks. The engine only logs that case; no Engine
// method returns this error.
var ErrUnknownSession = errors.New("reliable: unknown session")

// session is the engine's bookkeeping for one outbound payload (spec §3:
// PendingSession). sent is indexed by fragment_index; acked mirrors it.
type session struct {
	dst  core.NodeId
	sent []*wire.Packet
	acked []bool
}

func (s *session) allAcked() bool {
	for _, a := range s.acked {
		if !a {
			return false
		}
	}
	return true
}

// Sender emits a fully-routed packet to its first hop. Transport wiring
// fills this in; it never blocks on route availability itself.
type Sender func(p *wire.Packet) error

// Config configures an Engine.
type Config struct {
	SelfID core.NodeId
	Topology *routing.Topology
	Pending *pending.Queue
	Send Sender
	// TriggerFlood is invoked when a send defers for lack of a route or a
	// non-Dropped NACK demands rediscovery (spec §4.3, §4.4); a NACK
	// invokes it at most once, even if its retransmit also defers.
	TriggerFlood func()
	Logger *slog.Logger
}

// Engine is the reliable-send bookkeeping for one client (spec §4.3).
type Engine struct {
	selfID core.NodeId
	topology *routing.Topology
	pendingQ *pending.Queue
	send Sender
	triggerFlood func()
	logger *slog.Logger

	mu sync.Mutex
	sessions map[uint64]*session
}

// New constructs an Engine from cfg.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		selfID: cfg.SelfID,
		topology: cfg.Topology,
		pendingQ: cfg.Pending,
		send: cfg.Send,
		triggerFlood: cfg.TriggerFlood,
		logger: logger.WithGroup("reliable"),
		sessions: make(map[uint64]*session),
	}
}

// routeAndSend attempts to deliver p to dst. If no route exists it is
// deferred into the pending-route queue keyed by dst and, if
// triggerFloodOnDefer is set, a flood is requested. Returns true if p was
// sent.
func (e *Engine) routeAndSend(dst core.NodeId, p *wire.Packet, triggerFloodOnDefer bool) bool {
	route := e.topology.ShortestRoute(e.selfID, dst)
	if len(route) < 2 {
		e.pendingQ.Push(dst, p)
		if triggerFloodOnDefer && e.triggerFlood != nil {
			e.triggerFlood()
		}
		return false
	}
	p.Hops = route
	p.HopIndex = 0
	e.topology.RecordHop(route, false)
	if e.send != nil {
		if err := e.send(p); err != nil {
			e.logger.Error("send failed", "dst", dst, "err", err)
		}
	}
	return true
}

// Resend attempts to route p to dst again, deferring to the pending-route
// queue and requesting a flood if no route currently exists. Used by the
// flood controller to drain PendingRouteQueue after a topology update.
func (e *Engine) Resend(dst core.NodeId, p *wire.Packet) {
	e.routeAndSend(dst, p, true)
}

// SendFragment sends one fragment of an outbound session to dst, starting
// or appending to that session's sent-fragment log and ACK bitmap (spec
// §4.3 steps 1-5).
func (e *Engine) SendFragment(dst core.NodeId, sessionID uint64, frag wire.Fragment) {
	p := &wire.Packet{SessionID: sessionID, Kind: wire.KindMsgFragment, Fragment: &frag}

	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	if !ok {
		s = &session{
			dst: dst,
			sent: make([]*wire.Packet, frag.TotalFragments),
			acked: make([]bool, frag.TotalFragments),
		}
		e.sessions[sessionID] = s
	}
	if int(frag.FragmentIndex) < len(s.sent) {
		s.sent[frag.FragmentIndex] = p
	}
	e.mu.Unlock()

	e.routeAndSend(dst, p, true)
}

// SendAck emits an ACK for (sessionID, fragmentIndex) to src. ACK emission
// never retries via the reliable-send log; per spec §4.5 it is simply
// routed-or-deferred.
func (e *Engine) SendAck(src core.NodeId, sessionID uint64, fragmentIndex uint64) {
	p := &wire.Packet{SessionID: sessionID, Kind: wire.KindAck, Ack: &wire.Ack{FragmentIndex: fragmentIndex}}
	e.routeAndSend(src, p, false)
}

// HandleAck processes an inbound ACK (spec §4.3). Setting an already-set
// bit is a no-op, making the operation idempotent.
func (e *Engine) HandleAck(sessionID uint64, fragmentIndex uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[sessionID]
	if !ok {
		e.logger.Warn("ack for unknown session", "session", sessionID)
		return
	}
	if fragmentIndex >= uint64(len(s.acked)) {
		e.logger.Warn("ack fragment index out of range", "session", sessionID, "index", fragmentIndex)
		return
	}
	s.acked[fragmentIndex] = true
	if s.allAcked() {
		delete(e.sessions, sessionID)
	}
}

// HandleNack processes an inbound NACK (spec §4.3). reportingNode is the
// current hop the NACK packet arrived from, used to attribute a Dropped
// counter to the drone that reported it.
func (e *Engine) HandleNack(sessionID uint64, fragmentIndex uint64, kind wire.NackKind, errorNode core.NodeId, reportingNode core.NodeId) {
	if kind == wire.NackDropped {
		e.topology.RecordHop([]core.NodeId{reportingNode}, true)
	} else {
		if e.triggerFlood != nil {
			e.triggerFlood()
		}
	}
	if kind == wire.NackErrorInRouting {
		e.topology.RemoveNode(errorNode)
	}

	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		e.logger.Warn("nack for unknown session", "session", sessionID)
		return
	}
	if fragmentIndex >= uint64(len(s.sent)) {
		e.mu.Unlock()
		e.logger.Error("nack fragment index beyond sent log", "session", sessionID, "index", fragmentIndex)
		return
	}
	p := s.sent[fragmentIndex]
	dst := s.dst
	e.mu.Unlock()

	if p == nil {
		e.logger.Error(fmt.Sprintf("nack for never-sent fragment %d of session %d", fragmentIndex, sessionID))
		return
	}
	// A non-Dropped NACK has already requested a flood above; a deferred
	// retransmit requests one only for a Dropped NACK.
	e.routeAndSend(dst, p, kind == wire.NackDropped)
}

// PendingCount returns the number of sessions awaiting full acknowledgment.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}
