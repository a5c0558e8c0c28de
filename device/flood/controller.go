// Package flood implements topology discovery: emitting, forwarding, and
// ingesting FloodRequest/FloodResponse packets (spec §4.4). Grounded on the
// teacher's device/advert.Scheduler pattern of an overridable nowFn guarding
// a minimum re-emission interval, generalized from periodic adverts to
// on-demand, rate-limited topology floods.
package flood

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kabili207/dronenet-go/core"
	"github.com/kabili207/dronenet-go/core/clock"
	"github.com/kabili207/dronenet-go/core/routing"
	"github.com/kabili207/dronenet-go/core/wire"
	"github.com/kabili207/dronenet-go/device/pending"
)

// DefaultMinFloodInterval is used when Config.MinFloodInterval is zero.
const DefaultMinFloodInterval = 300 * time.Millisecond

// Config configures a Controller.
type Config struct {
	SelfID core.NodeId
	Topology *routing.Topology
	Pending *pending.Queue
	IDGen *clock.IDGenerator
	Clock clock.Source
	MinFloodInterval time.Duration

	// Neighbors returns the current neighbor set to flood to.
	Neighbors func() []core.NodeId
	// SendToNeighbor emits a zero-hop packet directly to a neighbor.
	SendToNeighbor func(neighbor core.NodeId, p *wire.Packet) error
	// SendToHop forwards a packet to a specific next hop (used when
	// forwarding a FloodResponse along its reversed routing_header).
	SendToHop func(hop core.NodeId, p *wire.Packet) error
	// Resend retries delivery of a previously-deferred packet, e.g.
	// reliable.Engine.Resend.
	Resend func(dst core.NodeId, p *wire.Packet)
	// RequestServerType is invoked for every newly discovered Server node
	// whose kind is not yet specialized (spec §4.4).
	RequestServerType func(server core.NodeId)

	Logger *slog.Logger
}

// Controller drives flood emission, forwarding, and ingestion.
type Controller struct {
	selfID core.NodeId
	topology *routing.Topology
	pendingQ *pending.Queue
	idGen *clock.IDGenerator
	clock clock.Source
	minInterval time.Duration

	neighbors func() []core.NodeId
	sendToNeighbor func(core.NodeId, *wire.Packet) error
	sendToHop func(core.NodeId, *wire.Packet) error
	resend func(core.NodeId, *wire.Packet)
	requestServerType func(core.NodeId)

	logger *slog.Logger

	mu sync.Mutex
	initiated map[uint64]struct{}
	lastSelfFlood time.Time
}

// New constructs a Controller from cfg.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.MinFloodInterval
	if interval <= 0 {
		interval = DefaultMinFloodInterval
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.SystemSource{}
	}
	return &Controller{
		selfID: cfg.SelfID,
		topology: cfg.Topology,
		pendingQ: cfg.Pending,
		idGen: cfg.IDGen,
		clock: clk,
		minInterval: interval,
		neighbors: cfg.Neighbors,
		sendToNeighbor: cfg.SendToNeighbor,
		sendToHop: cfg.SendToHop,
		resend: cfg.Resend,
		requestServerType: cfg.RequestServerType,
		logger: logger.WithGroup("flood"),
		initiated: make(map[uint64]struct{}),
	}
}

// Initiate starts a self-initiated flood, subject to MinFloodInterval rate
// limiting. Attempts within the interval are dropped silently (spec §4.4).
func (c *Controller) Initiate() {
	c.mu.Lock()
	now := c.clock.Now()
	if !c.lastSelfFlood.IsZero() && now.Sub(c.lastSelfFlood) < c.minInterval {
		c.mu.Unlock()
		return
	}
	c.lastSelfFlood = now
	floodID := c.idGen.NextFloodID()
	c.initiated[floodID] = struct{}{}
	c.mu.Unlock()

	p := &wire.Packet{
		Kind: wire.KindFloodRequest,
		Flood: &wire.Flood{
			InitiatorID: c.selfID,
			FloodID:     floodID,
			PathTrace:   []wire.PathEntry{{Node: c.selfID, Kind: core.KindClient}},
		},
	}
	c.broadcast(p, 0)
}

// broadcast sends p to every neighbor except exclude (a zero NodeId means
// no exclusion, since node 0 is never a neighbor in practice... see
// HandleFloodRequest for the real exclusion case).
func (c *Controller) broadcast(p *wire.Packet, exclude core.NodeId) {
	if c.neighbors == nil || c.sendToNeighbor == nil {
		return
	}
	for _, n := range c.neighbors() {
		if n == exclude {
			continue
		}
		if err := c.sendToNeighbor(n, p.Clone()); err != nil {
			c.logger.Error("broadcast failed", "neighbor", n, "err", err)
		}
	}
}

// HandleFloodRequest processes an inbound FloodRequest received from
// fromNeighbor (spec §4.4): appends self to the path trace, then either
// converts to a response (single-neighbor case) or forwards to every other
// neighbor.
func (c *Controller) HandleFloodRequest(p *wire.Packet, fromNeighbor core.NodeId) {
	if p.Flood == nil {
		return
	}
	augmented := p.Clone()
	augmented.Flood.PathTrace = append(augmented.Flood.PathTrace, wire.PathEntry{Node: c.selfID, Kind: core.KindClient})

	neighbors := c.currentNeighbors()
	if len(neighbors) == 1 {
		augmented.Kind = wire.KindFloodResponse
		if err := c.sendToNeighbor(fromNeighbor, augmented); err != nil {
			c.logger.Error("flood response send failed", "neighbor", fromNeighbor, "err", err)
		}
		return
	}
	c.broadcast(augmented, fromNeighbor)
}

func (c *Controller) currentNeighbors() []core.NodeId {
	if c.neighbors == nil {
		return nil
	}
	return c.neighbors()
}

// HandleFloodResponse ingests a FloodResponse's path_trace into Topology,
// queries server type for newly discovered unspecialized servers, drains
// the pending-route queue, and (if the flood was not self-initiated)
// forwards the response along its exact reversed routing_header (spec §4.4,
// and the Open Question decision recorded in DESIGN.md).
func (c *Controller) HandleFloodResponse(p *wire.Packet) {
	if p.Flood == nil {
		return
	}
	trace := p.Flood.PathTrace
	for i := 0; i < len(trace); i++ {
		c.topology.AddNode(trace[i].Node)
		prevKind := c.topology.GetKind(trace[i].Node)
		newKind := trace[i].Kind
		firstSighting := prevKind == core.KindUnknown
		if firstSighting || !prevKind.IsSpecializedServer() {
			c.topology.SetKind(trace[i].Node, newKind)
		}
		if firstSighting && newKind == core.KindServer && c.requestServerType != nil {
			c.requestServerType(trace[i].Node)
		}
	}
	for i := 0; i+1 < len(trace); i++ {
		c.topology.AddEdge(trace[i].Node, trace[i+1].Node)
	}

	for dst, pkt := range c.pendingQ.Drain() {
		if c.resend != nil {
			c.resend(dst, pkt)
		}
	}

	if c.wasSelfInitiated(p.Flood.FloodID) {
		return
	}
	c.forwardReversed(p)
}

func (c *Controller) wasSelfInitiated(floodID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.initiated[floodID]
	return ok
}

// forwardReversed sends p to the previous hop in its routing_header,
// decrementing hop_index, rather than recomputing a route via Topology.
func (c *Controller) forwardReversed(p *wire.Packet) {
	if p.HopIndex == 0 || c.sendToHop == nil {
		return
	}
	next := p.HopIndex - 1
	if int(next) >= len(p.Hops) {
		return
	}
	forwarded := p.Clone()
	forwarded.HopIndex = next
	if err := c.sendToHop(p.Hops[next], forwarded); err != nil {
		c.logger.Error("flood response forward failed", "hop", p.Hops[next], "err", err)
	}
}
