// Package droneclient implements the client loop: a cooperative,
// single-threaded scheduler merging controller commands and inbound
// packets with command priority, and the sole owner of all transport state
// (spec §4.6, §5). Grounded on the teacher's device/room.Server lifecycle
// (Config with many injected collaborators, Start(ctx)/Stop()) and
// core/clock's injectable time source for deterministic tests.
package droneclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kabili207/dronenet-go/core"
	"github.com/kabili207/dronenet-go/core/clock"
	"github.com/kabili207/dronenet-go/core/fragment"
	"github.com/kabili207/dronenet-go/core/routing"
	"github.com/kabili207/dronenet-go/core/wire"
	"github.com/kabili207/dronenet-go/device/dispatch"
	"github.com/kabili207/dronenet-go/device/flood"
	"github.com/kabili207/dronenet-go/device/pending"
	"github.com/kabili207/dronenet-go/device/reliable"
	"github.com/kabili207/dronenet-go/transport"
)

// serverTypeEnvelope is the shared application payload both profiles
// recognize regardless of chat/browser specialization (spec §6: "a shared
// ServerType request/response"). Concrete profile payloads are opaque to
// the core and defined by each adapter.
type serverTypeEnvelope struct {
	Kind string `json:"kind"`
}

// Config configures a Client.
type Config struct {
	SelfID core.NodeId
	// MinFloodInterval bounds self-initiated flood frequency (spec §4.4).
	// Zero selects flood.DefaultMinFloodInterval.
	MinFloodInterval time.Duration
	Commands         <-chan Command
	Events           chan<- Event
	// NewAdapter constructs the application adapter, given the Ops handle
	// back into this Client. Required.
	NewAdapter func(ops Ops) Adapter
	// TickBudget bounds the number of loop iterations for tests; zero means
	// unbounded (spec §4.6: a test affordance).
	TickBudget int
	Logger     *slog.Logger
}

// Client is the sole owner of transport state for one node in the overlay
// (spec §3: Ownership).
type Client struct {
	selfID core.NodeId

	topology    *routing.Topology
	reassembler *fragment.Reassembler
	pendingQ    *pending.Queue
	idGen       *clock.IDGenerator
	reliable    *reliable.Engine
	flood       *flood.Controller
	dispatcher  *dispatch.Dispatcher
	adapter     Adapter

	mu    sync.Mutex
	links map[core.NodeId]transport.Link

	commands <-chan Command
	inbound  chan *wire.Packet
	events   chan<- Event

	tickBudget int
	logger     *slog.Logger
}

// New constructs a Client from cfg. The adapter is built last, after the
// Client can hand it an Ops handle into itself.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.WithGroup("droneclient")

	c := &Client{
		selfID:     cfg.SelfID,
		topology:   routing.New(),
		links:      make(map[core.NodeId]transport.Link),
		commands:   cfg.Commands,
		inbound:    make(chan *wire.Packet, 64),
		events:     cfg.Events,
		tickBudget: cfg.TickBudget,
		logger:     logger,
	}
	c.topology.SetKind(c.selfID, core.KindClient)
	c.reassembler = fragment.NewReassembler()
	c.pendingQ = pending.New()
	c.idGen = clock.New()

	c.reliable = reliable.New(reliable.Config{
		SelfID:       c.selfID,
		Topology:     c.topology,
		Pending:      c.pendingQ,
		Send:         c.sendToNextHop,
		TriggerFlood: func() { c.flood.Initiate() },
		Logger:       logger,
	})
	c.flood = flood.New(flood.Config{
		SelfID:            c.selfID,
		Topology:          c.topology,
		Pending:           c.pendingQ,
		IDGen:             c.idGen,
		MinFloodInterval:  cfg.MinFloodInterval,
		Neighbors:         c.neighborIDs,
		SendToNeighbor:    c.sendRaw,
		SendToHop:         c.sendRaw,
		Resend:            c.reliable.Resend,
		RequestServerType: c.RequestServerType,
		Logger:            logger,
	})
	c.dispatcher = dispatch.New(dispatch.Config{
		SelfID:      c.selfID,
		Topology:    c.topology,
		Reassembler: c.reassembler,
		Reliable:    c.reliable,
		Flood:       c.flood,
		Adapter:     adapterShim{c},
		Logger:      logger,
	})
	if cfg.NewAdapter != nil {
		c.adapter = cfg.NewAdapter(c)
	}
	return c
}

// adapterShim adapts droneclient.Adapter's HandlePayload to
// dispatch.Adapter without exposing the rest of droneclient.Adapter to the
// dispatch package.
type adapterShim struct{ c *Client }

func (a adapterShim) HandlePayload(src core.NodeId, sessionID uint64, payload []byte) {
	if a.c.adapter != nil {
		a.c.adapter.HandlePayload(src, sessionID, payload)
	}
	a.c.emit(PacketReceived{SessionID: sessionID})
}

// AddNeighbor registers a direct link to neighbor, starts it, and floods
// the new topology (spec §4.4(a): "startup with a non-empty neighbor set").
func (c *Client) AddNeighbor(ctx context.Context, neighbor core.NodeId, link transport.Link) error {
	link.SetPacketHandler(func(p *wire.Packet) {
		select {
		case c.inbound <- p:
		case <-ctx.Done():
		}
	})
	if err := link.Start(ctx); err != nil {
		return fmt.Errorf("starting link to %v: %w", neighbor, err)
	}

	c.mu.Lock()
	c.links[neighbor] = link
	c.mu.Unlock()

	c.topology.AddEdge(c.selfID, neighbor)
	c.flood.Initiate()
	return nil
}

// RemoveNeighbor stops and forgets the link to neighbor.
func (c *Client) RemoveNeighbor(neighbor core.NodeId) {
	c.mu.Lock()
	link, ok := c.links[neighbor]
	delete(c.links, neighbor)
	c.mu.Unlock()
	if ok {
		link.Stop()
	}
	c.topology.RemoveNode(neighbor)
}

func (c *Client) neighborIDs() []core.NodeId {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.NodeId, 0, len(c.links))
	for id := range c.links {
		out = append(out, id)
	}
	return out
}

func (c *Client) sendRaw(neighbor core.NodeId, p *wire.Packet) error {
	c.mu.Lock()
	link, ok := c.links[neighbor]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no link to neighbor %v", neighbor)
	}
	return link.SendPacket(p)
}

// sendToNextHop is the reliable.Engine Sender: it forwards a fully-routed
// packet to its first-hop neighbor (p.Hops[1], since HopIndex is 0 for a
// freshly routed packet originating here).
func (c *Client) sendToNextHop(p *wire.Packet) error {
	next, ok := p.NextHop()
	if !ok {
		return errors.New("droneclient: packet has no next hop")
	}
	return c.sendRaw(next, p)
}

// SendPayload implements Ops: it fragments payload and enters every
// fragment into the reliable-send engine under a fresh session id.
func (c *Client) SendPayload(dst core.NodeId, payload []byte) uint64 {
	sessionID := c.idGen.NextSessionID()
	for _, frag := range fragment.Split(payload) {
		c.reliable.SendFragment(dst, sessionID, frag)
	}
	c.emit(MessageSent{SessionID: sessionID})
	return sessionID
}

// RequestServerType implements Ops and also backs the shared
// RequestServerTypeCmd / the flood controller's auto-query on newly
// discovered servers.
func (c *Client) RequestServerType(server core.NodeId) {
	payload, err := json.Marshal(serverTypeEnvelope{Kind: "server_type_request"})
	if err != nil {
		c.logger.Error("encoding server type request", "err", err)
		return
	}
	c.SendPayload(server, payload)
}

// KnownServers implements Ops.
func (c *Client) KnownServers() []ServerInfo {
	var out []ServerInfo
	for _, id := range c.allTopologyNodes() {
		kind := c.topology.GetKind(id)
		if kind.IsServer() {
			out = append(out, ServerInfo{ID: id, Kind: kind})
		}
	}
	return out
}

func (c *Client) allTopologyNodes() []core.NodeId {
	// Topology does not expose a node enumerator beyond neighbor sets, so
	// walk from self; this mirrors the reachable set a live client could
	// ever have learned about via flood responses.
	seen := map[core.NodeId]struct{}{c.selfID: {}}
	queue := []core.NodeId{c.selfID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, n := range c.topology.Neighbors(id) {
			if _, ok := seen[n]; !ok {
				seen[n] = struct{}{}
				queue = append(queue, n)
			}
		}
	}
	out := make([]core.NodeId, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// Emit implements Ops.
func (c *Client) Emit(e Event) { c.emit(e) }

// SelfID implements Ops.
func (c *Client) SelfID() core.NodeId { return c.selfID }

func (c *Client) emit(e Event) {
	if c.events == nil {
		return
	}
	select {
	case c.events <- e:
	default:
		c.logger.Warn("event channel full, dropping event", "event", fmt.Sprintf("%T", e))
	}
}

// HandleCommand processes a single controller command: shared commands are
// handled here, profile-specific ones are forwarded to the adapter (spec
// §9: narrow strategy interface, no leaked accessors). ctx governs the
// lifetime of any link started as a side effect (AddSenderCmd).
func (c *Client) HandleCommand(ctx context.Context, cmd Command) {
	switch v := cmd.(type) {
	case FloodRequestCmd:
		c.flood.Initiate()
		c.emit(FloodRequestSent{})
	case TopologyCmd:
		c.emit(TopologyResponse{Nodes: c.snapshotTopology()})
	case AddSenderCmd:
		if err := c.AddNeighbor(ctx, v.Neighbor, v.Link); err != nil {
			c.logger.Error("AddSender failed", "neighbor", v.Neighbor, "err", err)
		}
	case RemoveSenderCmd:
		c.RemoveNeighbor(v.Neighbor)
	case KnownServersCmd:
		c.emit(KnownServers{Servers: c.KnownServers()})
	case RequestServerTypeCmd:
		c.RequestServerType(v.Server)
	case ShutdownCmd:
		// handled by Run's loop exit; nothing to do here.
	default:
		if c.adapter != nil {
			c.adapter.HandleCommand(cmd)
		} else {
			c.logger.Error("no adapter configured for command", "command", fmt.Sprintf("%T", cmd))
		}
	}
}

func (c *Client) snapshotTopology() []ServerInfo {
	var out []ServerInfo
	for _, id := range c.allTopologyNodes() {
		out = append(out, ServerInfo{ID: id, Kind: c.topology.GetKind(id)})
	}
	return out
}

// Run executes the client loop until ctx is canceled, a Shutdown command
// arrives, or the configured tick budget is exhausted (spec §4.6, §5).
// Controller commands are drained with priority over inbound packets: each
// iteration first checks for a ready command non-blockingly before
// selecting over both, but a command never interrupts an in-flight handler.
// Each iteration waits until a command or packet is ready, so the tick
// budget counts handled inputs.
func (c *Client) Run(ctx context.Context) error {
	ticks := 0
	for {
		if c.tickBudget > 0 && ticks >= c.tickBudget {
			return nil
		}
		ticks++

		select {
		case cmd := <-c.commands:
			if _, shutdown := cmd.(ShutdownCmd); shutdown {
				return nil
			}
			c.HandleCommand(ctx, cmd)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-c.commands:
			if _, shutdown := cmd.(ShutdownCmd); shutdown {
				return nil
			}
			c.HandleCommand(ctx, cmd)
		case p := <-c.inbound:
			c.dispatcher.Handle(p)
		}
	}
}

// RunGroup runs the client loop (Run) as the only goroutine of an
// errgroup.Group and returns its error. The group's context, which is
// canceled when Run returns, is the one handed to links that AddSenderCmd
// starts during the run; links added earlier through AddNeighbor keep the
// context they were started with.
func (c *Client) RunGroup(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(ctx) })
	return g.Wait()
}
