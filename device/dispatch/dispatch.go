// Package dispatch implements the packet state machine: routing an inbound
// Packet to reassembly, the reliable-send engine, or the flood controller
// by its Kind (spec §4.5). Grounded on the teacher's device/router.Router
// gate-cascade HandlePacket, generalized from forwarding decisions to the
// spec's fixed ACK-after-reassembly and engine/controller delegation.
package dispatch

import (
	"log/slog"

	"github.com/kabili207/dronenet-go/core"
	"github.com/kabili207/dronenet-go/core/fragment"
	"github.com/kabili207/dronenet-go/core/routing"
	"github.com/kabili207/dronenet-go/core/wire"
	"github.com/kabili207/dronenet-go/device/flood"
	"github.com/kabili207/dronenet-go/device/reliable"
)

// Adapter receives completed inbound payloads, handed off once a session's
// fragments are fully reassembled. The chat and browser adapters satisfy
// this.
type Adapter interface {
	HandlePayload(src core.NodeId, sessionID uint64, payload []byte)
}

// Config configures a Dispatcher.
type Config struct {
	SelfID core.NodeId
	Topology *routing.Topology
	Reassembler *fragment.Reassembler
	Reliable *reliable.Engine
	Flood *flood.Controller
	Adapter Adapter
	Logger *slog.Logger
}

// Dispatcher is the packet state machine (spec §4.5).
type Dispatcher struct {
	selfID core.NodeId
	topology *routing.Topology
	reassembler *fragment.Reassembler
	reliable *reliable.Engine
	flood *flood.Controller
	adapter Adapter
	logger *slog.Logger
}

// New constructs a Dispatcher from cfg.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		selfID: cfg.SelfID,
		topology: cfg.Topology,
		reassembler: cfg.Reassembler,
		reliable: cfg.Reliable,
		flood: cfg.Flood,
		adapter: cfg.Adapter,
		logger: logger.WithGroup("dispatch"),
	}
}

// Handle dispatches an inbound packet by kind.
func (d *Dispatcher) Handle(p *wire.Packet) {
	switch p.Kind {
	case wire.KindMsgFragment:
		d.handleFragment(p)
	case wire.KindAck:
		d.handleAck(p)
	case wire.KindNack:
		d.handleNack(p)
	case wire.KindFloodRequest:
		d.handleFloodRequest(p)
	case wire.KindFloodResponse:
		d.flood.HandleFloodResponse(p)
	default:
		d.logger.Warn("unrecognized packet kind", "kind", p.Kind)
	}
}

func (d *Dispatcher) handleFragment(p *wire.Packet) {
	if p.Fragment == nil {
		d.logger.Error("MsgFragment packet missing fragment payload")
		return
	}
	src, ok := p.Source()
	if !ok {
		d.logger.Error("MsgFragment packet has no source hop")
		return
	}

	if payload, complete := d.reassembler.Insert(p.SessionID, *p.Fragment); complete {
		if d.adapter != nil {
			d.adapter.HandlePayload(src, p.SessionID, payload)
		}
	}

	// The ACK is emitted regardless of whether reassembly completed yet,
	// and regardless of whether the payload parsed (spec §4.7: a malformed
	// payload is still ACKed, the transport did its job).
	d.reliable.SendAck(src, p.SessionID, p.Fragment.FragmentIndex)
}

func (d *Dispatcher) handleAck(p *wire.Packet) {
	if p.Ack == nil {
		d.logger.Error("Ack packet missing ack payload")
		return
	}
	d.reliable.HandleAck(p.SessionID, p.Ack.FragmentIndex)
}

func (d *Dispatcher) handleNack(p *wire.Packet) {
	if p.Nack == nil {
		d.logger.Error("Nack packet missing nack payload")
		return
	}
	reporter, _ := p.CurrentHop()
	d.reliable.HandleNack(p.SessionID, p.Nack.FragmentIndex, p.Nack.Kind, p.Nack.ErrorNode, reporter)
}

func (d *Dispatcher) handleFloodRequest(p *wire.Packet) {
	from, _ := p.CurrentHop()
	d.flood.HandleFloodRequest(p, from)
}
