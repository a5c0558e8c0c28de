// Package transport defines the narrow boundary between the client's
// packet state machine and a physical or simulated neighbor connection.
// Renamed and narrowed from the teacher's transport.Transport interface,
// which this module's single-neighbor-per-Link model replaces the
// teacher's single-transport-many-topics model with one Link per neighbor.
package transport

import (
	"context"

	"github.com/kabili207/dronenet-go/core/wire"
)

// Event mirrors the teacher's transport.Event connection-state enum.
type Event int

const (
	EventConnected Event = iota
	EventDisconnected
)

// PacketHandler receives a decoded packet arriving on a Link.
type PacketHandler func(p *wire.Packet)

// StateHandler receives connection state transitions.
type StateHandler func(e Event)

// Link is a single neighbor connection: the client writes outbound packets
// to its neighbor and reads inbound packets from it. One Link exists per
// entry in the neighbor table (spec §5: "neighbor channels... the client
// writes, the drone reads").
type Link interface {
	Start(ctx context.Context) error
	Stop() error
	IsConnected() bool
	SetPacketHandler(PacketHandler)
	SetStateHandler(StateHandler)
	SendPacket(p *wire.Packet) error
}
