// Package wire defines the on-the-wire packet format exchanged between
// clients and drones: session id, source-routing header, and one of five
// kinds of payload. The concrete layout is stable within a deployment but,
// per spec §6, is otherwise implementation-defined — this module favors a
// flat, length-prefixed little-endian encoding in the style of
// core/codec.Packet from the teacher library this module is derived from.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kabili207/dronenet-go/core"
)

// Kind identifies the payload carried by a Packet.
type Kind uint8

const (
	KindMsgFragment Kind = iota
	KindAck
	KindNack
	KindFloodRequest
	KindFloodResponse
)

func (k Kind) String() string {
	switch k {
	case KindMsgFragment:
		return "MsgFragment"
	case KindAck:
		return "Ack"
	case KindNack:
		return "Nack"
	case KindFloodRequest:
		return "FloodRequest"
	case KindFloodResponse:
		return "FloodResponse"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// FragmentSize is the fixed payload size of every fragment but the last in
// a session (spec §6: FRAGMENT_SIZE).
const FragmentSize = 128

// NackKind distinguishes transient congestion (Dropped) from a routing or
// topology mistake (everything else) per spec §3.
type NackKind uint8

const (
	NackDropped NackKind = iota
	NackErrorInRouting
	NackDestinationIsDrone
	NackUnexpectedRecipient
)

func (k NackKind) String() string {
	switch k {
	case NackDropped:
		return "Dropped"
	case NackErrorInRouting:
		return "ErrorInRouting"
	case NackDestinationIsDrone:
		return "DestinationIsDrone"
	case NackUnexpectedRecipient:
		return "UnexpectedRecipient"
	default:
		return fmt.Sprintf("NackKind(%d)", uint8(k))
	}
}

var (
	ErrPacketTooShort  = errors.New("wire: packet too short")
	ErrUnknownKind     = errors.New("wire: unknown packet kind")
	ErrFragmentTooLong = errors.New("wire: fragment length exceeds FragmentSize")
)

// Fragment is the payload of a MsgFragment packet (spec §3).
type Fragment struct {
	FragmentIndex  uint64
	TotalFragments uint64
	Length         uint8 // number of valid bytes in Payload
	Payload        [FragmentSize]byte
}

// Ack is the payload of an Ack packet.
type Ack struct {
	FragmentIndex uint64
}

// Nack is the payload of a Nack packet.
type Nack struct {
	FragmentIndex uint64
	Kind          NackKind
	ErrorNode     core.NodeId // only meaningful when Kind == NackErrorInRouting
}

// PathEntry is one hop recorded in a flood's path_trace.
type PathEntry struct {
	Node core.NodeId
	Kind core.NodeKind
}

// Flood is the shared payload of FloodRequest/FloodResponse packets.
type Flood struct {
	InitiatorID core.NodeId
	FloodID     uint64
	PathTrace   []PathEntry
}

// Packet is a complete source-routed, fragmented protocol packet (spec §3).
// Exactly one of Fragment, Ack, Nack, Flood is set, selected by Kind.
type Packet struct {
	SessionID uint64
	Hops      []core.NodeId
	HopIndex  uint8
	Kind      Kind

	Fragment *Fragment
	Ack      *Ack
	Nack     *Nack
	Flood    *Flood
}

// CurrentHop returns the node this packet was last received at (hops[hop_index]).
func (p *Packet) CurrentHop() (core.NodeId, bool) {
	if int(p.HopIndex) >= len(p.Hops) {
		return 0, false
	}
	return p.Hops[p.HopIndex], true
}

// NextHop returns the node this packet should be forwarded to next
// (hops[hop_index+1]).
func (p *Packet) NextHop() (core.NodeId, bool) {
	idx := int(p.HopIndex) + 1
	if idx >= len(p.Hops) {
		return 0, false
	}
	return p.Hops[idx], true
}

// Destination returns the last hop in the route, i.e. the intended recipient.
func (p *Packet) Destination() (core.NodeId, bool) {
	if len(p.Hops) == 0 {
		return 0, false
	}
	return p.Hops[len(p.Hops)-1], true
}

// Source returns the first hop in the route, i.e. the original sender.
func (p *Packet) Source() (core.NodeId, bool) {
	if len(p.Hops) == 0 {
		return 0, false
	}
	return p.Hops[0], true
}

// Clone returns a deep copy of the packet.
func (p *Packet) Clone() *Packet {
	clone := &Packet{
		SessionID: p.SessionID,
		HopIndex:  p.HopIndex,
		Kind:      p.Kind,
	}
	if len(p.Hops) > 0 {
		clone.Hops = make([]core.NodeId, len(p.Hops))
		copy(clone.Hops, p.Hops)
	}
	if p.Fragment != nil {
		f := *p.Fragment
		clone.Fragment = &f
	}
	if p.Ack != nil {
		a := *p.Ack
		clone.Ack = &a
	}
	if p.Nack != nil {
		n := *p.Nack
		clone.Nack = &n
	}
	if p.Flood != nil {
		fl := &Flood{InitiatorID: p.Flood.InitiatorID, FloodID: p.Flood.FloodID}
		fl.PathTrace = make([]PathEntry, len(p.Flood.PathTrace))
		copy(fl.PathTrace, p.Flood.PathTrace)
		clone.Flood = fl
	}
	return clone
}

// WriteTo encodes the packet to its wire representation.
func (p *Packet) WriteTo() ([]byte, error) {
	buf := make([]byte, 0, 32)
	buf = binary.LittleEndian.AppendUint64(buf, p.SessionID)
	buf = append(buf, byte(p.Kind), p.HopIndex)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(p.Hops)))
	for _, h := range p.Hops {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(h))
	}

	switch p.Kind {
	case KindMsgFragment:
		if p.Fragment == nil {
			return nil, fmt.Errorf("wire: MsgFragment packet missing Fragment payload")
		}
		if p.Fragment.Length > FragmentSize {
			return nil, ErrFragmentTooLong
		}
		buf = binary.LittleEndian.AppendUint64(buf, p.Fragment.FragmentIndex)
		buf = binary.LittleEndian.AppendUint64(buf, p.Fragment.TotalFragments)
		buf = append(buf, p.Fragment.Length)
		buf = append(buf, p.Fragment.Payload[:]...)
	case KindAck:
		if p.Ack == nil {
			return nil, fmt.Errorf("wire: Ack packet missing Ack payload")
		}
		buf = binary.LittleEndian.AppendUint64(buf, p.Ack.FragmentIndex)
	case KindNack:
		if p.Nack == nil {
			return nil, fmt.Errorf("wire: Nack packet missing Nack payload")
		}
		buf = binary.LittleEndian.AppendUint64(buf, p.Nack.FragmentIndex)
		buf = append(buf, byte(p.Nack.Kind))
		buf = binary.LittleEndian.AppendUint16(buf, uint16(p.Nack.ErrorNode))
	case KindFloodRequest, KindFloodResponse:
		if p.Flood == nil {
			return nil, fmt.Errorf("wire: flood packet missing Flood payload")
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(p.Flood.InitiatorID))
		buf = binary.LittleEndian.AppendUint64(buf, p.Flood.FloodID)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(p.Flood.PathTrace)))
		for _, e := range p.Flood.PathTrace {
			buf = binary.LittleEndian.AppendUint16(buf, uint16(e.Node))
			buf = append(buf, byte(e.Kind))
		}
	default:
		return nil, ErrUnknownKind
	}

	return buf, nil
}

// ReadFrom decodes a packet from its wire representation.
func ReadFrom(data []byte) (*Packet, error) {
	if len(data) < 11 { // session(8) + kind(1) + hopIndex(1) + hopCount(2)... is 12, checked below precisely
		return nil, ErrPacketTooShort
	}
	i := 0
	p := &Packet{}
	p.SessionID = binary.LittleEndian.Uint64(data[i : i+8])
	i += 8
	p.Kind = Kind(data[i])
	i++
	p.HopIndex = data[i]
	i++

	if len(data) < i+2 {
		return nil, ErrPacketTooShort
	}
	hopCount := int(binary.LittleEndian.Uint16(data[i : i+2]))
	i += 2

	if len(data) < i+hopCount*2 {
		return nil, ErrPacketTooShort
	}
	p.Hops = make([]core.NodeId, hopCount)
	for h := 0; h < hopCount; h++ {
		p.Hops[h] = core.NodeId(binary.LittleEndian.Uint16(data[i : i+2]))
		i += 2
	}

	switch p.Kind {
	case KindMsgFragment:
		if len(data) < i+8+8+1+FragmentSize {
			return nil, ErrPacketTooShort
		}
		f := &Fragment{}
		f.FragmentIndex = binary.LittleEndian.Uint64(data[i : i+8])
		i += 8
		f.TotalFragments = binary.LittleEndian.Uint64(data[i : i+8])
		i += 8
		f.Length = data[i]
		i++
		copy(f.Payload[:], data[i:i+FragmentSize])
		p.Fragment = f
	case KindAck:
		if len(data) < i+8 {
			return nil, ErrPacketTooShort
		}
		p.Ack = &Ack{FragmentIndex: binary.LittleEndian.Uint64(data[i : i+8])}
	case KindNack:
		if len(data) < i+8+1+2 {
			return nil, ErrPacketTooShort
		}
		n := &Nack{}
		n.FragmentIndex = binary.LittleEndian.Uint64(data[i : i+8])
		i += 8
		n.Kind = NackKind(data[i])
		i++
		n.ErrorNode = core.NodeId(binary.LittleEndian.Uint16(data[i : i+2]))
		p.Nack = n
	case KindFloodRequest, KindFloodResponse:
		if len(data) < i+2+8+2 {
			return nil, ErrPacketTooShort
		}
		fl := &Flood{}
		fl.InitiatorID = core.NodeId(binary.LittleEndian.Uint16(data[i : i+2]))
		i += 2
		fl.FloodID = binary.LittleEndian.Uint64(data[i : i+8])
		i += 8
		entryCount := int(binary.LittleEndian.Uint16(data[i : i+2]))
		i += 2
		if len(data) < i+entryCount*3 {
			return nil, ErrPacketTooShort
		}
		fl.PathTrace = make([]PathEntry, entryCount)
		for e := 0; e < entryCount; e++ {
			fl.PathTrace[e].Node = core.NodeId(binary.LittleEndian.Uint16(data[i : i+2]))
			i += 2
			fl.PathTrace[e].Kind = core.NodeKind(data[i])
			i++
		}
		p.Flood = fl
	default:
		return nil, ErrUnknownKind
	}

	return p, nil
}
