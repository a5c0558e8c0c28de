package dispatch

import (
	"testing"

	"github.com/kabili207/dronenet-go/core"
	"github.com/kabili207/dronenet-go/core/clock"
	"github.com/kabili207/dronenet-go/core/fragment"
	"github.com/kabili207/dronenet-go/core/routing"
	"github.com/kabili207/dronenet-go/core/wire"
	"github.com/kabili207/dronenet-go/device/flood"
	"github.com/kabili207/dronenet-go/device/pending"
	"github.com/kabili207/dronenet-go/device/reliable"
)

type recordingAdapter struct {
	src     core.NodeId
	session uint64
	payload []byte
	calls   int
}

func (r *recordingAdapter) HandlePayload(src core.NodeId, sessionID uint64, payload []byte) {
	r.src = src
	r.session = sessionID
	r.payload = payload
	r.calls++
}

func newDispatcher(t *testing.T, adapter Adapter) (*Dispatcher, *[]*wire.Packet) {
	t.Helper()
	topo := routing.New()
	topo.SetKind(1, core.KindClient)
	topo.SetKind(2, core.KindDrone)
	topo.SetKind(21, core.KindServer)
	topo.AddEdge(1, 2)
	topo.AddEdge(2, 21)

	var sent []*wire.Packet
	q := pending.New()
	engine := reliable.New(reliable.Config{
		SelfID:   1,
		Topology: topo,
		Pending:  q,
		Send:     func(p *wire.Packet) error { sent = append(sent, p); return nil },
	})
	fc := flood.New(flood.Config{
		SelfID:    1,
		Topology:  topo,
		Pending:   q,
		IDGen:     clock.New(),
		Neighbors: func() []core.NodeId { return []core.NodeId{2} },
		SendToNeighbor: func(core.NodeId, *wire.Packet) error { return nil },
	})

	d := New(Config{
		SelfID:      1,
		Topology:    topo,
		Reassembler: fragment.NewReassembler(),
		Reliable:    engine,
		Flood:       fc,
		Adapter:     adapter,
	})
	return d, &sent
}

func TestHandleFragmentCompletesReassemblyAndEmitsAck(t *testing.T) {
	adapter := &recordingAdapter{}
	d, sent := newDispatcher(t, adapter)

	p := &wire.Packet{
		SessionID: 5,
		Hops:      []core.NodeId{21, 2, 1},
		HopIndex:  2,
		Kind:      wire.KindMsgFragment,
		Fragment:  &wire.Fragment{FragmentIndex: 0, TotalFragments: 1, Length: 2},
	}
	copy(p.Fragment.Payload[:], "hi")

	d.Handle(p)

	if adapter.calls != 1 {
		t.Fatalf("adapter called %d times, want 1", adapter.calls)
	}
	if adapter.src != 21 {
		t.Errorf("adapter src = %v, want 21 (p.Hops[0])", adapter.src)
	}
	if string(adapter.payload) != "hi" {
		t.Errorf("adapter payload = %q, want %q", adapter.payload, "hi")
	}

	if len(*sent) != 1 {
		t.Fatalf("sent %d packets, want 1 ack", len(*sent))
	}
	ack := (*sent)[0]
	if ack.Kind != wire.KindAck || ack.Ack.FragmentIndex != 0 {
		t.Errorf("ack = %+v, want Ack(fragment_index=0)", ack)
	}
	// Ack must route back toward the source: [1,2,21]
	want := []core.NodeId{1, 2, 21}
	if len(ack.Hops) != 3 || ack.Hops[2] != want[2] {
		t.Errorf("ack Hops = %v, want %v", ack.Hops, want)
	}
}

func TestHandleAckDelegatesToReliableEngine(t *testing.T) {
	adapter := &recordingAdapter{}
	d, sent := newDispatcher(t, adapter)

	// prime a pending session via the engine so the ack can retire it
	d.reliable.SendFragment(21, 9, wire.Fragment{FragmentIndex: 0, TotalFragments: 1, Length: 1})
	*sent = nil

	d.Handle(&wire.Packet{SessionID: 9, Kind: wire.KindAck, Ack: &wire.Ack{FragmentIndex: 0}})

	if d.reliable.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0 after ack", d.reliable.PendingCount())
	}
}

func TestHandleNackUsesCurrentHopAsReporter(t *testing.T) {
	adapter := &recordingAdapter{}
	d, _ := newDispatcher(t, adapter)

	d.reliable.SendFragment(21, 3, wire.Fragment{FragmentIndex: 0, TotalFragments: 1, Length: 1})

	nack := &wire.Packet{
		SessionID: 3,
		Hops:      []core.NodeId{21, 2, 1},
		HopIndex:  1, // currently at drone 2, the reporter
		Kind:      wire.KindNack,
		Nack:      &wire.Nack{FragmentIndex: 0, Kind: wire.NackDropped},
	}
	d.Handle(nack) // must not panic; exercises reporter attribution path
}

func TestHandleFloodRequestDelegatesToController(t *testing.T) {
	adapter := &recordingAdapter{}
	d, _ := newDispatcher(t, adapter)

	fr := &wire.Packet{
		Hops:     []core.NodeId{2, 1},
		HopIndex: 1,
		Kind:     wire.KindFloodRequest,
		Flood: &wire.Flood{
			InitiatorID: 2,
			FloodID:     1,
			PathTrace:   []wire.PathEntry{{Node: 2, Kind: core.KindClient}},
		},
	}
	d.Handle(fr) // must not panic
}
