package droneclient

import (
	"context"
	"testing"
	"time"

	"github.com/kabili207/dronenet-go/core"
	"github.com/kabili207/dronenet-go/transport/channel"
)

type fakeAdapter struct {
	ops      Ops
	commands []Command
	payloads [][]byte
}

func (f *fakeAdapter) HandleCommand(cmd Command) { f.commands = append(f.commands, cmd) }
func (f *fakeAdapter) HandlePayload(src core.NodeId, sessionID uint64, payload []byte) {
	f.payloads = append(f.payloads, payload)
}

func newTestClient(t *testing.T, commands chan Command, events chan Event) (*Client, *fakeAdapter) {
	t.Helper()
	var ad *fakeAdapter
	c := New(Config{
		SelfID:   1,
		Commands: commands,
		Events:   events,
		NewAdapter: func(ops Ops) Adapter {
			ad = &fakeAdapter{ops: ops}
			return ad
		},
		TickBudget: 0,
	})
	return c, ad
}

func TestNewWiresAdapterOps(t *testing.T) {
	_, ad := newTestClient(t, make(chan Command, 1), make(chan Event, 1))
	if ad.ops == nil {
		t.Fatal("adapter was not given an Ops handle")
	}
}

func TestAddNeighborUpdatesTopologyAndLinks(t *testing.T) {
	c, _ := newTestClient(t, make(chan Command, 1), make(chan Event, 1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, _ := channel.Pair(nil)
	if err := c.AddNeighbor(ctx, 2, a); err != nil {
		t.Fatalf("AddNeighbor() error = %v", err)
	}

	if !c.topology.HasEdge(1, 2) {
		t.Error("AddNeighbor() did not record a topology edge")
	}
	if len(c.neighborIDs()) != 1 {
		t.Errorf("neighborIDs() = %v, want one entry", c.neighborIDs())
	}
}

func TestAddSenderCommandAddsWorkingNeighbor(t *testing.T) {
	c, _ := newTestClient(t, make(chan Command, 1), make(chan Event, 1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, _ := channel.Pair(nil)
	c.HandleCommand(ctx, AddSenderCmd{Neighbor: 2, Link: a})

	if !c.topology.HasEdge(1, 2) {
		t.Error("AddSenderCmd did not record a topology edge")
	}
	if len(c.neighborIDs()) != 1 {
		t.Errorf("neighborIDs() = %v, want one entry", c.neighborIDs())
	}
}

func TestRemoveNeighborClearsState(t *testing.T) {
	c, _ := newTestClient(t, make(chan Command, 1), make(chan Event, 1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, _ := channel.Pair(nil)
	c.AddNeighbor(ctx, 2, a)
	c.RemoveNeighbor(2)

	if len(c.neighborIDs()) != 0 {
		t.Errorf("neighborIDs() after remove = %v, want empty", c.neighborIDs())
	}
	if c.topology.GetKind(2) != core.KindUnknown {
		t.Errorf("GetKind(2) after remove = %v, want unknown", c.topology.GetKind(2))
	}
}

func TestHandleCommandKnownServers(t *testing.T) {
	events := make(chan Event, 1)
	c, _ := newTestClient(t, make(chan Command, 1), events)
	c.topology.SetKind(21, core.KindServer)

	c.HandleCommand(context.Background(), KnownServersCmd{})

	select {
	case e := <-events:
		ks, ok := e.(KnownServers)
		if !ok {
			t.Fatalf("event type = %T, want KnownServers", e)
		}
		if len(ks.Servers) != 1 || ks.Servers[0].ID != 21 {
			t.Errorf("Servers = %v, want [{21 Server}]", ks.Servers)
		}
	default:
		t.Fatal("expected a KnownServers event")
	}
}

func TestHandleCommandDelegatesUnknownToAdapter(t *testing.T) {
	c, ad := newTestClient(t, make(chan Command, 1), make(chan Event, 1))
	cmd := RegisterCmd{ServerID: 21}
	c.HandleCommand(context.Background(), cmd)

	if len(ad.commands) != 1 {
		t.Fatalf("adapter received %d commands, want 1", len(ad.commands))
	}
	if ad.commands[0] != Command(cmd) {
		t.Errorf("adapter received %+v, want %+v", ad.commands[0], cmd)
	}
}

func TestSendPayloadWithoutRouteDoesNotPanic(t *testing.T) {
	c, _ := newTestClient(t, make(chan Command, 1), make(chan Event, 1))
	sessionID := c.SendPayload(21, []byte("hello"))
	if sessionID == 0 {
		// zero is a legal random value but vanishingly unlikely twice
		sessionID = c.SendPayload(21, []byte("hello again"))
		if sessionID == 0 {
			t.Skip("random session id collided with zero twice; not an error")
		}
	}
}

func TestRunExitsOnShutdownCommand(t *testing.T) {
	commands := make(chan Command, 1)
	c, _ := newTestClient(t, commands, make(chan Event, 1))

	commands <- ShutdownCmd{}

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not exit after Shutdown command")
	}
}

func TestRunRespectsTickBudget(t *testing.T) {
	commands := make(chan Command, 1)
	c := New(Config{
		SelfID:   1,
		Commands: commands,
		Events:   make(chan Event, 1),
		NewAdapter: func(ops Ops) Adapter {
			return &fakeAdapter{ops: ops}
		},
		TickBudget: 1,
	})

	// Each iteration waits for one input, so the single iteration the budget
	// allows is spent on this command; after it, Run must return instead of
	// waiting for more input.
	commands <- TopologyCmd{}

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not respect tick budget")
	}
}
