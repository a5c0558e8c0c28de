package chat

import (
	"encoding/json"
	"testing"

	"github.com/kabili207/dronenet-go/core"
	"github.com/kabili207/dronenet-go/device/droneclient"
)

type fakeOps struct {
	self  core.NodeId
	sends []sendCall
	events []droneclient.Event
}

type sendCall struct {
	dst     core.NodeId
	payload []byte
}

func (f *fakeOps) SendPayload(dst core.NodeId, payload []byte) uint64 {
	f.sends = append(f.sends, sendCall{dst, payload})
	return uint64(len(f.sends))
}
func (f *fakeOps) RequestServerType(core.NodeId)      {}
func (f *fakeOps) KnownServers() []droneclient.ServerInfo { return nil }
func (f *fakeOps) Emit(e droneclient.Event)           { f.events = append(f.events, e) }
func (f *fakeOps) SelfID() core.NodeId                { return f.self }

func TestRegisterSendsEnvelope(t *testing.T) {
	ops := &fakeOps{self: 1}
	a := New(ops, nil)

	a.HandleCommand(droneclient.RegisterCmd{ServerID: 21})

	if len(ops.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(ops.sends))
	}
	var e envelope
	if err := json.Unmarshal(ops.sends[0].payload, &e); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if e.Kind != kindRegister || e.ClientID != 1 {
		t.Errorf("envelope = %+v, want kind=register client_id=1", e)
	}
	if ops.sends[0].dst != 21 {
		t.Errorf("dst = %v, want 21", ops.sends[0].dst)
	}
}

func TestClientRegisteredResponseUpdatesState(t *testing.T) {
	ops := &fakeOps{self: 1}
	a := New(ops, nil)

	payload, _ := json.Marshal(envelope{Kind: kindClientRegistered})
	a.HandlePayload(21, 1, payload)

	a.HandleCommand(droneclient.RegisteredServersCmd{})
	if len(ops.events) != 1 {
		t.Fatalf("events = %d, want 1", len(ops.events))
	}
	resp, ok := ops.events[0].(droneclient.RegisteredServersResponse)
	if !ok || len(resp.Servers) != 1 || resp.Servers[0] != 21 {
		t.Errorf("RegisteredServersResponse = %+v, want Servers=[21]", resp)
	}
}

func TestMessageFromEmitsMessageReceived(t *testing.T) {
	ops := &fakeOps{self: 1}
	a := New(ops, nil)

	payload, _ := json.Marshal(envelope{Kind: kindMessageFrom, PeerID: 3, Text: "Hi"})
	a.HandlePayload(21, 0, payload)

	if len(ops.events) != 1 {
		t.Fatalf("events = %d, want 1", len(ops.events))
	}
	mr, ok := ops.events[0].(droneclient.MessageReceived)
	if !ok || mr.ServerID != 21 || mr.From != 3 || mr.Text != "Hi" {
		t.Errorf("MessageReceived = %+v, want {ServerID:21 From:3 Text:Hi}", mr)
	}
}

func TestSendMessageEmitsChatMessageSent(t *testing.T) {
	ops := &fakeOps{self: 1}
	a := New(ops, nil)

	a.HandleCommand(droneclient.SendMessageCmd{Text: "yo", ServerID: 21, PeerID: 3})

	if len(ops.events) != 1 {
		t.Fatalf("events = %d, want 1", len(ops.events))
	}
	cm, ok := ops.events[0].(droneclient.ChatMessageSent)
	if !ok || cm.Server != 21 || cm.Peer != 3 || cm.Payload != "yo" {
		t.Errorf("ChatMessageSent = %+v, want {Server:21 Peer:3 Payload:yo}", cm)
	}
}

func TestMalformedPayloadIsIgnoredWithoutPanic(t *testing.T) {
	ops := &fakeOps{self: 1}
	a := New(ops, nil)
	a.HandlePayload(21, 0, []byte("not json"))
	if len(ops.events) != 0 {
		t.Errorf("events = %d, want 0 for malformed payload", len(ops.events))
	}
}

func TestUnsupportedCommandIsIgnored(t *testing.T) {
	ops := &fakeOps{self: 1}
	a := New(ops, nil)
	a.HandleCommand(droneclient.RequestFileListCmd{ServerID: 21}) // browser-only command
	if len(ops.sends) != 0 || len(ops.events) != 0 {
		t.Error("unsupported command should produce no sends or events")
	}
}
