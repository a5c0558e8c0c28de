// Package chat implements the chat application profile atop the shared
// transport: server registration, peer rosters, and message exchange
// (spec §4.6). Grounded on original_source/chat_client.rs's register/
// send_chat_message/get_client_list operations and handle_chat_response
// dispatch, re-expressed as the droneclient.Adapter strategy (spec §9).
package chat

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/kabili207/dronenet-go/core"
	"github.com/kabili207/dronenet-go/device/droneclient"
)

// envelope is this profile's application payload wire format. The core
// treats payloads as opaque bytes (spec §6); this shape is entirely an
// adapter-level concern.
type envelope struct {
	Kind       string        `json:"kind"`
	ClientID   core.NodeId   `json:"client_id,omitempty"`
	PeerID     core.NodeId   `json:"peer_id,omitempty"`
	Text       string        `json:"text,omitempty"`
	Clients    []core.NodeId `json:"clients,omitempty"`
	ServerKind string        `json:"server_kind,omitempty"`
}

const (
	kindRegister         = "register"
	kindClientRegistered = "client_registered"
	kindSendMessage      = "send_message"
	kindMessageFrom      = "message_from"
	kindMessageSent      = "message_sent"
	kindClientListReq  = "client_list_request"
	kindClientList     = "client_list"
	kindServerTypeResp = "server_type_response"
)

// Adapter is the chat application profile.
type Adapter struct {
	ops droneclient.Ops

	mu         sync.Mutex
	registered map[core.NodeId]struct{}
	roster     map[core.NodeId][]core.NodeId

	logger *slog.Logger
}

// New constructs a chat Adapter bound to ops. Suitable as a
// droneclient.Config.NewAdapter value: chat.NewFactory.
func New(ops droneclient.Ops, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		ops:        ops,
		registered: make(map[core.NodeId]struct{}),
		roster:     make(map[core.NodeId][]core.NodeId),
		logger:     logger.WithGroup("chat"),
	}
}

// NewFactory adapts New to the droneclient.Config.NewAdapter signature.
func NewFactory(logger *slog.Logger) func(droneclient.Ops) droneclient.Adapter {
	return func(ops droneclient.Ops) droneclient.Adapter { return New(ops, logger) }
}

// HandleCommand implements droneclient.Adapter.
func (a *Adapter) HandleCommand(cmd droneclient.Command) {
	switch v := cmd.(type) {
	case droneclient.RegisterCmd:
		a.register(v.ServerID)
	case droneclient.ClientListCmd:
		a.requestClientList(v.ServerID)
	case droneclient.SendMessageCmd:
		a.sendMessage(v.Text, v.ServerID, v.PeerID)
	case droneclient.RegisteredServersCmd:
		a.reportRegisteredServers()
	default:
		a.logger.Error("command not applicable to chat adapter", "command", cmd)
	}
}

func (a *Adapter) register(serverID core.NodeId) {
	payload, err := json.Marshal(envelope{Kind: kindRegister, ClientID: a.ops.SelfID()})
	if err != nil {
		a.logger.Error("encoding register request", "err", err)
		return
	}
	a.ops.SendPayload(serverID, payload)
}

func (a *Adapter) requestClientList(serverID core.NodeId) {
	payload, err := json.Marshal(envelope{Kind: kindClientListReq})
	if err != nil {
		a.logger.Error("encoding client list request", "err", err)
		return
	}
	a.ops.SendPayload(serverID, payload)
}

func (a *Adapter) sendMessage(text string, serverID, peerID core.NodeId) {
	payload, err := json.Marshal(envelope{Kind: kindSendMessage, PeerID: peerID, Text: text})
	if err != nil {
		a.logger.Error("encoding chat message", "err", err)
		return
	}
	a.ops.SendPayload(serverID, payload)
	a.ops.Emit(droneclient.ChatMessageSent{Server: serverID, Peer: peerID, Payload: text})
}

func (a *Adapter) reportRegisteredServers() {
	a.mu.Lock()
	servers := make([]core.NodeId, 0, len(a.registered))
	for id := range a.registered {
		servers = append(servers, id)
	}
	a.mu.Unlock()
	a.ops.Emit(droneclient.RegisteredServersResponse{Servers: servers})
}

// HandlePayload implements droneclient.Adapter.
func (a *Adapter) HandlePayload(src core.NodeId, sessionID uint64, payload []byte) {
	var e envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		a.logger.Warn("malformed chat payload", "src", src, "err", err)
		return
	}

	switch e.Kind {
	case kindClientRegistered:
		a.mu.Lock()
		a.registered[src] = struct{}{}
		a.mu.Unlock()
	case kindMessageFrom:
		a.ops.Emit(droneclient.MessageReceived{ServerID: src, From: e.PeerID, Text: e.Text})
	case kindMessageSent:
		// informational only; no controller event is defined for it beyond
		// the MessageSent emitted at send time.
	case kindClientList:
		a.mu.Lock()
		a.roster[src] = e.Clients
		a.mu.Unlock()
		a.ops.Emit(droneclient.ClientListResponse{ServerID: src, Clients: e.Clients})
	case kindServerTypeResp:
		a.ops.Emit(droneclient.ServerTypeResponse{ServerID: src, Kind: parseServerKind(e.ServerKind)})
	default:
		a.logger.Warn("unrecognized chat payload kind", "src", src, "kind", e.Kind)
	}
}

func parseServerKind(s string) core.NodeKind {
	switch s {
	case "chat":
		return core.KindServerChat
	case "text":
		return core.KindServerText
	case "media":
		return core.KindServerMedia
	default:
		return core.KindServer
	}
}
