package droneclient

import "github.com/kabili207/dronenet-go/core"

// Event is the client→controller event set (spec §6).
type Event interface{ isEvent() }

type baseEvent struct{}

func (baseEvent) isEvent() {}

// PacketSent reports that a packet of the given kind was emitted for
// sessionID.
type PacketSent struct {
	baseEvent
	SessionID uint64
	KindTag   string
}

// PacketReceived reports that every fragment of inbound session SessionID
// has arrived and the reassembled payload was handed to the adapter.
type PacketReceived struct {
	baseEvent
	SessionID uint64
}

// FloodRequestSent reports that a FloodRequestCmd was handed to the flood
// controller. It is emitted even when the minimum flood interval causes the
// controller to drop the flood.
type FloodRequestSent struct{ baseEvent }

// MessageSent reports that an outbound application message finished
// fragmenting and entering the reliable-send engine.
type MessageSent struct {
	baseEvent
	SessionID uint64
}

// ChatMessageSent reports a chat message handed to the transport.
type ChatMessageSent struct {
	baseEvent
	Server, Peer core.NodeId
	Payload      string
}

// TopologyResponse answers a TopologyCmd query.
type TopologyResponse struct {
	baseEvent
	Nodes []ServerInfo
}

// KnownServers answers a KnownServersCmd query.
type KnownServers struct {
	baseEvent
	Servers []ServerInfo
}

// RegisteredServersResponse answers a RegisteredServersCmd query.
type RegisteredServersResponse struct {
	baseEvent
	Servers []core.NodeId
}

// ClientListResponse answers a ClientListCmd query.
type ClientListResponse struct {
	baseEvent
	ServerID core.NodeId
	Clients  []core.NodeId
}

// FloodResponseEvent reports ingestion of a flood_id's response.
type FloodResponseEvent struct {
	baseEvent
	FloodID uint64
}

// ServerTypeResponse reports a server's discovered specialization.
type ServerTypeResponse struct {
	baseEvent
	ServerID core.NodeId
	Kind     core.NodeKind
}

// FileListResponse answers a RequestFileListCmd.
type FileListResponse struct {
	baseEvent
	ServerID   core.NodeId
	TextFiles  []uint32
	MediaFiles []uint32
}

// TextFileResponse answers a RequestTextFileCmd for a reference-free file.
type TextFileResponse struct {
	baseEvent
	ServerID core.NodeId
	FileID   uint32
	Text     string
}

// MediaFileResponse answers a RequestMediaFileCmd.
type MediaFileResponse struct {
	baseEvent
	ServerID core.NodeId
	FileID   uint32
	Data     []byte
}

// TextWithReferences delivers a text file whose "ref=" line referenced
// media that has now all been retrieved (spec §4.6).
type TextWithReferences struct {
	baseEvent
	ServerID      core.NodeId
	FileID        uint32
	Text          string
	AttachedMedia map[uint32][]byte
}

// MessageReceived reports an inbound chat message.
type MessageReceived struct {
	baseEvent
	ServerID core.NodeId
	From     core.NodeId
	Text     string
}

// ServerInfo summarizes a discovered node for TopologyResponse/KnownServers.
type ServerInfo struct {
	ID   core.NodeId
	Kind core.NodeKind
}
