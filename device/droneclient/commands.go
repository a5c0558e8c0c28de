package droneclient

import (
	"github.com/kabili207/dronenet-go/core"
	"github.com/kabili207/dronenet-go/transport"
)

// Command is the controller→client command set (spec §6). Shared commands
// are handled directly by Client; application-specific commands are
// forwarded to the active Adapter.
type Command interface{ isCommand() }

type baseCommand struct{}

func (baseCommand) isCommand() {}

// Shared commands, handled by Client regardless of adapter profile.

type FloodRequestCmd struct{ baseCommand }

type TopologyCmd struct{ baseCommand }

// AddSenderCmd adds a direct link to Neighbor over Link (spec §6:
// AddSender(neighbor_id, channel_handle)). Link must not be started yet:
// Client starts it and takes ownership of it through Client.AddNeighbor.
type AddSenderCmd struct {
	baseCommand
	Neighbor core.NodeId
	Link     transport.Link
}

type RemoveSenderCmd struct {
	baseCommand
	Neighbor core.NodeId
}

type KnownServersCmd struct{ baseCommand }

type RequestServerTypeCmd struct {
	baseCommand
	Server core.NodeId
}

type ShutdownCmd struct{ baseCommand }

// Chat-profile commands (spec §4.6, §6).

type SendMessageCmd struct {
	baseCommand
	Text     string
	ServerID core.NodeId
	PeerID   core.NodeId
}

type RegisterCmd struct {
	baseCommand
	ServerID core.NodeId
}

type ClientListCmd struct {
	baseCommand
	ServerID core.NodeId
}

type RegisteredServersCmd struct{ baseCommand }

// Browser-profile commands (spec §4.6, §6).

type RequestFileListCmd struct {
	baseCommand
	ServerID core.NodeId
}

type RequestTextFileCmd struct {
	baseCommand
	FileID   uint32
	ServerID core.NodeId
}

type RequestMediaFileCmd struct {
	baseCommand
	FileID   uint32
	ServerID core.NodeId
}
