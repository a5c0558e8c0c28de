package droneclient

import "github.com/kabili207/dronenet-go/core"

// Adapter is the narrow strategy interface the chat and browser profiles
// implement (spec §9: "express transport as a single owner of state with a
// narrow operation interface, and the adapter as a strategy object...
// do not leak accessors"). An adapter never holds transport state; it only
// holds its own profile-specific bookkeeping and an Ops handle back into
// the owning Client.
type Adapter interface {
	// HandleCommand translates a profile-specific controller command into
	// transport sends or direct query responses via Ops. Commands not
	// applicable to this profile should be logged and ignored (spec §7).
	HandleCommand(cmd Command)
	// HandlePayload translates a completed inbound payload into a
	// controller-visible event, or updates adapter-local state.
	HandlePayload(src core.NodeId, sessionID uint64, payload []byte)
}

// Ops is the operation surface Client exposes to an Adapter. It is the only
// way an adapter may mutate or observe transport state.
type Ops interface {
	// SendPayload fragments payload and hands every fragment to the
	// reliable-send engine, returning the session id assigned to it.
	SendPayload(dst core.NodeId, payload []byte) uint64
	// RequestServerType emits an application-level ServerType query to
	// server, itself sent as an ordinary reliable payload.
	RequestServerType(server core.NodeId)
	// KnownServers returns a snapshot of every Server-kind node Topology
	// has discovered so far.
	KnownServers() []ServerInfo
	// Emit delivers e to the controller's event stream.
	Emit(e Event)
	// SelfID returns this client's own NodeId, needed by adapters to stamp
	// outbound application payloads (e.g. a chat Register request).
	SelfID() core.NodeId
}
