// Package browser implements the content-browser application profile: file
// listings, text/media retrieval, and reference resolution for text files
// whose first line names media attachments (spec §4.6). Grounded on
// original_source/browser_client.rs's dual-map pattern
// (pending_referenced_files / references_files) for tracking in-flight
// reference resolution, re-expressed as the droneclient.Adapter strategy.
package browser

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/kabili207/dronenet-go/core"
	"github.com/kabili207/dronenet-go/device/droneclient"
)

const refPrefix = "ref="

// envelope is this profile's application payload wire format.
type envelope struct {
	Kind       string   `json:"kind"`
	FileID     uint32   `json:"file_id,omitempty"`
	TextFiles  []uint32 `json:"text_files,omitempty"`
	MediaFiles []uint32 `json:"media_files,omitempty"`
	Text       string   `json:"text,omitempty"`
	Data       []byte   `json:"data,omitempty"`
	ServerKind string   `json:"server_kind,omitempty"`
}

const (
	kindFileListReq    = "file_list_request"
	kindFileList       = "file_list"
	kindTextFileReq    = "text_file_request"
	kindTextFile       = "text_file"
	kindMediaFileReq   = "media_file_request"
	kindMediaFile      = "media_file"
	kindServerTypeResp = "server_type_response"
)

type fileKey struct {
	server core.NodeId
	fileID uint32
}

// textWait is the in-flight state for a text file awaiting referenced
// media, mirroring original_source's pending_referenced_files map.
type textWait struct {
	text         string
	mediaServer  core.NodeId
	allRefs      []uint32
	awaiting     map[uint32]struct{}
}

// Adapter is the browser application profile.
type Adapter struct {
	ops droneclient.Ops

	mu       sync.Mutex
	obtained map[fileKey][]byte
	pending  map[fileKey]*textWait // keyed by the *source text file's* key

	logger *slog.Logger
}

// New constructs a browser Adapter bound to ops.
func New(ops droneclient.Ops, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		ops:      ops,
		obtained: make(map[fileKey][]byte),
		pending:  make(map[fileKey]*textWait),
		logger:   logger.WithGroup("browser"),
	}
}

// NewFactory adapts New to the droneclient.Config.NewAdapter signature.
func NewFactory(logger *slog.Logger) func(droneclient.Ops) droneclient.Adapter {
	return func(ops droneclient.Ops) droneclient.Adapter { return New(ops, logger) }
}

// HandleCommand implements droneclient.Adapter.
func (a *Adapter) HandleCommand(cmd droneclient.Command) {
	switch v := cmd.(type) {
	case droneclient.RequestFileListCmd:
		a.send(v.ServerID, envelope{Kind: kindFileListReq})
	case droneclient.RequestTextFileCmd:
		a.send(v.ServerID, envelope{Kind: kindTextFileReq, FileID: v.FileID})
	case droneclient.RequestMediaFileCmd:
		a.send(v.ServerID, envelope{Kind: kindMediaFileReq, FileID: v.FileID})
	default:
		a.logger.Error("command not applicable to browser adapter", "command", cmd)
	}
}

func (a *Adapter) send(dst core.NodeId, e envelope) {
	payload, err := json.Marshal(e)
	if err != nil {
		a.logger.Error("encoding browser payload", "err", err)
		return
	}
	a.ops.SendPayload(dst, payload)
}

// HandlePayload implements droneclient.Adapter.
func (a *Adapter) HandlePayload(src core.NodeId, sessionID uint64, payload []byte) {
	var e envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		a.logger.Warn("malformed browser payload", "src", src, "err", err)
		return
	}

	switch e.Kind {
	case kindFileList:
		a.ops.Emit(droneclient.FileListResponse{ServerID: src, TextFiles: e.TextFiles, MediaFiles: e.MediaFiles})
	case kindTextFile:
		a.handleTextFile(src, e.FileID, e.Text)
	case kindMediaFile:
		a.handleMediaFile(src, e.FileID, e.Data)
	case kindServerTypeResp:
		a.ops.Emit(droneclient.ServerTypeResponse{ServerID: src, Kind: parseServerKind(e.ServerKind)})
	default:
		a.logger.Warn("unrecognized browser payload kind", "src", src, "kind", e.Kind)
	}
}

// handleTextFile implements the reference-resolution engine (spec §4.6):
// if the first line is "ref=ID1,ID2,...", referenced media not already
// cached is requested from the first known Media server and delivery is
// delayed until every reference is in hand.
func (a *Adapter) handleTextFile(src core.NodeId, fileID uint32, text string) {
	refs, ok := parseRefs(text)
	if !ok {
		a.ops.Emit(droneclient.TextFileResponse{ServerID: src, FileID: fileID, Text: text})
		return
	}

	mediaServer, ok := a.firstMediaServer()
	if !ok {
		a.logger.Warn("text file references media but no media server is known", "src", src, "file", fileID)
		return
	}

	key := fileKey{server: src, fileID: fileID}
	wait := &textWait{text: text, mediaServer: mediaServer, allRefs: refs, awaiting: make(map[uint32]struct{})}

	a.mu.Lock()
	for _, ref := range refs {
		if _, cached := a.obtained[fileKey{server: mediaServer, fileID: ref}]; cached {
			continue
		}
		wait.awaiting[ref] = struct{}{}
	}
	needed := len(wait.awaiting) > 0
	if needed {
		a.pending[key] = wait
	}
	a.mu.Unlock()

	if !needed {
		a.ops.Emit(droneclient.TextWithReferences{
			ServerID: src, FileID: fileID, Text: text,
			AttachedMedia: a.collectAttached(mediaServer, refs),
		})
		return
	}

	for ref := range wait.awaiting {
		a.send(mediaServer, envelope{Kind: kindMediaFileReq, FileID: ref})
	}
}

// handleMediaFile stores an inbound media file and, if it resolves a
// pending text-file reference, folds it into that text's TextWithReferences
// instead of also reporting it standalone — matching
// original_source/browser_client.rs's handle_browser_response, which
// returns early on the MediaFile arm when is_reference is set rather than
// emitting both a media event and the combined one.
func (a *Adapter) handleMediaFile(src core.NodeId, fileID uint32, data []byte) {
	a.mu.Lock()
	a.obtained[fileKey{server: src, fileID: fileID}] = data
	isReference := a.isReferencedLocked(src, fileID)

	var ready []fileKey
	for key, wait := range a.pending {
		if wait.mediaServer != src {
			continue
		}
		delete(wait.awaiting, fileID)
		if len(wait.awaiting) == 0 {
			ready = append(ready, key)
		}
	}
	waits := make(map[fileKey]*textWait, len(ready))
	for _, key := range ready {
		waits[key] = a.pending[key]
		delete(a.pending, key)
	}
	a.mu.Unlock()

	if !isReference {
		a.ops.Emit(droneclient.MediaFileResponse{ServerID: src, FileID: fileID, Data: data})
	}

	for key, wait := range waits {
		a.ops.Emit(droneclient.TextWithReferences{
			ServerID: key.server, FileID: key.fileID, Text: wait.text,
			AttachedMedia: a.collectAttached(wait.mediaServer, wait.allRefs),
		})
	}
}

// isReferencedLocked reports whether (mediaServer, fileID) is referenced by
// any pending text file, regardless of whether it has already arrived.
// Called with a.mu held.
func (a *Adapter) isReferencedLocked(mediaServer core.NodeId, fileID uint32) bool {
	for _, wait := range a.pending {
		if wait.mediaServer != mediaServer {
			continue
		}
		for _, ref := range wait.allRefs {
			if ref == fileID {
				return true
			}
		}
	}
	return false
}

func (a *Adapter) collectAttached(mediaServer core.NodeId, refs []uint32) map[uint32][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[uint32][]byte, len(refs))
	for _, ref := range refs {
		if data, ok := a.obtained[fileKey{server: mediaServer, fileID: ref}]; ok {
			out[ref] = data
		}
	}
	return out
}

func (a *Adapter) firstMediaServer() (core.NodeId, bool) {
	servers := a.ops.KnownServers()
	best := core.NodeId(0)
	found := false
	for _, s := range servers {
		if s.Kind != core.KindServerMedia {
			continue
		}
		if !found || s.ID < best {
			best = s.ID
			found = true
		}
	}
	return best, found
}

// parseRefs reports whether text's first line is "ref=ID1,ID2,..." and, if
// so, the parsed referenced file ids.
func parseRefs(text string) ([]uint32, bool) {
	firstLine := text
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		firstLine = text[:idx]
	}
	if !strings.HasPrefix(firstLine, refPrefix) {
		return nil, false
	}
	parts := strings.Split(strings.TrimPrefix(firstLine, refPrefix), ",")
	refs := make([]uint32, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			continue
		}
		refs = append(refs, uint32(n))
	}
	return refs, len(refs) > 0
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
