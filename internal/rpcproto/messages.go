// Package rpcproto defines the argument and result tuples for each store
// method named in the wire schema, shared by rpcserver and rpcclient so
// both sides encode and decode the same shape.
package rpcproto

import "github.com/tandem-vcs/tandem/internal/tandemtypes"

// Method names as they appear in Frame.Method.
const (
	MethodGetRepoInfo              = "getRepoInfo"
	MethodGetObject                = "getObject"
	MethodPutObject                = "putObject"
	MethodGetOperation              = "getOperation"
	MethodPutOperation              = "putOperation"
	MethodGetView                   = "getView"
	MethodPutView                   = "putView"
	MethodResolveOperationIDPrefix  = "resolveOperationIdPrefix"
	MethodGetHeads                  = "getHeads"
	MethodUpdateOpHeads             = "updateOpHeads"
	MethodWatchHeads                = "watchHeads"
	MethodCancel                    = "cancel"
	MethodGetHeadsSnapshot          = "getHeadsSnapshot"
	MethodGetRelatedCopies          = "getRelatedCopies"
	// MethodNotify is the frame method carried on notify frames pushed by
	// the server to a watchHeads subscription; there is no client-issued
	// call of this name.
	MethodNotify = "notify"
)

// GetObjectArgs is the argument tuple for getObject. ID travels as raw
// bytes rather than a fixed-width tandemtypes.Hash so a malformed id
// from a non-shim client can actually reach the server as a
// wrong-length value instead of failing to decode — the server
// validates its length itself and reports invalid_id_length.
type GetObjectArgs struct {
	Kind tandemtypes.ObjectKind
	ID   []byte
}

// GetObjectResult is the result tuple for getObject.
type GetObjectResult struct {
	Data []byte
}

// PutObjectArgs is the argument tuple for putObject.
type PutObjectArgs struct {
	Kind tandemtypes.ObjectKind
	Data []byte
}

// PutObjectResult is the result tuple for putObject.
type PutObjectResult struct {
	ID             tandemtypes.Hash
	NormalizedData []byte
}

// GetOperationArgs is the argument tuple for getOperation.
type GetOperationArgs struct {
	ID tandemtypes.Hash
}

// GetOperationResult is the result tuple for getOperation and getView.
type GetOperationResult struct {
	Data []byte
}

// PutOperationArgs is the argument tuple for putOperation and putView.
type PutOperationArgs struct {
	Data []byte
}

// PutOperationResult is the result tuple for putOperation and putView.
type PutOperationResult struct {
	ID tandemtypes.Hash
}

// GetViewArgs is the argument tuple for getView.
type GetViewArgs struct {
	ID tandemtypes.Hash
}

// ResolveOperationIDPrefixArgs is the argument tuple for
// resolveOperationIdPrefix.
type ResolveOperationIDPrefixArgs struct {
	HexPrefix string
}

// ResolveOperationIDPrefixResult is the result tuple for
// resolveOperationIdPrefix.
type ResolveOperationIDPrefixResult struct {
	Resolution tandemtypes.PrefixResolution
	Match      tandemtypes.Hash
}

// HeadsResult is the shared result shape for getHeads and both arms of
// updateOpHeads: the new state on ok=true, the current state on ok=false.
type HeadsResult struct {
	Heads          []tandemtypes.Hash
	Version        int64
	WorkspaceHeads tandemtypes.WorkspaceHeads
}

// UpdateOpHeadsArgs is the argument tuple for updateOpHeads.
type UpdateOpHeadsArgs struct {
	OldIDs          []tandemtypes.Hash
	NewID           tandemtypes.Hash
	ExpectedVersion int64
	WorkspaceID     string
}

// UpdateOpHeadsResult is the result tuple for updateOpHeads.
type UpdateOpHeadsResult struct {
	OK    bool
	Heads HeadsResult
}

// WatchHeadsArgs is the argument tuple for watchHeads.
type WatchHeadsArgs struct {
	AfterVersion int64
}

// WatchHeadsResult acknowledges subscription; the subscription's id is the
// Frame.ID itself, reused for every subsequent notify frame and for the
// client's cancel frame.
type WatchHeadsResult struct{}

// NotifyPayload is the payload of a server-pushed notify frame.
type NotifyPayload struct {
	Version        int64
	Heads          []tandemtypes.Hash
	WorkspaceHeads tandemtypes.WorkspaceHeads
}

// GetHeadsSnapshotResult is the result tuple for getHeadsSnapshot.
type GetHeadsSnapshotResult struct {
	Heads      HeadsResult
	Operations [][]byte
	Views      [][]byte
}

// GetRelatedCopiesArgs is the argument tuple for getRelatedCopies.
type GetRelatedCopiesArgs struct {
	CopyID tandemtypes.Hash
}

// GetRelatedCopiesResult is the result tuple for getRelatedCopies.
type GetRelatedCopiesResult struct {
	Copies []tandemtypes.Hash
}
