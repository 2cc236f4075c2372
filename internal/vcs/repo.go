// Package vcs is the embedded stand-in for the native VCS library the real
// server links against: a content-addressed object store, an
// operation/view log, and an op-heads ref set, all rooted at one data
// directory. Repository is the one mutable handle a process holds on it;
// the server process is expected to hold exactly one.
package vcs

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/tandem-vcs/tandem/internal/tandemerr"
	"github.com/tandem-vcs/tandem/internal/tandemtypes"
	"github.com/tandem-vcs/tandem/internal/vcs/objectstore"
	"github.com/tandem-vcs/tandem/internal/vcs/opheads"
	"github.com/tandem-vcs/tandem/internal/vcs/opindex"
	"github.com/tandem-vcs/tandem/internal/vcs/oplog"
)

// ProtocolMajor/ProtocolMinor identify the wire protocol's compatibility
// generation, checked at handshake (spec §4.3, §8.3).
const (
	ProtocolMajor = 1
	ProtocolMinor = 0

	backendName = "tandem-objectstore"
	opStoreName = "tandem-oplog"
	vcsVersion  = "tandem-embedded-0.1"
)

// emptyTreeBytes, like the root commit encoding built in
// seedWellKnownObjects, is a canonical, timestamp-free encoding so that
// its content hash is stable across process restarts without needing to
// persist the id separately.
var emptyTreeBytes = []byte(`{"entries":[]}`)

type commitRecord struct {
	TreeID    tandemtypes.Hash `json:"tree_id"`
	ParentIDs []tandemtypes.Hash `json:"parent_ids"`
	Message   string           `json:"message"`
	Committer string           `json:"committer,omitempty"`
}

// Repository composes the object store, operation/view log, op-heads ref
// set, and prefix index that together play the role of the native VCS
// library's on-disk repository.
type Repository struct {
	Objects  *objectstore.Store
	Ops      *oplog.Store
	Heads    *opheads.Set
	Index    *opindex.Index
	dataDir  string

	emptyTreeID     tandemtypes.Hash
	rootCommitID    tandemtypes.Hash
	rootChangeID    tandemtypes.Hash
	rootOperationID tandemtypes.Hash
}

// Open opens or initializes a repository rooted at dataDir.
func Open(dataDir string) (*Repository, error) {
	objects, err := objectstore.New(filepath.Join(dataDir, "objects"))
	if err != nil {
		return nil, err
	}
	ops := oplog.New(objects)

	index, err := opindex.Open(dataDir)
	if err != nil {
		return nil, err
	}

	r := &Repository{
		Objects: objects,
		Ops:     ops,
		Index:   index,
		dataDir: dataDir,
	}

	if err := r.seedWellKnownObjects(); err != nil {
		index.Close()
		return nil, err
	}

	heads, err := opheads.New(filepath.Join(dataDir, "op_heads"), r.rootOperationID)
	if err != nil {
		index.Close()
		return nil, err
	}
	r.Heads = heads

	return r, nil
}

// Close releases resources held by the repository.
func (r *Repository) Close() error {
	return r.Index.Close()
}

func (r *Repository) seedWellKnownObjects() error {
	emptyTreeID, err := r.Objects.Write(tandemtypes.KindTree, emptyTreeBytes)
	if err != nil {
		return fmt.Errorf("vcs: seed empty tree: %w", err)
	}
	r.emptyTreeID = emptyTreeID

	rootCommit := commitRecord{TreeID: emptyTreeID, ParentIDs: nil, Message: "root"}
	rootCommitBytes, err := json.Marshal(rootCommit)
	if err != nil {
		return fmt.Errorf("vcs: encode root commit: %w", err)
	}
	rootCommitID, err := r.Objects.Write(tandemtypes.KindCommit, rootCommitBytes)
	if err != nil {
		return fmt.Errorf("vcs: seed root commit: %w", err)
	}
	r.rootCommitID = rootCommitID
	r.rootChangeID = objectstore.Hash(append([]byte("change:"), rootCommitBytes...))

	rootView := oplog.ViewRecord{WorkspaceCommits: map[string]tandemtypes.Hash{}}
	rootViewBytes, err := json.Marshal(rootView)
	if err != nil {
		return fmt.Errorf("vcs: encode root view: %w", err)
	}
	rootViewID, err := r.Ops.PutView(rootViewBytes)
	if err != nil {
		return fmt.Errorf("vcs: seed root view: %w", err)
	}

	rootOp := oplog.OperationRecord{HasParent: false, ViewID: rootViewID, Description: "initialize repo"}
	rootOpBytes, err := json.Marshal(rootOp)
	if err != nil {
		return fmt.Errorf("vcs: encode root operation: %w", err)
	}
	rootOperationID := objectstore.Hash(rootOpBytes)
	if _, err := r.Ops.PutOperation(rootOpBytes, rootOperationID); err != nil {
		return fmt.Errorf("vcs: seed root operation: %w", err)
	}
	r.rootOperationID = rootOperationID

	if err := r.Index.Add(rootOperationID); err != nil {
		return fmt.Errorf("vcs: index root operation: %w", err)
	}

	return nil
}

// RootOperationID returns the id of the distinguished root operation.
func (r *Repository) RootOperationID() tandemtypes.Hash { return r.rootOperationID }

// EmptyTreeID returns the id of the canonical empty tree.
func (r *Repository) EmptyTreeID() tandemtypes.Hash { return r.emptyTreeID }

// RootCommitID returns the id of the canonical root commit.
func (r *Repository) RootCommitID() tandemtypes.Hash { return r.rootCommitID }

// RootChangeID returns the id of the canonical root change.
func (r *Repository) RootChangeID() tandemtypes.Hash { return r.rootChangeID }

// Descriptor builds the immutable handshake descriptor for this
// repository, advertising every capability this implementation supports.
func (r *Repository) Descriptor() tandemtypes.RepoInfo {
	return tandemtypes.RepoInfo{
		ProtocolMajor:   ProtocolMajor,
		ProtocolMinor:   ProtocolMinor,
		VCSVersion:      vcsVersion,
		BackendName:     backendName,
		OpStoreName:     opStoreName,
		CommitIDLength:  tandemtypes.HashSize,
		ChangeIDLength:  tandemtypes.HashSize,
		RootCommitID:    r.rootCommitID,
		RootChangeID:    r.rootChangeID,
		EmptyTreeID:     r.emptyTreeID,
		RootOperationID: r.rootOperationID,
		Capabilities: []tandemtypes.Capability{
			tandemtypes.CapabilityWatchHeads,
			tandemtypes.CapabilityHeadsSnapshot,
		},
	}
}

// PutCommit normalizes and stores a commit, returning both the canonical
// id and the normalized bytes the server will hand back to callers
// (spec's "may normalize" clause: the committer field is filled in if the
// submitted record left it blank). Normalization is a pure function of the
// submitted bytes so that resubmitting identical input, normalized or not,
// is idempotent.
func (r *Repository) PutCommit(data []byte) (tandemtypes.Hash, []byte, error) {
	var rec commitRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return tandemtypes.Hash{}, nil, tandemerr.InvalidDataf("unmarshal commit: %v", err)
	}
	if rec.Committer == "" {
		rec.Committer = fmt.Sprintf("tandem-server@%s", objectstore.Hash(data).Short())
		normalized, err := json.Marshal(rec)
		if err != nil {
			return tandemtypes.Hash{}, nil, tandemerr.InvalidDataf("normalize commit: %v", err)
		}
		id, err := r.Objects.Write(tandemtypes.KindCommit, normalized)
		if err != nil {
			return tandemtypes.Hash{}, nil, err
		}
		return id, normalized, nil
	}
	id, err := r.Objects.Write(tandemtypes.KindCommit, data)
	if err != nil {
		return tandemtypes.Hash{}, nil, err
	}
	return id, data, nil
}
