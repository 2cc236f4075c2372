// Package serverstore exposes the VCS library's on-disk repository as the
// network store the RPC layer dispatches to: one process, one repository,
// exclusive write access. It composes vcs.Repository with the immutable
// descriptor and the head coordinator, translating lower-level errors into
// the domain error envelope the wire protocol carries.
package serverstore

import (
	"github.com/tandem-vcs/tandem/internal/coordinator"
	"github.com/tandem-vcs/tandem/internal/metrics"
	"github.com/tandem-vcs/tandem/internal/tandemerr"
	"github.com/tandem-vcs/tandem/internal/tandemtypes"
	"github.com/tandem-vcs/tandem/internal/vcs"
	"github.com/tandem-vcs/tandem/internal/vcs/objectstore"
	"github.com/tandem-vcs/tandem/internal/vcs/oplog"
)

// Store is the single authoritative handle on the repository that every
// RPC connection's dispatcher calls into.
type Store struct {
	repo        *vcs.Repository
	Coordinator *coordinator.Coordinator
}

// New composes repo with coord into a Store.
func New(repo *vcs.Repository, coord *coordinator.Coordinator) *Store {
	return &Store{repo: repo, Coordinator: coord}
}

// GetRepoInfo returns the immutable handshake descriptor.
func (s *Store) GetRepoInfo() tandemtypes.RepoInfo {
	return s.repo.Descriptor()
}

// GetObject returns the raw bytes stored under (kind, id).
func (s *Store) GetObject(kind tandemtypes.ObjectKind, id tandemtypes.Hash) ([]byte, error) {
	if !tandemtypes.ValidKind(kind) {
		return nil, tandemerr.InvalidDataf("unknown object kind %q", kind)
	}
	data, err := s.repo.Objects.Read(kind, id)
	if err != nil {
		if err == objectstore.ErrNotFound {
			return nil, tandemerr.NotFoundf("object %s/%s", kind, id.Short()).WithDetail("object_type", string(kind)).WithDetail("hash", id.String())
		}
		return nil, tandemerr.New(tandemerr.Internal, "get object: %v", err)
	}
	return data, nil
}

// PutObject stores data under its content hash within kind, returning the
// canonical id and the possibly-normalized bytes.
func (s *Store) PutObject(kind tandemtypes.ObjectKind, data []byte) (tandemtypes.Hash, []byte, error) {
	if !tandemtypes.ValidKind(kind) {
		return tandemtypes.Hash{}, nil, tandemerr.InvalidDataf("unknown object kind %q", kind)
	}

	var (
		id         tandemtypes.Hash
		normalized []byte
		err        error
	)
	if kind == tandemtypes.KindCommit {
		id, normalized, err = s.repo.PutCommit(data)
	} else {
		id, err = s.repo.Objects.Write(kind, data)
		normalized = data
	}
	if err != nil {
		return tandemtypes.Hash{}, nil, toDomainError(err)
	}
	metrics.ObjectsWritten.WithLabelValues(string(kind)).Inc()
	return id, normalized, nil
}

// GetOperation returns the raw bytes of an operation record.
func (s *Store) GetOperation(id tandemtypes.Hash) ([]byte, error) {
	return s.repo.Ops.GetOperation(id)
}

// PutOperation stores an operation record, validating its references.
func (s *Store) PutOperation(data []byte) (tandemtypes.Hash, error) {
	id, err := s.repo.Ops.PutOperation(data, s.repo.RootOperationID())
	if err != nil {
		return tandemtypes.Hash{}, err
	}
	if err := s.repo.Index.Add(id); err != nil {
		return tandemtypes.Hash{}, toDomainError(err)
	}
	metrics.OperationsWritten.Inc()
	return id, nil
}

// GetView returns the raw bytes of a view record.
func (s *Store) GetView(id tandemtypes.Hash) ([]byte, error) {
	return s.repo.Ops.GetView(id)
}

// PutView stores a view record.
func (s *Store) PutView(data []byte) (tandemtypes.Hash, error) {
	id, err := s.repo.Ops.PutView(data)
	if err != nil {
		return tandemtypes.Hash{}, err
	}
	metrics.ViewsWritten.Inc()
	return id, nil
}

// ResolveOperationIDPrefix resolves a hex operation-id prefix via the
// secondary index.
func (s *Store) ResolveOperationIDPrefix(hexPrefix string) (tandemtypes.PrefixResolution, tandemtypes.Hash, error) {
	return s.repo.Index.Resolve(hexPrefix)
}

// GetHeads delegates to the coordinator.
func (s *Store) GetHeads() (coordinator.Snapshot, error) {
	return s.Coordinator.GetHeads()
}

// UpdateOpHeads delegates to the coordinator.
func (s *Store) UpdateOpHeads(oldIDs []tandemtypes.Hash, newID tandemtypes.Hash, expectedVersion int64, workspaceID string) (bool, coordinator.Snapshot, error) {
	return s.Coordinator.UpdateOpHeads(oldIDs, newID, expectedVersion, workspaceID)
}

// GetHeadsSnapshot returns the current heads, version, and the full set of
// operations and views reachable from them — used by a client bootstrapping
// without prior local state, analogous to a clone.
func (s *Store) GetHeadsSnapshot() (coordinator.Snapshot, [][]byte, [][]byte, error) {
	snap, err := s.Coordinator.GetHeads()
	if err != nil {
		return coordinator.Snapshot{}, nil, nil, err
	}

	seenOps := map[tandemtypes.Hash]struct{}{}
	seenViews := map[tandemtypes.Hash]struct{}{}
	var operations, views [][]byte

	var walk func(id tandemtypes.Hash) error
	walk = func(id tandemtypes.Hash) error {
		if _, ok := seenOps[id]; ok {
			return nil
		}
		seenOps[id] = struct{}{}

		data, err := s.repo.Ops.GetOperation(id)
		if err != nil {
			return err
		}
		operations = append(operations, data)

		rec, err := oplog.DecodeOperation(data)
		if err != nil {
			return err
		}
		if _, ok := seenViews[rec.ViewID]; !ok {
			seenViews[rec.ViewID] = struct{}{}
			viewData, err := s.repo.Ops.GetView(rec.ViewID)
			if err != nil {
				return err
			}
			views = append(views, viewData)
		}
		if rec.HasParent {
			return walk(rec.ParentID)
		}
		return nil
	}

	for _, head := range snap.Heads {
		if err := walk(head); err != nil {
			return coordinator.Snapshot{}, nil, nil, err
		}
	}

	return snap, operations, views, nil
}

// GetRelatedCopies returns the copy records related to copyId. Copy
// tracking is not implemented by this backend; this always answers
// unsupported, matching the descriptor's omission of
// tandemtypes.CapabilityCopyTracking.
func (s *Store) GetRelatedCopies(copyID tandemtypes.Hash) ([]tandemtypes.Hash, error) {
	return nil, tandemerr.Unsupportedf("copy tracking is not advertised by this server")
}

func toDomainError(err error) error {
	if _, ok := err.(*tandemerr.Error); ok {
		return err
	}
	return tandemerr.New(tandemerr.Internal, "%v", err)
}
