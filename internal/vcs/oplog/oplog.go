// Package oplog stores operation and view records: content-addressed like
// objectstore, but validated structurally before being accepted — a
// non-root operation must reference a view that already exists and, if it
// names a parent (HasParent), a parent that already exists.
package oplog

import (
	"encoding/json"
	"fmt"

	"github.com/tandem-vcs/tandem/internal/tandemerr"
	"github.com/tandem-vcs/tandem/internal/tandemtypes"
	"github.com/tandem-vcs/tandem/internal/vcs/objectstore"
)

const (
	kindOperation tandemtypes.ObjectKind = "operation"
	kindView      tandemtypes.ObjectKind = "view"
)

// OperationRecord is the structural shape of an operation record. The
// bytes the server stores and returns are the JSON encoding of this
// struct; this module does not need to understand the richer record a
// real VCS operation carries, only enough of it to validate references.
type OperationRecord struct {
	ParentID    tandemtypes.Hash `json:"parent_id"`
	HasParent   bool             `json:"has_parent"`
	ViewID      tandemtypes.Hash `json:"view_id"`
	WorkspaceID string           `json:"workspace_id,omitempty"`
	Description string           `json:"description,omitempty"`
}

// ViewRecord is the structural shape of a view record: the per-workspace
// "current commit" map plus whatever else a real view carries, opaque to
// this store beyond that map.
type ViewRecord struct {
	WorkspaceCommits map[string]tandemtypes.Hash `json:"workspace_commits"`
}

// Store holds operations and views on top of a shared objectstore.
type Store struct {
	objects *objectstore.Store
}

// New creates an oplog Store backed by objects.
func New(objects *objectstore.Store) *Store {
	return &Store{objects: objects}
}

// PutOperation validates and stores an operation record, returning its id.
// Idempotent: identical bytes always yield the same id.
func (s *Store) PutOperation(data []byte, rootID tandemtypes.Hash) (tandemtypes.Hash, error) {
	var rec OperationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return tandemtypes.Hash{}, tandemerr.InvalidDataf("unmarshal operation: %v", err)
	}

	id := objectstore.Hash(data)
	if id == rootID {
		return s.objects.Write(kindOperation, data)
	}

	if !s.objects.Exists(kindView, rec.ViewID) {
		return tandemtypes.Hash{}, tandemerr.InvalidDataf("operation references unknown view %s", rec.ViewID.Short())
	}
	if rec.HasParent && !s.objects.Exists(kindOperation, rec.ParentID) {
		return tandemtypes.Hash{}, tandemerr.InvalidDataf("operation references unknown parent %s", rec.ParentID.Short())
	}

	return s.objects.Write(kindOperation, data)
}

// GetOperation returns the raw bytes of the operation stored under id.
func (s *Store) GetOperation(id tandemtypes.Hash) ([]byte, error) {
	data, err := s.objects.Read(kindOperation, id)
	if err != nil {
		if err == objectstore.ErrNotFound {
			return nil, tandemerr.NotFoundf("operation %s", id.Short())
		}
		return nil, fmt.Errorf("oplog: get operation: %w", err)
	}
	return data, nil
}

// HasOperation reports whether id is a known operation.
func (s *Store) HasOperation(id tandemtypes.Hash) bool {
	return s.objects.Exists(kindOperation, id)
}

// PutView validates and stores a view record, returning its id.
func (s *Store) PutView(data []byte) (tandemtypes.Hash, error) {
	var rec ViewRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return tandemtypes.Hash{}, tandemerr.InvalidDataf("unmarshal view: %v", err)
	}
	return s.objects.Write(kindView, data)
}

// GetView returns the raw bytes of the view stored under id.
func (s *Store) GetView(id tandemtypes.Hash) ([]byte, error) {
	data, err := s.objects.Read(kindView, id)
	if err != nil {
		if err == objectstore.ErrNotFound {
			return nil, tandemerr.NotFoundf("view %s", id.Short())
		}
		return nil, fmt.Errorf("oplog: get view: %w", err)
	}
	return data, nil
}

// DecodeView parses the bytes of a view record.
func DecodeView(data []byte) (ViewRecord, error) {
	var rec ViewRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ViewRecord{}, tandemerr.InvalidDataf("unmarshal view: %v", err)
	}
	return rec, nil
}

// DecodeOperation parses the bytes of an operation record.
func DecodeOperation(data []byte) (OperationRecord, error) {
	var rec OperationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return OperationRecord{}, tandemerr.InvalidDataf("unmarshal operation: %v", err)
	}
	return rec, nil
}
