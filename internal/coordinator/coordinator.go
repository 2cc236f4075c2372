// Package coordinator serializes head transitions behind a single server
// lock, giving the VCS library's op-heads representation exactly one
// authority: every getHeads/updateOpHeads call goes through one
// Coordinator, grounded the same way the teacher's manager orchestrated
// its sub-components through one struct, with the FSM's apply/persist/
// notify transition shape reused for naming even though nothing here is
// replicated.
package coordinator

import (
	"fmt"
	"sync"

	"github.com/tandem-vcs/tandem/internal/metrics"
	"github.com/tandem-vcs/tandem/internal/sidecar"
	"github.com/tandem-vcs/tandem/internal/tandemerr"
	"github.com/tandem-vcs/tandem/internal/tandemtypes"
	"github.com/tandem-vcs/tandem/internal/vcs"
	"github.com/tandem-vcs/tandem/internal/vcs/oplog"
	"github.com/tandem-vcs/tandem/internal/watch"
)

// Snapshot is the consistent (heads, version, workspace_heads) triple
// returned by both GetHeads and UpdateOpHeads.
type Snapshot struct {
	Heads         []tandemtypes.Hash
	Version       int64
	WorkspaceHeads tandemtypes.WorkspaceHeads
}

// Coordinator owns the server lock that every head transition acquires.
type Coordinator struct {
	mu      sync.Mutex
	repo    *vcs.Repository
	sidecar *sidecar.Store
	broker  *watch.Broker
}

// New creates a Coordinator over repo, persisting to sidecarStore and
// fanning out notifications through broker.
func New(repo *vcs.Repository, sidecarStore *sidecar.Store, broker *watch.Broker) *Coordinator {
	return &Coordinator{repo: repo, sidecar: sidecarStore, broker: broker}
}

// GetHeads reads the current heads from the VCS library and the version and
// workspace map from the sidecar, as one consistent triple.
func (c *Coordinator) GetHeads() (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() (Snapshot, error) {
	heads, err := c.repo.Heads.List()
	if err != nil {
		return Snapshot{}, err
	}
	st, err := c.sidecar.Load()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Heads: heads, Version: st.Version, WorkspaceHeads: st.Heads}, nil
}

// UpdateOpHeads attempts a CAS head transition. ok=false with no error means
// normal CAS contention: the caller should re-synchronize against the
// returned Snapshot and retry, not treat it as a failure.
func (c *Coordinator) UpdateOpHeads(oldIDs []tandemtypes.Hash, newID tandemtypes.Hash, expectedVersion int64, workspaceID string) (ok bool, snap Snapshot, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.sidecar.Load()
	if err != nil {
		return false, Snapshot{}, err
	}
	if st.Version != expectedVersion {
		metrics.CASMisses.Inc()
		current, err := c.snapshotLocked()
		if err != nil {
			return false, Snapshot{}, err
		}
		return false, current, nil
	}

	if !c.repo.Ops.HasOperation(newID) {
		return false, Snapshot{}, tandemerr.InvalidDataf("updateOpHeads: unknown operation %s", newID.Short())
	}

	if err := c.repo.Heads.Replace(oldIDs, newID); err != nil {
		return false, Snapshot{}, err
	}

	heads, err := c.repo.Heads.List()
	if err != nil {
		if revertErr := c.repo.Heads.Restore(oldIDs, newID); revertErr != nil {
			return false, Snapshot{}, fmt.Errorf("list heads failed (%w) and rollback of heads.Replace also failed: %v", err, revertErr)
		}
		return false, Snapshot{}, err
	}

	newHeads := st.Heads.Clone()
	if workspaceID != "" {
		commitID, err := c.resolveWorkspaceCommit(newID, workspaceID)
		if err != nil {
			if revertErr := c.repo.Heads.Restore(oldIDs, newID); revertErr != nil {
				return false, Snapshot{}, fmt.Errorf("resolve workspace commit failed (%w) and rollback of heads.Replace also failed: %v", err, revertErr)
			}
			return false, Snapshot{}, err
		}
		newHeads[workspaceID] = commitID
	}

	newVersion := expectedVersion + 1
	if err := c.sidecar.Save(sidecar.State{Version: newVersion, Heads: newHeads}); err != nil {
		if revertErr := c.repo.Heads.Restore(oldIDs, newID); revertErr != nil {
			return false, Snapshot{}, fmt.Errorf("sidecar save failed (%w) and rollback of heads.Replace also failed: %v", err, revertErr)
		}
		return false, Snapshot{}, err
	}
	metrics.HeadVersion.Set(float64(newVersion))

	c.broker.Notify(watch.Notification{Version: newVersion, OpHeads: append([]tandemtypes.Hash(nil), heads...), WorkspaceHeads: newHeads.Clone()})

	return true, Snapshot{Heads: heads, Version: newVersion, WorkspaceHeads: newHeads}, nil
}

// resolveWorkspaceCommit reads the view referenced by operation opID and
// returns the commit it records for workspaceID. Absence of the workspace
// in the view is not an error: it means this is the first update for that
// workspace name, and the caller simply records whatever the view carries
// (possibly the zero hash, which the view itself would not have produced
// for a name it doesn't recognize).
func (c *Coordinator) resolveWorkspaceCommit(opID tandemtypes.Hash, workspaceID string) (tandemtypes.Hash, error) {
	opBytes, err := c.repo.Ops.GetOperation(opID)
	if err != nil {
		return tandemtypes.Hash{}, err
	}
	rec, err := oplog.DecodeOperation(opBytes)
	if err != nil {
		return tandemtypes.Hash{}, err
	}
	viewBytes, err := c.repo.Ops.GetView(rec.ViewID)
	if err != nil {
		return tandemtypes.Hash{}, err
	}
	view, err := oplog.DecodeView(viewBytes)
	if err != nil {
		return tandemtypes.Hash{}, err
	}
	return view.WorkspaceCommits[workspaceID], nil
}
