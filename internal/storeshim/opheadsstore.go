package storeshim

import (
	"context"
	"errors"
	"sync"

	"github.com/tandem-vcs/tandem/internal/rpcclient"
	"github.com/tandem-vcs/tandem/internal/rpcproto"
	"github.com/tandem-vcs/tandem/internal/tandemtypes"
)

// ErrCasMiss is returned by UpdateOpHeads when the server's version no
// longer matches expectedVersion. This is not a failure: the VCS
// library's transaction layer is expected to rebuild against Heads and
// retry, so callers should not log this as an error.
var ErrCasMiss = errors.New("storeshim: cas miss")

// HeadsState is the (heads, version, workspace_heads) triple returned by
// both GetOpHeads and a successful UpdateOpHeads.
type HeadsState struct {
	Heads          []tandemtypes.Hash
	Version        int64
	WorkspaceHeads tandemtypes.WorkspaceHeads
}

// OpHeadsStore implements the VCS library's op-heads store trait:
// get_op_heads and update_op_heads. Any local lock the library acquires
// around these calls is a no-op; correctness comes from the server's CAS.
type OpHeadsStore struct {
	client *rpcclient.Client

	mu           sync.Mutex
	cachedVersion int64
	haveCache     bool
}

// GetOpHeads fetches the current heads triple and updates the optimistic
// version cache.
func (o *OpHeadsStore) GetOpHeads(ctx context.Context) (HeadsState, error) {
	var result rpcproto.HeadsResult
	if err := o.client.CallSync(ctx, rpcproto.MethodGetHeads, struct{}{}, &result); err != nil {
		return HeadsState{}, translateError(err)
	}
	o.setCache(result.Version)
	return HeadsState{Heads: result.Heads, Version: result.Version, WorkspaceHeads: result.WorkspaceHeads}, nil
}

// UpdateOpHeads attempts a CAS transition using the cached version if the
// caller does not supply one (expectedVersion < 0), sparing a getHeads
// round-trip on the common path. On a CAS miss, it refreshes the cache
// from the server's returned state and returns ErrCasMiss alongside that
// state so the library can rebuild and retry.
func (o *OpHeadsStore) UpdateOpHeads(ctx context.Context, oldIDs []tandemtypes.Hash, newID tandemtypes.Hash, expectedVersion int64, workspaceID string) (HeadsState, error) {
	if expectedVersion < 0 {
		expectedVersion = o.cachedVersionOrZero()
	}

	var result rpcproto.UpdateOpHeadsResult
	err := o.client.CallSync(ctx, rpcproto.MethodUpdateOpHeads, rpcproto.UpdateOpHeadsArgs{
		OldIDs:          oldIDs,
		NewID:           newID,
		ExpectedVersion: expectedVersion,
		WorkspaceID:     workspaceID,
	}, &result)
	if err != nil {
		return HeadsState{}, translateError(err)
	}

	state := HeadsState{Heads: result.Heads.Heads, Version: result.Heads.Version, WorkspaceHeads: result.Heads.WorkspaceHeads}
	o.setCache(state.Version)
	if !result.OK {
		return state, ErrCasMiss
	}
	return state, nil
}

func (o *OpHeadsStore) setCache(version int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cachedVersion = version
	o.haveCache = true
}

func (o *OpHeadsStore) cachedVersionOrZero() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.haveCache {
		return 0
	}
	return o.cachedVersion
}

// Watch subscribes to head-change notifications starting after
// afterVersion, returning a channel of HeadsState updates and a cancel
// function. The channel closes once cancel is called or the connection
// drops.
func (o *OpHeadsStore) Watch(ctx context.Context, afterVersion int64) (<-chan HeadsState, func(), error) {
	notify, cancel, err := o.client.WatchHeads(ctx, afterVersion)
	if err != nil {
		return nil, nil, translateError(err)
	}

	out := make(chan HeadsState, 1)
	go func() {
		defer close(out)
		for n := range notify {
			o.setCache(n.Version)
			select {
			case out <- HeadsState{Heads: n.Heads, Version: n.Version, WorkspaceHeads: n.WorkspaceHeads}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, cancel, nil
}
