package storeshim

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandem-vcs/tandem/internal/tandemtypes"
	"github.com/tandem-vcs/tandem/internal/vcs/oplog"
)

func TestOpStoreRootOperationIDMatchesHandshake(t *testing.T) {
	h := newTestHarness(t)
	assert.Equal(t, h.repo.RootOperationID(), h.shims.Ops.RootOperationID())
}

func TestOpStoreWriteReadViewRoundTrip(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	view, err := json.Marshal(oplog.ViewRecord{WorkspaceCommits: map[string]tandemtypes.Hash{}})
	require.NoError(t, err)

	id, err := h.shims.Ops.WriteView(ctx, view)
	require.NoError(t, err)

	got, err := h.shims.Ops.ReadView(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, view, got)
}

func TestOpStoreWriteOperationAgainstRoot(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	view, err := json.Marshal(oplog.ViewRecord{WorkspaceCommits: map[string]tandemtypes.Hash{}})
	require.NoError(t, err)
	viewID, err := h.shims.Ops.WriteView(ctx, view)
	require.NoError(t, err)

	root := h.shims.Ops.RootOperationID()
	opData, err := json.Marshal(oplog.OperationRecord{HasParent: true, ParentID: root, ViewID: viewID})
	require.NoError(t, err)

	opID, err := h.shims.Ops.WriteOperation(ctx, opData)
	require.NoError(t, err)

	got, err := h.shims.Ops.ReadOperation(ctx, opID)
	require.NoError(t, err)
	assert.Equal(t, opData, got)
}

func TestOpStoreWriteOperationRejectsUnknownParent(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	view, err := json.Marshal(oplog.ViewRecord{WorkspaceCommits: map[string]tandemtypes.Hash{}})
	require.NoError(t, err)
	viewID, err := h.shims.Ops.WriteView(ctx, view)
	require.NoError(t, err)

	var unknownParent tandemtypes.Hash
	unknownParent[0] = 0xfe
	opData, err := json.Marshal(oplog.OperationRecord{HasParent: true, ParentID: unknownParent, ViewID: viewID})
	require.NoError(t, err)

	_, err = h.shims.Ops.WriteOperation(ctx, opData)
	assert.Error(t, err)
}

func TestOpStoreResolveOperationIDPrefix(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	root := h.shims.Ops.RootOperationID()
	hex := root.String()

	resolution, match, err := h.shims.Ops.ResolveOperationIDPrefix(ctx, hex[:8])
	require.NoError(t, err)
	assert.Equal(t, tandemtypes.ResolutionSingleMatch, resolution)
	assert.Equal(t, root, match)
}

func TestOpStoreResolveOperationIDPrefixNoMatch(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	resolution, _, err := h.shims.Ops.ResolveOperationIDPrefix(ctx, "ffffffff")
	require.NoError(t, err)
	assert.Equal(t, tandemtypes.ResolutionNoMatch, resolution)
}
