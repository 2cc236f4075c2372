package storeshim

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandem-vcs/tandem/internal/tandemtypes"
)

func TestObjectBackendWriteReadRoundTrip(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	id, normalized, err := h.shims.Objects.Write(ctx, tandemtypes.KindTree, []byte("a tree"))
	require.NoError(t, err)
	assert.Equal(t, []byte("a tree"), normalized)

	got, err := h.shims.Objects.Read(ctx, tandemtypes.KindTree, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("a tree"), got)
}

func TestObjectBackendReadMissingTranslatesNotFound(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	var missing tandemtypes.Hash
	missing[0] = 0xaa

	_, err := h.shims.Objects.Read(ctx, tandemtypes.KindTree, missing)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrObjectNotFound))
}

func TestObjectBackendWriteAppliesSignerForCommits(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	var signed []byte
	h.shims.Objects.Signer = func(data []byte) ([]byte, error) {
		signed = append(append([]byte{}, data[:len(data)-1]...), []byte(`,"committer":"signed"}`)...)
		return signed, nil
	}

	data := []byte(`{"tree_id":"` + h.repo.EmptyTreeID().String() + `","message":"m"}`)
	_, normalized, err := h.shims.Objects.Write(ctx, tandemtypes.KindCommit, data)
	require.NoError(t, err)
	assert.Contains(t, string(normalized), `"committer":"signed"`)
}

func TestObjectBackendSignerErrorPropagates(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	wantErr := errors.New("signing failed")
	h.shims.Objects.Signer = func(data []byte) ([]byte, error) {
		return nil, wantErr
	}

	_, _, err := h.shims.Objects.Write(ctx, tandemtypes.KindCommit, []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signing failed")
}

func TestObjectBackendReadFileStream(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	id, _, err := h.shims.Objects.Write(ctx, tandemtypes.KindFile, []byte("file contents"))
	require.NoError(t, err)

	rc, err := h.shims.Objects.ReadFileStream(ctx, id)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("file contents"), data)
}

func TestObjectBackendWriteFileStream(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	id, normalized, err := h.shims.Objects.WriteFileStream(ctx, bytes.NewReader([]byte("streamed")))
	require.NoError(t, err)
	assert.Equal(t, []byte("streamed"), normalized)

	got, err := h.shims.Objects.Read(ctx, tandemtypes.KindFile, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("streamed"), got)
}

func TestObjectBackendReadRelatedCopiesUnsupportedWithoutCapability(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	var copyID tandemtypes.Hash
	copyID[0] = 0x01

	_, err := h.shims.Objects.ReadRelatedCopies(ctx, copyID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedFeature), "server does not advertise copy tracking, so the shim must short-circuit locally")
}

func TestTranslateErrorMapsInvalidData(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.shims.Objects.Write(ctx, tandemtypes.ObjectKind("not-a-real-kind"), []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidData))
}
