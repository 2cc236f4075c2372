package storeshim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandem-vcs/tandem/internal/rpcwire"
	"github.com/tandem-vcs/tandem/internal/tandemtypes"
)

func TestOpenSucceedsAndPopulatesShims(t *testing.T) {
	h := newTestHarness(t)

	assert.Equal(t, uint32(1), h.shims.RepoInfo.ProtocolMajor)
	assert.Equal(t, ExpectedBackend, h.shims.RepoInfo.BackendName)
	assert.Equal(t, ExpectedOpStore, h.shims.RepoInfo.OpStoreName)
	assert.NotNil(t, h.shims.Objects)
	assert.NotNil(t, h.shims.Ops)
	assert.NotNil(t, h.shims.OpHeads)
}

func TestValidateHandshakeRejectsProtocolMismatch(t *testing.T) {
	info := validHandshakeInfo()
	info.ProtocolMajor = 2
	assert.Error(t, validateHandshake(info))
}

func TestValidateHandshakeRejectsBackendNameMismatch(t *testing.T) {
	info := validHandshakeInfo()
	info.BackendName = "some-other-backend"
	assert.Error(t, validateHandshake(info))
}

func TestValidateHandshakeRejectsOpStoreNameMismatch(t *testing.T) {
	info := validHandshakeInfo()
	info.OpStoreName = "some-other-opstore"
	assert.Error(t, validateHandshake(info))
}

func TestValidateHandshakeRejectsWrongCommitIDLength(t *testing.T) {
	info := validHandshakeInfo()
	info.CommitIDLength = 16
	assert.Error(t, validateHandshake(info))
}

func TestValidateHandshakeAcceptsWellFormedInfo(t *testing.T) {
	assert.NoError(t, validateHandshake(validHandshakeInfo()))
}

func TestOpenFailsWhenContextAlreadyCanceled(t *testing.T) {
	connector := rpcwire.NewPipeConnector()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Open(ctx, connector)
	require.Error(t, err)
}

func validHandshakeInfo() tandemtypes.RepoInfo {
	return tandemtypes.RepoInfo{
		ProtocolMajor:   1,
		CommitIDLength:  tandemtypes.HashSize,
		ChangeIDLength:  tandemtypes.HashSize,
		BackendName:     ExpectedBackend,
		OpStoreName:     ExpectedOpStore,
	}
}
