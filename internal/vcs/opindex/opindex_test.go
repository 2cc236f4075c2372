package opindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandem-vcs/tandem/internal/tandemtypes"
)

func mustHash(b byte) tandemtypes.Hash {
	var h tandemtypes.Hash
	h[0] = b
	return h
}

func TestResolveNoMatch(t *testing.T) {
	idx, err := Open(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	resolution, _, err := idx.Resolve("ab")
	require.NoError(t, err)
	assert.Equal(t, tandemtypes.ResolutionNoMatch, resolution)
}

func TestResolveSingleMatch(t *testing.T) {
	idx, err := Open(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	h := mustHash(0xab)
	require.NoError(t, idx.Add(h))

	resolution, match, err := idx.Resolve(h.String()[:4])
	require.NoError(t, err)
	assert.Equal(t, tandemtypes.ResolutionSingleMatch, resolution)
	assert.Equal(t, h, match)
}

func TestResolveAmbiguous(t *testing.T) {
	idx, err := Open(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	var h1, h2 tandemtypes.Hash
	h1[0], h1[1] = 0xab, 0x01
	h2[0], h2[1] = 0xab, 0x02
	require.NoError(t, idx.Add(h1))
	require.NoError(t, idx.Add(h2))

	resolution, _, err := idx.Resolve("ab")
	require.NoError(t, err)
	assert.Equal(t, tandemtypes.ResolutionAmbiguous, resolution)
}

func TestAddIsIdempotent(t *testing.T) {
	idx, err := Open(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	h := mustHash(0xcd)
	require.NoError(t, idx.Add(h))
	require.NoError(t, idx.Add(h))

	resolution, match, err := idx.Resolve(h.String())
	require.NoError(t, err)
	assert.Equal(t, tandemtypes.ResolutionSingleMatch, resolution)
	assert.Equal(t, h, match)
}

func TestResolveOddLengthPrefix(t *testing.T) {
	idx, err := Open(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	h := mustHash(0xab)
	require.NoError(t, idx.Add(h))

	resolution, match, err := idx.Resolve(h.String()[:3])
	require.NoError(t, err)
	assert.Equal(t, tandemtypes.ResolutionSingleMatch, resolution)
	assert.Equal(t, h, match)
}

func TestResolveInvalidHexYieldsNoMatch(t *testing.T) {
	idx, err := Open(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	resolution, _, err := idx.Resolve("zzzz")
	require.NoError(t, err)
	assert.Equal(t, tandemtypes.ResolutionNoMatch, resolution)
}
