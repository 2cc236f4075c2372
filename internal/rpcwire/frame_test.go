package rpcwire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	f := Frame{ID: 42, Kind: KindCall, Method: "getObject", Payload: []byte("payload bytes")}

	require.NoError(t, WriteFrame(&buf, f))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestReadFrameMultipleInSequence(t *testing.T) {
	var buf bytes.Buffer
	f1 := Frame{ID: 1, Kind: KindCall, Method: "getHeads"}
	f2 := Frame{ID: 2, Kind: KindReply, Payload: []byte("ok")}

	require.NoError(t, WriteFrame(&buf, f1))
	require.NoError(t, WriteFrame(&buf, f2))

	got1, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, f1, got1)

	got2, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, f2, got2)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})

	_, err := ReadFrame(&buf)
	assert.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	type sample struct {
		Name  string
		Count int
	}
	in := sample{Name: "alice", Count: 7}

	data, err := Encode(in)
	require.NoError(t, err)

	var out sample
	require.NoError(t, Decode(data, &out))
	assert.Equal(t, in, out)
}

func TestFrameKindString(t *testing.T) {
	assert.Equal(t, "call", KindCall.String())
	assert.Equal(t, "reply", KindReply.String())
	assert.Equal(t, "error", KindError.String())
	assert.Equal(t, "notify", KindNotify.String())
	assert.Equal(t, "cancel", KindCancel.String())
	assert.Contains(t, FrameKind(99).String(), "unknown")
}
