package tandemerr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewFormatsMessage(t *testing.T) {
	err := New(NotFound, "object %s missing", "abc123")
	assert.Equal(t, NotFound, err.Code)
	assert.Equal(t, "object abc123 missing", err.Message)
	assert.False(t, err.Retriable)
	assert.Equal(t, "not_found: object abc123 missing", err.Error())
}

func TestNewRetriableSetsFlag(t *testing.T) {
	err := NewRetriable(Internal, "transient failure")
	assert.True(t, err.Retriable)
}

func TestWithDetailChains(t *testing.T) {
	err := New(InvalidData, "bad bytes").
		WithDetail("field", "payload").
		WithDetail("reason", "checksum mismatch")

	assert.Equal(t, "payload", err.Details["field"])
	assert.Equal(t, "checksum mismatch", err.Details["reason"])
}

func TestInvalidIDLengthfDetails(t *testing.T) {
	err := InvalidIDLengthf(32, 16)
	assert.Equal(t, InvalidIDLength, err.Code)
	assert.Equal(t, "32", err.Details["expected_len"])
	assert.Equal(t, "16", err.Details["actual_len"])
}

func TestConvenienceConstructors(t *testing.T) {
	assert.Equal(t, NotFound, NotFoundf("missing").Code)
	assert.Equal(t, InvalidData, InvalidDataf("bad").Code)
	assert.Equal(t, Unsupported, Unsupportedf("no capability").Code)
}
