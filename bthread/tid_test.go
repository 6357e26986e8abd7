package bthread

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTIDRoundTrip(t *testing.T) {
	tid := makeTID(42, 7)
	assert.Equal(t, uint32(42), tid.slot())
	assert.Equal(t, uint32(7), tid.version())
	assert.True(t, tid.Valid())
}

func TestInvalidTID(t *testing.T) {
	assert.False(t, InvalidTID.Valid())
	assert.Equal(t, uint32(0), InvalidTID.slot())
}

func TestNextVersionSkipsZero(t *testing.T) {
	assert.NotEqual(t, uint32(0), nextVersion(0xFFFFFFFF))
	for v := uint32(1); v < 1000; v++ {
		assert.NotEqual(t, uint32(0), nextVersion(v))
	}
}
