package bthread

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourcePoolAcquireReleaseReuse(t *testing.T) {
	p := newResourcePool[int]()

	idx1, v1 := p.acquire()
	*v1 = 11
	idx2, v2 := p.acquire()
	*v2 = 22
	assert.NotEqual(t, idx1, idx2)
	assert.Equal(t, 2, p.liveCount())

	p.release(idx1)
	assert.Equal(t, 1, p.liveCount())

	idx3, v3 := p.acquire()
	assert.Equal(t, idx1, idx3, "released slot should be reused before growing")
	assert.Equal(t, 11, *v3, "pool does not reinitialize slots on reuse")
}

func TestResourcePoolGrowsAcrossBlocks(t *testing.T) {
	p := newResourcePool[int]()
	indices := make(map[uint32]bool)
	for i := 0; i < slotBlockSize+10; i++ {
		idx, v := p.acquire()
		*v = i
		require.False(t, indices[idx], "acquire must never hand out a live index twice")
		indices[idx] = true
	}
	assert.Equal(t, slotBlockSize+10, p.liveCount())
	assert.GreaterOrEqual(t, p.capacity(), slotBlockSize+10)
}

func TestResourcePoolGetDoesNotMutateLiveCount(t *testing.T) {
	p := newResourcePool[int]()
	idx, v := p.acquire()
	*v = 5
	got := p.get(idx)
	assert.Equal(t, 5, *got)
	assert.Equal(t, 1, p.liveCount())
	assert.Nil(t, p.get(idx+1000))
}
