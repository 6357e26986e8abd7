package bthread

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoragePoolReturnsToBaseline(t *testing.T) {
	rt := newTestRuntime(t, 4)
	key := rt.CreateKey(nil)

	const n = 200
	tids := make([]TID, 0, n)
	for i := 0; i < n; i++ {
		i := i
		tid, err := rt.Spawn(func(ctx *TaskContext, arg any) {
			ctx.LocalStorage().Set(key, i)
			assert.Equal(t, i, ctx.LocalStorage().Get(key))
		}, nil, DefaultAttr)
		require.NoError(t, err)
		tids = append(tids, tid)
	}
	for _, tid := range tids {
		require.NoError(t, rt.Join(tid))
	}

	// The pool free list should now hold at most as many tables as were
	// ever concurrently live, never one per task ever spawned. These tasks
	// never park, so at most one per worker is live at a time.
	assert.LessOrEqual(t, rt.keyTables.occupancy(), len(rt.control.workers))
}

func TestKeyDestructorRunsOnOverwriteAndClear(t *testing.T) {
	rt := newTestRuntime(t, 2)
	var destroyed []int
	key := rt.CreateKey(func(v any) { destroyed = append(destroyed, v.(int)) })

	done := make(chan struct{})
	tid, err := rt.Spawn(func(ctx *TaskContext, arg any) {
		ls := ctx.LocalStorage()
		ls.Set(key, 1)
		ls.Set(key, 2) // destructor(1) should run here
		close(done)
	}, nil, DefaultAttr)
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never completed")
	}
	// destructor(2) runs when the exiting task's table is cleared.
	require.NoError(t, rt.Join(tid))

	require.Len(t, destroyed, 2)
	assert.Equal(t, 1, destroyed[0])
	assert.Equal(t, 2, destroyed[1])
}

func TestAtExitRunsLIFOAndHonorsCancel(t *testing.T) {
	rt := newTestRuntime(t, 1)
	var order []int

	rt.AtExit(func() { order = append(order, 1) })
	id2 := rt.AtExit(func() { order = append(order, 2) })
	rt.AtExit(func() { order = append(order, 3) })

	assert.True(t, rt.CancelAtExit(id2))
	assert.False(t, rt.CancelAtExit(id2), "cancel is not idempotent against a second call")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rt.Shutdown(shutdownCtx))

	assert.Equal(t, []int{3, 1}, order)
}
