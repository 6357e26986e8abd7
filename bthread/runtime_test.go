package bthread

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnManyTasksJoinAllIncrementCounter(t *testing.T) {
	rt := newTestRuntime(t, 4)

	const n = 10000
	var counter int64
	tids := make([]TID, 0, n)
	for i := 0; i < n; i++ {
		tid, err := rt.Spawn(func(ctx *TaskContext, arg any) {
			atomic.AddInt64(&counter, 1)
		}, nil, DefaultAttr)
		require.NoError(t, err)
		tids = append(tids, tid)
	}

	for _, tid := range tids {
		require.NoError(t, rt.Join(tid))
	}

	assert.Equal(t, int64(n), atomic.LoadInt64(&counter))
	assert.Equal(t, int64(0), rt.LiveTaskCount(), "every task should have released its slot")
}

func TestYieldAllowsPeerProgress(t *testing.T) {
	rt := newTestRuntime(t, 2)

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	var finished int32

	for i := 0; i < 2; i++ {
		i := i
		_, err := rt.Spawn(func(ctx *TaskContext, arg any) {
			ctx.Yield()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if atomic.AddInt32(&finished, 1) == 2 {
				close(done)
			}
		}, nil, DefaultAttr)
		require.NoError(t, err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tasks did not both complete")
	}
	mu.Lock()
	assert.Len(t, order, 2)
	mu.Unlock()
}

func TestUSleepRespectsDuration(t *testing.T) {
	rt := newTestRuntime(t, 2)
	const sleepFor = 40 * time.Millisecond

	done := make(chan time.Duration, 1)
	_, err := rt.Spawn(func(ctx *TaskContext, arg any) {
		start := time.Now()
		_ = ctx.USleep(sleepFor)
		done <- time.Since(start)
	}, nil, DefaultAttr)
	require.NoError(t, err)

	select {
	case elapsed := <-done:
		assert.GreaterOrEqual(t, elapsed, sleepFor-5*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("sleeping task never resumed")
	}
}

func TestStopInterruptsBlockedButexWaitPromptly(t *testing.T) {
	rt := newTestRuntime(t, 2)
	cell := ButexCreate() // nobody will ever wake this cell naturally

	errCh := make(chan error, 1)
	tid, err := rt.Spawn(func(ctx *TaskContext, arg any) {
		errCh <- ctx.ButexWait(cell, 0, nil)
	}, nil, DefaultAttr)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	start := time.Now()
	require.NoError(t, rt.Stop(tid))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrInterrupted)
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("stop did not interrupt the blocked wait")
	}
}

func TestStopInterruptsLongSleepPromptly(t *testing.T) {
	rt := newTestRuntime(t, 2)

	errCh := make(chan error, 1)
	tid, err := rt.Spawn(func(ctx *TaskContext, arg any) {
		errCh <- ctx.USleep(10 * time.Second)
	}, nil, DefaultAttr)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	start := time.Now()
	require.NoError(t, rt.Stop(tid))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStop)
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("stop did not interrupt the sleep within the expected bound")
	}
}

func TestNestedSpawnJoinLeavesNoSlotLeaks(t *testing.T) {
	rt := newTestRuntime(t, 4)

	const outer, inner = 50, 20
	var total int64

	tids := make([]TID, 0, outer)
	for i := 0; i < outer; i++ {
		tid, err := rt.Spawn(func(ctx *TaskContext, arg any) {
			children := make([]TID, 0, inner)
			for j := 0; j < inner; j++ {
				child, err := rt.SpawnUrgent(ctx, func(ctx *TaskContext, arg any) {
					atomic.AddInt64(&total, 1)
				}, nil, DefaultAttr)
				require.NoError(t, err)
				children = append(children, child)
			}
			for _, c := range children {
				require.NoError(t, ctx.Join(c))
			}
		}, nil, DefaultAttr)
		require.NoError(t, err)
		tids = append(tids, tid)
	}

	for _, tid := range tids {
		require.NoError(t, rt.Join(tid))
	}

	assert.Equal(t, int64(outer*inner), atomic.LoadInt64(&total))
	assert.Equal(t, int64(0), rt.LiveTaskCount())
}

func TestExistsReflectsLifecycle(t *testing.T) {
	rt := newTestRuntime(t, 1)
	release := make(chan struct{})
	tid, err := rt.Spawn(func(ctx *TaskContext, arg any) {
		<-release
	}, nil, DefaultAttr)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	assert.True(t, rt.Exists(tid))

	close(release)
	require.NoError(t, rt.Join(tid))
	assert.False(t, rt.Exists(tid))
}
