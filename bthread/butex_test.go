package bthread

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRuntime(t *testing.T, workers int) *Runtime {
	t.Helper()
	cfg := DefaultConfig()
	cfg.WorkerCount = workers
	cfg.LogLevel = "disabled"
	cfg.MetricsEnabled = false
	rt, err := New(cfg)
	require.NoError(t, err)
	rt.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	})
	return rt
}

func TestButexWaitWakeOne(t *testing.T) {
	rt := newTestRuntime(t, 2)
	cell := ButexCreate()
	done := make(chan error, 1)

	go func() {
		done <- rt.ButexWait(cell, 0, nil)
	}()

	time.Sleep(20 * time.Millisecond) // let the waiter publish itself
	select {
	case <-done:
		t.Fatal("waiter should still be blocked before a wake")
	default:
	}

	woken := rt.ButexWakeOne(cell)
	assert.Equal(t, 1, woken)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken within 1s")
	}
}

func TestButexWaitRecheckFailsFast(t *testing.T) {
	rt := newTestRuntime(t, 1)
	cell := ButexCreate()
	atomic.StoreUint32(cell, 1)

	err := rt.ButexWait(cell, 0, nil)
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestButexWaitTimesOut(t *testing.T) {
	rt := newTestRuntime(t, 1)
	cell := ButexCreate()
	deadline := time.Now().Add(30 * time.Millisecond)

	start := time.Now()
	err := rt.ButexWait(cell, 0, &deadline)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrTimedOut)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
}

func TestButexWakeExceptSkipsExcluded(t *testing.T) {
	rt := newTestRuntime(t, 4)
	cell := ButexCreate()

	tid1, err := rt.Spawn(func(ctx *TaskContext, arg any) {
		_ = ctx.ButexWait(cell, 0, nil)
	}, nil, DefaultAttr)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	woken := rt.ButexWakeExcept(cell, tid1)
	assert.Equal(t, 0, woken, "the only waiter is the excluded TID")

	woken = rt.ButexWakeExcept(cell, InvalidTID)
	assert.Equal(t, 1, woken)
	require.NoError(t, rt.Join(tid1))
}
