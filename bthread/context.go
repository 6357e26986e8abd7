package bthread

import "time"

// TaskContext is handed to every task's entry function. It is the
// parameter-threaded stand-in for a thread-local current-worker handle: Go
// goroutines have no per-goroutine storage slot to hang that off of without
// reaching for a runtime-internal trick to get at a goroutine's `g` pointer,
// so threading it explicitly through every suspension-point call is the
// idiomatic shape here rather than an awkward one.
type TaskContext struct {
	tid  TID
	meta *taskMeta
	rt   *Runtime
}

// worker returns whichever worker is currently hosting this task's run
// step. It can change between suspension points if the task was stolen, so
// callers must re-fetch it rather than caching it across a parkSelf.
func (ctx *TaskContext) worker() *worker { return ctx.meta.currentWorker }

// TID returns the identifier of the currently running task.
func (ctx *TaskContext) TID() TID { return ctx.tid }

// parkSelf hands control back to ctx.worker's scheduling loop and blocks the
// calling (runner) goroutine in place until some future worker resumes this
// exact task, preserving the call stack in between: the outgoing task keeps
// its stack rather than releasing it, because it expects to run again.
func (ctx *TaskContext) parkSelf(kind pauseKind) resumeReason {
	ctx.meta.pauseCh <- pauseSignal{kind: kind}
	return <-ctx.meta.resumeCh
}

// Yield is the cooperative yield suspension point: the current task
// re-enqueues itself and gives up the worker.
func (ctx *TaskContext) Yield() {
	if ctx.meta.aboutToQuit {
		ctx.worker().readyToRunNoSignal(ctx.tid)
	} else {
		ctx.worker().readyToRun(ctx.tid)
	}
	ctx.parkSelf(pauseYielded)
}

// ButexWait is the cooperative form of Runtime.ButexWait: it is a
// suspension point, so the worker hosting this task is freed to run other
// ready tasks while the wait is outstanding.
func (ctx *TaskContext) ButexWait(cell *uint32, expected uint32, deadline *time.Time) error {
	return ctx.rt.butexWait(ctx, cell, expected, deadline)
}

// USleep suspends the task for d. A zero duration is a plain Yield.
func (ctx *TaskContext) USleep(d time.Duration) error {
	return ctx.rt.usleep(ctx, d)
}

// Join is the cooperative form of Runtime.Join.
func (ctx *TaskContext) Join(target TID) error {
	return ctx.rt.join(ctx, target)
}

// setInterruptible toggles whether Stop on this task cancels its current
// wait; when false, stop requests set the stop flag but do not cancel a
// wait already in progress. Join clears this for the duration of the wait
// it performs.
func (ctx *TaskContext) setInterruptible(v bool) {
	ctx.meta.lock.Lock()
	ctx.meta.interruptible = v
	ctx.meta.lock.Unlock()
}

// Stopped reports whether this task has been asked to stop.
func (ctx *TaskContext) Stopped() bool {
	ctx.meta.lock.Lock()
	defer ctx.meta.lock.Unlock()
	return ctx.meta.stop
}

// SetAboutToQuit marks this task as winding down: a subsequent Yield
// prefers the no-signal enqueue path so a peer worker isn't woken only to
// find the queue already drained again.
func (ctx *TaskContext) SetAboutToQuit(v bool) {
	ctx.meta.aboutToQuit = v
}

// LocalStorage returns this task's key-indexed local storage table,
// creating one on first use from the runtime's key-table pool.
func (ctx *TaskContext) LocalStorage() *keyTable {
	if ctx.meta.localStorage == nil {
		ctx.meta.localStorage = ctx.rt.keyTables.acquire()
	}
	return ctx.meta.localStorage
}
