package bthread

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Spawn schedules fn to run as a new task but does not guarantee it has
// started by the time Spawn returns.
func (rt *Runtime) Spawn(fn func(ctx *TaskContext, arg any), arg any, attr Attr) (TID, error) {
	return rt.spawn(fn, arg, attr, nil)
}

// SpawnUrgent schedules fn's first incarnation with the no-signal path and
// then has the caller itself yield once, giving the new task a head start
// on the current worker before the caller resumes: the closest Go
// equivalent to switching to the new task immediately, without an actual
// context-switch primitive. Callers outside a task (ctx == nil) fall back
// to the same scheduling as Spawn, since there is no current worker to hand
// off from.
func (rt *Runtime) SpawnUrgent(ctx *TaskContext, fn func(ctx *TaskContext, arg any), arg any, attr Attr) (TID, error) {
	var urgentOn *worker
	if ctx != nil {
		urgentOn = ctx.worker()
	}
	tid, err := rt.spawn(fn, arg, attr, urgentOn)
	if err != nil {
		return InvalidTID, err
	}
	if ctx != nil {
		ctx.Yield()
	}
	return tid, nil
}

// spawn enqueues the new task on urgentOn without a wakeup when urgentOn is
// non-nil, and otherwise on a round-robin worker with a wakeup.
func (rt *Runtime) spawn(fn func(ctx *TaskContext, arg any), arg any, attr Attr, urgentOn *worker) (TID, error) {
	if fn == nil {
		return InvalidTID, ErrInvalid
	}
	if rt.config.MaxOutstandingTasks > 0 && rt.tasks.liveCount() >= rt.config.MaxOutstandingTasks {
		return InvalidTID, ErrNoMem
	}

	if attr.SizeHint > 0 {
		attr.Class = classFor(attr.SizeHint, &rt.config)
	}

	idx, meta := rt.tasks.acquire()
	meta.reset(rt, fn, arg, attr)
	tid := makeTID(idx, atomic.LoadUint32(&meta.version))

	rt.metrics.tasksSpawned.Inc()
	rt.liveTasks.Add(1)

	if urgentOn != nil {
		urgentOn.readyToRunNoSignal(tid)
	} else {
		rt.control.pickWorker().readyToRun(tid)
	}
	return tid, nil
}

// runTaskTrampoline is the body every task actually executes inside its
// runner goroutine: call fn, then unwind through key-table release, version
// bump, joiner wake, and slot release.
func runTaskTrampoline(meta *taskMeta, tid TID) {
	rt := meta.rt
	ctx := &TaskContext{tid: tid, meta: meta, rt: rt}

	if rt.config.LogTaskLifecycle {
		rt.logger.Debugw("task starting", "tid", tid.String())
	}

	start := time.Now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				rt.logger.Errorw("task panicked, treating as exit", "tid", tid.String(), "panic", fmt.Sprint(r))
			}
		}()
		meta.fn(ctx, meta.arg)
	}()
	meta.stat.CPUTimeNanos = time.Since(start).Nanoseconds()

	if rt.config.LogTaskLifecycle {
		rt.logger.Debugw("task finished", "tid", tid.String(), "cpu_time_ns", meta.stat.CPUTimeNanos)
	}

	// Exit unwind: release task-local storage, bump the version so the slot
	// can be safely reused and so Join's wait on &version observes the
	// change, wake every joiner, then release the slot back to the pool.
	if meta.localStorage != nil {
		rt.keyTables.release(meta.localStorage)
		meta.localStorage = nil
	}

	for {
		old := atomic.LoadUint32(&meta.version)
		if atomic.CompareAndSwapUint32(&meta.version, old, nextVersion(old)) {
			break
		}
	}

	rt.ButexWakeExcept(meta.exitCell(), InvalidTID)

	rt.liveTasks.Add(-1)
	rt.metrics.tasksExited.Inc()
	rt.tasks.release(tid.slot())

	meta.pauseCh <- pauseSignal{kind: pauseExited}
}

// join is the shared implementation behind TaskContext.Join (cooperative)
// and Runtime.Join (plain blocking call). It waits on the target's exit
// cell until the target's version no longer matches the one observed when
// the join started: joining is just a butex wait on the exiting task's
// version counter, there is no separate join mechanism.
func (rt *Runtime) join(ctx *TaskContext, target TID) error {
	if target == InvalidTID {
		return ErrInvalid
	}
	if ctx != nil && ctx.tid == target {
		// Joining self would wait forever: the task can never reach its own
		// exit while it's the one blocked here.
		return ErrInvalid
	}
	meta := rt.tasks.get(target.slot())
	if meta == nil {
		return ErrInvalid // no task has ever used this slot
	}
	if atomic.LoadUint32(&meta.version) != target.version() {
		return nil // already exited (and possibly recycled)
	}

	// Join is not interruptible by Stop on the joiner: it clears
	// interruptible for the duration of its own wait. It is still woken by
	// the exit itself, since that's a normal wake, not a stop-driven
	// interrupt.
	if ctx != nil {
		ctx.setInterruptible(false)
		defer ctx.setInterruptible(true)
	}

	for {
		observed := atomic.LoadUint32(&meta.version)
		if observed != target.version() {
			return nil
		}
		err := rt.butexWait(ctx, meta.exitCell(), observed, nil)
		if err != nil && err != ErrWouldBlock {
			return err
		}
		if atomic.LoadUint32(&meta.version) != target.version() {
			return nil
		}
	}
}

// Join blocks the calling goroutine (which need not itself be a task) until
// target has exited.
func (rt *Runtime) Join(target TID) error { return rt.join(nil, target) }

// Exists reports whether tid still identifies a live task.
func (rt *Runtime) Exists(tid TID) bool {
	meta := rt.tasks.get(tid.slot())
	if meta == nil {
		return false
	}
	return atomic.LoadUint32(&meta.version) == tid.version()
}

// GetAttr returns the Attr a live task was spawned with.
func (rt *Runtime) GetAttr(tid TID) (Attr, bool) {
	meta := rt.tasks.get(tid.slot())
	if meta == nil || atomic.LoadUint32(&meta.version) != tid.version() {
		return Attr{}, false
	}
	return meta.attr, true
}

// Stat returns the statistics of a live task identified by tid. Because
// CPUTimeNanos is recorded only as the task exits, after which tid no longer
// identifies a live task, the returned CPUTimeNanos is always zero.
func (rt *Runtime) Stat(tid TID) (Stat, bool) {
	meta := rt.tasks.get(tid.slot())
	if meta == nil || atomic.LoadUint32(&meta.version) != tid.version() {
		return Stat{}, false
	}
	return meta.stat, true
}

// Stop sets the target's stop flag, and if the task is interruptible and
// currently parked on a butex wait, wins claim() on that wait itself to
// deliver it an immediate wakeup instead of a natural wake or timeout: a
// cancelled usleep reports ErrStop, a cancelled ButexWait reports
// ErrInterrupted.
func (rt *Runtime) Stop(tid TID) error {
	meta := rt.tasks.get(tid.slot())
	if meta == nil {
		return ErrInvalid
	}

	meta.lock.Lock()
	if atomic.LoadUint32(&meta.version) != tid.version() {
		meta.lock.Unlock()
		return ErrInvalid
	}
	meta.stop = true
	interruptible := meta.interruptible
	meta.lock.Unlock()

	if !interruptible {
		return nil
	}

	// Both a blocked ButexWait and a sleeping usleep are represented as a
	// published currentWaiter, since cooperative sleep is itself a butex
	// wait on a private cell with only a timer able to wake it naturally,
	// so this one path covers both.
	if w := meta.currentWaiter.Load(); w != nil && w.tid == tid {
		if w.claim() {
			if w.timer != nil {
				rt.timers.cancel(w.timer)
			}
			bucket := rt.butex.bucket(w.cell)
			bucket.removeMatching(1, func(x *waiter) bool { return x == w })
			reason := resumeInterrupted
			if w.isSleep {
				reason = resumeStopped
			}
			rt.completeWaiter(w, reason)
		}
	}
	return nil
}
