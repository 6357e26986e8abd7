package bthread

import "sync/atomic"

// pauseKind distinguishes why a running task handed control back to its
// worker: it mirrors every state a task can be in other than READY (a
// run-queue property rather than a pause reason) and RUNNING.
type pauseKind int

const (
	pauseYielded pauseKind = iota
	pauseBlocked
	pauseSleeping
	pauseExited
)

type pauseSignal struct {
	kind pauseKind
}

// resumeReason tells a parked task why it is being resumed, so ButexWait and
// usleep can translate it into the right sentinel error.
type resumeReason int

const (
	resumeNormal resumeReason = iota
	resumeInterrupted
	resumeTimedOut
	resumeStopped
)

// Attr describes the attributes a task is spawned with: which stack class
// pool to draw a runner from. SizeHint, when set, overrides Class by
// routing the spawn through classFor's byte-threshold mapping instead, so
// callers can express a stack requirement as a byte hint rather than a raw
// enum value.
type Attr struct {
	Class    StackClass
	SizeHint int
}

// DefaultAttr is used when Spawn is called without an explicit Attr.
var DefaultAttr = Attr{Class: StackNormal}

// Stat carries per-task statistics. CPUTimeNanos is the wall-clock time from
// the task's first dispatch to the return of its entry function (time spent
// parked is included); it is recorded only as the task exits. ContextSwitches
// counts resumes after a yield, block, or sleep.
type Stat struct {
	CPUTimeNanos    int64
	ContextSwitches int64
}

// taskMeta is one entry in the task metadata table. A slot's taskMeta is
// not reinitialized automatically on reuse; reset() is called explicitly by
// spawn after acquiring a slot from the resource pool, so that a slot
// carries over no state from whatever previous task last occupied it
// except what reset() explicitly clears.
//
// Fields grouped under the lock (stop, interruptible, pendingReason) must
// only be mutated while holding it, so that one small spinlock serializes
// publication of stop, interruptible, and pending reason with observers.
// aboutToQuit is not lock-guarded: only the task itself sets and reads it.
// version and currentWaiter are the two atomic exceptions,
// documented at their declarations: both are read concurrently by the
// lock-free butex wake path and so use sync/atomic directly instead.
type taskMeta struct {
	fn   func(ctx *TaskContext, arg any)
	arg  any
	attr Attr

	lock spinLock

	// version is also this task's exit butex cell: waking every joiner on
	// exit is ButexWakeExcept directly on it, so unlike the other
	// lock-guarded fields it is always read and written with sync/atomic
	// rather than under lock, to stay consistent with ButexWait's lock-free
	// atomic recheck of the same address.
	version uint32
	stop    bool

	interruptible bool
	aboutToQuit   bool

	// currentWaiter is published with release and read with acquire
	// outside the lock; it is the one field excepted from the lock-only
	// rule because the wake-side fast path (wakeOne/wakeN/wakeExcept
	// scanning a butex bucket) must not take a per-task lock to check it.
	currentWaiter atomic.Pointer[waiter]

	everStarted bool
	runner      *runner

	// currentWorker is the worker currently hosting this task's run step,
	// updated by runOnce immediately before each dispatch or resume. A
	// stolen task's own-queue operations (Yield) must land on whichever
	// worker is running it *now*, not the one that first started it.
	currentWorker *worker

	localStorage *keyTable

	stat Stat

	// Scheduling plumbing: pauseCh carries the outcome of the current run
	// step back to whichever worker is hosting it; resumeCh is signalled
	// by whichever worker (possibly a different one) next resumes this
	// task. Both are sized 1 so send and receive never need to rendezvous
	// precisely.
	pauseCh  chan pauseSignal
	resumeCh chan resumeReason

	// pendingReason is set by whichever path wins claim() on this task's
	// current waiter (wake, timeout, or stop) before the task is pushed
	// onto a run queue; the worker that eventually resumes the task reads
	// and clears it right before sending on resumeCh, so the value is
	// always consumed under the same single-ready-owner discipline the run
	// queue itself guarantees: at most one worker's run queue contains a
	// given ready TID at any time.
	pendingReason resumeReason

	rt *Runtime
}

// exitCell returns the butex cell joiners wait on: this task's own version
// counter. A join's ButexWait(exitCell(), observedVersion, ...) is woken the
// moment exit bumps the version, because the load can no longer equal what
// the joiner observed when it started waiting.
func (m *taskMeta) exitCell() *uint32 { return &m.version }

func (m *taskMeta) setPendingReason(r resumeReason) {
	m.lock.Lock()
	m.pendingReason = r
	m.lock.Unlock()
}

func (m *taskMeta) takePendingReason() resumeReason {
	m.lock.Lock()
	r := m.pendingReason
	m.pendingReason = resumeNormal
	m.lock.Unlock()
	return r
}

func (m *taskMeta) reset(rt *Runtime, fn func(ctx *TaskContext, arg any), arg any, attr Attr) {
	m.rt = rt
	m.fn = fn
	m.arg = arg
	m.attr = attr
	m.stop = false
	m.interruptible = true
	m.aboutToQuit = false
	m.currentWaiter.Store(nil)
	m.everStarted = false
	m.runner = nil
	m.currentWorker = nil
	m.localStorage = nil
	m.stat = Stat{}
	m.pauseCh = make(chan pauseSignal, 1)
	m.resumeCh = make(chan resumeReason, 1)
	if atomic.LoadUint32(&m.version) == 0 {
		// A freshly grown slot starts at the zero value; version must
		// never be zero; (see tid.go's nextVersion) so a TID's packed
		// version field is never confused with InvalidTID's all-zero form.
		atomic.StoreUint32(&m.version, 1)
	}
}
