package bthread

import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

// waiter is one publication record for a blocked ButexWait call. Exactly one
// of three paths (a natural wake via wakeOne/wakeN/wakeExcept, a timer
// firing, or Runtime.Stop) is allowed to actually complete
// it, by atomically exchanging the waiter's owning reference to nil and
// handing ownership to whichever caller won the exchange: for a task-bound
// waiter the exchange is on taskMeta.currentWaiter itself; for a waiter with
// no owning task (a bare goroutine's ButexWait or Join, which Stop cannot
// target since it has no TID) the exchange is a local flag instead.
type waiter struct {
	tid  TID
	meta *taskMeta // nil for non-task (external goroutine) waiters
	cell *uint32

	// isSleep marks a waiter parked through usleep's private-cell wait
	// rather than a real ButexWait, so Stop can report ErrStop for a
	// cancelled sleep instead of the ErrInterrupted a cancelled wait gets.
	isSleep bool

	// resumeCh is where the winning path deposits the outcome. For a
	// task-bound waiter this is NOT sent directly (see butex wake docs
	// below); for a non-task waiter it is the channel the caller's plain
	// goroutine is blocked receiving from.
	resumeCh chan resumeReason

	claimedFlag boolFlag
	timer       *timerHandle
}

// claim grants exactly one caller ownership of completing this waiter.
func (w *waiter) claim() bool {
	if w.meta != nil {
		return w.meta.currentWaiter.CompareAndSwap(w, nil)
	}
	return w.claimedFlag.set()
}

// boolFlag is a tiny CAS-once flag, used where sync/atomic.Bool's zero value
// semantics are all that's needed.
type boolFlag struct{ v uint32 }

func (f *boolFlag) set() bool { return atomic.CompareAndSwapUint32(&f.v, 0, 1) }

// butexRegistry is the sidecar hash table of waiter records: a set of
// buckets keyed by the watched cell's address, each bucket holding the
// waiter records currently parked on that cell. It is striped by address
// hash into a fixed shard count instead of a single global map, to keep
// independent cells from contending on the same lock during bucket lookup.
type butexRegistry struct {
	shards [butexShardCount]butexShard
}

const butexShardCount = 64

type butexShard struct {
	mu      sync.Mutex
	buckets map[uintptr]*waiterQueue
}

func newButexRegistry() *butexRegistry {
	r := &butexRegistry{}
	for i := range r.shards {
		r.shards[i].buckets = make(map[uintptr]*waiterQueue)
	}
	return r
}

func (r *butexRegistry) shardFor(addr uintptr) *butexShard {
	// A cheap multiplicative mix; addresses are at least word-aligned so
	// the low bits alone would skew distribution across shards.
	h := (addr ^ (addr >> 17)) * 2654435761
	return &r.shards[h%butexShardCount]
}

func (r *butexRegistry) bucket(cell *uint32) *waiterQueue {
	addr := uintptr(unsafe.Pointer(cell))
	shard := r.shardFor(addr)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	b, ok := shard.buckets[addr]
	if !ok {
		b = newWaiterQueue()
		shard.buckets[addr] = b
	}
	return b
}

// ButexCreate allocates a new waitable 32-bit cell (this implementation
// only supports the 32-bit word form; callers needing a payload store it
// alongside the cell and compare-and-swap the cell itself as a version).
func ButexCreate() *uint32 {
	return new(uint32)
}

// butexWait is the shared implementation behind TaskContext.ButexWait (a
// cooperative suspension point) and Runtime.ButexWait (a plain blocking call
// for goroutines outside the scheduler). ctx is nil for the latter.
func (rt *Runtime) butexWait(ctx *TaskContext, cell *uint32, expected uint32, deadline *time.Time) error {
	return rt.butexWaitKind(ctx, cell, expected, deadline, false)
}

func (rt *Runtime) butexWaitKind(ctx *TaskContext, cell *uint32, expected uint32, deadline *time.Time, isSleep bool) error {
	w := &waiter{cell: cell, isSleep: isSleep}
	if ctx != nil {
		w.tid = ctx.tid
		w.meta = ctx.meta
		w.resumeCh = ctx.meta.resumeCh
	} else {
		w.resumeCh = make(chan resumeReason, 1)
	}

	bucket := rt.butex.bucket(cell)

	if ctx != nil {
		ctx.meta.currentWaiter.Store(w)
	}
	bucket.enqueue(w)

	if atomic.LoadUint32(cell) != expected {
		// Recheck failed: the cell changed between the caller's load and
		// our publication. Reclaim ownership before anyone else can act
		// on this waiter, then unpublish.
		if w.claim() {
			bucket.removeMatching(1, func(x *waiter) bool { return x == w })
		}
		if ctx != nil {
			ctx.meta.currentWaiter.CompareAndSwap(w, nil)
		}
		return ErrWouldBlock
	}

	if deadline != nil {
		d := time.Until(*deadline)
		if d < 0 {
			d = 0
		}
		w.timer = rt.timers.schedule(d, func() {
			if w.claim() {
				bucket.removeMatching(1, func(x *waiter) bool { return x == w })
				rt.completeWaiter(w, resumeTimedOut)
			}
		})
	}

	var reason resumeReason
	if ctx != nil {
		reason = ctx.parkSelf(pauseBlocked)
	} else {
		reason = <-w.resumeCh
	}

	if w.timer != nil && reason != resumeTimedOut {
		rt.timers.cancel(w.timer)
	}

	switch reason {
	case resumeInterrupted:
		return ErrInterrupted
	case resumeStopped:
		return ErrStop
	case resumeTimedOut:
		return ErrTimedOut
	default:
		return nil
	}
}

// completeWaiter is invoked by whichever path won claim() for w: it hands
// the task back to the scheduler (for a task-bound waiter) or wakes the
// plain goroutine directly (for a non-task waiter).
func (rt *Runtime) completeWaiter(w *waiter, reason resumeReason) {
	if w.meta != nil {
		w.meta.setPendingReason(reason)
		rt.readyToRun(w.tid)
		return
	}
	w.resumeCh <- reason
}

func (rt *Runtime) wakeMatching(cell *uint32, n int, exclude TID) int {
	bucket := rt.butex.bucket(cell)
	candidates := bucket.removeMatching(-1, func(w *waiter) bool {
		return exclude == InvalidTID || w.tid != exclude
	})
	woken := 0
	for _, w := range candidates {
		if n >= 0 && woken >= n {
			// Past quota: put it back so a later wake call can find it.
			bucket.enqueue(w)
			continue
		}
		if !w.claim() {
			// Already consumed by a timeout or Stop race; nothing to do.
			continue
		}
		if w.timer != nil {
			rt.timers.cancel(w.timer)
		}
		rt.completeWaiter(w, resumeNormal)
		woken++
	}
	return woken
}

// ButexWakeOne wakes at most one waiter on cell.
func (rt *Runtime) ButexWakeOne(cell *uint32) int { return rt.wakeMatching(cell, 1, InvalidTID) }

// ButexWakeN wakes at most n waiters on cell.
func (rt *Runtime) ButexWakeN(cell *uint32, n int) int { return rt.wakeMatching(cell, n, InvalidTID) }

// ButexWakeExcept wakes all waiters on cell except the one belonging to
// exclude, used by task exit to wake every joiner (join installs its own
// waiter with tid == the joiner, never the exiting task itself, but
// the trampoline passes InvalidTID as exclude precisely because the exiting
// task is never itself a waiter on its own version).
func (rt *Runtime) ButexWakeExcept(cell *uint32, exclude TID) int {
	return rt.wakeMatching(cell, -1, exclude)
}
