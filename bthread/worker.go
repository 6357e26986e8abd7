package bthread

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// worker is one task group: a long-lived scheduling-loop goroutine, one
// bounded MPMC run-queue it owns as a writer (others may steal-read from
// it), and the steal-probe rotation state used when its own queue runs dry.
type worker struct {
	id  int
	rt  *Runtime
	rq  *runQueue
	ctl *control

	stealSeed   uint64
	stealOffset int

	curTID  TID
	curMeta *taskMeta

	numNoSignal int64 // enqueued via readyToRunNoSignal since last signal flush
	nSignaled   int64 // cumulative tasks this worker has handed a wakeup

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newWorker(id int, rt *Runtime, ctl *control, queueCapacity int) *worker {
	return &worker{
		id:        id,
		rt:        rt,
		rq:        newRunQueue(queueCapacity),
		ctl:       ctl,
		stealSeed: uint64(id)*2654435761 + 1,
		stopCh:    make(chan struct{}),
	}
}

// pushLocal enqueues tid onto this worker's own run queue. While the queue
// is full it logs a warning and retries every millisecond until a slot is
// free, never spilling to an overflow list or a peer's queue.
func (w *worker) pushLocal(tid TID) {
	for !w.rq.tryPush(tid) {
		w.rt.logger.Warnw("run queue full, retrying", "worker", w.id)
		time.Sleep(time.Millisecond)
	}
}

// readyToRun enqueues tid on this worker and wakes a peer if any are idle,
// folding in any wakeups accumulated by readyToRunNoSignal since the last
// flush so they aren't silently dropped.
func (w *worker) readyToRun(tid TID) {
	w.pushLocal(tid)
	n := 1 + w.numNoSignal
	w.numNoSignal = 0
	w.nSignaled += n
	w.ctl.signal(n)
}

// readyToRunNoSignal enqueues tid without publishing a wakeup, used when the
// caller knows a worker (itself) will look at the queue again momentarily
// regardless: the about-to-quit yield path and SpawnUrgent's enqueue onto
// the caller's own worker both take this path so they don't pay for a wakeup
// nobody needs. The exit-handoff successor path pops its own queue directly
// and enqueues nothing.
func (w *worker) readyToRunNoSignal(tid TID) {
	w.pushLocal(tid)
	w.numNoSignal++
}

// nextStealTarget advances this worker's rotation and returns the next peer
// index to probe, wrapping modulo the worker count.
func (w *worker) nextStealTarget(n int) int {
	if w.stealOffset == 0 {
		w.stealOffset = coprimeStride(n, w.stealSeed)
	}
	w.stealSeed += uint64(w.stealOffset)
	return int(w.stealSeed % uint64(n))
}

// steal tries every peer once, starting from this worker's rotating probe
// index, and returns the first TID it manages to pop.
func (w *worker) steal() (TID, bool) {
	n := len(w.ctl.workers)
	if n <= 1 {
		return InvalidTID, false
	}
	start := w.nextStealTarget(n)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if idx == w.id {
			continue
		}
		if tid, ok := w.ctl.workers[idx].rq.tryPop(); ok {
			return tid, true
		}
	}
	return InvalidTID, false
}

// run is the worker's scheduling loop: pop from its own queue, else steal,
// else park on the control plane's wake signal; once it has a TID, run (or
// resume) it to its next suspension point and act on the reason it paused.
func (w *worker) run() {
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		tid, ok := w.rq.tryPop()
		if !ok {
			tid, ok = w.steal()
		}
		if !ok {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			err := w.ctl.waitForSignal(ctx)
			cancel()
			if err != nil {
				continue // timed out with nothing signalled; loop and check stopCh
			}
			tid, ok = w.rq.tryPop()
			if !ok {
				tid, ok = w.steal()
			}
			if !ok {
				continue
			}
		}

		w.runOnce(tid)
	}
}

// runOnce drives a TID from wherever it last paused to its next suspension
// point (or to exit). On exit it loops onto a same-worker successor already
// sitting in its own queue instead of returning to run's steal/park path,
// iteratively rather than recursively so a long run of immediately-exiting
// tasks can't grow the goroutine's call stack.
func (w *worker) runOnce(tid TID) {
	for {
		meta := w.rt.tasks.get(tid.slot())
		if meta == nil {
			return
		}
		if atomic.LoadUint32(&meta.version) != tid.version() {
			// Stale TID: the slot was recycled after this ready entry was
			// queued (e.g. a very late wake racing a Stop-driven exit).
			return
		}

		w.curTID = tid
		w.curMeta = meta
		meta.currentWorker = w

		if !meta.everStarted {
			meta.everStarted = true
			class := meta.attr.Class
			if class == StackPthread {
				runTaskTrampoline(meta, tid)
				w.curTID, w.curMeta = InvalidTID, nil
				next, ok := w.rq.tryPop()
				if !ok {
					return
				}
				tid = next
				continue
			}
			r := w.rt.runners.acquire(class)
			meta.runner = r
			r.assign <- taskInvocation{meta: meta, tid: tid}
		} else {
			meta.stat.ContextSwitches++
			w.rt.metrics.contextSwitches.Inc()
			reason := meta.takePendingReason()
			if w.rt.config.LogContextSwitches {
				w.rt.logger.Debugw("context switch", "tid", tid.String(), "worker", w.id, "reason", reason)
			}
			meta.resumeCh <- reason
		}

		sig := <-meta.pauseCh
		w.curTID, w.curMeta = InvalidTID, nil

		if sig.kind != pauseExited {
			// Yielded, blocked, or sleeping: the task is either already
			// re-enqueued (yield) or will be later, by a wake, timer, or
			// stop path. Return to the main loop to pick up other work.
			return
		}

		w.rt.runners.release(meta.runner)
		meta.runner = nil

		next, ok := w.rq.tryPop()
		if !ok {
			return
		}
		tid = next
	}
}

// label identifies this worker for metrics label values.
func (w *worker) label() string { return fmt.Sprintf("%d", w.id) }

// stop requests the worker's run loop to exit after its current task (if
// any) reaches a suspension point.
func (w *worker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}
