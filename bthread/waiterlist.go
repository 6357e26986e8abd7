package bthread

import "sync/atomic"

// waiterNode is one link in a lock-free Michael & Scott queue of butex
// waiters. The algorithm (and the choice to keep a dummy head node so
// Enqueue/Dequeue never special-case the empty list) is lifted directly from
// zenq's list.go, generalized from unsafe.Pointer payloads to a typed
// *waiter payload via atomic.Pointer.
//
// theory: https://www.cs.rochester.edu/u/scott/papers/1996_PODC_queues.pdf
type waiterNode struct {
	next  atomic.Pointer[waiterNode]
	value *waiter
}

// waiterQueue is an unbounded MPMC lock-free queue of *waiter records,
// backing each butex sidecar bucket's short list of waiter records.
type waiterQueue struct {
	head atomic.Pointer[waiterNode]
	tail atomic.Pointer[waiterNode]
}

func newWaiterQueue() *waiterQueue {
	dummy := &waiterNode{}
	q := &waiterQueue{}
	q.head.Store(dummy)
	q.tail.Store(dummy)
	return q
}

func (q *waiterQueue) enqueue(v *waiter) {
	n := &waiterNode{value: v}
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if tail == q.tail.Load() {
			if next == nil {
				if tail.next.CompareAndSwap(next, n) {
					q.tail.CompareAndSwap(tail, n)
					return
				}
			} else {
				q.tail.CompareAndSwap(tail, next)
			}
		}
	}
}

// dequeue removes and returns the value at the head of the queue, or nil if
// the queue is empty.
func (q *waiterQueue) dequeue() *waiter {
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()
		if head == q.head.Load() {
			if head == tail {
				if next == nil {
					return nil
				}
				q.tail.CompareAndSwap(tail, next)
			} else {
				v := next.value
				if q.head.CompareAndSwap(head, next) {
					return v
				}
			}
		}
	}
}

// removeMatching scans the queue and removes up to n entries for which match
// returns true, and returns them in queue order. It is used by wakeN/wakeExcept,
// which must selectively detach specific waiters rather than just draining
// FIFO. Because the underlying structure is a singly linked queue without
// O(1) arbitrary removal, this rebuilds the queue by re-enqueuing the
// entries that don't match; callers only take this path while waking
// (comparatively rare next to wait/wake-one), so the extra allocation is an
// acceptable trade against a doubly linked list's CAS complexity.
func (q *waiterQueue) removeMatching(n int, match func(*waiter) bool) []*waiter {
	var removed []*waiter
	var kept []*waiter
	for {
		v := q.dequeue()
		if v == nil {
			break
		}
		if (n < 0 || len(removed) < n) && match(v) {
			removed = append(removed, v)
		} else {
			kept = append(kept, v)
		}
	}
	for _, v := range kept {
		q.enqueue(v)
	}
	return removed
}
