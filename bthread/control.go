package bthread

import (
	"context"
	"math/rand"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// control is the control plane: it owns the worker set, the wake-signal
// semaphore idle workers park on, and the rotation used to pick a peer to
// steal from, or, for callers with no worker of their own (the wake and
// timer paths), to push a woken task onto.
//
// The wake-signal semaphore is golang.org/x/sync/semaphore.Weighted rather
// than a hand-rolled counting semaphore: semaphore.Weighted already gives
// exactly the "publish N wakeups, idle workers each acquire one and go look
// for work" shape a coalesced-wakeup design needs.
type control struct {
	workers []*worker
	wakeSem *semaphore.Weighted

	rrCounter uint64 // round-robin cursor for non-worker callers (wake/timer paths)
}

func newControl(workerCount int) *control {
	return &control{
		// A generous weight: the semaphore here only ever coalesces
		// "there might be work" signals, never guards a real resource
		// count, so it cannot meaningfully overflow in practice.
		wakeSem: semaphore.NewWeighted(1 << 30),
	}
}

// signal publishes n wakeups for idle workers parked in waitForSignal.
func (c *control) signal(n int64) {
	if n <= 0 {
		return
	}
	c.wakeSem.Release(n)
}

// waitForSignal parks the calling (idle) worker until a wakeup is
// available, or ctx is cancelled (used for shutdown).
func (c *control) waitForSignal(ctx context.Context) error {
	return c.wakeSem.Acquire(ctx, 1)
}

// pickWorker returns a worker for a caller with no worker affinity of its
// own (a wake or timer callback), round-robin across the pool. This mirrors
// brpc's TaskControl::choose_one_group fallback for non-bthread callers.
func (c *control) pickWorker() *worker {
	n := uint64(len(c.workers))
	i := atomic.AddUint64(&c.rrCounter, 1) - 1
	return c.workers[i%n]
}

// coprimeStride returns a stride in [1, n) that is coprime with n, derived
// from seed, for use as a worker's randomized rotating steal probe order
// among its peers. Walking peer index by a coprime stride visits every
// other worker exactly once before repeating, avoiding the bias a purely
// random permutation-per-call would cost.
func coprimeStride(n int, seed uint64) int {
	if n <= 1 {
		return 1
	}
	r := rand.New(rand.NewSource(int64(seed)))
	for {
		s := 1 + r.Intn(n-1)
		if gcd(s, n) == 1 {
			return s
		}
	}
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
