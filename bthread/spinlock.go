package bthread

import (
	"runtime"
	"sync/atomic"
)

// spinLock is a small CAS-based mutual exclusion lock, used to guard the
// handful of fields on taskMeta (stop, interruptible, pendingReason) that
// must be mutated and observed atomically as a group. It is deliberately
// tiny: the critical sections it guards are a few field writes, never a
// blocking call, so a spin loop beats a sync.Mutex's park/wake overhead,
// the same trade zenq's ring buffer makes in its CAS-retry slot
// acquisition.
type spinLock struct {
	state uint32
}

const (
	spinUnlocked uint32 = 0
	spinLocked   uint32 = 1
)

func (l *spinLock) Lock() {
	iter := 0
	for !atomic.CompareAndSwapUint32(&l.state, spinUnlocked, spinLocked) {
		iter++
		if iter > 64 {
			runtime.Gosched()
			iter = 0
		}
	}
}

func (l *spinLock) Unlock() {
	atomic.StoreUint32(&l.state, spinUnlocked)
}
