package bthread

import "time"

// usleep is cooperative sleep: a task that sleeps gives up its worker
// rather than blocking a thread. It is built directly on butexWait with a
// private cell nobody else ever references, so it inherits, for free, the
// exact same single-owner wake/timeout/stop race resolution butex waits
// already get: a sleeping task's currentWaiter is published exactly like a
// blocked one, which is what lets Stop interrupt a sleep through the very
// same path it interrupts a wait.
func (rt *Runtime) usleep(ctx *TaskContext, d time.Duration) error {
	if d <= 0 {
		if ctx != nil {
			ctx.Yield()
		}
		return nil
	}
	if ctx != nil && ctx.Stopped() {
		return ErrStop
	}
	cell := new(uint32)
	deadline := time.Now().Add(d)

	err := rt.butexWaitKind(ctx, cell, 0, &deadline, true)
	if err == ErrTimedOut {
		// A full sleep is the expected, successful outcome, not an error,
		// unless a stop request arrived before Stop could cancel the wait.
		if ctx != nil && ctx.Stopped() {
			return ErrStop
		}
		return nil
	}
	return err
}
