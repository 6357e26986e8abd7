package bthread

import "errors"

// Error kinds returned by scheduler operations. Callers should compare with
// errors.Is; the sentinels carry no state beyond their identity.
var (
	// ErrInvalid is returned for argument errors: a nil entry function, a
	// zero or self TID, or a TID whose generation no longer matches the
	// live incarnation occupying its slot.
	ErrInvalid = errors.New("bthread: invalid argument")

	// ErrNoMem is returned by Spawn when Config.MaxOutstandingTasks live
	// task slots are already in use. Runner acquisition never fails: a pool
	// miss starts a new runner goroutine.
	ErrNoMem = errors.New("bthread: resource exhausted")

	// ErrStop is returned from USleep when the calling task has been asked
	// to stop, whether before or during the sleep. Join never returns it,
	// and ButexWait cancelled by Stop returns ErrInterrupted instead.
	ErrStop = errors.New("bthread: stop requested")

	// ErrInterrupted is returned from ButexWait when the wait was
	// cancelled by Stop rather than timing out or a natural wake.
	ErrInterrupted = errors.New("bthread: interrupted")

	// ErrWouldBlock is returned from ButexWait when the cell's value no
	// longer matches the expected value at the recheck.
	ErrWouldBlock = errors.New("bthread: would block")

	// ErrTimedOut is returned from ButexWait when the deadline elapses
	// before a matching wake.
	ErrTimedOut = errors.New("bthread: timed out")
)
