package bthread

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Runtime is the top-level M:N task scheduler: a resource pool, worker set,
// and control plane bundled into one value. Construct one with New, call
// Start to spin up its workers, and Shutdown to stop them.
type Runtime struct {
	config Config

	tasks   *resourcePool[taskMeta]
	runners *runnerPool
	control *control
	butex   *butexRegistry
	timers  *timerService
	keys    *keyRegistry
	atExit  *atExitStack

	keyTables *keyTablePool
	metrics   *runtimeMetrics
	logger    *zap.SugaredLogger

	liveTasks atomic.Int64

	gaugeStopCh  chan struct{}
	shutdownOnce sync.Once
}

// New builds a Runtime from cfg without starting its workers.
func New(cfg Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		config:  cfg,
		tasks:   newResourcePool[taskMeta](),
		runners: newRunnerPool(cfg.RunnerPoolFreeListCap),
		butex:   newButexRegistry(),
		timers:  newTimerService(),
		keys:    newKeyRegistry(),
		atExit:  newAtExitStack(),
		logger:  logger,
	}
	rt.keyTables = newKeyTablePool(rt, cfg.KeyTablePoolFreeListCap)
	rt.metrics = newRuntimeMetrics(rt)

	ctl := newControl(cfg.WorkerCount)
	ctl.workers = make([]*worker, cfg.WorkerCount)
	for i := range ctl.workers {
		ctl.workers[i] = newWorker(i, rt, ctl, cfg.RunQueueCapacity)
	}
	rt.control = ctl

	return rt, nil
}

// Start launches every worker's scheduling loop and the background gauge
// sampler. It returns immediately; workers run until Shutdown.
func (rt *Runtime) Start() {
	for _, w := range rt.control.workers {
		go w.run()
	}
	if rt.config.MetricsEnabled {
		rt.gaugeStopCh = make(chan struct{})
		go rt.runGaugeSampler()
	}
	rt.logger.Infow("bthread runtime started", "workers", len(rt.control.workers))
}

func (rt *Runtime) runGaugeSampler() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-rt.gaugeStopCh:
			return
		case <-ticker.C:
			rt.sampleGauges()
		}
	}
}

// Shutdown stops every worker after its current task reaches a suspension
// point, stops the timer service, and runs any registered AtExit callbacks
// in LIFO order. It does not wait for in-flight tasks to finish; callers
// that need that should Join them first.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.shutdownOnce.Do(func() {
		for _, w := range rt.control.workers {
			w.stop()
		}
		if rt.gaugeStopCh != nil {
			close(rt.gaugeStopCh)
		}
		rt.timers.stop()
		rt.atExit.runAll()
		rt.logger.Infow("bthread runtime stopped")
	})
	return ctx.Err()
}

// readyToRun and readyToRunNoSignal are the entry points butex wake, timer
// callbacks, and Stop use to re-enqueue a task: none of those callers have
// a worker of their own to push onto, so they go through the control
// plane's round-robin picker instead of a specific worker's own-queue path
// (compare TaskContext.Yield, which has a worker and uses it directly).
func (rt *Runtime) readyToRun(tid TID) {
	rt.control.pickWorker().readyToRun(tid)
}

func (rt *Runtime) readyToRunNoSignal(tid TID) {
	rt.control.pickWorker().readyToRunNoSignal(tid)
}

// ButexWait is the plain blocking form of ButexWait, for callers on a bare
// goroutine rather than a scheduled task (ctx is nil throughout butexWait).
func (rt *Runtime) ButexWait(cell *uint32, expected uint32, deadline *time.Time) error {
	return rt.butexWait(nil, cell, expected, deadline)
}

// LiveTaskCount returns the number of task slots currently occupied.
func (rt *Runtime) LiveTaskCount() int64 { return rt.liveTasks.Load() }
