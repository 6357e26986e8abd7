package bthread

import "github.com/prometheus/client_golang/prometheus"

// runtimeMetrics is the prometheus surface: counters for lifecycle events
// plus a live-task gauge and gauges sampled from the worker run queues and
// runner pools, exposed
// through client_golang rather than hand-rolled counters.
type runtimeMetrics struct {
	tasksSpawned     prometheus.Counter
	tasksExited      prometheus.Counter
	contextSwitches  prometheus.Counter
	liveTasks        prometheus.GaugeFunc
	runQueueDepth    *prometheus.GaugeVec
	runnerOccupancy  *prometheus.GaugeVec
	registry         *prometheus.Registry
}

func newRuntimeMetrics(rt *Runtime) *runtimeMetrics {
	reg := prometheus.NewRegistry()
	m := &runtimeMetrics{
		tasksSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bthread_tasks_spawned_total",
			Help: "Total number of tasks spawned.",
		}),
		tasksExited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bthread_tasks_exited_total",
			Help: "Total number of tasks that have run to completion.",
		}),
		contextSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bthread_context_switches_total",
			Help: "Total number of cooperative context switches across all workers.",
		}),
		liveTasks: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "bthread_live_tasks",
			Help: "Number of task slots currently occupied.",
		}, func() float64 { return float64(rt.liveTasks.Load()) }),
		runQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bthread_run_queue_depth",
			Help: "Approximate occupied depth of a worker's run queue.",
		}, []string{"worker"}),
		runnerOccupancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bthread_runner_pool_idle",
			Help: "Idle pooled runner goroutines per stack class.",
		}, []string{"class"}),
		registry: reg,
	}
	reg.MustRegister(m.tasksSpawned, m.tasksExited, m.contextSwitches, m.liveTasks, m.runQueueDepth, m.runnerOccupancy)
	return m
}

// Registry exposes the runtime's private prometheus registry for callers
// who want to serve it (e.g. promhttp.HandlerFor) alongside their own
// process-wide registry rather than polluting the global default one.
func (rt *Runtime) Registry() *prometheus.Registry { return rt.metrics.registry }

// sampleGauges refreshes the run-queue-depth and runner-occupancy gauge
// vectors. Runtime calls this from a low-frequency background goroutine
// rather than on every push/pop, since both are already racy best-effort
// numbers (approxLen) and don't need per-operation accuracy.
func (rt *Runtime) sampleGauges() {
	for _, w := range rt.control.workers {
		rt.metrics.runQueueDepth.WithLabelValues(w.label()).Set(float64(w.rq.approxLen()))
	}
	for _, c := range []StackClass{StackSmall, StackNormal, StackLarge} {
		rt.metrics.runnerOccupancy.WithLabelValues(c.String()).Set(float64(rt.runners.occupancy(c)))
	}
}
