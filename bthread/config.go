package bthread

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config collects every tunable of the runtime's external interface.
// Zero-value fields are filled in by DefaultConfig, and LoadConfig lets
// callers override them from a YAML file.
type Config struct {
	// WorkerCount is the number of task-group worker goroutines to run.
	// Zero means runtime.GOMAXPROCS(0).
	WorkerCount int `yaml:"worker_count"`

	// RunQueueCapacity is the bounded run-queue size per worker; must be a
	// power of two (rounded up if not). Queues are bounded and never spill
	// to an overflow list.
	RunQueueCapacity int `yaml:"run_queue_capacity"`

	// MaxOutstandingTasks caps live (unreleased) task slots; zero means
	// unbounded. Spawn returns ErrNoMem once hit.
	MaxOutstandingTasks int `yaml:"max_outstanding_tasks"`

	// SmallStackBytes / NormalStackBytes are the size-hint thresholds
	// classFor uses to route a spawn request to a stack class's runner
	// pool.
	SmallStackBytes  int `yaml:"small_stack_bytes"`
	NormalStackBytes int `yaml:"normal_stack_bytes"`

	// RunnerPoolFreeListCap bounds how many idle runner goroutines each
	// stack class keeps parked.
	RunnerPoolFreeListCap int `yaml:"runner_pool_free_list_cap"`

	// KeyTablePoolFreeListCap bounds the task-local-storage table pool.
	KeyTablePoolFreeListCap int `yaml:"key_table_pool_free_list_cap"`

	// LogLevel is one of "debug", "info", "warn", "error", or "disabled".
	LogLevel string `yaml:"log_level"`

	// MetricsEnabled starts, on Start, the background goroutine that
	// refreshes the run-queue-depth and runner-occupancy gauges. The
	// collectors are always registered, on the runtime's private registry
	// (Runtime.Registry), never on the prometheus default registry.
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// LogTaskLifecycle logs each task's start and finish at debug level.
	LogTaskLifecycle bool `yaml:"log_task_lifecycle"`

	// LogContextSwitches logs each cooperative resume (a task being handed
	// back to a worker after a yield, block, or sleep) at debug level. Noisy
	// under normal load; meant for diagnosing scheduling behavior.
	LogContextSwitches bool `yaml:"log_context_switches"`
}

// DefaultConfig returns the configuration a Runtime uses if none is
// supplied, sized for a small-to-moderate worker count.
func DefaultConfig() Config {
	return Config{
		WorkerCount:             0,
		RunQueueCapacity:        4096,
		MaxOutstandingTasks:     0,
		SmallStackBytes:         8 * 1024,
		NormalStackBytes:        64 * 1024,
		RunnerPoolFreeListCap:   1024,
		KeyTablePoolFreeListCap: 1024,
		LogLevel:                "info",
		MetricsEnabled:          true,
		LogTaskLifecycle:        false,
		LogContextSwitches:      false,
	}
}

// LoadConfig reads a YAML file and overlays it onto DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("bthread: reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("bthread: parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects nonsensical tunables before a Runtime is built from them.
func (c *Config) Validate() error {
	if c.WorkerCount < 0 {
		return fmt.Errorf("bthread: worker_count must be >= 0, got %d", c.WorkerCount)
	}
	if c.RunQueueCapacity <= 0 {
		return fmt.Errorf("bthread: run_queue_capacity must be > 0, got %d", c.RunQueueCapacity)
	}
	if c.SmallStackBytes <= 0 || c.NormalStackBytes <= c.SmallStackBytes {
		return fmt.Errorf("bthread: stack size thresholds must be positive and increasing")
	}
	if c.WorkerCount == 0 {
		c.WorkerCount = runtime.GOMAXPROCS(0)
	}
	return nil
}
