package bthread

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Greater(t, cfg.WorkerCount, 0, "Validate fills in GOMAXPROCS when WorkerCount is 0")
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RunQueueCapacity = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.NormalStackBytes = cfg.SmallStackBytes
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.WorkerCount = -1
	assert.Error(t, cfg.Validate())
}

func TestLoadConfigOverlaysYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bthread.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker_count: 3\nlog_level: disabled\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.WorkerCount)
	assert.Equal(t, "disabled", cfg.LogLevel)
	assert.Equal(t, DefaultConfig().RunQueueCapacity, cfg.RunQueueCapacity, "fields absent from the file keep their default")
}
