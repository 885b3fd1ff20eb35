package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, 5334, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Queue.Driver)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, "5s", cfg.Queue.BaseDelay)
	assert.Equal(t, []string{"log"}, cfg.Events.Drivers)
	assert.Len(t, cfg.Worker.Platforms, 6)
	assert.Equal(t, 4, cfg.Worker.Platforms["facebook"].Concurrency)
	require.NoError(t, cfg.Validate())
}

func TestApplyDefaults_KeepsPoolOverrides(t *testing.T) {
	cfg := &Config{Worker: WorkerConfig{Platforms: map[string]PoolConfig{
		"x": {Concurrency: 7},
	}}}
	ApplyDefaults(cfg)

	assert.Equal(t, 7, cfg.Worker.Platforms["x"].Concurrency)
	assert.Equal(t, 0.5, cfg.Worker.Platforms["x"].RatePerSecond)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Queue.Driver = "redis"
	assert.Error(t, cfg.Validate())

	cfg = &Config{}
	ApplyDefaults(cfg)
	cfg.Queue.BaseDelay = "soon"
	assert.Error(t, cfg.Validate())

	cfg = &Config{}
	ApplyDefaults(cfg)
	cfg.Events.Drivers = []string{"kafka"}
	assert.Error(t, cfg.Validate())
}

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	content := []byte(`
server:
  port: 8080
  mode: release
queue:
  driver: memory
  base_delay: 2s
worker:
  platforms:
    tiktok:
      concurrency: 1
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.Equal(t, 1, cfg.Worker.Platforms["tiktok"].Concurrency)
	assert.Equal(t, 2*time.Second, Duration(cfg.Queue.BaseDelay, time.Second))
}

func TestDuration_Fallback(t *testing.T) {
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("-5s", time.Minute))
	assert.Equal(t, 3*time.Second, Duration("3s", time.Minute))
}
