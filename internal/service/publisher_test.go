package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/ripplecast/internal/config"
	"github.com/ifuryst/ripplecast/internal/models"
)

func TestNewProviderRegistry_EnabledPlatformsOnly(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Providers.Instagram.Enabled = true
	cfg.Providers.Pinterest.Enabled = true
	cfg.Providers.CallTimeout = "30s"

	deps := ProviderDeps(cfg, nil, zap.NewNop())
	assert.Equal(t, 30*time.Second, deps.CallTimeout)
	assert.Equal(t, 5*time.Minute, deps.HTTP.Timeout)
	assert.Equal(t, time.Hour, deps.MediaTTL)

	registry, err := NewProviderRegistry(cfg, deps, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []models.Platform{models.PlatformInstagram, models.PlatformPinterest}, registry.Platforms())

	_, err = registry.Get(models.PlatformX)
	assert.Error(t, err)
}
