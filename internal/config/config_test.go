package config_test

import (
	"testing"
	"time"

	"fulfillment-reconciler/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/recon")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Minute, cfg.Jobs.AlertsInterval)
	assert.Equal(t, 5*time.Minute, cfg.Jobs.DeductInterval)
	assert.Equal(t, 100, cfg.Jobs.PageSize)
	assert.Equal(t, 50, cfg.Jobs.MaxPages)
	assert.Equal(t, 72*time.Hour, cfg.Jobs.DeductLookback)
	assert.Equal(t, 48*time.Hour, cfg.Jobs.MergeLookback)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/recon")
	t.Setenv("RECON_PAGE_SIZE", "25")
	t.Setenv("RECON_MAX_PAGES", "bogus") // unparsable values keep the default
	t.Setenv("RECON_DEDUCT_LOOKBACK", "24h")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Jobs.PageSize)
	assert.Equal(t, 50, cfg.Jobs.MaxPages)
	assert.Equal(t, 24*time.Hour, cfg.Jobs.DeductLookback)
}
