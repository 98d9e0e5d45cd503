package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.False(t, cfg.Debug)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "perp.db", cfg.DBDSN)
	assert.Equal(t, 5*time.Second, cfg.LiquidationInterval)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "host=localhost user=perp dbname=perp")
	t.Setenv("DEBUG", "true")
	t.Setenv("LIQUIDATION_INTERVAL", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 250*time.Millisecond, cfg.LiquidationInterval)
}

func TestLoadRejectsBadValues(t *testing.T) {
	clearEnv(t)

	t.Setenv("DB_DRIVER", "mysql")
	_, err := Load()
	assert.Error(t, err)
	t.Setenv("DB_DRIVER", "sqlite")

	t.Setenv("DEBUG", "maybe")
	_, err = Load()
	assert.Error(t, err)
	t.Setenv("DEBUG", "")

	t.Setenv("LIQUIDATION_INTERVAL", "-1s")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("LIQUIDATION_INTERVAL", "soon")
	_, err = Load()
	assert.Error(t, err)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PORT", "ENV", "DEBUG", "DB_DRIVER", "DB_DSN", "JWT_SECRET", "LIQUIDATION_INTERVAL"} {
		t.Setenv(key, "")
	}
}
