package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/dispatchrelay/internal/geo"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dispatchrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 30*time.Second, cfg.Realtime.SweepInterval)
	assert.Equal(t, []string{"openrouteservice", "osrm"}, cfg.Routing.Providers)
	assert.Equal(t, geo.DefaultFeeSchedule, cfg.Dispatch.FeeSchedule())
	assert.False(t, cfg.Push.Enabled)
	assert.Len(t, cfg.Push.RetrySchedule, 4)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
realtime:
  sweep_interval: 45s
dispatch:
  fee_tiers:
    - up_to_km: 3
      fee: 20
    - up_to_km: 8
      fee: 40
  fee_beyond: 60
push:
  enabled: true
  gateway_url: http://push.local/send
`)
	t.Setenv("DISPATCHRELAY_AUTH_JWT_SECRET", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Realtime.SweepInterval)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)

	fees := cfg.Dispatch.FeeSchedule()
	assert.Equal(t, 20.0, fees.Fee(3))
	assert.Equal(t, 40.0, fees.Fee(3.5))
	assert.Equal(t, 60.0, fees.Fee(9))
}

func TestLoadRejectsDecreasingFees(t *testing.T) {
	path := writeConfig(t, `
dispatch:
  fee_tiers:
    - up_to_km: 5
      fee: 50
    - up_to_km: 10
      fee: 30
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispatch.fee_tiers")
}

func TestLoadRequiresGatewayWhenPushEnabled(t *testing.T) {
	path := writeConfig(t, `
push:
  enabled: true
`)
	_, err := Load(path)
	require.Error(t, err)
}
