package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomeamm/market-engine/internal/fees"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Database.URL)
	assert.Equal(t, 10_000, cfg.Idempotency.CacheSize)
	assert.Equal(t, 30*24*time.Hour, cfg.Engine.FeeVolumeWindow)

	schedule, err := cfg.FeeSchedule()
	require.NoError(t, err)
	def := fees.DefaultSchedule()
	assert.Equal(t, def.BaseFeeBps, schedule.BaseFeeBps)
	assert.Equal(t, def.MakerFeeBps, schedule.MakerFeeBps)
	require.Len(t, schedule.Tiers, len(def.Tiers))
	for i := range def.Tiers {
		assert.True(t, def.Tiers[i].MinVolume.Equal(schedule.Tiers[i].MinVolume))
		assert.Equal(t, def.Tiers[i].RebateBps, schedule.Tiers[i].RebateBps)
	}

	limiter, err := cfg.PositionLimiter()
	require.NoError(t, err)
	assert.Nil(t, limiter, "limits are off by default")

	pc, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, pc.Rewards.Vesting)
	assert.Equal(t, 100, pc.TradeLogCapacity)
	assert.True(t, pc.ProbeNotional.Equal(decimal.NewFromInt(1)))
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeFile(t, "engine.yaml", `
server:
  port: 9090
log:
  level: debug
engine:
  base_fee_bps: 50
  maker_fee_bps: 10
  fee_tiers:
    - min_volume: "5000"
      rebate_bps: 10
  trade_log_capacity: 20
  reward_vesting: 48h
  fee_volume_window: 168h
limits:
  max_per_market: "1000"
`)
	t.Setenv("AMM_SERVER_PORT", "9191")
	t.Setenv("AMM_LIMITS_MAX_PER_EVENT", "2500")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port, "env wins over file")
	assert.Equal(t, "debug", cfg.Log.Level)

	schedule, err := cfg.FeeSchedule()
	require.NoError(t, err)
	assert.Equal(t, int64(50), schedule.BaseFeeBps)
	require.Len(t, schedule.Tiers, 1)
	assert.True(t, schedule.Tiers[0].MinVolume.Equal(decimal.NewFromInt(5000)))

	pc, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, 20, pc.TradeLogCapacity)
	assert.Equal(t, 48*time.Hour, pc.Rewards.Vesting)
	assert.Equal(t, 7*24*time.Hour, cfg.Engine.FeeVolumeWindow)

	limiter, err := cfg.PositionLimiter()
	require.NoError(t, err)
	require.NotNil(t, limiter)
	assert.True(t, limiter.MaxPerMarket.Equal(decimal.NewFromInt(1000)))
	assert.True(t, limiter.MaxPerEvent.Equal(decimal.NewFromInt(2500)))
}

func TestLoad_FeeScheduleFile(t *testing.T) {
	schedulePath := writeFile(t, "fees.yaml", `
base_fee_bps: 40
maker_fee_bps: 0
tiers:
  - min_volume: "1000"
    rebate_bps: 5
`)
	t.Setenv("AMM_ENGINE_FEE_SCHEDULE_FILE", schedulePath)

	cfg, err := Load("")
	require.NoError(t, err)
	schedule, err := cfg.FeeSchedule()
	require.NoError(t, err)
	assert.Equal(t, int64(40), schedule.BaseFeeBps)
	assert.Equal(t, int64(0), schedule.MakerFeeBps)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"port":           {"AMM_SERVER_PORT": "70000"},
		"log level":      {"AMM_LOG_LEVEL": "loud"},
		"log format":     {"AMM_LOG_FORMAT": "xml"},
		"probe":          {"AMM_ENGINE_PROBE_NOTIONAL": "0"},
		"probe decimal":  {"AMM_ENGINE_PROBE_NOTIONAL": "one"},
		"maker > base":   {"AMM_ENGINE_MAKER_FEE_BPS": "40"},
		"negative limit": {"AMM_LIMITS_MAX_PER_MARKET": "-5"},
		"missing file":   {"AMM_ENGINE_FEE_SCHEDULE_FILE": "/nonexistent/fees.yaml"},
		"log capacity":   {"AMM_ENGINE_TRADE_LOG_CAPACITY": "0"},
		"volume window":  {"AMM_ENGINE_FEE_VOLUME_WINDOW": "0s"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestServerAddr(t *testing.T) {
	assert.Equal(t, ":8080", ServerConfig{Port: 8080}.Addr())
}
