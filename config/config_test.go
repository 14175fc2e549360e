package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winniepooh001/GPTComparison/internal/domain"
)

func writeEngineFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_DefaultsDryRun(t *testing.T) {
	t.Setenv("ENGINE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DRY_RUN", "true")

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.True(t, cfg.Engine.DryRun)
	assert.Equal(t, 100000.0, cfg.Engine.StartingCapital)
	assert.Equal(t, 0.10, cfg.Engine.StopLossBounds.Min)
	assert.Equal(t, 0.30, cfg.Engine.StopLossBounds.Max)
	assert.Equal(t, "sqlite3", cfg.DBDriver)

	c, err := cfg.Engine.Schedule()
	require.NoError(t, err)
	assert.Equal(t, time.Friday, c.Weekday)
}

func TestLoadConfig_YAMLAndFlags(t *testing.T) {
	path := writeEngineFile(t, `
cadence:
  kind: weekly
  weekday: thursday
  at: "10:00"
  timezone: UTC
max_holding_period: 336h
risk_fraction_bounds: {min: 0.005, max: 0.04, default: 0.01}
profit_multiplier: 2
allow_list: [Pure-Momentum, Claude-Sonnet]
dry_run: true
`)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	ov := BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--config", path, "--strategies", "Pure-Momentum", "--log-level", "debug"}))

	cfg, err := LoadConfig(ov)
	require.NoError(t, err)
	assert.Equal(t, "thursday", cfg.Engine.Cadence.Weekday)
	assert.Equal(t, 14*24*time.Hour, cfg.Engine.MaxHoldingPeriod)
	assert.Equal(t, 0.01, cfg.Engine.RiskFractionBounds.Default)
	assert.Equal(t, TakeProfitMultiple, cfg.Engine.ProfitMultiplier)
	assert.True(t, cfg.Engine.Allowed(domain.StrategyMomentum))
	assert.False(t, cfg.Engine.Allowed(domain.StrategyClaude))
	assert.Equal(t, "DEBUG", cfg.LogLevel.String())
}

func TestLoadConfig_ValidationCollectsErrors(t *testing.T) {
	path := writeEngineFile(t, `
cadence: {kind: hourly}
stop_loss_bounds: {min: 0.5, max: 0.2}
profit_multiplier: 3
ranking_metric: vibes
allow_list: [Astrology]
dry_run: true
`)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	ov := BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--config", path}))

	_, err := LoadConfig(ov)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cadence")
	assert.Contains(t, err.Error(), "stop_loss_bounds")
	assert.Contains(t, err.Error(), "profit_multiplier must be 2, got 3")
	assert.Contains(t, err.Error(), "ranking_metric")
	assert.Contains(t, err.Error(), "Astrology")
}

func TestLoadConfig_LiveRequiresCredentials(t *testing.T) {
	t.Setenv("ENGINE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DRY_RUN", "false")
	t.Setenv("STRATEGIES", "Pure-Momentum")
	t.Setenv("ALPACA_KEY_ID", "")
	t.Setenv("ALPACA_SECRET_KEY", "")
	t.Setenv("ALPACA_PURE_MOMENTUM_KEY_ID", "")

	_, err := LoadConfig(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ALPACA_PURE_MOMENTUM_KEY_ID")

	t.Setenv("ALPACA_PURE_MOMENTUM_KEY_ID", "k")
	t.Setenv("ALPACA_PURE_MOMENTUM_SECRET_KEY", "s")
	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "k", cfg.Credentials[domain.StrategyMomentum].KeyID)
}
