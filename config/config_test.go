package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alejandrodnm/polypaper/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
instruments:
  - key: btc-15m
    slug: btc-updown-15m-1700000000
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := config.Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, "paper", cfg.Paper.StrategyID)
	assert.Equal(t, 100*time.Millisecond, cfg.StepInterval())
	assert.InDelta(t, 1000.0, cfg.Paper.StartingCash, 1e-9)
	assert.Equal(t, 250*time.Millisecond, cfg.PostLatency())
	assert.Equal(t, 80*time.Millisecond, cfg.CancelRequestLatency())
	assert.Equal(t, 350*time.Millisecond, cfg.CancelClearLatency())
	assert.Equal(t, 10*time.Second, cfg.TradePrintMaxAge())
	assert.InDelta(t, 5.0, cfg.Paper.FlowBasePerSec, 1e-9)
	assert.InDelta(t, 0.02, cfg.Paper.FlowDepthFracPerSec, 1e-9)
	assert.InDelta(t, 0.25, cfg.NoiseFrac(), 1e-9)
	assert.True(t, cfg.UseBookDeltas())
	assert.InDelta(t, 1.0, cfg.Paper.FlowFallbackMult, 1e-9)
	assert.False(t, cfg.Paper.FlowRequireTradePrint)
	assert.InDelta(t, 1.25, cfg.Paper.TradePrintBoost, 1e-9)

	assert.InDelta(t, 200.0, cfg.Risk.MaxWorstTotalUSD, 1e-9)
	assert.InDelta(t, 75.0, cfg.Risk.MaxWorstPerMarketUSD, 1e-9)
	assert.Equal(t, 1, cfg.Risk.MaxTradesPerSession)
	assert.InDelta(t, 50.0, cfg.Risk.MaxPositionShares, 1e-9)

	assert.Equal(t, "https://clob.polymarket.com", cfg.API.CLOBBase)
	assert.Equal(t, "https://data-api.polymarket.com", cfg.API.DataBase)
	assert.Equal(t, "polypaper.db", cfg.Storage.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestParse_ExplicitZeroNoiseAndDeltasOff(t *testing.T) {
	cfg, err := config.Parse([]byte(`
paper:
  flow_noise_frac: 0
  flow_use_book_deltas: false
  queue_add_ahead_frac: 0.3
instruments:
  - key: btc-15m
    market_id: "0xabc"
    up_token: "1"
    down_token: "2"
`))
	require.NoError(t, err)
	assert.Zero(t, cfg.NoiseFrac())
	assert.False(t, cfg.UseBookDeltas())
	assert.InDelta(t, 0.3, cfg.Paper.QueueAddAheadFrac, 1e-9)
	assert.True(t, cfg.Instruments[0].Resolved())
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("PM_PAPER_POST_LATENCY_MS", "400")
	t.Setenv("PM_PAPER_STARTING_CASH", "250.5")
	t.Setenv("PM_PAPER_FLOW_NOISE_FRAC", "0")
	t.Setenv("PM_PAPER_FLOW_REQUIRE_TRADE_PRINT", "1")
	t.Setenv("PM_PAPER_FLOW_USE_BOOK_DELTAS", "off")
	t.Setenv("PM_PAPER_SEED", "42")
	t.Setenv("MAX_WORST_TOTAL_USD", "30")
	t.Setenv("MAX_TRADES_PER_SESSION", "3")
	t.Setenv("MAX_POSITION_SHARES", "not-a-number")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := config.Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, 400*time.Millisecond, cfg.PostLatency())
	assert.InDelta(t, 250.5, cfg.Paper.StartingCash, 1e-9)
	assert.Zero(t, cfg.NoiseFrac())
	assert.True(t, cfg.Paper.FlowRequireTradePrint)
	assert.False(t, cfg.UseBookDeltas())
	assert.Equal(t, uint64(42), cfg.Paper.Seed)
	assert.InDelta(t, 30.0, cfg.Risk.MaxWorstTotalUSD, 1e-9)
	assert.Equal(t, 3, cfg.Risk.MaxTradesPerSession)
	assert.InDelta(t, 50.0, cfg.Risk.MaxPositionShares, 1e-9, "valor mal formado se ignora")
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"no instruments", `paper: {seed: 3}`, config.ErrNoInstruments},
		{"missing key", "instruments:\n  - slug: x\n", config.ErrInstrumentKey},
		{"duplicate", "instruments:\n  - {key: a, slug: x}\n  - {key: a, slug: y}\n", config.ErrDuplicateInstrument},
		{"incomplete", "instruments:\n  - {key: a, market_id: m, up_token: u}\n", config.ErrIncompleteInstrument},
		{"log level", "log: {level: loud}\n" + minimal, config.ErrInvalidLogLevel},
		{"negative step", "paper: {step_interval_ms: -5}\n" + minimal, config.ErrInvalidStepInterval},
		{"negative cash", "paper: {starting_cash_usdc: -1}\n" + minimal, config.ErrNegativeStartingCash},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal+"storage:\n  dsn: \":memory:\"\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":memory:", cfg.Storage.DSN)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
