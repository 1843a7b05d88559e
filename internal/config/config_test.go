package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
mode = "monitor"
log_level = "debug"

[broker]
secret = "from-file"
account_id = "ACC-1"

[feed]
symbols = ["SBER@MISX", "GAZP@MISX"]
publish_interval = "200ms"

[scalper]
qty = "2"
take_profit_pct = "0.002"
break_factor = 0.25
cooldown_ms = 5000
distributed_lock = false

[server]
port = 9090
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validConfig() Config {
	cfg := Defaults()
	cfg.Broker.Secret = "s"
	cfg.Feed.Symbols = []string{"SBER@MISX"}
	return cfg
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "ACC-1", cfg.Broker.AccountID)
	assert.Equal(t, "MISX", cfg.Broker.DefaultBoard, "default kept")
	assert.Equal(t, []string{"SBER@MISX", "GAZP@MISX"}, cfg.Feed.Symbols)
	assert.Equal(t, 200*time.Millisecond, cfg.Feed.PublishInterval.Duration)
	assert.Equal(t, 300*time.Millisecond, cfg.Feed.ReconnectDelay.Duration)
	assert.Equal(t, int64(5000), cfg.Scalper.CooldownMs)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "2", cfg.Scalper.Qty.String())
	assert.Equal(t, "0.002", cfg.Scalper.TakeProfitPct.String())
	assert.True(t, cfg.Scalper.BreakFactor.Equal(decimal.RequireFromString("0.25")), "bare floats still decode")
	require.NoError(t, cfg.Validate())
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("SCALPER_BROKER_SECRET", "from-env")
	t.Setenv("SCALPER_FEED_SYMBOLS", " LKOH@MISX , ,YNDX@MISX")
	t.Setenv("SCALPER_SCALPER_COOLDOWN_MS", "750")
	t.Setenv("SCALPER_FEED_PUBLISH_INTERVAL", "150ms")
	t.Setenv("SCALPER_SERVER_ENABLED", "false")
	t.Setenv("SCALPER_SCALPER_DENSITY_COEF", "0.30000000000000004")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Broker.Secret)
	assert.Equal(t, []string{"LKOH@MISX", "YNDX@MISX"}, cfg.Feed.Symbols)
	assert.Equal(t, int64(750), cfg.Scalper.CooldownMs)
	assert.Equal(t, 150*time.Millisecond, cfg.Feed.PublishInterval.Duration)
	assert.False(t, cfg.Server.Enabled)
	assert.Equal(t, "0.30000000000000004", cfg.Scalper.DensityCoef.String())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "full"
	cfg.Feed.PublishInterval.Duration = 500 * time.Millisecond
	cfg.Scalper.TakeProfitPct = decimal.Zero
	cfg.Scalper.DistributedLock = true

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "full"`)
	assert.Contains(t, msg, "broker: either secret or secret_file must be set")
	assert.Contains(t, msg, "feed: symbols must list at least one symbol")
	assert.Contains(t, msg, "feed: publish_interval must be between 100ms and 250ms")
	assert.Contains(t, msg, "scalper: take_profit_pct must be in (0, 1)")
	assert.Contains(t, msg, "scalper: distributed_lock requires redis.enabled")
}

func TestValidatePublishIntervalBounds(t *testing.T) {
	for _, d := range []time.Duration{100 * time.Millisecond, 250 * time.Millisecond} {
		cfg := validConfig()
		cfg.Feed.PublishInterval.Duration = d
		assert.NoError(t, cfg.Validate(), d)
	}
	cfg := validConfig()
	cfg.Feed.PublishInterval.Duration = 99 * time.Millisecond
	assert.Error(t, cfg.Validate())
}

func TestValidateSecretFileNeedsPassword(t *testing.T) {
	cfg := validConfig()
	cfg.Broker.Secret = ""
	cfg.Broker.SecretFile = "/etc/scalper/secret.json"
	require.ErrorContains(t, cfg.Validate(), "secret_password is required")

	cfg.Broker.SecretPassword = "pw"
	require.NoError(t, cfg.Validate())
}

func TestToScalperSettings(t *testing.T) {
	cfg := Defaults()
	s := cfg.ToScalperSettings()
	assert.True(t, s.TakeProfitPct.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, s.BreakFactor.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, s.Qty.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, int64(2000), s.CooldownMs)
	assert.Equal(t, 200*time.Millisecond, s.BreakCheckInterval())
	assert.Equal(t, 20, s.Depth)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Server.APIKey = "key"
	cfg.Notify.TelegramToken = "tg"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Broker.Secret)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Empty(t, out.Redis.Password, "empty stays empty")
	assert.Equal(t, "s", cfg.Broker.Secret, "original untouched")

	out.Feed.Symbols[0] = "changed"
	assert.Equal(t, "SBER@MISX", cfg.Feed.Symbols[0])
}

func TestRejectsMalformedDecimal(t *testing.T) {
	_, err := Load(writeConfig(t, "[scalper]\nqty = \"two\"\n"))
	require.Error(t, err)
}
