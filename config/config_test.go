package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "db:\n  driver: sqlite\n"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, 50, cfg.ThrottleLimit)
	assert.Equal(t, 300*time.Second, cfg.SessionTTL)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Retry.InitialDelay)
	assert.Equal(t, 25, cfg.Health.AvailabilityWeight)
	assert.Equal(t, 15*time.Minute, cfg.Health.StaleAfter)
	assert.Equal(t, 86400*time.Second, cfg.CacheTTL.Inventory)
	assert.Equal(t, "dev-secret", cfg.TokenSecret)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
engine:
  throttle_limit: 8
  max_retries: 1
  session_ttl_sec: 60
health:
  availability_weight: 40
  performance_weight: 20
  security_weight: 20
  compliance_weight: 20
cache:
  redis_addr: "127.0.0.1:6379"
`))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.ThrottleLimit)
	assert.Equal(t, 1, cfg.Retry.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.SessionTTL)
	assert.Equal(t, 40, cfg.Health.AvailabilityWeight)
	assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)
}

func TestLoadRejectsBadWeights(t *testing.T) {
	_, err := Load(writeConfig(t, `
health:
  availability_weight: 50
  performance_weight: 25
  security_weight: 25
  compliance_weight: 25
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 100")
}

func TestLoadRejectsBadThrottle(t *testing.T) {
	_, err := Load(writeConfig(t, "engine:\n  throttle_limit: -1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttle_limit")
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestWatcherAcceptsGoodReload(t *testing.T) {
	path := writeConfig(t, "engine:\n  throttle_limit: 10\n")
	initial, err := Load(path)
	require.NoError(t, err)

	w := NewWatcher(path, initial, zerolog.Nop())
	var got *Config
	w.Subscribe(func(c *Config) { got = c })

	require.NoError(t, os.WriteFile(path, []byte("engine:\n  throttle_limit: 20\n"), 0o644))
	w.reload()

	require.NotNil(t, got)
	assert.Equal(t, 20, got.ThrottleLimit)
	assert.Equal(t, 20, w.Current().ThrottleLimit)
}

func TestWatcherKeepsSnapshotOnBrokenReload(t *testing.T) {
	path := writeConfig(t, "engine:\n  throttle_limit: 10\n")
	initial, err := Load(path)
	require.NoError(t, err)

	w := NewWatcher(path, initial, zerolog.Nop())
	called := false
	w.Subscribe(func(*Config) { called = true })

	require.NoError(t, os.WriteFile(path, []byte("engine:\n  throttle_limit: -5\n"), 0o644))
	w.reload()

	assert.False(t, called, "a rejected reload must not notify subscribers")
	assert.Equal(t, 10, w.Current().ThrottleLimit, "previous snapshot stays in force")
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	sum := cfg.Health.AvailabilityWeight + cfg.Health.PerformanceWeight +
		cfg.Health.SecurityWeight + cfg.Health.ComplianceWeight
	assert.Equal(t, 100, sum)
	assert.Positive(t, cfg.ThrottleLimit)
	assert.Positive(t, cfg.SessionTTL)
}
