package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfigurationDefaults(t *testing.T) {
	cfg, err := ReadConfiguration("", GetFlagSet())
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 3*time.Second, cfg.SyncConfig.HubTick)
	assert.Equal(t, 5*time.Second, cfg.SyncConfig.HubLookback)
	assert.Equal(t, 0.1, cfg.SyncConfig.HeartbeatRatio)
	assert.Equal(t, 5*time.Second, cfg.SyncConfig.ReconnectDelay)
	assert.Equal(t, 5, cfg.SyncConfig.WatchdogTicks)
	assert.Equal(t, 3*time.Second, cfg.PresenceConfig.TypingTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.AuthConfig.TokenTTL)
	assert.Equal(t, 12, cfg.AuthConfig.BcryptCost)
	assert.Equal(t, 24*time.Hour, cfg.RetentionConfig.MaxAge)
	assert.Equal(t, "*/10 * * * *", cfg.RetentionConfig.CronSpec)
}

func TestReadConfigurationFile(t *testing.T) {
	dir := t.TempDir()
	contents := `log_level = "DEBUG"

[sync]
hub_tick = "1s"
heartbeat_ratio = 0.5

[persistence]
type = "sqlite"
dsn = "/tmp/test.db"

[auth]
secret = "s3cret"
`
	configFile := filepath.Join(dir, "config.toml")
	require.NoError(t, ioutil.WriteFile(configFile, []byte(contents), 0644))

	cfg, err := ReadConfiguration(configFile, GetFlagSet())
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, time.Second, cfg.SyncConfig.HubTick)
	assert.Equal(t, 0.5, cfg.SyncConfig.HeartbeatRatio)
	assert.Equal(t, "sqlite", cfg.PersistenceConfig.Type)
	assert.Equal(t, "/tmp/test.db", cfg.PersistenceConfig.DSN)
	assert.Equal(t, "s3cret", cfg.AuthConfig.Secret)
	// untouched sections keep their defaults
	assert.Equal(t, 5*time.Second, cfg.SyncConfig.HubLookback)
}

func TestReadConfigurationDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "a.toml"), []byte("log_level = \"WARN\"\n"), 0644))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "b.toml"), []byte("[presence]\ntyping_ttl = \"10s\"\n"), 0644))

	cfg, err := ReadConfiguration(dir, GetFlagSet())
	require.NoError(t, err)
	assert.Equal(t, "WARN", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.PresenceConfig.TypingTTL)
}
