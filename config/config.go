package config

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quietpages/quietpages/globals"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultHubTick        = 3 * time.Second
	defaultHubLookback    = 5 * time.Second
	defaultHeartbeatRatio = 0.1
	defaultTypingTTL      = 3 * time.Second
	defaultReconnectDelay = 5 * time.Second
	// the supervisor declares a live stream dead after this many hub ticks
	// without a message or heartbeat
	defaultWatchdogTicks  = 5
	defaultRetention      = 24 * time.Hour
	defaultRetentionCron  = "*/10 * * * *"
	defaultBcryptCost     = 12
	defaultTokenTTL       = 7 * 24 * time.Hour
	defaultRateLimitRPS   = 10
	defaultRateLimitBurst = 20
)

// Config is the global configuration object which is filled via the
// configuration file, environment (QPAGES_ prefix) and command-line flags.
type Config struct {
	SyncConfig        SyncConfig        `mapstructure:"sync"`
	PresenceConfig    PresenceConfig    `mapstructure:"presence"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	AuthConfig        AuthConfig        `mapstructure:"auth"`
	RetentionConfig   RetentionConfig   `mapstructure:"retention"`
	RateLimitConfig   RateLimitConfig   `mapstructure:"rate_limit"`
	LogLevel          string            `mapstructure:"log_level"`
}

// SyncConfig holds every timing contract of the synchronization core. These
// are configuration, not business logic: tests and deployments tune them.
type SyncConfig struct {
	HubTick        time.Duration `mapstructure:"hub_tick"`
	HubLookback    time.Duration `mapstructure:"hub_lookback"`
	HeartbeatRatio float64       `mapstructure:"heartbeat_ratio"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	WatchdogTicks  int           `mapstructure:"watchdog_ticks"`
}

type PresenceConfig struct {
	TypingTTL time.Duration `mapstructure:"typing_ttl"`
}

// PersistenceConfig configures the message store backend. Type is one of
// "sqlite", "postgres", "gorm-sqlite", "gorm-postgres".
type PersistenceConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

type AuthConfig struct {
	Secret     string        `mapstructure:"secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
}

type RetentionConfig struct {
	MaxAge   time.Duration `mapstructure:"max_age"`
	CronSpec string        `mapstructure:"cron_spec"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.StringP("log-level", "l", "", "log level")
	flagSet.String("auth-secret", "", "HMAC secret for room access tokens")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	from := "-"
	to := "_"
	name = strings.Replace(name, from, to, -1)
	return pflag.NormalizedName(name)
}

// ReadConfiguration reads and parses the configuration located at configPath,
// which can either point to a single TOML file or to a directory, in which
// case all *.toml files in this directory are concatenated. It returns a
// Config object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	viper.SetDefault("log_level", "INFO")
	viper.SetDefault("sync.hub_tick", defaultHubTick)
	viper.SetDefault("sync.hub_lookback", defaultHubLookback)
	viper.SetDefault("sync.heartbeat_ratio", defaultHeartbeatRatio)
	viper.SetDefault("sync.reconnect_delay", defaultReconnectDelay)
	viper.SetDefault("sync.watchdog_ticks", defaultWatchdogTicks)
	viper.SetDefault("presence.typing_ttl", defaultTypingTTL)
	viper.SetDefault("auth.token_ttl", defaultTokenTTL)
	viper.SetDefault("auth.bcrypt_cost", defaultBcryptCost)
	viper.SetDefault("retention.max_age", defaultRetention)
	viper.SetDefault("retention.cron_spec", defaultRetentionCron)
	viper.SetDefault("rate_limit.requests_per_second", defaultRateLimitRPS)
	viper.SetDefault("rate_limit.burst", defaultRateLimitBurst)
	err := viper.BindPFlags(flagSet)
	if err != nil {
		globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
	}
	viper.SetEnvPrefix("QPAGES")
	viper.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := ioutil.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		viper.SetConfigType("toml")
		err = viper.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			globals.AppLogger.Error("could not read config:", "error", err)
		}
	}
	err = viper.Unmarshal(&cfg)
	if err != nil {
		globals.AppLogger.Error("could not unmarshal config:", "error", err)
	}
	return &cfg, nil
}
