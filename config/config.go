// Package config loads the alert manager's configuration from an optional
// config file plus the environment variables the daemon has historically
// honored (CONFIG_ALERTER_FORKS, CONFIG_SENDER_FREQUENCY,
// CONFIG_ALERT_SCRIPTS_PATH).
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// Defaults applied when neither file nor environment sets a value.
const (
	DefaultAlerterForks     = 3
	DefaultSenderFrequency  = 30
	DefaultAlertScriptsPath = "/usr/local/share/zabbix/alertscripts"
	DefaultSocketPath       = "/tmp/zabbix_alerter.sock"
)

// DatabaseConfig selects the persistent alert store.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Config is the manager's full configuration.
type Config struct {
	// AlerterForks is the number of delivery worker processes.
	AlerterForks int `mapstructure:"alerter_forks"`
	// SenderFrequency is the database poll interval in seconds.
	SenderFrequency int `mapstructure:"sender_frequency"`
	// AlertScriptsPath prefixes script media type exec paths.
	AlertScriptsPath string `mapstructure:"alert_scripts_path"`
	// SocketPath is where the manager's IPC service listens.
	SocketPath string `mapstructure:"socket_path"`
	// LogLevel is one of silent, error, warn, info, debug.
	LogLevel string `mapstructure:"log_level"`

	Database DatabaseConfig `mapstructure:"database"`
}

// Validate rejects configurations the dispatch loop cannot run with.
func (c *Config) Validate() error {
	if c.AlerterForks <= 0 {
		return errors.New("alerter_forks must be positive")
	}
	if c.SenderFrequency <= 0 {
		return errors.New("sender_frequency must be positive")
	}
	if c.AlertScriptsPath == "" {
		return errors.New("alert_scripts_path must be set")
	}
	if c.SocketPath == "" {
		return errors.New("socket_path must be set")
	}
	if c.Database.Driver == "" || c.Database.DSN == "" {
		return errors.New("database driver and dsn must be set")
	}
	return nil
}

// Load reads configuration from configFile (skipped when empty) and the
// environment, applies defaults, and validates the result.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("alerter_forks", DefaultAlerterForks)
	v.SetDefault("sender_frequency", DefaultSenderFrequency)
	v.SetDefault("alert_scripts_path", DefaultAlertScriptsPath)
	v.SetDefault("socket_path", DefaultSocketPath)
	v.SetDefault("log_level", "warn")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "zabbix.db")

	// Historical environment variable names, kept for compatibility with
	// existing deployments.
	_ = v.BindEnv("alerter_forks", "CONFIG_ALERTER_FORKS")
	_ = v.BindEnv("sender_frequency", "CONFIG_SENDER_FREQUENCY")
	_ = v.BindEnv("alert_scripts_path", "CONFIG_ALERT_SCRIPTS_PATH")
	_ = v.BindEnv("socket_path", "CONFIG_ALERTER_SOCKET")
	_ = v.BindEnv("log_level", "CONFIG_LOG_LEVEL")
	_ = v.BindEnv("database.driver", "CONFIG_DB_DRIVER")
	_ = v.BindEnv("database.dsn", "CONFIG_DB_DSN")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
