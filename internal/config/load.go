package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Load reads the configuration from WASTEMON_* environment variables and
// the optional YAML file named by CONFIG_FILE.
func Load() (*Config, error) {

	// alias PORT => WASTEMON_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("WASTEMON_PORT", port)
	}

	v := viper.New()
	setConfigDefaults(v)

	v.SetEnvPrefix("wastemon")
	v.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			v.SetConfigFile(cfgFile)

			err = v.ReadInConfig()
			if err != nil {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch v.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check bounds
	if cfg.Polling.IntervalMillis < 500 {
		return nil, errors.New("config param polling.interval_millis should be >= 500")
	}
	if cfg.Polling.OfflineAfterFailures <= 0 {
		return nil, errors.New("config param polling.offline_after_failures should be > 0")
	}
	if cfg.Storage.Driver != STORAGE_MEMORY && cfg.Storage.Driver != STORAGE_POSTGRES {
		return nil, fmt.Errorf("config param storage.driver should be %q or %q", STORAGE_MEMORY, STORAGE_POSTGRES)
	}
	if cfg.Storage.Driver == STORAGE_POSTGRES && cfg.Storage.DSN == "" {
		return nil, errors.New("config param storage.dsn is required for postgres storage")
	}
	if cfg.Energy.CarbonFactor <= 0 {
		return nil, errors.New("config param energy.carbon_factor should be > 0")
	}
	if _, err := cfg.DeviceProfiles(); err != nil {
		return nil, err
	}
	if _, err := cfg.Tariffs(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "warn")
	v.SetDefault("port", 8080)
	v.SetDefault("demo", false)
	v.SetDefault("polling.interval_millis", 5000)
	v.SetDefault("polling.max_backoff_steps", 8)
	v.SetDefault("polling.offline_after_failures", 3)
	v.SetDefault("polling.stop_timeout_millis", 5000)
	v.SetDefault("storage.driver", STORAGE_MEMORY)
	v.SetDefault("storage.migrate", true)
	v.SetDefault("mqtt.enable", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.base_topic", "wastemon")
	v.SetDefault("nats.enable", false)
	v.SetDefault("nats.subject_prefix", "wastemon")
	v.SetDefault("influx.enable", false)
	v.SetDefault("energy.carbon_factor", 0.592)
	v.SetDefault("energy.retry_count", 3)
	v.SetDefault("energy.retry_delay_millis", 60000)
}

func SafePrintConfig(cfg Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	cfg.Storage.DSN = "*redacted*"
	cfg.Influx.Token = "*redacted*"
	slog.Info("Using", "config", cfg)
}
