// Package config loads the clmtl command configuration from a YAML file,
// CLMTL_* environment variables and command-line flags, in increasing
// precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Device kinds.
const (
	DeviceSoft = "soft"
	DeviceHAL  = "hal"
)

// Config is the command configuration.
type Config struct {
	Device  DeviceConfig  `mapstructure:"device"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// DeviceConfig selects and sizes the compute device.
type DeviceConfig struct {
	Kind string `mapstructure:"kind"`
	// Workers is the software device worker count, 0 for GOMAXPROCS.
	Workers        int `mapstructure:"workers"`
	MaxThreads     int `mapstructure:"max_threads"`
	ExecutionWidth int `mapstructure:"execution_width"`
}

type CacheConfig struct {
	Libraries int `mapstructure:"libraries"`
	Pipelines int `mapstructure:"pipelines"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Kind:           DeviceSoft,
			MaxThreads:     256,
			ExecutionWidth: 32,
		},
		Cache: CacheConfig{
			Libraries: 64,
			Pipelines: 32,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// Load reads cfgFile, or config.yaml from $HOME/.clmtl and the working
// directory when cfgFile is empty. A missing default file is not an error.
// Flags in flags whose names match a key with dots replaced by dashes
// (device-kind, logging-level, ...) override everything else.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	cfg := Default()
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".clmtl"))
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("CLMTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for _, key := range v.AllKeys() {
			if f := flags.Lookup(strings.ReplaceAll(key, ".", "-")); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", f.Name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if !slices.Contains([]string{DeviceSoft, DeviceHAL}, c.Device.Kind) {
		return fmt.Errorf("device.kind must be %q or %q, got %q", DeviceSoft, DeviceHAL, c.Device.Kind)
	}
	if c.Device.Workers < 0 {
		return errors.New("device.workers must not be negative")
	}
	if c.Device.MaxThreads < 1 || c.Device.MaxThreads > 1024 {
		return errors.New("device.max_threads must be between 1 and 1024")
	}
	if c.Device.ExecutionWidth < 1 || c.Device.ExecutionWidth > c.Device.MaxThreads {
		return errors.New("device.execution_width must be between 1 and device.max_threads")
	}
	if c.Cache.Libraries < 0 || c.Cache.Pipelines < 0 {
		return errors.New("cache sizes must not be negative")
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("device.kind", cfg.Device.Kind)
	v.SetDefault("device.workers", cfg.Device.Workers)
	v.SetDefault("device.max_threads", cfg.Device.MaxThreads)
	v.SetDefault("device.execution_width", cfg.Device.ExecutionWidth)

	v.SetDefault("cache.libraries", cfg.Cache.Libraries)
	v.SetDefault("cache.pipelines", cfg.Cache.Pipelines)

	v.SetDefault("logging.level", cfg.Logging.Level)
}
