package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix for every setting.
const envPrefix = "MOLGFN"

// newViper builds a Viper instance with YAML file type, the MOLGFN_ env
// prefix and a "." → "_" key replacer, so "hps.learning_rate" resolves to
// MOLGFN_HPS_LEARNING_RATE.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// Load reads the YAML file at configPath, merges MOLGFN_* overrides, applies
// defaults and validates the result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}
	return unmarshalAndFinalize(v, true)
}

// LoadFromEnv builds a Config from MOLGFN_* environment variables and
// defaults alone.
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper(), true)
}

// LoadUnvalidated behaves like Load (or LoadFromEnv for an empty path) but
// skips validation.  The CLI uses it so that flags can fill required fields
// before Validate runs.
func LoadUnvalidated(configPath string) (*Config, error) {
	v := newViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
		}
	}
	return unmarshalAndFinalize(v, false)
}

func unmarshalAndFinalize(v *viper.Viper, validate bool) (*Config, error) {
	setDefaults(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}
	ApplyDefaults(cfg)

	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config: validation failed: %w", err)
		}
	}
	return cfg, nil
}

// Watch invokes onChange with the re-parsed Config whenever configPath changes
// on disk.  Only settings that are safe to change mid-run (the log level)
// should be applied by callers.  Changes that fail to parse are skipped.
func Watch(configPath string, onChange func(*Config)) {
	v := newViper()
	v.SetConfigFile(configPath)
	_ = v.ReadInConfig()

	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v, false)
		if err != nil {
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

// MustLoad wraps Load and panics on error.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
