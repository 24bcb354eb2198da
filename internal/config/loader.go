package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/jababu3/chemprop/internal/infrastructure/monitoring/logging"
)

// envPrefix is the environment variable prefix used by all settings.
const envPrefix = "CHEMPROP"

var (
	ErrConfigFileNotFound = stderrors.New("config file not found")
	ErrConfigParse        = stderrors.New("config file could not be parsed")
	ErrConfigValidation   = stderrors.New("config validation failed")
)

// newViper builds a pre-configured Viper instance: YAML file type, CHEMPROP_
// env prefix, automatic env binding, and a key replacer that maps "." → "_"
// so that nested keys like "mpnn.d_h" resolve to "CHEMPROP_MPNN_D_H".
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	registerDefaults(v)
	return v
}

// Load reads the YAML file at configPath, merges any CHEMPROP_* environment
// variable overrides, applies defaults for unset fields, and validates the
// result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if stderrors.Is(err, fs.ErrNotExist) || stderrors.As(err, &notFound) {
			return nil, fmt.Errorf("config: %w: %q", ErrConfigFileNotFound, configPath)
		}
		return nil, fmt.Errorf("config: %w: %q: %v", ErrConfigParse, configPath, err)
	}

	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config entirely from CHEMPROP_* environment variables,
// with no config file required.
//
//	CHEMPROP_<SECTION>_<FIELD>   e.g.  CHEMPROP_MPNN_D_H, CHEMPROP_REDIS_ADDR
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: %w: %v", ErrConfigParse, err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigValidation, err)
	}

	return cfg, nil
}

// Watch monitors configPath and invokes onChange with the newly parsed
// Config whenever the file changes on disk.  Only settings that are safe to
// swap at runtime (log level, cache TTL) should be applied by the callback;
// engine dimensions are fixed for the lifetime of a Service.
//
// A change that fails to parse or validate is logged and onChange is not
// called.
func Watch(configPath string, onChange func(*Config)) error {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: %w: %q: %v", ErrConfigFileNotFound, configPath, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			logging.Default().Warn("ignoring invalid config change",
				logging.String("file", e.Name),
				logging.Err(err))
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// MustLoad is Load that panics on any error.  Intended for main().
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
