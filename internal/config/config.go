// Package config loads flowtrace configuration from defaults, an
// optional YAML config file, and FLOWTRACE_* environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// envKeyReplacer maps nested keys to env names: store.path becomes
// FLOWTRACE_STORE_PATH.
var envKeyReplacer = strings.NewReplacer(".", "_")

// Config is the full application configuration.
type Config struct {
	Store  StoreConfig  `mapstructure:"store" yaml:"store"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

// StoreConfig configures the durable event store.
type StoreConfig struct {
	// Path is the event database location. ":memory:" selects an
	// ephemeral store.
	Path string `mapstructure:"path" yaml:"path"`

	// PollInterval bounds the writer's wait between drain-flag checks.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`

	// DrainTimeout bounds how long close waits for the queue to empty.
	DrainTimeout time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`

	// BackpressureThreshold controls the pending-queue warning cadence.
	BackpressureThreshold int `mapstructure:"backpressure_threshold" yaml:"backpressure_threshold"`
}

// ServerConfig configures the HTTP read surface.
type ServerConfig struct {
	Host         string        `mapstructure:"host" yaml:"host"`
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// LogConfig configures CLI logging.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Path:                  "flowtrace.db",
			PollInterval:          100 * time.Millisecond,
			DrainTimeout:          10 * time.Second,
			BackpressureThreshold: 100,
		},
		Server: ServerConfig{
			Host:         "localhost",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, an optional config file,
// and environment variables (FLOWTRACE_STORE_PATH and friends).
//
// If path is empty, flowtrace.yaml in the working directory is used when
// present; a missing file is not an error.
func Load(ctx context.Context, path string) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("FLOWTRACE")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("flowtrace")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// RenderYAML renders the configuration as YAML, used by `config init`.
func (c Config) RenderYAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return out, nil
}

func setDefaults(v *viper.Viper, def Config) {
	v.SetDefault("store.path", def.Store.Path)
	v.SetDefault("store.poll_interval", def.Store.PollInterval)
	v.SetDefault("store.drain_timeout", def.Store.DrainTimeout)
	v.SetDefault("store.backpressure_threshold", def.Store.BackpressureThreshold)
	v.SetDefault("server.host", def.Server.Host)
	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("server.read_timeout", def.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", def.Server.WriteTimeout)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
}
