package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/affinity/internal/env"
	"github.com/loykin/affinity/internal/logger"
	"github.com/loykin/affinity/internal/profile"
)

// EnvPrefix prefixes environment overrides, e.g. AFFINITY_LOG_LEVEL.
const EnvPrefix = "AFFINITY"

// FileName is the settings file looked up in the config directory.
const FileName = "config.toml"

// Config represents the settings TOML structure.
type Config struct {
	ProfilesFile string           `toml:"profiles_file" mapstructure:"profiles_file"`
	Log          LogConfig        `toml:"log" mapstructure:"log"`
	Supervisor   SupervisorConfig `toml:"supervisor" mapstructure:"supervisor"`
	Launch       LaunchConfig     `toml:"launch" mapstructure:"launch"`
	History      HistoryConfig    `toml:"history" mapstructure:"history"`
	Metrics      MetricsConfig    `toml:"metrics" mapstructure:"metrics"`

	// Source is the settings file that was read, empty when none.
	Source string `toml:"-" mapstructure:"-"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	TimeStamps bool   `toml:"timestamps" mapstructure:"timestamps"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type SupervisorConfig struct {
	Backoff time.Duration `toml:"backoff" mapstructure:"backoff"`
	Settle  time.Duration `toml:"settle" mapstructure:"settle"`
}

// LaunchConfig shapes the environment of launched programs.
type LaunchConfig struct {
	UseOSEnv bool     `toml:"use_os_env" mapstructure:"use_os_env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	Env      []string `toml:"env" mapstructure:"env"`
}

type HistoryConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	DSN     string `toml:"dsn" mapstructure:"dsn"`
}

type MetricsConfig struct {
	// Textfile is written in the Prometheus text format after each launch.
	Textfile string `toml:"textfile" mapstructure:"textfile"`
}

func setDefaults(v *viper.Viper, dir string) {
	v.SetDefault("profiles_file", filepath.Join(dir, profile.FileName))
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.timestamps", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("supervisor.backoff", "500ms")
	v.SetDefault("supervisor.settle", "150ms")
	v.SetDefault("launch.use_os_env", true)
	v.SetDefault("launch.env_files", []string{})
	v.SetDefault("launch.env", []string{})
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.dsn", filepath.Join(dir, "history.db"))
	v.SetDefault("metrics.textfile", "")
}

// Load reads settings from path, or from <config dir>/config.toml when path is
// empty and that file exists. Environment variables override both.
func Load(path string) (*Config, error) {
	dir, err := profile.ConfigDir()
	if err != nil {
		return nil, err
	}
	return load(path, dir)
}

func load(path, dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v, dir)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	source := path
	if source == "" {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			source = candidate
		}
	}
	if source != "" {
		v.SetConfigFile(source)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", source, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.Source = source
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects settings the tool cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.ProfilesFile == "" {
		errs = append(errs, errors.New("profiles_file must not be empty"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Supervisor.Backoff <= 0 {
		errs = append(errs, fmt.Errorf("supervisor.backoff must be positive, got %s", c.Supervisor.Backoff))
	}
	if c.Supervisor.Settle < 0 {
		errs = append(errs, fmt.Errorf("supervisor.settle must not be negative, got %s", c.Supervisor.Settle))
	}
	for _, kv := range c.Launch.Env {
		if !strings.Contains(kv, "=") {
			errs = append(errs, fmt.Errorf("launch.env entry %q is not KEY=VALUE", kv))
		}
	}
	return errors.Join(errs...)
}

// Logger converts the log section into the logger configuration.
func (c *Config) Logger() logger.Config {
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      c.Log.Level,
			Format:     c.Log.Format,
			Color:      c.Log.Color,
			TimeStamps: c.Log.TimeStamps,
		},
		File: logger.FileConfig{
			Path:       c.Log.File,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}

// LaunchEnv builds the environment for launched programs. The OS env (when
// enabled) is the base, env files apply in order, and the env list overrides
// last. A nil result means inherit the tool's environment.
func (c *Config) LaunchEnv() ([]string, error) {
	l := c.Launch
	if l.UseOSEnv && len(l.EnvFiles) == 0 && len(l.Env) == 0 {
		return nil, nil
	}
	e := env.New(l.UseOSEnv)
	for _, p := range l.EnvFiles {
		if err := e.LoadFile(p); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	for _, kv := range l.Env {
		if err := e.SetPair(kv); err != nil {
			return nil, err
		}
	}
	return e.Environ(), nil
}
