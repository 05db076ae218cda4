// Package config assembles the runtime configuration: registered
// defaults, an optional config.yaml, then the deployment environment
// variables, in that precedence order (later wins).
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/poolgate/poolgate/internal/core/domain"
)

// Config is an immutable snapshot. Reload produces a fresh snapshot
// rather than mutating one in place; holders read through Provider.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Models   ModelsConfig   `mapstructure:"models"`
	Pools    PoolsConfig    `mapstructure:"pools"`
	Logs     LogsConfig     `mapstructure:"logs"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Stream   StreamConfig   `mapstructure:"stream"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type ModelsConfig struct {
	Tool     string `mapstructure:"tool"`
	Normal   string `mapstructure:"normal"`
	Advanced string `mapstructure:"advanced"`
}

func (m ModelsConfig) VirtualModels() domain.VirtualModels {
	return domain.VirtualModels{
		Tool:     m.Tool,
		Normal:   m.Normal,
		Advanced: m.Advanced,
	}
}

type PoolsConfig struct {
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
	MaxRetries      int `mapstructure:"max_retries"`
	TimeoutSeconds  int `mapstructure:"timeout_seconds"`
}

type LogsConfig struct {
	MaxCount      int64  `mapstructure:"max_count"`
	PruneSchedule string `mapstructure:"prune_schedule"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type StreamConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	FirstChunkTimeout time.Duration `mapstructure:"first_chunk_timeout"`
}

// contractEnv binds the deployment contract's unprefixed variable names
// to config keys. Everything else goes through the GATEWAY_ prefix.
var contractEnv = map[string]string{
	"server.host":            "HOST",
	"server.port":            "API_PORT",
	"database.url":           "DATABASE_URL",
	"models.tool":            "VIRTUAL_MODEL_TOOL",
	"models.normal":          "VIRTUAL_MODEL_NORMAL",
	"models.advanced":        "VIRTUAL_MODEL_ADVANCED",
	"pools.cooldown_seconds": "DEFAULT_COOLDOWN_SECONDS",
	"pools.max_retries":      "MAX_RETRIES_PER_PROVIDER",
	"logs.max_count":         "MAX_LOGS_COUNT",
	"logging.level":          "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8899)
	v.SetDefault("server.read_timeout", "0s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("database.url", "sqlite:///data/gateway.db")
	v.SetDefault("models.tool", "haiku")
	v.SetDefault("models.normal", "sonnet")
	v.SetDefault("models.advanced", "opus")
	v.SetDefault("pools.cooldown_seconds", 60)
	v.SetDefault("pools.max_retries", 3)
	v.SetDefault("pools.timeout_seconds", 60)
	v.SetDefault("logs.max_count", 10000)
	v.SetDefault("logs.prune_schedule", "@every 10m")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("stream.heartbeat_interval", "5s")
	v.SetDefault("stream.first_chunk_timeout", "120s")
}

// Provider loads configuration and serves immutable snapshots. When a
// config file is in use, edits to it re-read the mutable subset and
// swap the snapshot; subscribers are notified after the swap.
type Provider struct {
	v  *viper.Viper
	mu sync.RWMutex

	current   *Config
	onReload  []func(*Config)
	usingFile bool
}

// Load builds a Provider: defaults, then config.yaml if present on the
// search path, then the environment.
func Load() (*Provider, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	usingFile := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		usingFile = false
	}

	for key, env := range contractEnv {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}

	return &Provider{v: v, current: cfg, usingFile: usingFile}, nil
}

// Watch begins re-reading the config file on edits. A no-op for
// env-only deployments, which have no file to watch.
func (p *Provider) Watch() {
	if !p.usingFile {
		return
	}
	p.v.OnConfigChange(func(fsnotify.Event) {
		if err := p.v.ReadInConfig(); err != nil {
			return
		}
		p.reload()
	})
	p.v.WatchConfig()
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.URL == "" {
		return errors.New("database url must not be empty")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	if c.Pools.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown seconds must not be negative: %d", c.Pools.CooldownSeconds)
	}
	return nil
}

// Get returns the current snapshot.
func (p *Provider) Get() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// OnReload registers a callback invoked with each new snapshot. Only
// file-backed deployments ever fire it.
func (p *Provider) OnReload(fn func(*Config)) {
	p.mu.Lock()
	p.onReload = append(p.onReload, fn)
	p.mu.Unlock()
}

func (p *Provider) reload() {
	cfg, err := unmarshal(p.v)
	if err != nil {
		// A bad edit keeps the previous snapshot in effect.
		return
	}

	p.mu.Lock()
	p.current = cfg
	callbacks := append([]func(*Config){}, p.onReload...)
	p.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
}
