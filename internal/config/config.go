package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FLOWX_ENGINE_MAX_AGENTS
const EnvPrefix = "FLOWX"

// Config holds all configuration for flowx
type Config struct {
	Engine     EngineConfig     `mapstructure:"engine"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// EngineConfig holds benchmark execution settings
type EngineConfig struct {
	// Benchmark name (generated if empty)
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`

	// Strategy and coordination mode tags applied to the primary task
	Strategy string `mapstructure:"strategy"`
	Mode     string `mapstructure:"mode"`

	// Upper bound on concurrently executing tasks
	MaxAgents int  `mapstructure:"max_agents"`
	Parallel  bool `mapstructure:"parallel"`

	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`

	OutputDirectory string   `mapstructure:"output_directory"`
	OutputFormats   []string `mapstructure:"output_formats"`
}

// MonitoringConfig holds resource sampler settings
type MonitoringConfig struct {
	SamplingInterval time.Duration `mapstructure:"sampling_interval"`

	// Snapshots kept before the history is halved
	HistoryCapacity int `mapstructure:"history_capacity"`

	// Wait between terminate and kill for timed out processes
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Strategy:        "auto",
			Mode:            "centralized",
			MaxAgents:       5,
			Parallel:        false,
			TaskTimeout:     300 * time.Second,
			MaxRetries:      3,
			OutputDirectory: "./reports",
			OutputFormats:   []string{},
		},
		Monitoring: MonitoringConfig{
			SamplingInterval: 100 * time.Millisecond,
			HistoryCapacity:  10000,
			GracePeriod:      500 * time.Millisecond,
		},
		Redis: RedisConfig{
			Enabled:  false,
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     6379,
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
			PoolSize: 10,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

// RedisAddr returns the full Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Engine.MaxAgents < 1 {
		return fmt.Errorf("engine max_agents must be at least 1")
	}
	if c.Engine.TaskTimeout <= 0 {
		return fmt.Errorf("engine task_timeout must be positive")
	}
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine max_retries cannot be negative")
	}
	if c.Monitoring.SamplingInterval <= 0 {
		return fmt.Errorf("monitoring sampling_interval must be positive")
	}
	if c.Monitoring.HistoryCapacity < 2 {
		return fmt.Errorf("monitoring history_capacity must be at least 2")
	}
	if c.Monitoring.GracePeriod < 0 {
		return fmt.Errorf("monitoring grace_period cannot be negative")
	}
	if c.Redis.Enabled && c.Redis.Host == "" {
		return fmt.Errorf("redis host cannot be empty")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported log format: %s", c.Logging.Format)
	}
	return nil
}

// Loader reads configuration from an optional YAML file and FLOWX_*
// environment variables, and can watch the file for changes.
type Loader struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

// NewLoader creates a loader for path. An empty path uses defaults and env only.
func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())
	if path != "" {
		v.SetConfigFile(path)
	}
	return &Loader{v: v, path: path}
}

// Load reads the file (if any), applies env overrides and validates the result
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.path != "" {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", l.path, err)
		}
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Watch calls fn with the reloaded configuration whenever the file is
// written. Reloads that fail to decode or validate are reported to onErr
// and otherwise ignored. Watch is a no-op without a config file.
func (l *Loader) Watch(fn func(*Config), onErr func(error)) {
	if l.path == "" {
		return
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		cfg := &Config{}
		l.mu.Lock()
		err := l.v.Unmarshal(cfg)
		l.mu.Unlock()
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		fn(cfg)
	})
	l.v.WatchConfig()
}

// Load is a shorthand for NewLoader(path).Load()
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// setDefaults registers every key so AutomaticEnv can override it
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("engine.name", d.Engine.Name)
	v.SetDefault("engine.description", d.Engine.Description)
	v.SetDefault("engine.strategy", d.Engine.Strategy)
	v.SetDefault("engine.mode", d.Engine.Mode)
	v.SetDefault("engine.max_agents", d.Engine.MaxAgents)
	v.SetDefault("engine.parallel", d.Engine.Parallel)
	v.SetDefault("engine.task_timeout", d.Engine.TaskTimeout)
	v.SetDefault("engine.max_retries", d.Engine.MaxRetries)
	v.SetDefault("engine.output_directory", d.Engine.OutputDirectory)
	v.SetDefault("engine.output_formats", d.Engine.OutputFormats)

	v.SetDefault("monitoring.sampling_interval", d.Monitoring.SamplingInterval)
	v.SetDefault("monitoring.history_capacity", d.Monitoring.HistoryCapacity)
	v.SetDefault("monitoring.grace_period", d.Monitoring.GracePeriod)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.host", d.Redis.Host)
	v.SetDefault("redis.port", d.Redis.Port)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.pool_size", d.Redis.PoolSize)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
