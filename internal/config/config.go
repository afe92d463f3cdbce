// Package config loads decline-notifier settings from defaults, an optional
// TOML file and DECLINE_* environment variables, in that order of precedence.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"decline-notifier/internal/delivery"
	"decline-notifier/internal/policy"
	"decline-notifier/internal/request"
)

const envPrefix = "DECLINE"

type Config struct {
	Server   ServerConfig       `mapstructure:"server"`
	Queue    QueueConfig        `mapstructure:"queue"`
	Redis    RedisConfig        `mapstructure:"redis"`
	Delivery DeliveryConfig     `mapstructure:"delivery"`
	Retry    policy.RetryPolicy `mapstructure:"retry"`
	Timeouts delivery.Timeouts  `mapstructure:"timeouts"`
	Worker   WorkerConfig       `mapstructure:"worker"`
	Log      LogConfig          `mapstructure:"log"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// EnqueueRate is accepted enqueue requests per second; 0 disables limiting.
	EnqueueRate  float64 `mapstructure:"enqueue_rate"`
	EnqueueBurst int     `mapstructure:"enqueue_burst"`
}

type QueueConfig struct {
	Backend string `mapstructure:"backend"` // "redis" or "memory"
	Size    int    `mapstructure:"size"`
}

type RedisConfig struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	Prefix     string        `mapstructure:"prefix"`
	LiveTTL    time.Duration `mapstructure:"live_ttl"`
	HistoryTTL time.Duration `mapstructure:"history_ttl"`
}

type DeliveryConfig struct {
	Variant string `mapstructure:"variant"`
}

type WorkerConfig struct {
	Pool         int           `mapstructure:"pool"`
	OfflineDelay time.Duration `mapstructure:"offline_delay"`
	// NetworkProbe is a host:port dialled before each attempt; empty skips the check.
	NetworkProbe string        `mapstructure:"network_probe"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// SetDefaults registers every key so env overrides work without a file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.enqueue_rate", 50.0)
	v.SetDefault("server.enqueue_burst", 100)

	v.SetDefault("queue.backend", "redis")
	v.SetDefault("queue.size", 1024)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "decline:")
	v.SetDefault("redis.live_ttl", "24h")
	v.SetDefault("redis.history_ttl", "168h")

	v.SetDefault("delivery.variant", string(request.VariantPostBody))

	v.SetDefault("retry.max_retries", policy.DefaultMaxRetries)
	v.SetDefault("retry.base_delay", "5s")
	v.SetDefault("retry.multiplier", policy.DefaultMultiplier)
	v.SetDefault("retry.max_delay", "5m")

	v.SetDefault("timeouts.connect", "5s")
	v.SetDefault("timeouts.read", "5s")
	v.SetDefault("timeouts.total", "8s")

	v.SetDefault("worker.pool", 5)
	v.SetDefault("worker.offline_delay", "5s")
	v.SetDefault("worker.network_probe", "")
	v.SetDefault("worker.probe_timeout", "2s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// NewViper returns a viper instance with defaults, env binding and, when
// path is set, that file. Without a path ./decline.toml is used if present.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
		return v, nil
	}

	v.SetConfigName("decline")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config")
		}
	}
	return v, nil
}

// Load reads and validates the configuration.
func Load(path string) (*Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	return LoadWithViper(v)
}

// LoadWithViper unmarshals and validates from an existing viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values and normalizes the retry policy in place.
func (c *Config) Validate() error {
	if _, err := request.ParseVariant(c.Delivery.Variant); err != nil {
		return errors.WithHint(err, "delivery.variant must be one of get-test, post-empty, post-body")
	}
	pol, err := c.Retry.Normalize()
	if err != nil {
		return err
	}
	c.Retry = pol

	switch c.Queue.Backend {
	case "redis", "memory":
	default:
		return errors.Newf("unknown queue backend %q", c.Queue.Backend)
	}
	if c.Worker.Pool <= 0 {
		return errors.Newf("worker.pool must be positive, got %d", c.Worker.Pool)
	}
	if c.Server.EnqueueRate < 0 {
		return errors.Newf("server.enqueue_rate must not be negative, got %v", c.Server.EnqueueRate)
	}
	return nil
}

// Variant returns the parsed delivery variant. Validate must have passed.
func (c *Config) Variant() request.Variant {
	v, _ := request.ParseVariant(c.Delivery.Variant)
	return v
}
