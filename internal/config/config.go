package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Provider  ProviderConfig  `yaml:"provider" mapstructure:"provider"`
	Push      PushConfig      `yaml:"push" mapstructure:"push"`
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
	Backoff   BackoffConfig   `yaml:"backoff" mapstructure:"backoff"`
	Engine    EngineConfig    `yaml:"engine" mapstructure:"engine"`
	Monitor   MonitorConfig   `yaml:"monitor" mapstructure:"monitor"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// ProviderConfig configures the request/response scoreboard vendor.
type ProviderConfig struct {
	BaseURL    string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey     string        `yaml:"api_key" mapstructure:"api_key"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries"`
}

// PushConfig configures the vendor push feed and the connection budget.
type PushConfig struct {
	URL            string        `yaml:"url" mapstructure:"url"`
	Token          string        `yaml:"token" mapstructure:"token"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MaxReconnects  int           `yaml:"max_reconnects" mapstructure:"max_reconnects"`
	StableAfter    time.Duration `yaml:"stable_after" mapstructure:"stable_after"`
	Cooldown       time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
}

// SchedulerConfig configures the polling loop and request budget.
type SchedulerConfig struct {
	Tick              time.Duration `yaml:"tick" mapstructure:"tick"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
	JitterFraction    float64       `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// BackoffConfig configures the retry delay curve.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" mapstructure:"initial"`
	Max        time.Duration `yaml:"max" mapstructure:"max"`
	Multiplier float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

// EngineConfig configures state retention and housekeeping.
type EngineConfig struct {
	GraceWindow          time.Duration `yaml:"grace_window" mapstructure:"grace_window"`
	RetainFor            time.Duration `yaml:"retain_for" mapstructure:"retain_for"`
	HistorySize          int           `yaml:"history_size" mapstructure:"history_size"`
	HousekeepingInterval time.Duration `yaml:"housekeeping_interval" mapstructure:"housekeeping_interval"`
}

// MonitorConfig configures the snapshot broadcaster.
type MonitorConfig struct {
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

// StoreConfig configures persistence sinks.
type StoreConfig struct {
	DatabaseURL    string        `yaml:"database_url" mapstructure:"database_url"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	CacheTTL       time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	AlertRetention time.Duration `yaml:"alert_retention" mapstructure:"alert_retention"`
	PruneInterval  time.Duration `yaml:"prune_interval" mapstructure:"prune_interval"`
}

// NotifyConfig configures the score change webhook.
type NotifyConfig struct {
	WebhookURL string        `yaml:"webhook_url" mapstructure:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	QueueSize  int           `yaml:"queue_size" mapstructure:"queue_size"`
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// PollingEnabled reports whether provider credentials are present.
func (c *Config) PollingEnabled() bool {
	return c.Provider.BaseURL != "" && c.Provider.APIKey != ""
}

// PushEnabled reports whether a push feed is configured.
func (c *Config) PushEnabled() bool {
	return c.Push.URL != ""
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("IRIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.timeout", 10*time.Second)
	v.SetDefault("provider.max_retries", 3)
	v.SetDefault("push.url", "")
	v.SetDefault("push.token", "")
	v.SetDefault("push.max_connections", 10)
	v.SetDefault("push.max_reconnects", 2)
	v.SetDefault("push.stable_after", 2*time.Minute)
	v.SetDefault("push.cooldown", 5*time.Minute)
	v.SetDefault("scheduler.tick", 500*time.Millisecond)
	v.SetDefault("scheduler.requests_per_second", 5.0)
	v.SetDefault("scheduler.burst", 10)
	v.SetDefault("scheduler.jitter_fraction", 0.1)
	v.SetDefault("backoff.initial", 2*time.Second)
	v.SetDefault("backoff.max", 60*time.Second)
	v.SetDefault("backoff.multiplier", 2.0)
	v.SetDefault("engine.grace_window", 5*time.Minute)
	v.SetDefault("engine.retain_for", 30*time.Minute)
	v.SetDefault("engine.history_size", 50)
	v.SetDefault("engine.housekeeping_interval", 5*time.Second)
	v.SetDefault("monitor.interval", time.Second)
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.redis_url", "")
	v.SetDefault("store.cache_ttl", 6*time.Hour)
	v.SetDefault("store.alert_retention", 7*24*time.Hour)
	v.SetDefault("store.prune_interval", time.Hour)
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout", 5*time.Second)
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("server.port", 8085)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Push.MaxConnections < 1 {
		return eris.Errorf("config: push.max_connections must be >= 1, got %d", c.Push.MaxConnections)
	}
	if c.Scheduler.JitterFraction < 0 || c.Scheduler.JitterFraction > 1 {
		return eris.Errorf("config: scheduler.jitter_fraction must be in [0,1], got %v", c.Scheduler.JitterFraction)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return eris.Errorf("config: server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
