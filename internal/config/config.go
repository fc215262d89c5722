// Package config provides configuration management for the bot.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	boterrors "github.com/devrev/tierbot/internal/errors"
	"github.com/spf13/viper"
)

// Inbound delivery modes
const (
	ModePull = "pull"
	ModePush = "push"
)

// Storage and dedup backends
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
)

// Config holds all configuration for the bot
type Config struct {
	Bot       BotConfig       `mapstructure:"bot"`
	Server    ServerConfig    `mapstructure:"server"`
	Transport TransportConfig `mapstructure:"transport"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Liveness  LivenessConfig  `mapstructure:"liveness"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// BotConfig holds the provider credentials and the admin principal
type BotConfig struct {
	Token       string `mapstructure:"token"`
	PublicURL   string `mapstructure:"public_url"`
	AdminHandle string `mapstructure:"admin_handle"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TransportConfig holds inbound/outbound delivery configuration
type TransportConfig struct {
	Mode            string        `mapstructure:"mode"`
	LongPollTimeout time.Duration `mapstructure:"long_poll_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	SendRetries     int           `mapstructure:"send_retries"`
	SendBackoff     time.Duration `mapstructure:"send_backoff"`
	WebhookSecret   string        `mapstructure:"webhook_secret"`
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
}

// StorageConfig holds entitlement storage configuration
type StorageConfig struct {
	Backend    string         `mapstructure:"backend"`
	Path       string         `mapstructure:"path"`
	SyncWrites bool           `mapstructure:"sync_writes"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds connection settings for the postgres backend
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// DedupConfig holds update de-duplication configuration
type DedupConfig struct {
	Backend    string        `mapstructure:"backend"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	Redis      RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds connection settings for the redis dedup backend
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// JournalConfig holds audit journal configuration
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LivenessConfig holds self-ping configuration
type LivenessConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// CatalogConfig points at an optional menu catalog file
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envAliases maps config keys to the legacy environment variable names the
// bot has always honoured, in lookup order.
var envAliases = map[string][]string{
	"bot.token":        {"TIERBOT_BOT_TOKEN", "BOT_TOKEN"},
	"bot.public_url":   {"TIERBOT_BOT_PUBLIC_URL", "PUBLIC_URL", "RENDER_EXTERNAL_URL"},
	"bot.admin_handle": {"TIERBOT_BOT_ADMIN_HANDLE", "ADMIN_USERNAME"},
	"server.port":      {"TIERBOT_SERVER_PORT", "PORT"},
}

// Load reads configuration from file and environment variables and
// validates it for serving
func Load(configPath string) (*Config, error) {
	cfg, err := Read(configPath)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Read loads configuration without validating it. Offline tools that never
// contact the provider use it so they run without a token.
func Read(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tierbot/")
	}

	v.SetEnvPrefix("TIERBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	// Read config file (ignore if not found, use defaults/env)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.token", "")
	v.SetDefault("bot.public_url", "")
	v.SetDefault("bot.admin_handle", "")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("transport.mode", ModePull)
	v.SetDefault("transport.long_poll_timeout", "60s")
	v.SetDefault("transport.request_timeout", "5s")
	v.SetDefault("transport.send_retries", 3)
	v.SetDefault("transport.send_backoff", "500ms")
	v.SetDefault("transport.webhook_secret", "")
	v.SetDefault("transport.workers", 8)
	v.SetDefault("transport.queue_size", 256)
	v.SetDefault("transport.rate_limit", 50.0)
	v.SetDefault("transport.rate_burst", 100)

	v.SetDefault("storage.backend", BackendFile)
	v.SetDefault("storage.path", "./data/entitlements.json")
	v.SetDefault("storage.sync_writes", true)
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.max_conns", 4)
	v.SetDefault("storage.postgres.min_conns", 1)

	v.SetDefault("dedup.backend", BackendMemory)
	v.SetDefault("dedup.ttl", "10m")
	v.SetDefault("dedup.max_entries", 10000)
	v.SetDefault("dedup.redis.addr", "localhost:6379")
	v.SetDefault("dedup.redis.password", "")
	v.SetDefault("dedup.redis.db", 0)
	v.SetDefault("dedup.redis.key_prefix", "tierbot:update:")

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", "./data/admin-journal.log")

	v.SetDefault("liveness.enabled", true)
	v.SetDefault("liveness.interval", "300s")
	v.SetDefault("liveness.timeout", "10s")

	v.SetDefault("catalog.path", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// normalize trims user input and derives values that have no explicit setting
func (c *Config) normalize() {
	c.Bot.Token = strings.TrimSpace(c.Bot.Token)
	c.Bot.PublicURL = strings.TrimRight(strings.TrimSpace(c.Bot.PublicURL), "/")
	c.Bot.AdminHandle = NormalizeHandle(c.Bot.AdminHandle)
	c.Transport.Mode = strings.ToLower(strings.TrimSpace(c.Transport.Mode))
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Dedup.Backend = strings.ToLower(strings.TrimSpace(c.Dedup.Backend))

	// The webhook path must stay stable across restarts, so the default
	// secret is derived from the token rather than generated.
	if c.Transport.WebhookSecret == "" && c.Bot.Token != "" {
		sum := sha256.Sum256([]byte("tierbot-webhook:" + c.Bot.Token))
		c.Transport.WebhookSecret = hex.EncodeToString(sum[:16])
	}
}

// NormalizeHandle strips a leading '@' and lowercases a provider handle
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Bot.Token == "" {
		return boterrors.ConfigInvalid("bot token is required (TIERBOT_BOT_TOKEN or BOT_TOKEN)")
	}

	switch c.Transport.Mode {
	case ModePull:
	case ModePush:
		if c.Bot.PublicURL == "" {
			return boterrors.ConfigInvalid("bot.public_url is required in push mode")
		}
	default:
		return boterrors.ConfigInvalid(fmt.Sprintf("transport.mode must be %q or %q, got %q", ModePull, ModePush, c.Transport.Mode))
	}

	if c.Bot.PublicURL != "" {
		u, err := url.Parse(c.Bot.PublicURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return boterrors.ConfigInvalid(fmt.Sprintf("bot.public_url is not an absolute URL: %q", c.Bot.PublicURL))
		}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return boterrors.ConfigInvalid(fmt.Sprintf("invalid server port: %d", c.Server.Port))
	}

	if c.Transport.RequestTimeout <= 0 {
		return boterrors.ConfigInvalid("transport.request_timeout must be positive")
	}
	if c.Transport.SendRetries < 1 {
		return boterrors.ConfigInvalid("transport.send_retries must be at least 1")
	}
	if c.Transport.Workers <= 0 || c.Transport.QueueSize <= 0 {
		return boterrors.ConfigInvalid("transport.workers and transport.queue_size must be positive")
	}

	switch c.Storage.Backend {
	case BackendFile:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return boterrors.ConfigInvalid("storage.path is required for the file backend")
		}
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			return boterrors.ConfigInvalid("storage.postgres.dsn is required for the postgres backend")
		}
	default:
		return boterrors.ConfigInvalid(fmt.Sprintf("unknown storage.backend %q", c.Storage.Backend))
	}

	switch c.Dedup.Backend {
	case BackendMemory, BackendRedis:
	default:
		return boterrors.ConfigInvalid(fmt.Sprintf("unknown dedup.backend %q", c.Dedup.Backend))
	}

	if c.Liveness.Enabled && c.Liveness.Interval <= 0 {
		return boterrors.ConfigInvalid("liveness.interval must be positive")
	}

	return nil
}

// WebhookURL returns the externally reachable webhook endpoint
func (c *Config) WebhookURL() string {
	return c.Bot.PublicURL + "/webhook/" + c.Transport.WebhookSecret
}

// ListenAddr returns the HTTP listen address
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
