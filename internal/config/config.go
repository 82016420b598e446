// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Origin      OriginConfig      `mapstructure:"origin"`
	Interceptor InterceptorConfig `mapstructure:"interceptor"`
	Cache       CacheConfig       `mapstructure:"cache"`
	DB          DBConfig          `mapstructure:"db"`
	Analyzer    AnalyzerConfig    `mapstructure:"analyzer"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls the API HTTP server.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// OriginConfig points the edge interceptor at the origin server.
type OriginConfig struct {
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// InterceptorConfig governs edge interceptor behavior.
type InterceptorConfig struct {
	Port                 int    `mapstructure:"port"`
	BackendURL           string `mapstructure:"backend_url"`
	SubmitTimeoutSeconds int    `mapstructure:"submit_timeout_seconds"`
	MaxBodyBytes         int64  `mapstructure:"max_body_bytes"`
}

// CacheConfig selects and configures the metadata cache backend.
type CacheConfig struct {
	Provider string      `mapstructure:"provider"`
	Redis    RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds connection settings for the Redis cache backend.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// DBConfig selects and configures the job/domain store backend.
type DBConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// AnalyzerConfig selects the active content analyzer provider.
type AnalyzerConfig struct {
	Provider        string       `mapstructure:"provider"`
	TimeoutSeconds  int          `mapstructure:"timeout_seconds"`
	MaxContentChars int          `mapstructure:"max_content_chars"`
	OpenAI          OpenAIConfig `mapstructure:"openai"`
	Gemini          GeminiConfig `mapstructure:"gemini"`
}

// OpenAIConfig holds credentials for the OpenAI provider.
type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// GeminiConfig holds credentials for the Gemini provider.
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// WorkerConfig governs the drain worker and retry sweeper.
type WorkerConfig struct {
	QueueDepth           int `mapstructure:"queue_depth"`
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
	MaxRetries           int `mapstructure:"max_retries"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EDGESCHEMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("origin.timeout_seconds", 15)
	v.SetDefault("interceptor.port", 8081)
	v.SetDefault("interceptor.submit_timeout_seconds", 30)
	v.SetDefault("interceptor.max_body_bytes", 2<<20)
	v.SetDefault("cache.provider", "memory")
	v.SetDefault("cache.redis.key_prefix", "jsonld:")
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("analyzer.provider", "openai")
	v.SetDefault("analyzer.timeout_seconds", 45)
	v.SetDefault("analyzer.max_content_chars", 8000)
	v.SetDefault("analyzer.openai.model", "gpt-4o")
	v.SetDefault("analyzer.gemini.model", "gemini-1.5-flash")
	v.SetDefault("worker.queue_depth", 256)
	v.SetDefault("worker.sweep_interval_seconds", 60)
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Origin.URL != "" {
		if _, err := url.Parse(c.Origin.URL); err != nil {
			return fmt.Errorf("origin.url is invalid: %w", err)
		}
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Cache.Provider {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr must be set when cache.provider is redis")
		}
	default:
		return fmt.Errorf("unknown cache provider: %s", c.Cache.Provider)
	}
	switch c.DB.Provider {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown db provider: %s", c.DB.Provider)
	}
	switch c.Analyzer.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unsupported analyzer provider: %s", c.Analyzer.Provider)
	}
	if c.Worker.QueueDepth <= 0 {
		return fmt.Errorf("worker.queue_depth must be > 0")
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker.max_retries must be >= 0")
	}
	return nil
}

// OriginTimeout converts the origin fetch timeout to a duration.
func (c Config) OriginTimeout() time.Duration {
	return time.Duration(c.Origin.TimeoutSeconds) * time.Second
}

// AnalyzerTimeout converts the analyzer deadline to a duration.
func (c Config) AnalyzerTimeout() time.Duration {
	return time.Duration(c.Analyzer.TimeoutSeconds) * time.Second
}

// SweepInterval converts the retry sweep period to a duration.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Worker.SweepIntervalSeconds) * time.Second
}
