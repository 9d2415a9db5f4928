package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	BaseURL   string          `mapstructure:"base_url"`

	// CompletionTokenSecret keys the completion-token MAC. Rotating it
	// invalidates every outstanding completion link.
	CompletionTokenSecret string `mapstructure:"completion_token_secret"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
}

type SchedulerConfig struct {
	MaterializeInterval time.Duration `mapstructure:"materialize_interval"`
	DispatchInterval    time.Duration `mapstructure:"dispatch_interval"`
	OutboxInterval      time.Duration `mapstructure:"outbox_interval"`
	DispatchBatchSize   int           `mapstructure:"dispatch_batch_size"`
	DispatchConcurrency int           `mapstructure:"dispatch_concurrency"`
	OutboxBatchSize     int           `mapstructure:"outbox_batch_size"`
	MaxSendAttempts     int           `mapstructure:"max_send_attempts"`
	TokenTTL            time.Duration `mapstructure:"token_ttl"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// secrets are the env-only overrides; they never live in the config file.
type secrets struct {
	DBPassword            string `envconfig:"DB_PASSWORD"`
	SMTPPassword          string `envconfig:"SMTP_PASSWORD"`
	JWTSecret             string `envconfig:"JWT_SECRET"`
	CompletionTokenSecret string `envconfig:"COMPLETION_TOKEN_SECRET"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var sec secrets
	if err := envconfig.Process("nudge", &sec); err != nil {
		return nil, fmt.Errorf("failed to read env secrets: %w", err)
	}
	if sec.DBPassword != "" {
		config.Database.Password = sec.DBPassword
	}
	if sec.SMTPPassword != "" {
		config.SMTP.Password = sec.SMTPPassword
	}
	if sec.JWTSecret != "" {
		config.JWT.Secret = sec.JWTSecret
	}
	if sec.CompletionTokenSecret != "" {
		config.CompletionTokenSecret = sec.CompletionTokenSecret
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 15*time.Second)
	viper.SetDefault("server.write_timeout", 15*time.Second)
	viper.SetDefault("server.request_timeout", 30*time.Second)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("redis.url", "redis://localhost:6379/0")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 2)
	viper.SetDefault("scheduler.materialize_interval", time.Minute)
	viper.SetDefault("scheduler.dispatch_interval", 30*time.Second)
	viper.SetDefault("scheduler.outbox_interval", 5*time.Second)
	viper.SetDefault("scheduler.dispatch_batch_size", 100)
	viper.SetDefault("scheduler.dispatch_concurrency", 8)
	viper.SetDefault("scheduler.outbox_batch_size", 100)
	viper.SetDefault("scheduler.max_send_attempts", 5)
	viper.SetDefault("scheduler.token_ttl", 14*24*time.Hour)
	viper.SetDefault("rate_limit.requests_per_second", 20)
	viper.SetDefault("rate_limit.burst", 40)
	viper.SetDefault("base_url", "http://localhost:8080")
}
