package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
	Logging  LoggingConfig  `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type ScraperConfig struct {
	Workers           int           `mapstructure:"workers"`
	RateLimitMin      time.Duration `mapstructure:"rate_limit_min"`
	RateLimitMax      time.Duration `mapstructure:"rate_limit_max"`
	Adaptive          bool          `mapstructure:"adaptive"`
	MaxBlockedRetries int           `mapstructure:"max_blocked_retries"`
	MaxSearchPages    int           `mapstructure:"max_search_pages"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	UserAgents        []string      `mapstructure:"user_agents"`
}

type BrowserConfig struct {
	Driver   string        `mapstructure:"driver"`
	Headless bool          `mapstructure:"headless"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Humanize bool          `mapstructure:"humanize"`
	Locale   string        `mapstructure:"locale"`
	Timezone string        `mapstructure:"timezone"`
	Proxy    string        `mapstructure:"proxy"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
}

// OutboxConfig switches result publishing through Postgres and Redis on.
type OutboxConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

type QueueConfig struct {
	Workers int `mapstructure:"workers"`
	MaxSize int `mapstructure:"max_size"`
}

type StorageConfig struct {
	ResultsDir string `mapstructure:"results_dir"`
}

// ConsumerConfig drives the results consumer that resubmits failed runs.
type ConsumerConfig struct {
	Group        string `mapstructure:"group"`
	Name         string `mapstructure:"name"`
	ScraperURL   string `mapstructure:"scraper_url"`
	MaxResubmits int    `mapstructure:"max_resubmits"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envBindings maps config keys to the environment variables that set them.
// The first variable that is set wins.
var envBindings = map[string][]string{
	"server.port":             {"SERVER_PORT", "PORT"},
	"server.host":             {"SERVER_HOST"},
	"server.read_timeout":     {"SERVER_READ_TIMEOUT"},
	"server.write_timeout":    {"SERVER_WRITE_TIMEOUT"},
	"server.shutdown_timeout": {"SERVER_SHUTDOWN_TIMEOUT"},
	"server.allowed_origins":  {"SERVER_ALLOWED_ORIGINS"},

	"scraper.workers":             {"SCRAPER_WORKERS"},
	"scraper.rate_limit_min":      {"SCRAPER_RATE_LIMIT_MIN"},
	"scraper.rate_limit_max":      {"SCRAPER_RATE_LIMIT_MAX"},
	"scraper.adaptive":            {"SCRAPER_ADAPTIVE"},
	"scraper.max_blocked_retries": {"SCRAPER_MAX_BLOCKED_RETRIES"},
	"scraper.max_search_pages":    {"SCRAPER_MAX_SEARCH_PAGES"},
	"scraper.request_timeout":     {"SCRAPER_REQUEST_TIMEOUT"},
	"scraper.user_agents":         {"SCRAPER_USER_AGENTS"},

	"browser.driver":   {"BROWSER_DRIVER"},
	"browser.headless": {"BROWSER_HEADLESS", "SCRAPER_HEADLESS"},
	"browser.timeout":  {"BROWSER_TIMEOUT", "SCRAPER_TIMEOUT"},
	"browser.humanize": {"BROWSER_HUMANIZE"},
	"browser.locale":   {"BROWSER_LOCALE"},
	"browser.timezone": {"BROWSER_TIMEZONE"},
	"browser.proxy":    {"BROWSER_PROXY"},

	"database.host":      {"DB_HOST"},
	"database.port":      {"DB_PORT"},
	"database.user":      {"DB_USER"},
	"database.password":  {"DB_PASSWORD"},
	"database.name":      {"DB_NAME"},
	"database.ssl_mode":  {"DB_SSL_MODE"},
	"database.max_conns": {"DB_MAX_CONNS"},

	"redis.addr":     {"REDIS_ADDR"},
	"redis.password": {"REDIS_PASSWORD"},
	"redis.db":       {"REDIS_DB"},
	"redis.stream":   {"REDIS_STREAM"},

	"outbox.enabled":       {"OUTBOX_ENABLED"},
	"outbox.poll_interval": {"OUTBOX_POLL_INTERVAL"},
	"outbox.batch_size":    {"OUTBOX_BATCH_SIZE"},

	"queue.workers":  {"QUEUE_WORKERS"},
	"queue.max_size": {"QUEUE_MAX_SIZE"},

	"storage.results_dir": {"RESULTS_DIR"},

	"consumer.group":         {"CONSUMER_GROUP"},
	"consumer.name":          {"CONSUMER_NAME"},
	"consumer.scraper_url":   {"SCRAPER_URL"},
	"consumer.max_resubmits": {"CONSUMER_MAX_RESUBMITS"},

	"log.level":  {"LOG_LEVEL"},
	"log.format": {"LOG_FORMAT"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8084)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Minute)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("scraper.workers", 1)
	v.SetDefault("scraper.rate_limit_min", 2*time.Second)
	v.SetDefault("scraper.rate_limit_max", 5*time.Second)
	v.SetDefault("scraper.adaptive", true)
	v.SetDefault("scraper.max_blocked_retries", 3)
	v.SetDefault("scraper.max_search_pages", 20)
	v.SetDefault("scraper.request_timeout", 30*time.Second)
	v.SetDefault("scraper.user_agents", []string{})

	v.SetDefault("browser.driver", "playwright")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.timeout", 30*time.Second)
	v.SetDefault("browser.humanize", true)
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.timezone", "America/New_York")
	v.SetDefault("browser.proxy", "")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "marketplace_scraper")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "stream:scrape_results")

	v.SetDefault("outbox.enabled", false)
	v.SetDefault("outbox.poll_interval", 5*time.Second)
	v.SetDefault("outbox.batch_size", 100)

	v.SetDefault("queue.workers", 1)
	v.SetDefault("queue.max_size", 1000)

	v.SetDefault("storage.results_dir", "")

	v.SetDefault("consumer.group", "scrape-results-consumers")
	v.SetDefault("consumer.name", "consumer-1")
	v.SetDefault("consumer.scraper_url", "http://localhost:8084")
	v.SetDefault("consumer.max_resubmits", 2)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads config.yaml from the working directory or ./config when present,
// then applies environment overrides and validates the result.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.Scraper.UserAgents = cleanList(cfg.Scraper.UserAgents)
	cfg.Server.AllowedOrigins = cleanList(cfg.Server.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Scraper.Workers < 1 || c.Scraper.Workers > 4 {
		return fmt.Errorf("SCRAPER_WORKERS must be between 1 and 4, got %d", c.Scraper.Workers)
	}

	if c.Scraper.RateLimitMin < 0 || c.Scraper.RateLimitMin > c.Scraper.RateLimitMax {
		return fmt.Errorf("SCRAPER_RATE_LIMIT_MIN cannot be greater than SCRAPER_RATE_LIMIT_MAX")
	}

	if c.Scraper.MaxBlockedRetries < 0 {
		return fmt.Errorf("SCRAPER_MAX_BLOCKED_RETRIES cannot be negative")
	}

	if c.Scraper.MaxSearchPages < 1 {
		return fmt.Errorf("SCRAPER_MAX_SEARCH_PAGES must be at least 1")
	}

	switch strings.ToLower(c.Browser.Driver) {
	case "playwright", "rod":
	default:
		return fmt.Errorf("unknown browser driver: %q", c.Browser.Driver)
	}

	if c.Queue.Workers < 1 {
		return fmt.Errorf("QUEUE_WORKERS must be at least 1")
	}

	if c.Consumer.MaxResubmits < 0 {
		return fmt.Errorf("CONSUMER_MAX_RESUBMITS cannot be negative")
	}

	if c.Outbox.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required when the outbox is enabled")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database name is required when the outbox is enabled")
		}
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required when the outbox is enabled")
		}
	}

	return nil
}

// NewLogger builds the process logger: JSON by default, text when
// log.format is "text".
func (c LoggingConfig) NewLogger() *slog.Logger {
	return c.NewLoggerTo(os.Stdout)
}

// NewLoggerTo is NewLogger writing to w.
func (c LoggingConfig) NewLoggerTo(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
