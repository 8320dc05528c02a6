package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "IGFOLLOWERS_"

// Config holds all configuration options for the follower scraper
type Config struct {
	Instagram InstagramConfig `yaml:"instagram" json:"instagram"`
	Scraper   ScraperConfig   `yaml:"scraper" json:"scraper"`
	Session   SessionConfig   `yaml:"session" json:"session"`
	Proxy     ProxyConfig     `yaml:"proxy" json:"proxy"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// InstagramConfig holds the login identity and client settings
type InstagramConfig struct {
	Username  string        `yaml:"username" json:"username"`
	Password  string        `yaml:"password" json:"-"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

// ScraperConfig holds job pacing and failure thresholds
type ScraperConfig struct {
	Workers           int           `yaml:"workers" json:"workers"`
	BatchSize         int           `yaml:"batch_size" json:"batch_size"`
	MaxFollowers      int           `yaml:"max_followers" json:"max_followers"`
	RequestDelay      time.Duration `yaml:"request_delay" json:"request_delay"`
	BatchDelay        time.Duration `yaml:"batch_delay" json:"batch_delay"`
	RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown" json:"rate_limit_cooldown"`
	MaxErrors         int           `yaml:"max_errors" json:"max_errors"`
	TransientLimit    int           `yaml:"transient_limit" json:"transient_limit"`
	QueueSize         int           `yaml:"queue_size" json:"queue_size"`
	PollInterval      time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// SessionConfig holds session validity rules and where sessions are cached
type SessionConfig struct {
	Dir            string        `yaml:"dir" json:"dir"`
	RedisURL       string        `yaml:"redis_url" json:"redis_url"`
	TTL            time.Duration `yaml:"ttl" json:"ttl"`
	MaxChallenges  int           `yaml:"max_challenges" json:"max_challenges"`
	ChallengeGrace time.Duration `yaml:"challenge_grace" json:"challenge_grace"`
}

// ProxyConfig holds the outbound proxy pool
type ProxyConfig struct {
	List             []string      `yaml:"list" json:"list"`
	File             string        `yaml:"file" json:"file"`
	FromEnvironment  bool          `yaml:"from_environment" json:"from_environment"`
	RotationInterval time.Duration `yaml:"rotation_interval" json:"rotation_interval"`
}

// RateLimitConfig holds rate limiting for outbound page fetches
type RateLimitConfig struct {
	Strategy          string `yaml:"strategy" json:"strategy"`
	RequestsPerMinute int    `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// DatabaseConfig selects the storage backend
type DatabaseConfig struct {
	Driver   string `yaml:"driver" json:"driver"`
	URL      string `yaml:"url" json:"-"`
	MaxConns int32  `yaml:"max_conns" json:"max_conns"`
}

// ServerConfig holds the operator HTTP API settings
type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	File   string `yaml:"file" json:"file"`
	Format string `yaml:"format" json:"format"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Instagram: InstagramConfig{
			UserAgent: "Instagram 269.0.0.18.75 Android (26/8.0.0; 480dpi; 1080x1920; OnePlus; 6T Dev; devitron; qcom; en_US; 314665256)",
			BaseURL:   "https://i.instagram.com/api/v1",
			Timeout:   30 * time.Second,
		},
		Scraper: ScraperConfig{
			Workers:           3,
			BatchSize:         50,
			MaxFollowers:      1000,
			RequestDelay:      2 * time.Second,
			BatchDelay:        5 * time.Second,
			RateLimitCooldown: 600 * time.Second,
			MaxErrors:         3,
			TransientLimit:    3,
			QueueSize:         100,
			PollInterval:      time.Second,
		},
		Session: SessionConfig{
			TTL:            24 * time.Hour,
			MaxChallenges:  3,
			ChallengeGrace: 30 * time.Second,
		},
		Proxy: ProxyConfig{
			FromEnvironment:  true,
			RotationInterval: 30 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Strategy:          "token_bucket",
			RequestsPerMinute: 60,
		},
		Database: DatabaseConfig{
			Driver:   "memory",
			MaxConns: 10,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadFromEnv loads configuration from IGFOLLOWERS_* environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	setString(&c.Instagram.Username, "USERNAME")
	setString(&c.Instagram.Password, "PASSWORD")
	setString(&c.Instagram.UserAgent, "USER_AGENT")
	setString(&c.Instagram.BaseURL, "BASE_URL")

	errs = append(errs,
		setInt(&c.Scraper.Workers, "WORKERS"),
		setInt(&c.Scraper.BatchSize, "BATCH_SIZE"),
		setInt(&c.Scraper.MaxFollowers, "MAX_FOLLOWERS"),
		setInt(&c.Scraper.MaxErrors, "MAX_ERRORS"),
		setDuration(&c.Scraper.RequestDelay, "REQUEST_DELAY"),
		setDuration(&c.Scraper.BatchDelay, "BATCH_DELAY"),
		setDuration(&c.Scraper.RateLimitCooldown, "RATE_LIMIT_COOLDOWN"),
		setDuration(&c.Scraper.PollInterval, "POLL_INTERVAL"),
		setDuration(&c.Session.TTL, "SESSION_TTL"),
		setDuration(&c.Session.ChallengeGrace, "CHALLENGE_GRACE"),
		setDuration(&c.Proxy.RotationInterval, "PROXY_ROTATION"),
		setInt(&c.RateLimit.RequestsPerMinute, "REQUESTS_PER_MINUTE"),
	)

	setString(&c.Session.Dir, "SESSION_DIR")
	setString(&c.Session.RedisURL, "REDIS_URL")
	setString(&c.Proxy.File, "PROXY_FILE")
	if proxies := os.Getenv(envPrefix + "PROXIES"); proxies != "" {
		c.Proxy.List = splitList(proxies)
	}

	setString(&c.Database.Driver, "DB_DRIVER")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Server.Addr, "SERVER_ADDR")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.File, "LOG_FILE")
	setString(&c.Logging.Format, "LOG_FORMAT")

	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = d
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".igfollowers.yaml",
		".igfollowers.yml",
		filepath.Join(home, ".config", "igfollowers", "config.yaml"),
		filepath.Join(home, ".config", "igfollowers", "config.yml"),
		filepath.Join(home, ".igfollowers.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Scraper.Workers <= 0 {
		errs = append(errs, errors.New("scraper workers must be positive"))
	}
	if c.Scraper.Workers > 32 {
		errs = append(errs, errors.New("scraper workers should not exceed 32"))
	}
	if c.Scraper.BatchSize <= 0 {
		errs = append(errs, errors.New("batch size must be positive"))
	}
	if c.Scraper.MaxFollowers <= 0 {
		errs = append(errs, errors.New("max followers must be positive"))
	}
	if c.Scraper.MaxErrors < 0 {
		errs = append(errs, errors.New("max errors cannot be negative"))
	}
	if c.Scraper.RequestDelay < 0 || c.Scraper.BatchDelay < 0 || c.Scraper.RateLimitCooldown < 0 {
		errs = append(errs, errors.New("scraper delays cannot be negative"))
	}
	if c.Scraper.QueueSize <= 0 {
		errs = append(errs, errors.New("queue size must be positive"))
	}

	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session ttl must be positive"))
	}
	if c.Session.MaxChallenges <= 0 {
		errs = append(errs, errors.New("session max challenges must be positive"))
	}

	if c.Proxy.RotationInterval <= 0 {
		errs = append(errs, errors.New("proxy rotation interval must be positive"))
	}

	switch strings.ToLower(c.RateLimit.Strategy) {
	case "token_bucket", "sliding_window", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown rate limit strategy %q", c.RateLimit.Strategy))
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}

	switch strings.ToLower(c.Database.Driver) {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	if f := strings.ToLower(c.Logging.Format); f != "console" && f != "json" {
		errs = append(errs, errors.New("log format must be console or json"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// HasCredentials reports whether a login identity is configured
func (c *Config) HasCredentials() bool {
	return c.Instagram.Username != "" && c.Instagram.Password != ""
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Keys are the cobra flag names; zero values are ignored.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["username"].(string); ok && v != "" {
		c.Instagram.Username = v
	}
	if v, ok := flags["workers"].(int); ok && v > 0 {
		c.Scraper.Workers = v
	}
	if v, ok := flags["batch-size"].(int); ok && v > 0 {
		c.Scraper.BatchSize = v
	}
	if v, ok := flags["max-followers"].(int); ok && v > 0 {
		c.Scraper.MaxFollowers = v
	}
	if v, ok := flags["requests-per-minute"].(int); ok && v > 0 {
		c.RateLimit.RequestsPerMinute = v
	}
	if v, ok := flags["proxies"].([]string); ok && len(v) > 0 {
		c.Proxy.List = v
	}
	if v, ok := flags["db-driver"].(string); ok && v != "" {
		c.Database.Driver = v
	}
	if v, ok := flags["database-url"].(string); ok && v != "" {
		c.Database.URL = v
	}
	if v, ok := flags["redis-url"].(string); ok && v != "" {
		c.Session.RedisURL = v
	}
	if v, ok := flags["addr"].(string); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
}

// Load loads configuration from all sources with proper precedence.
// Command line flags > environment > .env file > config file > defaults.
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".igfollowers.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
