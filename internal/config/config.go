package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Version   string          `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Platform  PlatformConfig  `yaml:"platform"`
	Sync      SyncConfig      `yaml:"sync"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

// ServerConfig contains server-related configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
}

// APIConfig contains API-related configuration.
type APIConfig struct {
	Enabled   bool            `yaml:"enabled"`
	BasePath  string          `yaml:"base_path"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig contains API authentication configuration.
type AuthConfig struct {
	Enabled    bool     `yaml:"enabled"`
	APIKeys    []string `yaml:"api_keys"`
	HeaderName string   `yaml:"header_name"`
}

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// PlatformConfig contains the external health platform endpoints and
// transport settings.
type PlatformConfig struct {
	AccountBaseURL string        `yaml:"account_base_url"`
	APIBaseURL     string        `yaml:"api_base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	// UTLSEnabled switches the HTTP transport to a browser-like TLS
	// fingerprint. Some platform frontends reject the default Go hello.
	UTLSEnabled bool   `yaml:"utls_enabled"`
	UserAgent   string `yaml:"user_agent"`
}

// SyncConfig contains synchronization engine configuration.
type SyncConfig struct {
	BatchSize  int           `yaml:"batch_size"`
	LockTTL    time.Duration `yaml:"lock_ttl"`
	MaxPages   int           `yaml:"max_pages"`
	RunTimeout time.Duration `yaml:"run_timeout"`
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	Path             string        `yaml:"path"`
	RetentionEnabled bool          `yaml:"retention_enabled"`
	RetentionPeriod  time.Duration `yaml:"retention_period"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
}

// SchedulerConfig contains recurring job configuration.
type SchedulerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelegramConfig contains Telegram failure-notification configuration.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	if err := c.Platform.Validate(); err != nil {
		return fmt.Errorf("platform: %w", err)
	}

	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	if err := c.Telegram.Validate(); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	return nil
}

// Validate validates server configuration.
func (s *ServerConfig) Validate() error {
	if s.Host == "" {
		return fmt.Errorf("host is required")
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 1 and 65535")
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 30 * time.Second
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.LogFormat == "" {
		s.LogFormat = "json"
	}
	return nil
}

// Validate validates API configuration.
func (a *APIConfig) Validate() error {
	if a.BasePath == "" {
		a.BasePath = "/api/v1"
	}
	if a.Auth.Enabled && len(a.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth: api_keys is required when auth is enabled")
	}
	if a.Auth.HeaderName == "" {
		a.Auth.HeaderName = "X-API-Key"
	}
	if a.RateLimit.RequestsPerMinute <= 0 {
		a.RateLimit.RequestsPerMinute = 600
	}
	// Cap rate limit to prevent abuse
	if a.RateLimit.RequestsPerMinute > 100000 {
		a.RateLimit.RequestsPerMinute = 100000
	}
	if a.RateLimit.Burst <= 0 {
		a.RateLimit.Burst = 50
	}
	if a.RateLimit.Burst > 10000 {
		a.RateLimit.Burst = 10000
	}
	return nil
}

// Validate validates platform configuration and applies defaults.
func (p *PlatformConfig) Validate() error {
	if p.AccountBaseURL == "" {
		p.AccountBaseURL = "https://account.xiaomi.com"
	}
	if p.APIBaseURL == "" {
		p.APIBaseURL = "https://hlth.io.mi.com"
	}
	if p.Timeout <= 0 {
		p.Timeout = 30 * time.Second
	}
	if p.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts cannot be negative")
	}
	if p.RetryBackoff <= 0 {
		p.RetryBackoff = 2 * time.Second
	}
	if p.UserAgent == "" {
		p.UserAgent = "MiFit/6.10.1 (Android 14)"
	}
	return nil
}

// Validate validates sync configuration and applies defaults.
func (s *SyncConfig) Validate() error {
	if s.BatchSize <= 0 {
		s.BatchSize = 3000
	}
	if s.LockTTL <= 0 {
		s.LockTTL = time.Hour
	}
	if s.MaxPages <= 0 {
		s.MaxPages = 1000
	}
	if s.RunTimeout <= 0 {
		s.RunTimeout = 15 * time.Minute
	}
	return nil
}

// Validate validates storage configuration and applies defaults.
func (s *StorageConfig) Validate() error {
	if s.Path == "" {
		s.Path = "data/slimming.db"
	}
	if s.RetentionPeriod <= 0 {
		s.RetentionPeriod = 90 * 24 * time.Hour
	}
	if s.CleanupInterval <= 0 {
		s.CleanupInterval = 24 * time.Hour
	}
	return nil
}

// Validate validates scheduler configuration and applies defaults.
func (s *SchedulerConfig) Validate() error {
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = 25 * time.Second
	}
	return nil
}

// Validate validates Telegram configuration.
func (t *TelegramConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.BotToken == "" {
		return fmt.Errorf("bot_token is required when telegram is enabled")
	}
	if t.ChatID == 0 {
		return fmt.Errorf("chat_id is required when telegram is enabled")
	}
	return nil
}
