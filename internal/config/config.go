// Package config handles Exemi configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order used when no
// explicit path is given: ./config.yaml, ~/.config/exemi/config.yaml,
// /etc/exemi/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "exemi", "config.yaml"))
	}

	return append(paths, "/etc/exemi/config.yaml")
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise the first existing entry of DefaultSearchPaths is returned.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Exemi configuration.
type Config struct {
	Listen       ListenConfig       `yaml:"listen"`
	Database     DatabaseConfig     `yaml:"database"`
	Auth         AuthConfig         `yaml:"auth"`
	Canvas       CanvasConfig       `yaml:"canvas"`
	Models       ModelsConfig       `yaml:"models"`
	Conversation ConversationConfig `yaml:"conversation"`
	Redis        RedisConfig        `yaml:"redis"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Background   BackgroundConfig   `yaml:"background"`
	LogLevel     string             `yaml:"log_level"`
	LogFormat    string             `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address        string   `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig selects the relational store. The URL scheme picks the
// driver: postgres:// uses pgx, sqlite:// uses the pure-Go driver, and
// sqlite3:// or a bare path uses the cgo driver.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig controls session tokens and the sealed LMS credential.
type AuthConfig struct {
	SecretKey  string        `yaml:"secret_key"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	MagicTTL   time.Duration `yaml:"magic_ttl"`
}

// CanvasConfig defines how the LMS is reached. BaseURL is used for users
// whose provider has no university entry.
type CanvasConfig struct {
	BaseURL  string        `yaml:"base_url"`
	PerPage  int           `yaml:"per_page"`
	MaxItems int           `yaml:"max_items"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ModelsConfig defines the model backend.
type ModelsConfig struct {
	Default       string `yaml:"default"`
	OllamaURL     string `yaml:"ollama_url"`
	MaxIterations int    `yaml:"max_iterations"`
}

// ConversationConfig tunes turn generation and streaming.
type ConversationConfig struct {
	// ToolResultNotice, when non-empty, is streamed before each tool
	// result chunk.
	ToolResultNotice string `yaml:"tool_result_notice"`
	// Timezone is the IANA zone used to display dates to students.
	Timezone string `yaml:"timezone"`
	// ReminderWindowDays bounds the reminders injected into the system prompt.
	ReminderWindowDays int `yaml:"reminder_window_days"`
}

// RedisConfig enables the Canvas response cache and login rate limiting.
// Both are disabled when URL is empty.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// RateLimitConfig defines the login token bucket.
type RateLimitConfig struct {
	LoginQPS int `yaml:"login_qps"`
}

// BackgroundConfig sizes the deferred task runner.
type BackgroundConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults and environment overrides, and validates
// the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied. It has no
// secret key and therefore does not validate on its own.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Database.URL == "" {
		c.Database.URL = "exemi.db"
	}
	if c.Auth.SessionTTL == 0 {
		c.Auth.SessionTTL = 30 * time.Minute
	}
	if c.Auth.MagicTTL == 0 {
		c.Auth.MagicTTL = 180 * 24 * time.Hour
	}
	if c.Canvas.PerPage == 0 {
		c.Canvas.PerPage = 50
	}
	if c.Canvas.MaxItems == 0 {
		c.Canvas.MaxItems = 50
	}
	if c.Canvas.CacheTTL == 0 {
		c.Canvas.CacheTTL = 5 * time.Minute
	}
	if c.Canvas.Timeout == 0 {
		c.Canvas.Timeout = 30 * time.Second
	}
	if c.Models.Default == "" {
		c.Models.Default = "llama3.1:8b"
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	if c.Models.MaxIterations == 0 {
		c.Models.MaxIterations = 8
	}
	if c.Conversation.Timezone == "" {
		c.Conversation.Timezone = "Australia/Sydney"
	}
	if c.Conversation.ReminderWindowDays == 0 {
		c.Conversation.ReminderWindowDays = 7
	}
	if c.RateLimit.LoginQPS == 0 {
		c.RateLimit.LoginQPS = 5
	}
	if c.Background.Workers == 0 {
		c.Background.Workers = 4
	}
	if c.Background.QueueSize == 0 {
		c.Background.QueueSize = 256
	}
}

// applyEnv overrides file values with the deployment environment. lookup
// is os.LookupEnv outside tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	overrides := []struct {
		name string
		dst  *string
	}{
		{"DATABASE_URL", &c.Database.URL},
		{"SECRET_KEY", &c.Auth.SecretKey},
		{"CANVAS_BASE_URL", &c.Canvas.BaseURL},
		{"OLLAMA_URL", &c.Models.OllamaURL},
		{"LLM_MODEL", &c.Models.Default},
		{"REDIS_URL", &c.Redis.URL},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.name); ok && v != "" {
			*o.dst = v
		}
	}
}

// Validate reports configuration that would fail at runtime.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Auth.SecretKey) < 16 {
		errs = append(errs, errors.New("auth.secret_key must be at least 16 characters (or set SECRET_KEY)"))
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if _, err := time.LoadLocation(c.Conversation.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("conversation.timezone: %w", err))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q (valid: text, json)", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Location returns the display timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Conversation.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
