// Package config loads service configuration.
//
// Precedence (highest to lowest):
//  1. Environment variables (DATABASE_URI, BREVO_API_KEY, DISPATCH_BATCH_SIZE, ...)
//  2. YAML config file passed with --config
//  3. Built-in defaults
//
// A .env file in the working directory is loaded into the environment first
// when present.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

//go:embed defaults.yaml
var defaultsYAML []byte

const maxConfigFileSize = 1024 * 1024 // 1MB

type Config struct {
	Database  DatabaseConfig  `koanf:"database"`
	Server    ServerConfig    `koanf:"server"`
	Auth      AuthConfig      `koanf:"auth"`
	AI        AIConfig        `koanf:"ai"`
	Brevo     BrevoConfig     `koanf:"brevo"`
	Mailer    MailerConfig    `koanf:"mailer"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Log       LogConfig       `koanf:"log"`
}

type DatabaseConfig struct {
	URI string `koanf:"uri"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// AllowedOrigins enables CORS for browser clients. Comma-separated in the
	// environment (SERVER_ALLOWED_ORIGINS).
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
}

// AIConfig points at an OpenAI-compatible chat completion endpoint. An empty
// APIKey disables wish generation.
type AIConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
}

type BrevoConfig struct {
	APIKey      string `koanf:"api_key"`
	SenderEmail string `koanf:"sender_email"`
	SenderName  string `koanf:"sender_name"`
	BaseURL     string `koanf:"base_url"`
}

type MailerConfig struct {
	RatePerSecond float64 `koanf:"rate_per_second"`
}

type DispatchConfig struct {
	BatchSize    int           `koanf:"batch_size"`
	CallTimeout  time.Duration `koanf:"call_timeout"`
	MaxAttempts  int           `koanf:"max_attempts"` // 0 retries forever
	TriggerToken string        `koanf:"trigger_token"`
	Location     string        `koanf:"location"`
	// WriteAttempts and RetryBackoff bound retries of the write ending a claim.
	WriteAttempts int           `koanf:"write_attempts"`
	RetryBackoff  time.Duration `koanf:"retry_backoff"`
	// StaleClaimAfter of zero means ten times CallTimeout.
	StaleClaimAfter time.Duration `koanf:"stale_claim_after"`
}

type SchedulerConfig struct {
	Cron    string `koanf:"cron"`
	Enabled bool   `koanf:"enabled"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

var sections = map[string]bool{
	"database": true, "server": true, "auth": true, "ai": true, "brevo": true,
	"mailer": true, "dispatch": true, "scheduler": true, "log": true,
}

// envKey maps SECTION_FIELD_NAME to section.field_name. Variables outside the
// known sections are ignored.
func envKey(s string) string {
	parts := strings.SplitN(strings.ToLower(s), "_", 2)
	if len(parts) != 2 || !sections[parts[0]] {
		return ""
	}
	return parts[0] + "." + parts[1]
}

// envValue is the env provider callback. List settings are comma-separated.
func envValue(key, value string) (string, interface{}) {
	key = envKey(key)
	if key == "server.allowed_origins" {
		var origins []string
		for _, o := range strings.Split(value, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		return key, origins
	}
	return key, value
}

// Load reads defaults, the optional YAML file at configPath, then the
// environment, and validates the result.
func Load(configPath string) (*Config, error) {
	// .env is optional in production
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(defaultsYAML), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// Validate checks settings every command needs.
func (c *Config) Validate() error {
	if c.Database.URI == "" {
		return errors.New("database.uri is required (DATABASE_URI)")
	}
	if c.Dispatch.BatchSize < 1 {
		return fmt.Errorf("dispatch.batch_size must be positive, got %d", c.Dispatch.BatchSize)
	}
	if c.Dispatch.CallTimeout <= 0 {
		return errors.New("dispatch.call_timeout must be positive")
	}
	if c.Dispatch.MaxAttempts < 0 {
		return fmt.Errorf("dispatch.max_attempts must not be negative, got %d", c.Dispatch.MaxAttempts)
	}
	if c.Dispatch.WriteAttempts < 1 {
		return fmt.Errorf("dispatch.write_attempts must be positive, got %d", c.Dispatch.WriteAttempts)
	}
	if c.Dispatch.RetryBackoff <= 0 {
		return errors.New("dispatch.retry_backoff must be positive")
	}
	if c.Dispatch.StaleClaimAfter < 0 {
		return errors.New("dispatch.stale_claim_after must not be negative")
	}
	if c.Dispatch.StaleClaimAfter > 0 && c.Dispatch.StaleClaimAfter < 2*c.Dispatch.CallTimeout {
		return errors.New("dispatch.stale_claim_after must be at least twice dispatch.call_timeout")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Mailer.RatePerSecond < 0 {
		return errors.New("mailer.rate_per_second must not be negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// ValidateDispatch checks what sending reminders needs.
func (c *Config) ValidateDispatch() error {
	if c.Brevo.APIKey == "" {
		return errors.New("brevo.api_key is required (BREVO_API_KEY)")
	}
	return nil
}

// ValidateServer checks what the HTTP API needs in addition to dispatch.
func (c *Config) ValidateServer() error {
	if err := c.ValidateDispatch(); err != nil {
		return err
	}
	if len(c.Auth.JWTSecret) < 32 {
		return errors.New("auth.jwt_secret must be at least 32 bytes (AUTH_JWT_SECRET)")
	}
	return nil
}

// Location returns the time zone reminder events are anchored in.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Dispatch.Location)
	if err != nil {
		return nil, fmt.Errorf("invalid dispatch.location %q: %w", c.Dispatch.Location, err)
	}
	return loc, nil
}
