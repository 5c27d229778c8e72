// Package config provides YAML and environment based configuration loading for
// the CSM portal.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvAPIBase      = "API_BASE"
	EnvAPIKey       = "RM_API_KEY"
	EnvPIN          = "PORTAL_PIN"
	EnvPort         = "PORTAL_PORT"
	EnvSlackToken   = "SLACK_BOT_TOKEN"
	EnvDiscordToken = "DISCORD_BOT_TOKEN"
)

// PINLength is the exact number of digits an access PIN must have.
const PINLength = 6

// Config is the top-level portal configuration, loaded from csm.yaml.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Access   AccessConfig   `yaml:"access"`
	Job      JobConfig      `yaml:"job"`
	Server   ServerConfig   `yaml:"server"`
	Contacts ContactsConfig `yaml:"contacts"`
	Notify   NotifyConfig   `yaml:"notify"`
	Log      LogConfig      `yaml:"log"`
}

// APIConfig holds the backend base URL, bearer credential and per-class timeouts.
type APIConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Key             string        `yaml:"key"`
	DataTimeout     time.Duration `yaml:"data_timeout"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
}

// AccessConfig holds the shared PIN and lockout policy.
type AccessConfig struct {
	PIN         string        `yaml:"pin"`
	MaxAttempts int           `yaml:"max_attempts"`
	Lockout     time.Duration `yaml:"lockout"`
}

// JobConfig controls config-refresh polling.
type JobConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ServerConfig controls the web portal listener and session lifetime.
type ServerConfig struct {
	Port          int           `yaml:"port"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

// ContactsConfig lists the CSV columns checked before a contacts upload.
type ContactsConfig struct {
	RequiredColumns []string `yaml:"required_columns"`
}

// NotifyConfig enables optional job-outcome notifications.
type NotifyConfig struct {
	Slack   ChannelConfig `yaml:"slack"`
	Discord ChannelConfig `yaml:"discord"`
}

// ChannelConfig identifies a bot token and target channel on a chat platform.
type ChannelConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether both token and channel are set.
func (c ChannelConfig) Enabled() bool {
	return c.BotToken != "" && c.ChannelID != ""
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// ConfigError reports configuration problems that must halt startup.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "config: validation failed: " + strings.Join(e.Problems, "; ")
}

// Load reads an optional .env file and an optional YAML file at path, applies
// environment overrides and returns a validated Config. A missing YAML file is
// not an error so env-only deployments work.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			data = b
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return parse(data, os.LookupEnv)
}

// Parse unmarshals YAML bytes into a validated Config without consulting the
// environment.
func Parse(data []byte) (*Config, error) {
	return parse(data, func(string) (string, bool) { return "", false })
}

func parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvAPIBase, &c.API.BaseURL)
	set(EnvAPIKey, &c.API.Key)
	set(EnvPIN, &c.Access.PIN)
	set(EnvSlackToken, &c.Notify.Slack.BotToken)
	set(EnvDiscordToken, &c.Notify.Discord.BotToken)

	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Problems: []string{fmt.Sprintf("%s must be a number, got %q", EnvPort, v)}}
		}
		c.Server.Port = port
	}
	return nil
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.DataTimeout == 0 {
		c.API.DataTimeout = 30 * time.Second
	}
	if c.API.DownloadTimeout == 0 {
		c.API.DownloadTimeout = 120 * time.Second
	}
	if c.Access.MaxAttempts == 0 {
		c.Access.MaxAttempts = 5
	}
	if c.Access.Lockout == 0 {
		c.Access.Lockout = 60 * time.Second
	}
	if c.Job.PollInterval == 0 {
		c.Job.PollInterval = 2 * time.Second
	}
	if c.Job.Timeout == 0 {
		c.Job.Timeout = 7 * time.Minute
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8501
	}
	if c.Server.SessionTTL == 0 {
		c.Server.SessionTTL = 12 * time.Hour
	}
	if c.Server.SweepSchedule == "" {
		c.Server.SweepSchedule = "@every 5m"
	}
	if len(c.Contacts.RequiredColumns) == 0 {
		c.Contacts.RequiredColumns = []string{"email"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// validate checks that all required fields are present and consistent. The PIN
// is deliberately not checked here: an unusable PIN makes the gate fail closed.
func (c *Config) validate() error {
	var errs []string
	if c.API.BaseURL == "" {
		errs = append(errs, "api.base_url ("+EnvAPIBase+") is required")
	} else if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		errs = append(errs, "api.base_url must start with http:// or https://")
	}
	if c.API.Key == "" {
		errs = append(errs, "api.key ("+EnvAPIKey+") is required")
	}
	if c.Access.MaxAttempts < 1 {
		errs = append(errs, "access.max_attempts must be positive")
	}
	if c.Job.PollInterval < 0 || c.Job.Timeout < 0 {
		errs = append(errs, "job durations must not be negative")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if _, err := cron.ParseStandard(c.Server.SweepSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("server.sweep_schedule: %v", err))
	}
	if len(errs) > 0 {
		return &ConfigError{Problems: errs}
	}
	return nil
}

// PINValid reports whether the configured PIN is exactly six ASCII digits.
func (c *Config) PINValid() bool {
	return ValidPIN(c.Access.PIN)
}

// ValidPIN reports whether pin is exactly PINLength ASCII digits.
func ValidPIN(pin string) bool {
	if len(pin) != PINLength {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}

// Redacted returns a copy with secrets masked, safe to print.
func (c Config) Redacted() Config {
	c.API.Key = mask(c.API.Key)
	c.Access.PIN = mask(c.Access.PIN)
	c.Notify.Slack.BotToken = mask(c.Notify.Slack.BotToken)
	c.Notify.Discord.BotToken = mask(c.Notify.Discord.BotToken)
	return c
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
