// ABOUTME: Configuration loading and parsing for relay-server
// ABOUTME: Supports YAML files with environment variable expansion and an env var secret overlay

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config represents the complete relay-server configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	Chat          ChatConfig          `yaml:"chat"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds the listen address and origin policy
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// ChatConfig holds message pipeline tuning
type ChatConfig struct {
	TypingInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TypingIntervalRaw string `yaml:"typing_interval"`
}

// NotificationsConfig holds the per-channel provider configuration
type NotificationsConfig struct {
	Email EmailConfig   `yaml:"email"`
	SMS   WebhookConfig `yaml:"sms"`
	Push  WebhookConfig `yaml:"push"`
}

// EmailConfig holds SMTP provider configuration
type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// WebhookConfig holds an HTTP provider endpoint for SMS or push delivery
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// secretOverrides are environment variable overrides for credentials, so a
// deployment can keep secrets out of the config file entirely. Variables are
// prefixed RELAY_, for example RELAY_JWT_SECRET.
type secretOverrides struct {
	JWTSecret    string `envconfig:"JWT_SECRET"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	SMSToken     string `envconfig:"SMS_TOKEN"`
	PushToken    string `envconfig:"PUSH_TOKEN"`
}

// defaultTypingInterval bounds typing indicator rebroadcasts when the config
// file does not set one.
const defaultTypingInterval = 3 * time.Second

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded, RELAY_*
// secret overrides are applied, and duration strings are parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applySecretOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying env overrides: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applySecretOverrides lets RELAY_* environment variables win over file
// values for credentials.
func applySecretOverrides(cfg *Config) error {
	var o secretOverrides
	if err := envconfig.Process("relay", &o); err != nil {
		return err
	}

	if o.JWTSecret != "" {
		cfg.Auth.JWTSecret = o.JWTSecret
	}
	if o.SMTPPassword != "" {
		cfg.Notifications.Email.Password = o.SMTPPassword
	}
	if o.SMSToken != "" {
		cfg.Notifications.SMS.Token = o.SMSToken
	}
	if o.PushToken != "" {
		cfg.Notifications.Push.Token = o.PushToken
	}
	return nil
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (or set RELAY_JWT_SECRET)")
	}

	if c.Notifications.Email.Enabled {
		if c.Notifications.Email.Host == "" {
			return fmt.Errorf("notifications.email.host is required when email is enabled")
		}
		if c.Notifications.Email.From == "" {
			return fmt.Errorf("notifications.email.from is required when email is enabled")
		}
	}

	if c.Notifications.SMS.Enabled && c.Notifications.SMS.URL == "" {
		return fmt.Errorf("notifications.sms.url is required when sms is enabled")
	}

	if c.Notifications.Push.Enabled && c.Notifications.Push.URL == "" {
		return fmt.Errorf("notifications.push.url is required when push is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Chat.TypingIntervalRaw == "" {
		cfg.Chat.TypingInterval = defaultTypingInterval
		return nil
	}

	d, err := time.ParseDuration(cfg.Chat.TypingIntervalRaw)
	if err != nil {
		return fmt.Errorf("parsing typing_interval %q: %w", cfg.Chat.TypingIntervalRaw, err)
	}
	if d <= 0 {
		return fmt.Errorf("typing_interval must be positive, got %q", cfg.Chat.TypingIntervalRaw)
	}
	cfg.Chat.TypingInterval = d
	return nil
}
