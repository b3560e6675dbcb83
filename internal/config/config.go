package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application.
// Variables are read with the SUPPORTBOT_ prefix, e.g. SUPPORTBOT_PORT.
type Config struct {
	Port string `envconfig:"PORT" default:"8080"`
	Env  string `envconfig:"ENV" default:"development"`

	// Storage. DatabaseURL selects Postgres; otherwise SQLitePath is used,
	// and "memory" keeps everything in process.
	DatabaseURL string `envconfig:"DATABASE_URL"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"./data/supportbot.db"`
	SeedFile    string `envconfig:"SEED_FILE" default:"./database.yaml"`

	// Redis backs the task queue, the scheduler and websocket fan-out.
	RedisURL  string `envconfig:"REDIS_URL"`
	RedisRoot string `envconfig:"REDIS_ROOT" default:"cloudwalk"`

	// Lookup services
	LogisticsURL string        `envconfig:"LOGISTICS_URL" default:"https://logistics-api-dot-active-thunder-329100.rj.r.appspot.com"`
	TelecomURL   string        `envconfig:"TELECOM_URL" default:"https://telecom-api-dot-active-thunder-329100.rj.r.appspot.com"`
	APIToken     string        `envconfig:"API_TOKEN" default:"teste"`
	APITimeout   time.Duration `envconfig:"API_TIMEOUT" default:"10s"`

	// Filesystem
	UploadFolder string `envconfig:"UPLOAD_FOLDER" default:"./uploads"`
	LogFolder    string `envconfig:"LOG_FOLDER" default:"./logs"`
	LogToStdout  bool   `envconfig:"LOG_TO_STDOUT" default:"true"`

	// Mail. Error emails are disabled when MailServer is empty.
	MailServer   string   `envconfig:"MAIL_SERVER"`
	MailPort     int      `envconfig:"MAIL_PORT" default:"25"`
	MailUsername string   `envconfig:"MAIL_USERNAME"`
	MailPassword string   `envconfig:"MAIL_PASSWORD"`
	MailUseTLS   bool     `envconfig:"MAIL_USE_TLS" default:"true"`
	MailSender   string   `envconfig:"MAIL_SENDER" default:"support@infinitepay.io"`
	Admins       []string `envconfig:"ADMINS"`

	// RateLimitWhitelist lists IPs or CIDRs exempt from rate limiting.
	RateLimitWhitelist []string `envconfig:"RATE_LIMIT_WHITELIST"`

	// Background work
	WorkerConcurrency int           `envconfig:"WORKER_CONCURRENCY" default:"2"`
	SweepInterval     time.Duration `envconfig:"SWEEP_INTERVAL" default:"60s"`
	SweepOnStartup    bool          `envconfig:"SWEEP_ON_STARTUP" default:"true"`
	ErrorWindow       time.Duration `envconfig:"ERROR_WINDOW" default:"24h"`
}

// Load reads configuration from environment variables.
// It loads from a .env file first if one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("SUPPORTBOT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	cfg.DatabaseURL = strings.Replace(cfg.DatabaseURL, "postgres://", "postgresql://", 1)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Env == "production" {
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required in production")
		}
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required in production")
		}
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.WorkerConcurrency)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// StorageBackend reports which DataStore implementation the config selects.
func (c *Config) StorageBackend() string {
	switch {
	case c.DatabaseURL != "":
		return "postgres"
	case c.SQLitePath == "memory" || c.SQLitePath == "":
		return "memory"
	default:
		return "sqlite"
	}
}

// MailEnabled reports whether an SMTP server is configured.
func (c *Config) MailEnabled() bool {
	return c.MailServer != ""
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}
