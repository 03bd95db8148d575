package server

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration, loaded from a YAML file with
// environment overrides.
type Config struct {
	Addr     string `yaml:"addr"`
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`

	// AuthToken, when set, is required as a bearer token on every REST
	// call and as a query parameter on the websocket endpoint. Identity
	// itself is declared by the caller; session issuance stays external.
	AuthToken string `yaml:"auth_token"`

	// WebhookURL, when set, receives a signed POST for every
	// notification produced.
	WebhookURL    string `yaml:"webhook_url"`
	WebhookSecret string `yaml:"webhook_secret"`

	// TypingRate and TypingBurst bound per-connection typing signals.
	TypingRate  float64 `yaml:"typing_rate"`
	TypingBurst int     `yaml:"typing_burst"`
}

func (c *Config) defaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.DBPath == "" {
		c.DBPath = "wirechat.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.TypingRate == 0 {
		c.TypingRate = 5
	}
	if c.TypingBurst == 0 {
		c.TypingBurst = 10
	}
}

// LoadConfig reads the YAML file at path (missing file is fine), applies
// .env and environment overrides, then defaults.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if v := os.Getenv("WIRECHAT_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("WIRECHAT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("WIRECHAT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WIRECHAT_AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv("WIRECHAT_WEBHOOK_URL"); v != "" {
		cfg.WebhookURL = v
	}
	if v := os.Getenv("WIRECHAT_WEBHOOK_SECRET"); v != "" {
		cfg.WebhookSecret = v
	}

	cfg.defaults()
	return &cfg, nil
}

// Logger builds the daemon logger at the configured level.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
