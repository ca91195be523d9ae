// Package config loads heal-dash settings from TOML, .env and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hochfrequenz/heal-dash/internal/backend"
	"github.com/hochfrequenz/heal-dash/internal/schedule"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// EnvBaseURL overrides api.base_url when set
const EnvBaseURL = "HEAL_API_BASE_URL"

// Config holds all application configuration
type Config struct {
	API           APIConfig           `toml:"api"`
	Inference     InferenceConfig     `toml:"inference"`
	History       HistoryConfig       `toml:"history"`
	Notifications NotificationsConfig `toml:"notifications"`
	Archive       ArchiveConfig       `toml:"archive"`
	Web           WebConfig           `toml:"web"`
	Log           LogConfig           `toml:"log"`
	Schedule      schedule.Config     `toml:"schedule"`
}

// APIConfig holds backend settings
type APIConfig struct {
	BaseURL      string   `toml:"base_url"`
	PollInterval Duration `toml:"poll_interval"`
	Timeout      Duration `toml:"timeout"`
}

// InferenceConfig holds local inference settings
type InferenceConfig struct {
	Provider     string   `toml:"provider"`
	Model        string   `toml:"model"`
	APIKeyEnv    string   `toml:"api_key_env"`
	PollInterval Duration `toml:"poll_interval"`
	PromptDirs   []string `toml:"prompt_dirs"`
}

// APIKey reads the provider key from the configured environment variable
func (c InferenceConfig) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}

// HistoryConfig holds run history settings
type HistoryConfig struct {
	Enabled      bool   `toml:"enabled"`
	DatabasePath string `toml:"database_path"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// ArchiveConfig holds S3-compatible report archive settings. Credentials
// are read from the named environment variables.
type ArchiveConfig struct {
	Endpoint     string `toml:"endpoint"`
	Region       string `toml:"region"`
	Bucket       string `toml:"bucket"`
	Prefix       string `toml:"prefix"`
	UseSSL       bool   `toml:"use_ssl"`
	AccessKeyEnv string `toml:"access_key_env"`
	SecretKeyEnv string `toml:"secret_key_env"`
}

// Enabled reports whether an archive endpoint is configured
func (c ArchiveConfig) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

// WebConfig holds web API settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// Addr returns host:port
func (c WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `toml:"level"`
	// File receives logs while the TUI owns the terminal
	File string `toml:"file"`
}

// Duration is a time.Duration written as "2s" in TOML
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		API: APIConfig{
			BaseURL:      backend.DefaultBaseURL,
			PollInterval: Duration{2 * time.Second},
			Timeout:      Duration{30 * time.Second},
		},
		Inference: InferenceConfig{
			Provider:     "gemini",
			Model:        "gemini-2.5-flash",
			APIKeyEnv:    "GEMINI_API_KEY",
			PollInterval: Duration{2 * time.Second},
		},
		History: HistoryConfig{
			Enabled:      true,
			DatabasePath: filepath.Join(home, ".heal-dash", "history.db"),
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Archive: ArchiveConfig{
			Prefix:       "runs",
			UseSSL:       true,
			AccessKeyEnv: "HEAL_ARCHIVE_ACCESS_KEY",
			SecretKeyEnv: "HEAL_ARCHIVE_SECRET_KEY",
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join(home, ".heal-dash", "heal-dash.log"),
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults, then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Expand paths
	cfg.History.DatabasePath = ExpandPath(cfg.History.DatabasePath)
	cfg.Log.File = ExpandPath(cfg.Log.File)
	for i, dir := range cfg.Inference.PromptDirs {
		cfg.Inference.PromptDirs[i] = ExpandPath(dir)
	}

	cfg.ApplyEnv()

	if err := cfg.Schedule.Validate(); err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads variables from .env files into the process environment.
// Missing files are ignored; variables already set are kept.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// ApplyEnv applies environment overrides
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvBaseURL)); v != "" {
		c.API.BaseURL = v
	}
}

// Save writes the config as TOML, creating parent directories
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "heal-dash", "config.toml")
}
