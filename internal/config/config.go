// Package config loads the nchat daemon configuration: where profiles live,
// how the logger is set up, and the per-protocol defaults applied when a new
// profile is created.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoggingConfig controls the shared slog handler.
type LoggingConfig struct {
	// Level is "info" or "debug".
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// WhatsAppConfig holds defaults applied when a WhatsApp profile is created.
type WhatsAppConfig struct {
	AutoRead   bool `yaml:"auto_read"`
	SendTyping bool `yaml:"send_typing"`
}

// TelegramConfig holds defaults applied when a Telegram profile is created.
type TelegramConfig struct {
	AppID   int    `yaml:"app_id"`
	AppHash string `yaml:"app_hash"`
}

// DiscordConfig holds the bot token used when a Discord profile is
// created. Unlike Telegram's app_id/app_hash, a bot token is shared by
// every profile of that protocol rather than scoped per-account.
type DiscordConfig struct {
	Token string `yaml:"token"`
}

// ProtocolsConfig groups the per-protocol default blocks.
type ProtocolsConfig struct {
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
}

// Config is the top-level daemon configuration.
type Config struct {
	// ProfileDir is the root directory under which per-profile subdirectories
	// are created. Defaults to $HOME/.config/nchat if empty.
	ProfileDir string          `yaml:"profile_dir"`
	Logging    LoggingConfig   `yaml:"logging"`
	Protocols  ProtocolsConfig `yaml:"protocols"`
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads and parses the yaml config file at path. A missing file is not
// an error: Default is returned instead, since nchat works unconfigured.
//
// Before reading path, it loads a .env file from the same directory (if
// present) into the process environment, so NCHAT_TELEGRAM_APP_HASH and
// similar secrets can live outside config.yaml without being exported
// manually every shell session.
func Load(path string) (*Config, error) {
	cfg := Default()

	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ResolveProfileDir returns cfg.ProfileDir, defaulting to
// $HOME/.config/nchat when unset.
func ResolveProfileDir(cfg *Config) (string, error) {
	if cfg.ProfileDir != "" {
		return cfg.ProfileDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", "nchat"), nil
}
