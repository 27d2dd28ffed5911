// Package secrets resolves the one credential nchat cannot obtain
// interactively at runtime: the Telegram API app_id/app_hash pair issued by
// my.telegram.org. Resolution order mirrors the priority chain the daemon
// this was adapted from uses for its own API key: OS keyring first, then
// environment variables, then the value already sitting in config.yaml.
package secrets

import (
	"fmt"
	"os"
	"strconv"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "nchat"
	keyringAppID   = "telegram_app_id"
	keyringAppHash = "telegram_app_hash"
	keyringDiscord = "discord_bot_token"

	envAppID   = "NCHAT_TELEGRAM_APP_ID"
	envAppHash = "NCHAT_TELEGRAM_APP_HASH"
	envDiscord = "NCHAT_DISCORD_TOKEN"
)

// StoreTelegramCredentials saves the app_id/app_hash pair in the OS keyring.
func StoreTelegramCredentials(appID int, appHash string) error {
	if err := keyring.Set(keyringService, keyringAppID, strconv.Itoa(appID)); err != nil {
		return fmt.Errorf("secrets: store app id: %w", err)
	}
	if err := keyring.Set(keyringService, keyringAppHash, appHash); err != nil {
		return fmt.Errorf("secrets: store app hash: %w", err)
	}
	return nil
}

// ResolveTelegramCredentials resolves (appID, appHash) using the priority
// chain keyring -> env vars -> the values already passed in (typically read
// from config.yaml). Returns false if no credential could be found anywhere.
func ResolveTelegramCredentials(configAppID int, configAppHash string) (int, string, bool) {
	if idStr, err := keyring.Get(keyringService, keyringAppID); err == nil {
		if hash, err := keyring.Get(keyringService, keyringAppHash); err == nil {
			if id, err := strconv.Atoi(idStr); err == nil && hash != "" {
				return id, hash, true
			}
		}
	}

	if idStr := os.Getenv(envAppID); idStr != "" {
		if hash := os.Getenv(envAppHash); hash != "" {
			if id, err := strconv.Atoi(idStr); err == nil {
				return id, hash, true
			}
		}
	}

	if configAppID != 0 && configAppHash != "" {
		return configAppID, configAppHash, true
	}

	return 0, "", false
}

// DeleteTelegramCredentials removes the pair from the OS keyring.
func DeleteTelegramCredentials() error {
	_ = keyring.Delete(keyringService, keyringAppID)
	_ = keyring.Delete(keyringService, keyringAppHash)
	return nil
}

// StoreDiscordToken saves the bot token in the OS keyring.
func StoreDiscordToken(token string) error {
	if err := keyring.Set(keyringService, keyringDiscord, token); err != nil {
		return fmt.Errorf("secrets: store discord token: %w", err)
	}
	return nil
}

// ResolveDiscordToken resolves the bot token using the same
// keyring -> env var -> config.yaml priority chain as the Telegram
// credentials.
func ResolveDiscordToken(configToken string) (string, bool) {
	if token, err := keyring.Get(keyringService, keyringDiscord); err == nil && token != "" {
		return token, true
	}
	if token := os.Getenv(envDiscord); token != "" {
		return token, true
	}
	if configToken != "" {
		return configToken, true
	}
	return "", false
}

// DeleteDiscordToken removes the bot token from the OS keyring.
func DeleteDiscordToken() error {
	_ = keyring.Delete(keyringService, keyringDiscord)
	return nil
}
