package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := "profile_dir: /tmp/profiles\nlogging:\n  level: debug\n  format: text\nprotocols:\n  telegram:\n    app_id: 12345\n    app_hash: abc\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/profiles", cfg.ProfileDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 12345, cfg.Protocols.Telegram.AppID)
	assert.Equal(t, "abc", cfg.Protocols.Telegram.AppHash)
}

func TestResolveProfileDirDefaultsUnderHome(t *testing.T) {
	dir, err := ResolveProfileDir(&Config{})
	require.NoError(t, err)
	assert.Contains(t, dir, ".config")
	assert.Contains(t, dir, "nchat")
}

func TestResolveProfileDirHonorsExplicitValue(t *testing.T) {
	dir, err := ResolveProfileDir(&Config{ProfileDir: "/custom/path"})
	require.NoError(t, err)
	assert.Equal(t, "/custom/path", dir)
}
